package thread

import "github.com/d1249/maildigest/internal/domain"

// DedupeResult groups messages by body_checksum: the earliest message in
// each group is the primary, the rest are recorded as duplicate_sources on
// it (spec §4.2 step 1).
type DedupeResult struct {
	Primaries        []domain.Message
	DuplicatesByPrimary map[string][]string // primary message_id -> duplicate message_ids
	DuplicatesFound   int
}

// Dedupe implements spec §4.2 step 1.
func Dedupe(messages []domain.Message) DedupeResult {
	byChecksum := make(map[string][]domain.Message)
	order := make([]string, 0)
	for _, m := range messages {
		if _, seen := byChecksum[m.BodyChecksum]; !seen {
			order = append(order, m.BodyChecksum)
		}
		byChecksum[m.BodyChecksum] = append(byChecksum[m.BodyChecksum], m)
	}

	result := DedupeResult{DuplicatesByPrimary: make(map[string][]string)}
	for _, checksum := range order {
		group := byChecksum[checksum]
		primary := group[0]
		for _, m := range group[1:] {
			if m.ReceivedAt.Before(primary.ReceivedAt) {
				primary = m
			}
		}
		var dups []string
		for _, m := range group {
			if m.MessageID == primary.MessageID {
				continue
			}
			dups = append(dups, m.MessageID)
			result.DuplicatesFound++
		}
		if len(dups) > 0 {
			result.DuplicatesByPrimary[primary.MessageID] = dups
		}
		result.Primaries = append(result.Primaries, primary)
	}
	return result
}
