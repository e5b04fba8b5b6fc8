package chunk

import (
	"regexp"
	"strings"

	"github.com/d1249/maildigest/internal/domain"
)

var (
	reQuestion       = regexp.MustCompile(`\?\s*$|\?\s`)
	reImperativeHint = regexp.MustCompile(`(?i)\b(please|could you|can you|нужно|прошу|сделай)\b`)
	reDeadlineHint   = regexp.MustCompile(`(?i)\b(\d{1,2}[./]\d{1,2}[./]\d{2,4}|\d{4}-\d{2}-\d{2}|by (monday|tuesday|wednesday|thursday|friday|saturday|sunday|eod|tomorrow)|завтра|eod)\b`)
)

// computeSignals derives the compact rule feature set used by priority
// scoring (spec §4.3) — a cheaper, chunk-local cousin of the full
// extraction feature set in internal/extract.
func computeSignals(content string, userAliases []string, senderTier int) domain.ChunkSignals {
	lower := strings.ToLower(content)
	signals := domain.ChunkSignals{
		HasQuestionMark:      reQuestion.MatchString(content),
		HasImperativeVerb:    reImperativeHint.MatchString(content),
		HasDeadline:          reDeadlineHint.MatchString(content),
		SenderImportanceTier: senderTier,
	}
	for _, alias := range userAliases {
		if alias == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(alias)) {
			signals.MentionsUserAlias = true
			break
		}
	}
	return signals
}

// priorityScore computes the chunk's priority_score from its signals (spec
// §4.3), cheap enough to run on every chunk ahead of Rank's fuller scoring.
func priorityScore(s domain.ChunkSignals) float64 {
	score := 0.0
	if s.HasImperativeVerb {
		score += 0.30
	}
	if s.HasDeadline {
		score += 0.25
	}
	if s.MentionsUserAlias {
		score += 0.20
	}
	if s.HasQuestionMark {
		score += 0.10
	}
	if s.IsLastUpdate {
		score += 0.10
	}
	score += 0.05 * float64(s.SenderImportanceTier)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// MarkLastUpdate flags the chunks belonging to messageID as the thread's
// last-update chunks (spec §4.6 "must-include rules").
func MarkLastUpdate(chunks []domain.EvidenceChunk, messageID string) {
	for i := range chunks {
		if chunks[i].MessageID == messageID {
			chunks[i].Signals.IsLastUpdate = true
			chunks[i].PriorityScore = priorityScore(chunks[i].Signals)
		}
	}
}
