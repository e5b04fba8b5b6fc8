// Package rank scores evidence chunks and picks the ones that fit under the
// summarizer's token budget (spec §4.5 "Select / Rank").
package rank

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/d1249/maildigest/internal/domain"
)

// Weights, normalized to sum to 1 (spec §4.5).
const (
	wUserInTo         = 0.15
	wUserInCC         = 0.05
	wHasActionMarker  = 0.20
	wHasMention       = 0.10
	wHasDueDate       = 0.15
	wSenderImportance = 0.10
	wThreadLength     = 0.05
	wRecency          = 0.10
	wHasAttachments   = 0.05
	wHasProjectTag    = 0.05

	threadLengthCap = 10
	recencyWindow   = 48 * time.Hour
)

var reProjectTag = regexp.MustCompile(`\[[A-Z][A-Z0-9]{1,9}-\d+\]`)

var serviceSenderAutoSubmitted = regexp.MustCompile(`(?i)^\s*auto-`)

// Candidate bundles one evidence chunk with the context rank needs: the
// owning message and thread, and whether the chunk itself is rule-flagged
// as an action/question/mention (spec §4.4 feeds §4.5).
type Candidate struct {
	Chunk          domain.EvidenceChunk
	Message        domain.Message
	ThreadLength   int
	IsActionable   bool // has_action_marker OR a rule-extracted action/question anchored to this chunk
	HasDueDate     bool
	HasProjectTag  bool
	RankScore      float64
}

// Scored is a ranked candidate, sorted descending by RankScore.
type Scored struct {
	Candidate
}

// IsServiceSender reports whether a message should be dropped before
// ranking: service/auto-reply senders never produce digest items (spec
// §4.5 "Drop service/auto-reply senders").
func IsServiceSender(m domain.Message, servicePrefixes []string, headers map[string]string) bool {
	lower := strings.ToLower(m.FromEmail)
	for _, prefix := range servicePrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	if headers != nil {
		if v, ok := headers["Auto-Submitted"]; ok && serviceSenderAutoSubmitted.MatchString(v) {
			return true
		}
	}
	subjectLower := strings.ToLower(m.Subject)
	if strings.Contains(subjectLower, "undeliverable") || strings.Contains(subjectLower, "[автоответ]") {
		return true
	}
	return false
}

// Score computes rank_score in [0,1] for one candidate relative to
// referenceTime (spec §4.5).
func Score(c Candidate, userAliases []string, referenceTime time.Time) float64 {
	sum := 0.0

	if addressed(c.Message.ToEmails, userAliases) {
		sum += wUserInTo
	}
	if addressed(c.Message.CcEmails, userAliases) {
		sum += wUserInCC
	}
	if c.Chunk.Signals.HasImperativeVerb || c.IsActionable {
		sum += wHasActionMarker
	}
	if c.Chunk.Signals.MentionsUserAlias {
		sum += wHasMention
	}
	if c.HasDueDate {
		sum += wHasDueDate
	}
	sum += wSenderImportance * importanceWeight(c.Message.Importance, c.Chunk.Signals.SenderImportanceTier)

	length := c.ThreadLength
	if length > threadLengthCap {
		length = threadLengthCap
	}
	sum += wThreadLength * float64(length) / threadLengthCap

	sum += wRecency * recencyFactor(c.Message.ReceivedAt, referenceTime)

	if c.Message.HasAttachments {
		sum += wHasAttachments
	}
	if c.HasProjectTag || reProjectTag.MatchString(c.Message.Subject) {
		sum += wHasProjectTag
	}

	if sum > 1.0 {
		sum = 1.0
	}
	if sum < 0 {
		sum = 0
	}
	return sum
}

func addressed(addrs []string, aliases []string) bool {
	for _, a := range addrs {
		la := strings.ToLower(a)
		for _, alias := range aliases {
			if la == strings.ToLower(alias) {
				return true
			}
		}
	}
	return false
}

// importanceWeight folds the mailbox Importance flag and the sender's
// configured tier into one [0,1] figure.
func importanceWeight(imp domain.Importance, tier int) float64 {
	base := 0.0
	switch imp {
	case domain.ImportanceHigh:
		base = 1.0
	case domain.ImportanceNormal:
		base = 0.5
	}
	tierWeight := float64(tier) / 3.0
	if tierWeight > base {
		return tierWeight
	}
	return base
}

// recencyFactor is linear over the 0-48h window (spec §4.5); anything
// older contributes nothing, anything in the future (clock skew) caps at 1.
func recencyFactor(receivedAt, referenceTime time.Time) float64 {
	age := referenceTime.Sub(receivedAt)
	if age <= 0 {
		return 1.0
	}
	if age >= recencyWindow {
		return 0.0
	}
	return 1.0 - float64(age)/float64(recencyWindow)
}

// Select sorts candidates by RankScore descending and greedily adds them
// while the running token total stays within budget (spec §4.5). RankScore
// must already be populated on each candidate (see Score).
func Select(candidates []Candidate, tokenBudget int) []Scored {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RankScore > sorted[j].RankScore
	})

	var out []Scored
	total := 0
	for _, c := range sorted {
		if total+c.Chunk.TokenCount > tokenBudget {
			continue
		}
		total += c.Chunk.TokenCount
		out = append(out, Scored{Candidate: c})
	}
	return out
}

// Top10ActionableShare is the ranker's acceptance metric (spec §4.5): the
// fraction of the top 10 selected items classified as actionable.
func Top10ActionableShare(selected []Scored) float64 {
	n := len(selected)
	if n > 10 {
		n = 10
	}
	if n == 0 {
		return 0
	}
	actionable := 0
	for _, s := range selected[:n] {
		if s.IsActionable {
			actionable++
		}
	}
	return float64(actionable) / float64(n)
}
