// Package extract implements the bilingual (English/Russian) rule-based
// extractor (spec §4.4), independent of anything the language model
// produces.
package extract

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/d1249/maildigest/internal/domain"
)

// Weights per spec §4.4.
const (
	wUserMention   = 1.5
	wImperative    = 1.2
	wActionMarker  = 1.0
	wQuestion      = 0.8
	wDeadline      = 0.6
	wSenderRank    = 0.5
	bias           = 1.5
)

var (
	reSentenceSplit = regexp.MustCompile(`(?s)(?:[.!?]+\s+|\n+)`)

	reImperativeEN = regexp.MustCompile(`(?i)\b(please\s+\w+|could you\s+\w+|can you\s+\w+|make sure|ensure (to|that)?|^review\b|^approve\b|^send\b|^update\b|^confirm\b|^provide\b|^submit\b)\b`)
	// Go's \b only knows ASCII word characters, so the Russian patterns bound
	// their words with non-letter runs (or the ends of the sentence) instead.
	reImperativeRU = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(пожалуйста|прошу|нужно|необходимо|сделайте|отправьте|подтвердите|проверьте)(?:[^\p{L}]|$)`)

	reActionMarkerEN = regexp.MustCompile(`(?i)\b(please|could you|can you)\b`)
	reActionMarkerRU = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(прошу|нужно|пожалуйста)(?:[^\p{L}]|$)`)

	reQuestionTrailing = regexp.MustCompile(`\?\s*$`)

	reDeadlineAbs      = regexp.MustCompile(`\b(\d{1,2}[./]\d{1,2}[./]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
	reDeadlineRelEN    = regexp.MustCompile(`(?i)\b(by\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)|eod|tomorrow|today)\b`)
	reDeadlineRelRU    = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(завтра|сегодня|до\s+(понедельника|вторника|среды|четверга|пятницы|субботы|воскресенья))(?:[^\p{L}]|$)`)
)

// Candidate is a sentence-level feature vector prior to scoring.
type Candidate struct {
	Sentence      string
	Start, End    int // byte offsets within the chunk content
	HasImperative bool
	HasActionMarker bool
	HasQuestion   bool
	HasMention    bool
	HasDeadline   bool
	DeadlineText  string
}

// Extract runs the rule-based extractor over one evidence chunk, producing
// candidate actions/questions/mentions with confidence scores (spec §4.4).
func Extract(c domain.EvidenceChunk, userAliases []string, senderTier int, threshold float64) []domain.ExtractedAction {
	sentences := splitSentences(c.Content)

	var out []domain.ExtractedAction
	for _, s := range sentences {
		cand := analyzeSentence(s, userAliases)
		confidence := score(cand, senderTier)
		if confidence < threshold {
			continue
		}
		kind := classify(cand)
		text := s.Sentence
		if len(text) > 500 {
			text = text[:500]
		}
		var deadline *string
		if cand.HasDeadline {
			d := cand.DeadlineText
			deadline = &d
		}
		out = append(out, domain.ExtractedAction{
			Kind:       kind,
			Verb:       firstWord(s.Sentence),
			Text:       text,
			Deadline:   deadline,
			Confidence: confidence,
			EvidenceID: c.EvidenceID,
			MessageID:  c.MessageID,
		})
	}
	return out
}

func splitSentences(content string) []Candidate {
	var out []Candidate
	start := 0
	parts := reSentenceSplit.Split(content, -1)
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		idx := strings.Index(content[start:], p)
		if idx < 0 {
			idx = 0
		}
		s := start + idx
		e := s + len(p)
		start = e
		if trimmed == "" {
			continue
		}
		out = append(out, Candidate{Sentence: trimmed, Start: s, End: e})
	}
	return out
}

func analyzeSentence(c Candidate, userAliases []string) Candidate {
	c.HasImperative = reImperativeEN.MatchString(c.Sentence) || reImperativeRU.MatchString(c.Sentence)
	c.HasActionMarker = reActionMarkerEN.MatchString(c.Sentence) || reActionMarkerRU.MatchString(c.Sentence)
	c.HasQuestion = reQuestionTrailing.MatchString(c.Sentence)

	lower := strings.ToLower(c.Sentence)
	for _, alias := range userAliases {
		if alias != "" && strings.Contains(lower, strings.ToLower(alias)) {
			c.HasMention = true
			break
		}
	}

	if m := reDeadlineAbs.FindString(c.Sentence); m != "" {
		c.HasDeadline = true
		c.DeadlineText = m
	} else if m := reDeadlineRelEN.FindString(c.Sentence); m != "" {
		c.HasDeadline = true
		c.DeadlineText = m
	} else if m := reDeadlineRelRU.FindStringSubmatch(c.Sentence); m != nil {
		c.HasDeadline = true
		c.DeadlineText = m[1]
	}

	return c
}

// score computes confidence = sigma(sum(w*x) - bias), spec §4.4.
func score(c Candidate, senderTier int) float64 {
	sum := 0.0
	if c.HasMention {
		sum += wUserMention
	}
	if c.HasImperative {
		sum += wImperative
	}
	if c.HasActionMarker {
		sum += wActionMarker
	}
	if c.HasQuestion {
		sum += wQuestion
	}
	if c.HasDeadline {
		sum += wDeadline
	}
	sum += wSenderRank * float64(senderTier) / 3.0 // tier normalized into [0,1]-ish range
	return sigmoid(sum - bias)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func classify(c Candidate) domain.ActionKind {
	switch {
	case c.HasQuestion:
		return domain.ActionKindQuestion
	case c.HasMention && !c.HasImperative && !c.HasActionMarker:
		return domain.ActionKindMention
	default:
		return domain.ActionKindAction
	}
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// NormalizeDeadline converts a raw deadline expression to ISO-8601 in the
// mailbox timezone, relative to referenceDate (e.g. digest_date). Returns
// ok=false when the expression cannot be resolved deterministically.
func NormalizeDeadline(text string, referenceDate time.Time, loc *time.Location) (normalized string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(lower, "tomorrow") || strings.Contains(lower, "завтра"):
		d := referenceDate.AddDate(0, 0, 1)
		return d.Format("2006-01-02"), true
	case strings.Contains(lower, "today") || strings.Contains(lower, "сегодня") || strings.Contains(lower, "eod"):
		return referenceDate.Format("2006-01-02"), true
	}
	if m := reDeadlineAbs.FindString(text); m != "" {
		for _, layout := range []string{"2006-01-02", "02.01.2006", "02/01/2006", "2006/01/02"} {
			if t, err := time.ParseInLocation(layout, m, loc); err == nil {
				return t.Format("2006-01-02"), true
			}
		}
	}
	if weekday, ok := weekdayFromText(lower); ok {
		return nextWeekday(referenceDate, weekday).Format("2006-01-02"), true
	}
	return "", false
}

var weekdayNames = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

func weekdayFromText(lower string) (time.Weekday, bool) {
	for name, wd := range weekdayNames {
		if strings.Contains(lower, name) {
			return wd, true
		}
	}
	return 0, false
}

// nextWeekday returns the next date (strictly after from) matching wd.
func nextWeekday(from time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(from.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return from.AddDate(0, 0, days)
}
