package validate

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/domain"
)

// wireCitation/wireItem/wireDigest mirror the digest schema the language
// model must produce (spec §3 "Digest item", §4.7 "Schema"). Struct tags
// drive go-playground/validator; the ISO-8601-with-offset rule for date
// fields is enforced by isoOffset below rather than a stock tag, since
// validator has no built-in "has a timezone offset" check.
type wireCitation struct {
	MessageID string `json:"message_id" validate:"required"`
	Start     int    `json:"start" validate:"gte=0"`
	End       int    `json:"end" validate:"gtfield=Start"`
	Preview   string `json:"preview" validate:"required"`
	Checksum  string `json:"checksum"`
}

type wireItem struct {
	Title             string         `json:"title" validate:"required"`
	Description       string         `json:"description"`
	Quote             string         `json:"quote" validate:"required,min=10"`
	Owners            []string       `json:"owners"`
	Participants      []string       `json:"participants"`
	DueDate           string         `json:"due_date"`
	DueDateNormalized string         `json:"due_date_normalized" validate:"omitempty,isoOffset"`
	Confidence        string         `json:"confidence" validate:"required,oneof=high medium low"`
	EmailSubject      string         `json:"email_subject"`
	EvidenceID        string         `json:"evidence_id" validate:"required"`
	Citations         []wireCitation `json:"citations" validate:"required,min=1,dive"`
}

type wireDigest struct {
	MyActions         []wireItem `json:"my_actions"`
	OthersActions     []wireItem `json:"others_actions"`
	DeadlinesMeetings []wireItem `json:"deadlines_meetings"`
	RisksBlockers     []wireItem `json:"risks_blockers"`
	FYI               []wireItem `json:"fyi" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("isoOffset", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	})
	return v
}

// ParseAndValidate extracts the JSON object from raw, unmarshals it against
// the wire schema, and runs struct validation (spec §4.7 "Schema"). On
// failure the caller retries the language-model call once with an explicit
// repair instruction, per spec; this function itself never repairs input.
func ParseAndValidate(raw string) (wireDigest, string, error) {
	jsonText, prose, err := ExtractJSON(raw)
	if err != nil {
		return wireDigest{}, "", err
	}

	var wd wireDigest
	if err := json.Unmarshal([]byte(jsonText), &wd); err != nil {
		return wireDigest{}, "", apperr.Wrap(apperr.KindParse, "digest JSON does not match expected shape", err)
	}

	for _, items := range [][]wireItem{wd.MyActions, wd.OthersActions, wd.DeadlinesMeetings, wd.RisksBlockers, wd.FYI} {
		for _, item := range items {
			if err := validate.Struct(item); err != nil {
				return wireDigest{}, "", apperr.Wrap(apperr.KindLLMSchema, "digest item failed schema validation", err)
			}
		}
	}

	return wd, prose, nil
}

func wireToDomainItem(w wireItem, digestDate time.Time) domain.DigestItem {
	item := domain.DigestItem{
		Title:             w.Title,
		Description:       w.Description,
		Quote:             w.Quote,
		Owners:            w.Owners,
		Participants:      w.Participants,
		DueDate:           w.DueDate,
		DueDateNormalized: w.DueDateNormalized,
		Confidence:        domain.Confidence(w.Confidence),
		EmailSubject:      w.EmailSubject,
	}
	for _, c := range w.Citations {
		item.Citations = append(item.Citations, domain.Citation{
			MessageID: c.MessageID,
			Start:     c.Start,
			End:       c.End,
			Preview:   c.Preview,
			Checksum:  c.Checksum,
		})
	}
	item.DueDateLabel = dueDateLabel(w.DueDateNormalized, digestDate)
	return item
}

// dueDateLabel implements spec §4.7's automatic today/tomorrow rule: set
// when the normalized date falls within 48 hours of digest_date.
func dueDateLabel(dueDateNormalized string, digestDate time.Time) domain.DueDateLabel {
	if dueDateNormalized == "" {
		return domain.DueDateNone
	}
	t, err := time.Parse(time.RFC3339, dueDateNormalized)
	if err != nil {
		return domain.DueDateNone
	}
	diff := t.Sub(digestDate)
	switch {
	case diff >= 0 && diff < 24*time.Hour:
		return domain.DueDateToday
	case diff >= 24*time.Hour && diff < 48*time.Hour:
		return domain.DueDateTomorrow
	default:
		return domain.DueDateNone
	}
}

// ToDomain maps a validated wire digest into the domain envelope. The
// caller fills in run-level fields (trace id, prompt version, timezone,
// counters) that aren't part of the model's response.
func ToDomain(wd wireDigest, digestDate time.Time, renderedSummary string) domain.Digest {
	return domain.Digest{
		SchemaVersion:     domain.SchemaVersion,
		DigestDate:        digestDate.Format("2006-01-02"),
		MyActions:         mapItems(wd.MyActions, digestDate),
		OthersActions:     mapItems(wd.OthersActions, digestDate),
		DeadlinesMeetings: mapItems(wd.DeadlinesMeetings, digestDate),
		RisksBlockers:     mapItems(wd.RisksBlockers, digestDate),
		FYI:               mapItems(wd.FYI, digestDate),
		RenderedSummary:   renderedSummary,
	}
}

func mapItems(items []wireItem, digestDate time.Time) []domain.DigestItem {
	out := make([]domain.DigestItem, 0, len(items))
	for _, w := range items {
		out = append(out, wireToDomainItem(w, digestDate))
	}
	return out
}
