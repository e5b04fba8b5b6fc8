package extract

import (
	"testing"
	"time"

	"github.com/d1249/maildigest/internal/domain"
)

func mkChunk(id, content string) domain.EvidenceChunk {
	return domain.EvidenceChunk{EvidenceID: id, MessageID: id, Content: content}
}

type goldCase struct {
	content    string
	aliases    []string
	isPositive bool
}

// goldSet is the >= 18 labelled cases required by spec §8 "Boundary
// behavior": a mix of English and Russian actions/questions/mentions
// (positives, each combining at least two of the rule features per §4.4's
// weights) and plain declarative/FYI sentences (negatives).
var goldSet = []goldCase{
	{content: "Please approve the Q3 budget by Friday.", isPositive: true},
	{content: "Could you review the attached document today?", isPositive: true},
	{content: "Can you send me the updated deck by EOD?", isPositive: true},
	{content: "Прошу подтвердить участие в встрече завтра.", isPositive: true},
	{content: "Пожалуйста, отправьте отчет до пятницы.", isPositive: true},
	{content: "Нужно проверить контракт до 15.01.2024.", isPositive: true},
	{content: "Could you confirm when the deployment will happen by Friday?", isPositive: true},
	{content: "Пожалуйста, подскажите когда будет готов отчет до пятницы?", isPositive: true},
	{content: "alice@corp.example should take a look at this.", aliases: []string{"alice@corp.example"}, isPositive: true},
	{content: "Make sure to submit the form by tomorrow please.", isPositive: true},
	{content: "Please ensure the report is reviewed by EOD.", isPositive: true},
	{content: "Could you please update the status page?", isPositive: true},
	{content: "Сделайте ревью кода, пожалуйста, до среды.", isPositive: true},
	{content: "Подтвердите, пожалуйста, получение письма сегодня.", isPositive: true},
	{content: "Please review the proposal and confirm by 2024-01-15.", isPositive: true},
	{content: "bob@corp.example, could you check this before Friday?", aliases: []string{"bob@corp.example"}, isPositive: true},
	{content: "Прошу, пожалуйста, проверьте статус сегодня.", isPositive: true},
	{content: "Can you please confirm the schedule by tomorrow?", isPositive: true},

	{content: "The meeting went well yesterday.", isPositive: false},
	{content: "Thanks for your help with the project.", isPositive: false},
	{content: "The weather has been nice this week.", isPositive: false},
	{content: "Attached is the report for your records.", isPositive: false},
	{content: "This is just an FYI about the office closure.", isPositive: false},
	{content: "Результаты были опубликованы вчера.", isPositive: false},
	{content: "Спасибо за помощь с проектом.", isPositive: false},
	{content: "Вложен отчет для вашего сведения.", isPositive: false},
}

func TestRuleExtractorGoldSetPrecisionRecall(t *testing.T) {
	const threshold = 0.5
	var truePositive, falsePositive, falseNegative int

	for _, g := range goldSet {
		chunk := mkChunk("ev", g.content)
		got := Extract(chunk, g.aliases, 1, threshold)
		predictedPositive := len(got) > 0

		switch {
		case g.isPositive && predictedPositive:
			truePositive++
		case g.isPositive && !predictedPositive:
			falseNegative++
		case !g.isPositive && predictedPositive:
			falsePositive++
		}
	}

	precision := float64(truePositive) / float64(truePositive+falsePositive)
	recall := float64(truePositive) / float64(truePositive+falseNegative)

	if precision < 0.85 {
		t.Errorf("precision = %.2f, want >= 0.85 (tp=%d fp=%d)", precision, truePositive, falsePositive)
	}
	if recall < 0.80 {
		t.Errorf("recall = %.2f, want >= 0.80 (tp=%d fn=%d)", recall, truePositive, falseNegative)
	}
}

func TestExtractEmitsEvidenceID(t *testing.T) {
	chunk := mkChunk("ev123", "Please approve the Q3 budget by Friday.")
	got := Extract(chunk, nil, 1, 0.5)
	if len(got) == 0 {
		t.Fatal("expected at least one extracted action")
	}
	for _, a := range got {
		if a.EvidenceID != "ev123" {
			t.Errorf("expected evidence id ev123, got %s", a.EvidenceID)
		}
	}
}

func TestNormalizeDeadlineTomorrow(t *testing.T) {
	ref := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	got, ok := NormalizeDeadline("tomorrow", ref, time.UTC)
	if !ok || got != "2024-12-16" {
		t.Fatalf("NormalizeDeadline(tomorrow) = %q, %v, want 2024-12-16", got, ok)
	}
}

func TestNormalizeDeadlineWeekday(t *testing.T) {
	// Sunday 2024-12-15; "Friday" should resolve to the next Friday, 2024-12-20.
	ref := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	got, ok := NormalizeDeadline("by Friday", ref, time.UTC)
	if !ok || got != "2024-12-20" {
		t.Fatalf("NormalizeDeadline(by Friday) = %q, %v, want 2024-12-20", got, ok)
	}
}
