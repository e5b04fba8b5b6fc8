package thread

import (
	"fmt"
	"testing"
	"time"

	"github.com/d1249/maildigest/internal/domain"
)

func TestNormalizeSubjectGoldenExample(t *testing.T) {
	got := NormalizeSubject("RE: Fwd: [JIRA-1] 📧 Status — Final")
	want := "status - final"
	if got != want {
		t.Fatalf("NormalizeSubject = %q, want %q", got, want)
	}
}

func TestNormalizeSubjectIdempotent(t *testing.T) {
	inputs := []string{
		"RE: Fwd: [JIRA-1] 📧 Status — Final",
		"(External) Re: Re: Budget Review",
		"Обычная тема письма",
		"Отв: Пересл: [URGENT] Проверка",
	}
	for _, s := range inputs {
		once := NormalizeSubject(s)
		twice := NormalizeSubject(once)
		if once != twice {
			t.Errorf("NormalizeSubject not idempotent for %q: once=%q twice=%q", s, once, twice)
		}
	}
}

func TestDedupeCollapsesDuplicates(t *testing.T) {
	base := time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC)
	messages := []domain.Message{
		{MessageID: "m1", BodyChecksum: "sum-a", ReceivedAt: base},
		{MessageID: "m2", BodyChecksum: "sum-a", ReceivedAt: base.Add(time.Hour)},
		{MessageID: "m3", BodyChecksum: "sum-b", ReceivedAt: base},
	}
	result := Dedupe(messages)
	if len(result.Primaries) != 2 {
		t.Fatalf("expected 2 primaries, got %d", len(result.Primaries))
	}
	if result.DuplicatesFound != 1 {
		t.Fatalf("expected 1 duplicate found, got %d", result.DuplicatesFound)
	}
	dups, ok := result.DuplicatesByPrimary["m1"]
	if !ok || len(dups) != 1 || dups[0] != "m2" {
		t.Fatalf("expected m2 recorded as duplicate of m1, got %v", result.DuplicatesByPrimary)
	}
}

func TestBuildThreadsGroupsByConversationID(t *testing.T) {
	base := time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC)
	messages := []domain.Message{
		{MessageID: "m1", BodyChecksum: "c1", ConversationID: "conv-1", ReceivedAt: base, Subject: "Budget"},
		{MessageID: "m2", BodyChecksum: "c2", ConversationID: "conv-1", ReceivedAt: base.Add(time.Hour), Subject: "Re: Budget"},
		{MessageID: "m3", BodyChecksum: "c3", ConversationID: "conv-2", ReceivedAt: base, Subject: "Other topic"},
	}
	threads, _ := BuildThreads(messages)
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	for _, th := range threads {
		if len(th.Messages) == 2 && th.MergedBy != domain.MergedByConversationID {
			t.Errorf("expected conversation_id merge provenance, got %s", th.MergedBy)
		}
	}
}

func TestBuildThreadsDoesNotMergeOnSubjectAloneWhenConversationIDPresent(t *testing.T) {
	base := time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC)
	messages := []domain.Message{
		{MessageID: "m1", BodyChecksum: "c1", ConversationID: "conv-a", ReceivedAt: base, Subject: "Weekly Status", FromEmail: "alice@corp.example"},
		{MessageID: "m2", BodyChecksum: "c2", ConversationID: "conv-b", ReceivedAt: base.Add(time.Hour), Subject: "Weekly Status", FromEmail: "bob@corp.example"},
	}
	threads, _ := BuildThreads(messages)
	if len(threads) != 2 {
		t.Fatalf("expected 2 distinct threads for unrelated same-subject conversations, got %d: %+v", len(threads), threads)
	}
}

func TestBuildThreadsNoMessageInTwoThreads(t *testing.T) {
	base := time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC)
	var messages []domain.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, domain.Message{
			MessageID:      fmt.Sprintf("m%d", i),
			BodyChecksum:   fmt.Sprintf("c%d", i),
			ConversationID: fmt.Sprintf("conv-%d", i%3),
			ReceivedAt:     base.Add(time.Duration(i) * time.Hour),
			Subject:        fmt.Sprintf("Topic %d", i%3),
		})
	}
	threads, _ := BuildThreads(messages)
	seen := make(map[string]bool)
	for _, th := range threads {
		for _, m := range th.Messages {
			if seen[m.MessageID] {
				t.Fatalf("message %s appears in more than one thread", m.MessageID)
			}
			seen[m.MessageID] = true
		}
	}
	if len(seen) != len(messages) {
		t.Fatalf("expected all %d messages placed into some thread, got %d", len(messages), len(seen))
	}
}

func TestBuildThreadsSortedByLatestDescending(t *testing.T) {
	base := time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC)
	messages := []domain.Message{
		{MessageID: "old", BodyChecksum: "c1", ConversationID: "a", ReceivedAt: base, Subject: "Old"},
		{MessageID: "new", BodyChecksum: "c2", ConversationID: "b", ReceivedAt: base.Add(48 * time.Hour), Subject: "New"},
	}
	threads, _ := BuildThreads(messages)
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].Messages[0].MessageID != "new" {
		t.Fatalf("expected newest thread first, got %s", threads[0].Messages[0].MessageID)
	}
}

func TestTrigramJaccardIdenticalIsOne(t *testing.T) {
	if sim := trigramJaccard("hello world", "hello world"); sim != 1.0 {
		t.Fatalf("expected identical strings to have similarity 1.0, got %f", sim)
	}
}

func TestTrigramJaccardDisjointIsZero(t *testing.T) {
	if sim := trigramJaccard("aaa", "zzz"); sim != 0.0 {
		t.Fatalf("expected disjoint trigram sets to have similarity 0, got %f", sim)
	}
}
