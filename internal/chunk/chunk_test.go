package chunk

import (
	"strings"
	"testing"

	"github.com/d1249/maildigest/internal/domain"
)

func TestSplitContentSliceInvariant(t *testing.T) {
	body := "Please review the budget.\n\nLet me know your thoughts by Friday.\n\nThanks for your help."
	msg := domain.Message{MessageID: "m1", BodyNormalized: body}
	chunks := Split(msg, "t1", nil, 0)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if c.StartOffset < 0 || c.StartOffset >= c.EndOffset || c.EndOffset > len(body) {
			t.Fatalf("invalid offsets: %d..%d for body len %d", c.StartOffset, c.EndOffset, len(body))
		}
		if c.Content != body[c.StartOffset:c.EndOffset] {
			t.Fatalf("content slice invariant violated: got %q, want %q", c.Content, body[c.StartOffset:c.EndOffset])
		}
	}
}

func TestSplitChunksDoNotOverlap(t *testing.T) {
	body := "Para one line one.\n\nPara two line two.\n\nPara three line three."
	msg := domain.Message{MessageID: "m1", BodyNormalized: body}
	chunks := Split(msg, "t1", nil, 0)

	for i := 0; i < len(chunks); i++ {
		for j := i + 1; j < len(chunks); j++ {
			a, b := chunks[i], chunks[j]
			if a.StartOffset < b.EndOffset && b.StartOffset < a.EndOffset {
				t.Fatalf("chunks overlap: %+v and %+v", a, b)
			}
		}
	}
}

func TestSplitCapsAt12ChunksPerMessage(t *testing.T) {
	var paras []string
	for i := 0; i < 30; i++ {
		paras = append(paras, "This is a short distinct paragraph number describing something unrelated.")
	}
	body := strings.Join(paras, "\n\n")
	msg := domain.Message{MessageID: "m1", BodyNormalized: body}
	chunks := Split(msg, "t1", nil, 0)

	if len(chunks) > maxChunksPerMessage {
		t.Fatalf("expected at most %d chunks, got %d", maxChunksPerMessage, len(chunks))
	}
}

func TestEvidenceIDDeterministic(t *testing.T) {
	id1 := EvidenceID("msg-1", 10, 20)
	id2 := EvidenceID("msg-1", 10, 20)
	if id1 != id2 {
		t.Fatalf("expected deterministic evidence id, got %q vs %q", id1, id2)
	}
	id3 := EvidenceID("msg-1", 10, 21)
	if id1 == id3 {
		t.Fatal("expected different offsets to produce different evidence ids")
	}
}

func TestComputeSignalsDetectsUserAlias(t *testing.T) {
	signals := computeSignals("Hi alice@corp.example, please review this.", []string{"alice@corp.example"}, 1)
	if !signals.MentionsUserAlias {
		t.Fatal("expected user alias mention detected")
	}
	if !signals.HasImperativeVerb {
		t.Fatal("expected imperative verb detected for 'please'")
	}
}

func TestMarkLastUpdateRaisesPriority(t *testing.T) {
	chunks := []domain.EvidenceChunk{
		{MessageID: "m1", Signals: domain.ChunkSignals{}},
	}
	before := chunks[0].PriorityScore
	MarkLastUpdate(chunks, "m1")
	if chunks[0].PriorityScore <= before {
		t.Fatalf("expected priority score to increase after marking last update, before=%f after=%f", before, chunks[0].PriorityScore)
	}
	if !chunks[0].Signals.IsLastUpdate {
		t.Fatal("expected IsLastUpdate to be set")
	}
}
