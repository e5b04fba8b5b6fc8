// Package chunk splits a normalized message body into evidence chunks with
// stable IDs and offsets (spec §4.3).
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/d1249/maildigest/internal/domain"
)

const (
	maxChunksPerMessage = 12
	targetTokensLow     = 256
	targetTokensHigh    = 512
)

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// Split produces evidence chunks for one normalized message, per spec §4.3.
// Each chunk's signals come from computeSignals (signals.go), a chunk-local
// pattern set kept separately from internal/extract's sentence-level one.
func Split(msg domain.Message, threadID string, userAliases []string, senderTier int) []domain.EvidenceChunk {
	paragraphs := splitParagraphs(msg.BodyNormalized)

	var spans [][2]int
	for _, p := range paragraphs {
		if len(spans) >= maxChunksPerMessage {
			break
		}
		est := estimateTokens(p.text)
		if est <= targetTokensHigh {
			spans = append(spans, [2]int{p.start, p.end})
			continue
		}
		for _, s := range splitSentencesInto(msg.BodyNormalized, p.start, p.end, targetTokensHigh) {
			if len(spans) >= maxChunksPerMessage {
				break
			}
			spans = append(spans, s)
		}
	}

	chunks := make([]domain.EvidenceChunk, 0, len(spans))
	for _, sp := range spans {
		start, end := sp[0], sp[1]
		content := msg.BodyNormalized[start:end]
		signals := computeSignals(content, userAliases, senderTier)
		c := domain.EvidenceChunk{
			EvidenceID:  EvidenceID(msg.MessageID, start, end),
			MessageID:   msg.MessageID,
			ThreadID:    threadID,
			StartOffset: start,
			EndOffset:   end,
			Content:     content,
			TokenCount:  estimateTokens(content),
			Signals:     signals,
		}
		c.PriorityScore = priorityScore(c.Signals)
		chunks = append(chunks, c)
	}
	return chunks
}

// EvidenceID is deterministic over (message_id, start_offset, end_offset):
// identical inputs give identical IDs across runs (spec §4.3, required for
// idempotency and citation checksums).
func EvidenceID(messageID string, start, end int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", messageID, start, end)))
	return "ev_" + hex.EncodeToString(h[:])[:16]
}

type paragraph struct {
	text       string
	start, end int
}

func splitParagraphs(body string) []paragraph {
	var out []paragraph
	start := 0
	for {
		idx := strings.Index(body[start:], "\n\n")
		var end int
		if idx < 0 {
			end = len(body)
		} else {
			end = start + idx
		}
		trimmedStart, trimmedEnd := trimRange(body, start, end)
		if trimmedEnd > trimmedStart {
			out = append(out, paragraph{text: body[trimmedStart:trimmedEnd], start: trimmedStart, end: trimmedEnd})
		}
		if idx < 0 {
			break
		}
		start = start + idx + 2
	}
	return out
}

func trimRange(body string, start, end int) (int, int) {
	for start < end && isSpace(body[start]) {
		start++
	}
	for end > start && isSpace(body[end-1]) {
		end--
	}
	return start, end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// splitSentencesInto splits body[pStart:pEnd] on sentence boundaries,
// packing sentences greedily up to targetTokens per chunk.
func splitSentencesInto(body string, pStart, pEnd int, targetTokens int) [][2]int {
	segment := body[pStart:pEnd]
	locs := sentenceBoundary.FindAllStringIndex(segment, -1)

	var bounds []int
	last := 0
	for _, loc := range locs {
		bounds = append(bounds, loc[1])
		last = loc[1]
	}
	if last < len(segment) {
		bounds = append(bounds, len(segment))
	}

	var spans [][2]int
	chunkStart, prev := 0, 0
	for _, b := range bounds {
		if prev > chunkStart && estimateTokens(segment[chunkStart:b]) > targetTokens {
			spans = append(spans, [2]int{pStart + chunkStart, pStart + prev})
			chunkStart = prev
		}
		prev = b
	}
	if chunkStart < len(segment) {
		spans = append(spans, [2]int{pStart + chunkStart, pStart + len(segment)})
	}
	return spans
}

// estimateTokens approximates token_count as 1.3 x word_count (spec §4.3).
func estimateTokens(s string) int {
	words := strings.Fields(s)
	return int(1.3 * float64(len(words)))
}
