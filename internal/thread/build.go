package thread

import (
	"sort"
	"strings"

	"github.com/d1249/maildigest/internal/domain"
)

// unionFind groups message indices into threads, recording the strongest
// merge signal used to join any two members (spec §4.2 step 5).
type unionFind struct {
	parent   []int
	strength []int // strongest MergeMethod strength seen for this root's tree
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), strength: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b, methodStrength int) {
	ra, rb := uf.find(a), uf.find(b)
	maxStrength := methodStrength
	if uf.strength[ra] > maxStrength {
		maxStrength = uf.strength[ra]
	}
	if uf.strength[rb] > maxStrength {
		maxStrength = uf.strength[rb]
	}
	if ra != rb {
		uf.parent[ra] = rb
	}
	uf.strength[uf.find(a)] = maxStrength
}

var methodStrength = map[domain.MergeMethod]int{
	domain.MergedByConversationID: 4,
	domain.MergedByReplyChain:     3,
	domain.MergedBySubject:        2,
	domain.MergedBySemantic:       1,
}

func strengthToMethod(s int) domain.MergeMethod {
	switch {
	case s >= 4:
		return domain.MergedByConversationID
	case s == 3:
		return domain.MergedByReplyChain
	case s == 2:
		return domain.MergedBySubject
	default:
		return domain.MergedBySemantic
	}
}

// BuildThreads implements spec §4.2: dedupe, reply-chain index, initial
// grouping, semantic merge fallback, provenance. Input is the normalized
// message sequence; output is threads sorted by latest received_at
// descending.
func BuildThreads(messages []domain.Message) (threads []domain.Thread, duplicatesFound int) {
	dedupe := Dedupe(messages)
	primaries := dedupe.Primaries
	n := len(primaries)
	if n == 0 {
		return nil, dedupe.DuplicatesFound
	}

	idByMessageID := make(map[string]int, n)
	for i, m := range primaries {
		idByMessageID[m.MessageID] = i
	}

	uf := newUnionFind(n)

	// Step: conversation_id.
	byConv := make(map[string][]int)
	for i, m := range primaries {
		if m.ConversationID == "" {
			continue
		}
		byConv[m.ConversationID] = append(byConv[m.ConversationID], i)
	}
	for _, ids := range byConv {
		for i := 1; i < len(ids); i++ {
			uf.union(ids[0], ids[i], methodStrength[domain.MergedByConversationID])
		}
	}

	// Step: reply-chain closure via In-Reply-To / References.
	for i, m := range primaries {
		refs := append([]string{m.InReplyTo}, m.References...)
		for _, ref := range refs {
			ref = normalizeRefID(ref)
			if ref == "" {
				continue
			}
			if j, ok := idByMessageID[ref]; ok {
				uf.union(i, j, methodStrength[domain.MergedByReplyChain])
			}
		}
	}

	// Step: normalized subject, gated to messages that carry neither a
	// conversation_id nor a reply-chain reference of their own (spec §4.2
	// step 3: subject matching applies only "when neither is available").
	// A message with a conversation_id is excluded even when no other
	// message shares that id, since the stronger signal is available for
	// it; otherwise two unrelated same-subject threads from different
	// conversations would merge on subject text alone.
	hasStrongSignal := make([]bool, n)
	for i, m := range primaries {
		if m.ConversationID != "" || m.InReplyTo != "" || len(m.References) > 0 {
			hasStrongSignal[i] = true
		}
	}

	bySubject := make(map[string][]int)
	for i, m := range primaries {
		if hasStrongSignal[i] {
			continue
		}
		subj := NormalizeSubject(m.Subject)
		if subj == "" {
			continue
		}
		bySubject[subj] = append(bySubject[subj], i)
	}
	for _, ids := range bySubject {
		for i := 1; i < len(ids); i++ {
			uf.union(ids[0], ids[i], methodStrength[domain.MergedBySubject])
		}
	}

	// Step: semantic merge fallback between same-subject groups that share
	// no other link — approximated here by re-scanning subject groups
	// whose roots differ post-union (can't happen after the subject union
	// above unions them directly) and, more usefully, groups with *distinct*
	// normalized subjects whose leading content is near-identical.
	applySemanticMerge(uf, primaries, bySubject)

	// Collect groups by root.
	groups := make(map[int][]int)
	for i := range primaries {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	threads = make([]domain.Thread, 0, len(groups))
	for root, members := range groups {
		msgs := make([]domain.Message, len(members))
		for k, idx := range members {
			msgs[k] = primaries[idx]
		}
		sort.Slice(msgs, func(a, b int) bool { return msgs[a].ReceivedAt.Before(msgs[b].ReceivedAt) })

		var dupSources []string
		for _, m := range msgs {
			dupSources = append(dupSources, dedupe.DuplicatesByPrimary[m.MessageID]...)
		}

		participants := countParticipants(msgs)

		threads = append(threads, domain.Thread{
			ThreadID:          threadIDFor(msgs),
			Messages:          msgs,
			ParticipantsCount: participants,
			MergedBy:          strengthToMethod(uf.strength[root]),
			DuplicateSources:  dupSources,
		})
	}

	sort.Slice(threads, func(a, b int) bool {
		return latestUnix(threads[a]) > latestUnix(threads[b])
	})

	return threads, dedupe.DuplicatesFound
}

func latestUnix(t domain.Thread) int64 {
	var maxUnix int64
	for _, m := range t.Messages {
		if u := m.ReceivedAt.Unix(); u > maxUnix {
			maxUnix = u
		}
	}
	return maxUnix
}

func normalizeRefID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(id)
}

func threadIDFor(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return "thr_" + msgs[0].MessageID
}

func countParticipants(msgs []domain.Message) int {
	seen := make(map[string]bool)
	for _, m := range msgs {
		seen[strings.ToLower(m.FromEmail)] = true
	}
	return len(seen)
}

// applySemanticMerge compares the leading ~200 characters of concatenated
// bodies across distinct normalized-subject groups using character-trigram
// Jaccard similarity, merging when similarity >= 0.7 (spec §4.2 step 4).
func applySemanticMerge(uf *unionFind, primaries []domain.Message, bySubject map[string][]int) {
	type groupKey struct {
		subject string
		root    int
		prefix  string
	}
	var keys []groupKey
	for subj, ids := range bySubject {
		root := uf.find(ids[0])
		var b strings.Builder
		for _, idx := range ids {
			b.WriteString(primaries[idx].BodyNormalized)
			if b.Len() > 200 {
				break
			}
		}
		prefix := b.String()
		if len(prefix) > 200 {
			prefix = prefix[:200]
		}
		keys = append(keys, groupKey{subject: subj, root: root, prefix: prefix})
	}

	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[i].subject == keys[j].subject {
				continue
			}
			if uf.find(keys[i].root) == uf.find(keys[j].root) {
				continue
			}
			sim := trigramJaccard(keys[i].prefix, keys[j].prefix)
			if sim >= 0.7 {
				uf.union(keys[i].root, keys[j].root, methodStrength[domain.MergedBySemantic])
			}
		}
	}
}

func trigrams(s string) map[string]bool {
	runes := []rune(strings.ToLower(s))
	set := make(map[string]bool)
	for i := 0; i+2 < len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

func trigramJaccard(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tri := range ta {
		if tb[tri] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
