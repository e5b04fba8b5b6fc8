// Package pipeline wires the ten pipeline stages (spec §4) into one run:
// Fetch, Normalize, Thread, Chunk, Extract, Rank, Summarize, Validate,
// Assemble, and Persist (the last left to the caller, since it also needs
// the --force/--dry-run flags). Every optional store dependency (run
// registry, stage cache) is nil-safe, so a run with none configured still
// produces a correct digest from scratch every time.
package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/assemble"
	"github.com/d1249/maildigest/internal/chunk"
	"github.com/d1249/maildigest/internal/domain"
	"github.com/d1249/maildigest/internal/extract"
	"github.com/d1249/maildigest/internal/normalize"
	"github.com/d1249/maildigest/internal/rank"
	"github.com/d1249/maildigest/internal/runstore"
	"github.com/d1249/maildigest/internal/stagecache"
	"github.com/d1249/maildigest/internal/summarize"
	"github.com/d1249/maildigest/internal/thread"
	"github.com/d1249/maildigest/internal/validate"
)

// smallThreadChunkCap is the "< 3 chunks" bypass threshold named in spec
// §4.6: threads with fewer than this many selected chunks skip per-thread
// summarization and go straight into the final prompt verbatim.
const smallThreadChunkCap = 3

// Dependencies are the pipeline's external ports, per spec §6 "External
// interfaces" plus the optional stores from SPEC_FULL.md's supplemented
// features. Mailbox and LLM are required; RunStore/StageCache may be the
// nil-safe zero value of their type when not configured.
type Dependencies struct {
	Mailbox      domain.MailboxDriver
	Orchestrator *summarize.Orchestrator
	Metrics      domain.MetricSink
	RunStore     *runstore.Store
	StageCache   *stagecache.Store
}

// Params is everything about this particular run that is not a wired
// dependency: the window, the mailbox owner's identity, and the knobs spec
// §4 names per stage.
type Params struct {
	TraceID    string
	User       string
	DigestDate time.Time

	WindowStart time.Time
	WindowEnd   time.Time
	Folders     []string

	MailboxTimezone *time.Location
	FailOnNaive     bool
	CleanPolicy     normalize.CleanPolicy

	UserAliases           []string
	SenderTiers           map[string]int
	ServiceSenderPrefixes []string

	ExtractConfidenceThreshold float64

	SelectTokenBudget  int
	FinalInputTokenCap int

	PerThreadMaxChunks          int
	PerThreadMaxChunksException int

	ModeConfig summarize.ModeConfig

	ValidateCitations bool
	PromptVersion     string

	StageCacheTTL time.Duration
}

// Result is one run's outcome: the digest envelope, its rendered markdown,
// and the counters the run registry persists (SPEC_FULL.md supplemented
// feature 1).
type Result struct {
	Digest   domain.Digest
	Rendered string
	Counters runstore.Counters
}

// Run executes stages 1 through 9 end to end. Persist (stage 10) is left
// to the caller so it can apply --force/--dry-run before touching disk.
func Run(ctx context.Context, deps Dependencies, p Params) (Result, error) {
	counters := runstore.Counters{}
	var degradeReasons []string

	messages, chunks, cacheHit, err := fetchAndPrepare(ctx, deps, p, &counters, &degradeReasons)
	if err != nil {
		return Result{}, err
	}

	threads, duplicatesFound := thread.BuildThreads(messages)
	counters.ThreadsBuilt = len(threads)
	_ = duplicatesFound

	messagesByID := make(map[string]domain.Message, len(messages))
	for _, m := range messages {
		messagesByID[m.MessageID] = m
	}

	if !cacheHit {
		chunks = buildChunks(messages, threads, p)
		if deps.StageCache != nil {
			_ = deps.StageCache.Put(ctx, p.User, p.DigestDate.Format("2006-01-02"),
				stagecache.Snapshot{Messages: messages, Chunks: chunks}, p.StageCacheTTL)
		}
	}
	counters.ChunksExtracted = len(chunks)

	actionsByChunk, actionsExtracted := runExtraction(chunks, p)
	counters.ActionsExtracted = actionsExtracted

	threadLengthByID := make(map[string]int, len(threads))
	for _, t := range threads {
		threadLengthByID[t.ThreadID] = len(t.Messages)
	}

	candidates := buildCandidates(chunks, messagesByID, threadLengthByID, actionsByChunk, p)
	selected := rank.Select(candidates, p.SelectTokenBudget)

	selectedByThread := make(map[string][]domain.EvidenceChunk)
	for _, s := range selected {
		selectedByThread[s.Chunk.ThreadID] = append(selectedByThread[s.Chunk.ThreadID], s.Chunk)
	}

	mode, triggerReason := summarize.Decide(len(threads), len(messages), p.ModeConfig)

	rawResponse, err := runSummarize(ctx, deps.Orchestrator, deps.Metrics, mode, threads, selectedByThread, messagesByID, p)
	if err != nil {
		degradeReasons = append(degradeReasons, "summarize_failed: "+err.Error())
		rawResponse = ""
	}

	digest := buildDigest(rawResponse, chunks, messagesByID, actionsByChunk, selected, p, &degradeReasons)
	digest.TraceID = p.TraceID
	digest.PromptVersion = p.PromptVersion
	if p.MailboxTimezone != nil {
		digest.Timezone = p.MailboxTimezone.String()
	}
	digest.TotalMessagesProcessed = len(messages)
	digest.MessagesWithActions = countMessagesWithActions(actionsByChunk)
	digest.GeneratedAt = time.Now().UTC()

	bodies := make(map[string]string, len(messages))
	for _, m := range messages {
		bodies[m.MessageID] = m.BodyNormalized
	}
	citationErrs := validate.VerifyCitations(digest, bodies)
	if err := validate.ApplyCitationPolicy(citationErrs, p.ValidateCitations); err != nil {
		return Result{}, err
	}
	if len(citationErrs) > 0 {
		degradeReasons = append(degradeReasons, "citation_mismatches_found")
	}

	digest.Partial = len(degradeReasons) > 0
	digest.DegradeReason = strings.Join(degradeReasons, "; ")

	reportMetrics(deps.Metrics, threads, chunks, actionsByChunk, selected, mode, triggerReason, digest)

	return Result{
		Digest:   digest,
		Rendered: assemble.Render(digest),
		Counters: counters,
	}, nil
}

// fetchAndPrepare tries the stage cache first (SPEC_FULL.md supplemented
// feature 2): a hit skips Fetch and Normalize entirely and returns the
// cached messages/chunks, since both are deterministic over the driver's
// raw output. A miss falls through to a live Fetch + Normalize.
func fetchAndPrepare(ctx context.Context, deps Dependencies, p Params, counters *runstore.Counters, degradeReasons *[]string) ([]domain.Message, []domain.EvidenceChunk, bool, error) {
	if deps.StageCache != nil {
		if snap, ok := deps.StageCache.Get(ctx, p.User, p.DigestDate.Format("2006-01-02")); ok {
			counters.MessagesProcessed = len(snap.Messages)
			return snap.Messages, snap.Chunks, true, nil
		}
	}

	records, err := deps.Mailbox.Fetch(ctx, p.WindowStart, p.WindowEnd, p.Folders)
	if err != nil {
		if apperr.IsFatal(err) {
			return nil, nil, false, err
		}
		*degradeReasons = append(*degradeReasons, "mailbox_fetch_failed: "+err.Error())
		records = nil
	}

	normOpts := normalize.Options{
		MailboxTimezone: p.MailboxTimezone,
		FailOnNaive:     p.FailOnNaive,
		CleanPolicy:     p.CleanPolicy,
	}
	normCounters := normalize.Counters{}

	messages := make([]domain.Message, 0, len(records))
	for _, raw := range records {
		msg, skip, err := normalize.Normalize(raw, normOpts, &normCounters)
		if err != nil {
			if apperr.IsFatal(err) {
				return nil, nil, false, err
			}
			*degradeReasons = append(*degradeReasons, "normalize_error: "+err.Error())
			continue
		}
		if skip {
			continue
		}
		messages = append(messages, msg)
	}
	counters.MessagesProcessed = len(messages)
	return messages, nil, false, nil
}

// buildChunks splits every message into evidence chunks and marks each
// thread's last-update chunk (spec §4.3, §4.6 "must-include rules").
func buildChunks(messages []domain.Message, threads []domain.Thread, p Params) []domain.EvidenceChunk {
	threadIDByMessage := make(map[string]string, len(messages))
	for _, t := range threads {
		for _, m := range t.Messages {
			threadIDByMessage[m.MessageID] = t.ThreadID
		}
	}

	var all []domain.EvidenceChunk
	for _, m := range messages {
		tier := p.SenderTiers[strings.ToLower(m.FromEmail)]
		msgChunks := chunk.Split(m, threadIDByMessage[m.MessageID], p.UserAliases, tier)
		all = append(all, msgChunks...)
	}

	for _, t := range threads {
		if lastMsgID, ok := t.LatestReceivedAt(); ok {
			chunk.MarkLastUpdate(all, lastMsgID)
		}
	}
	return all
}

// runExtraction runs the rule-based extractor over every chunk (spec
// §4.4), independent of anything the language model produces.
func runExtraction(chunks []domain.EvidenceChunk, p Params) (map[string][]domain.ExtractedAction, int) {
	actionsByChunk := make(map[string][]domain.ExtractedAction, len(chunks))
	total := 0
	for _, c := range chunks {
		tier := 0
		actions := extract.Extract(c, p.UserAliases, tier, p.ExtractConfidenceThreshold)
		if len(actions) > 0 {
			actionsByChunk[c.EvidenceID] = actions
			total += len(actions)
		}
	}
	return actionsByChunk, total
}

// buildCandidates assembles one rank.Candidate per chunk belonging to a
// non-service-sender message (spec §4.5 "Drop service/auto-reply
// senders"), scoring each with rank.Score.
func buildCandidates(chunks []domain.EvidenceChunk, messagesByID map[string]domain.Message, threadLengthByID map[string]int, actionsByChunk map[string][]domain.ExtractedAction, p Params) []rank.Candidate {
	referenceTime := time.Now().UTC()

	candidates := make([]rank.Candidate, 0, len(chunks))
	for _, c := range chunks {
		msg, ok := messagesByID[c.MessageID]
		if !ok {
			continue
		}
		if rank.IsServiceSender(msg, p.ServiceSenderPrefixes, nil) {
			continue
		}

		cand := rank.Candidate{
			Chunk:         c,
			Message:       msg,
			ThreadLength:  threadLengthByID[c.ThreadID],
			IsActionable:  c.Signals.HasImperativeVerb || len(actionsByChunk[c.EvidenceID]) > 0,
			HasDueDate:    c.Signals.HasDeadline,
			HasProjectTag: false,
		}
		cand.RankScore = rank.Score(cand, p.UserAliases, referenceTime)
		candidates = append(candidates, cand)
	}
	return candidates
}

// runSummarize dispatches to RunFlat or RunHierarchical per the decided
// mode (spec §4.6). Hierarchical mode bypasses per-thread summarization
// for threads with fewer than smallThreadChunkCap selected chunks,
// handing their raw chunks straight to the final aggregation prompt; for
// the rest it applies the must-include per-thread cap before fan-out.
// Either mode's response is retried once with an explicit repair
// instruction on a schema failure (spec §4.7 "Schema") before the caller
// falls through to the extractive degrade path in buildDigest.
func runSummarize(ctx context.Context, o *summarize.Orchestrator, sink domain.MetricSink, mode summarize.Mode, threads []domain.Thread, selectedByThread map[string][]domain.EvidenceChunk, messagesByID map[string]domain.Message, p Params) (string, error) {
	if mode == summarize.ModeFlat {
		var flat []domain.EvidenceChunk
		for _, cs := range selectedByThread {
			flat = append(flat, cs...)
		}
		sort.Slice(flat, func(i, j int) bool { return flat[i].EvidenceID < flat[j].EvidenceID })
		raw, prompt, err := o.RunFlat(ctx, flat, messagesByID, summarize.DigestSchema)
		if err != nil {
			return "", err
		}
		return repairIfInvalid(ctx, o, raw, prompt, o.FlatFinalTimeout), nil
	}

	normalCap := p.PerThreadMaxChunks
	if normalCap <= 0 {
		normalCap = 8
	}
	exceptionCap := p.PerThreadMaxChunksException
	if exceptionCap <= 0 {
		exceptionCap = 12
	}

	var bigThreads []domain.Thread
	var bypassed []domain.EvidenceChunk
	chunksByThread := make(map[string][]domain.EvidenceChunk)
	for _, t := range threads {
		cs := selectedByThread[t.ThreadID]
		if len(cs) == 0 {
			continue
		}
		if len(cs) < smallThreadChunkCap {
			bypassed = append(bypassed, cs...)
			continue
		}
		capped := applyMustIncludeCap(cs, normalCap, exceptionCap, sink)
		if len(capped) == 0 {
			if sink != nil {
				sink.IncCounter("saved_tokens_total", map[string]string{"skip_reason": "empty_thread"}, estimateChunkTokens(cs))
			}
			continue
		}
		bigThreads = append(bigThreads, t)
		chunksByThread[t.ThreadID] = capped
	}

	raw, summaries, prompt, err := o.RunHierarchical(ctx, bigThreads, chunksByThread, messagesByID, bypassed, p.FinalInputTokenCap, summarize.DigestSchema)
	if sink != nil && len(summaries) > 0 {
		sink.SetGauge("avg_subsummary_chunks", nil, avgChunksPerThread(chunksByThread))
	}
	if err != nil {
		return "", err
	}
	return repairIfInvalid(ctx, o, raw, prompt, o.FlatFinalTimeout), nil
}

// repairIfInvalid implements spec §4.7 "Schema"'s one-shot repair: a
// response that fails validate.ParseAndValidate is retried once with an
// explicit repair instruction before the caller falls through to the
// extractive degrade path. If the repair call itself fails (transport
// error) the original response is returned unchanged, so buildDigest's own
// degrade-on-parse-failure still applies.
func repairIfInvalid(ctx context.Context, o *summarize.Orchestrator, raw, prompt string, timeout time.Duration) string {
	if _, _, err := validate.ParseAndValidate(raw); err == nil {
		return raw
	} else if repaired, repairErr := o.Repair(ctx, prompt, err, timeout); repairErr == nil {
		return repaired
	}
	return raw
}

// applyMustIncludeCap implements spec §4.6 step 1's must-include rule:
// every user-alias-mention chunk and the thread's last-update chunk must
// survive into the per-thread selection, capped at normalCap unless the
// must-include set itself exceeds it, in which case the cap rises to
// exceptionCap (never higher). When the must-include set alone still
// overflows exceptionCap, the highest-priority must-include chunks win.
func applyMustIncludeCap(chunks []domain.EvidenceChunk, normalCap, exceptionCap int, sink domain.MetricSink) []domain.EvidenceChunk {
	sorted := make([]domain.EvidenceChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PriorityScore > sorted[j].PriorityScore })

	mustInclude := make(map[string]bool, len(sorted))
	mentionCount, lastUpdateCount := 0, 0
	for _, c := range sorted {
		if c.Signals.MentionsUserAlias {
			mustInclude[c.EvidenceID] = true
			mentionCount++
		}
		if c.Signals.IsLastUpdate {
			mustInclude[c.EvidenceID] = true
			lastUpdateCount++
		}
	}

	cap := normalCap
	if len(mustInclude) > cap {
		cap = exceptionCap
	}

	if sink != nil {
		if mentionCount > 0 {
			sink.IncCounter("must_include_chunks_total", map[string]string{"chunk_type": "mention"}, float64(mentionCount))
		}
		if lastUpdateCount > 0 {
			sink.IncCounter("must_include_chunks_total", map[string]string{"chunk_type": "last_update"}, float64(lastUpdateCount))
		}
	}

	var out []domain.EvidenceChunk
	for _, c := range sorted {
		if mustInclude[c.EvidenceID] && len(out) < cap {
			out = append(out, c)
		}
	}
	for _, c := range sorted {
		if len(out) >= cap {
			break
		}
		if mustInclude[c.EvidenceID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func estimateChunkTokens(chunks []domain.EvidenceChunk) float64 {
	total := 0
	for _, c := range chunks {
		total += c.TokenCount
	}
	return float64(total)
}

func avgChunksPerThread(chunksByThread map[string][]domain.EvidenceChunk) float64 {
	if len(chunksByThread) == 0 {
		return 0
	}
	total := 0
	for _, cs := range chunksByThread {
		total += len(cs)
	}
	return float64(total) / float64(len(chunksByThread))
}

// buildDigest parses the model's raw response into the domain envelope. A
// parse/schema failure (or no response at all, i.e. the model call itself
// failed terminally) falls back to the extractive degrade built directly
// from the rule-extracted actions and top-ranked chunks (spec §4.7
// "Degrade (extractive fallback)"), since only tz-invariant and auth
// errors are fatal to the run (spec §7).
func buildDigest(rawResponse string, chunks []domain.EvidenceChunk, messagesByID map[string]domain.Message, actionsByChunk map[string][]domain.ExtractedAction, selected []rank.Scored, p Params, degradeReasons *[]string) domain.Digest {
	if rawResponse == "" {
		// The caller already recorded "summarize_failed: ..." before
		// calling buildDigest with an empty response.
		return buildExtractiveDigest(chunks, messagesByID, actionsByChunk, selected, p)
	}
	wd, prose, err := validate.ParseAndValidate(rawResponse)
	if err != nil {
		*degradeReasons = append(*degradeReasons, "digest_parse_failed: "+err.Error())
		return buildExtractiveDigest(chunks, messagesByID, actionsByChunk, selected, p)
	}
	return validate.ToDomain(wd, p.DigestDate, prose)
}

// reBlockerLanguage flags a chunk as a risk/blocker candidate for the
// extractive fallback when no language-model classification is available
// (spec §4.7 "high-importance or explicit 'blocker' chunks").
var reBlockerLanguage = regexp.MustCompile(`(?i)\b(blocker|blocked|at risk|risk|escalat\w*)\b`)

// buildExtractiveDigest implements spec §4.7's extractive degrade path:
// when the language-model call fails terminally or returns an unusable
// response, the digest is built directly from the rule-extracted actions
// (internal/extract, spec §4.4) and the top-ranked chunks that made the
// selection budget (internal/rank, spec §4.5), without any model call.
// Rule-extracted actions/questions are classified by deadline presence and
// addressee; every top-ranked chunk not already covered by an action is
// classified by sender importance / blocker language, falling through to
// fyi. DigestDate/TraceID/PromptVersion/Timezone are filled in by the
// caller, same as the model-produced path.
func buildExtractiveDigest(chunks []domain.EvidenceChunk, messagesByID map[string]domain.Message, actionsByChunk map[string][]domain.ExtractedAction, selected []rank.Scored, p Params) domain.Digest {
	chunksByID := make(map[string]domain.EvidenceChunk, len(chunks))
	for _, c := range chunks {
		chunksByID[c.EvidenceID] = c
	}

	digest := domain.Digest{SchemaVersion: domain.SchemaVersion, DigestDate: p.DigestDate.Format("2006-01-02")}
	covered := make(map[string]bool, len(actionsByChunk))

	for evidenceID, actions := range actionsByChunk {
		c, ok := chunksByID[evidenceID]
		if !ok {
			continue
		}
		msg, ok := messagesByID[c.MessageID]
		if !ok {
			continue
		}
		for _, a := range actions {
			if a.Kind == domain.ActionKindMention {
				continue
			}
			item, ok := extractiveActionItem(a, c, msg)
			if !ok {
				continue
			}
			switch {
			case a.Deadline != nil:
				digest.DeadlinesMeetings = append(digest.DeadlinesMeetings, item)
			case addressedToUser(msg, p.UserAliases):
				digest.MyActions = append(digest.MyActions, item)
			default:
				digest.OthersActions = append(digest.OthersActions, item)
			}
			covered[evidenceID] = true
		}
	}

	for _, s := range selected {
		if covered[s.Chunk.EvidenceID] {
			continue
		}
		msg, ok := messagesByID[s.Chunk.MessageID]
		if !ok {
			continue
		}
		item, ok := extractiveChunkItem(s.Chunk, msg, s.RankScore)
		if !ok {
			continue
		}
		if msg.Importance == domain.ImportanceHigh || reBlockerLanguage.MatchString(s.Chunk.Content) {
			digest.RisksBlockers = append(digest.RisksBlockers, item)
		} else {
			digest.FYI = append(digest.FYI, item)
		}
	}

	sortDigestItemsByRank(&digest)
	return digest
}

// extractiveActionItem builds a DigestItem from one rule-extracted action,
// citing the exact span within the message body the action's sentence was
// found in.
func extractiveActionItem(a domain.ExtractedAction, c domain.EvidenceChunk, msg domain.Message) (domain.DigestItem, bool) {
	quote := strings.TrimSpace(a.Text)
	if len(quote) < 10 {
		return domain.DigestItem{}, false
	}
	start, end, ok := locateQuote(quote, c)
	if !ok {
		return domain.DigestItem{}, false
	}
	item := domain.DigestItem{
		Title:        quote,
		Quote:        quote,
		Owners:       append([]string(nil), msg.ToEmails...),
		Participants: participantsOf(msg),
		Confidence:   confidenceFromScore(a.Confidence),
		EmailSubject: msg.Subject,
		RankScore:    c.PriorityScore,
		Citations: []domain.Citation{{
			MessageID: c.MessageID,
			Start:     start,
			End:       end,
			Preview:   quote,
		}},
	}
	if a.Deadline != nil {
		item.DueDate = *a.Deadline
	}
	return item, true
}

// extractiveChunkItem builds a DigestItem directly from a top-ranked chunk
// when no rule-extracted action anchors it, citing the chunk's own span
// verbatim (EvidenceChunk's own invariant guarantees Content is the exact
// body slice, so no further offset search is needed).
func extractiveChunkItem(c domain.EvidenceChunk, msg domain.Message, rankScore float64) (domain.DigestItem, bool) {
	quote := strings.TrimSpace(c.Content)
	if len(quote) < 10 {
		return domain.DigestItem{}, false
	}
	if len(quote) > 280 {
		quote = quote[:280]
	}
	title := quote
	if len(title) > 80 {
		title = title[:80]
	}
	return domain.DigestItem{
		Title:        title,
		Quote:        quote,
		Participants: participantsOf(msg),
		Confidence:   domain.ConfidenceLow,
		EmailSubject: msg.Subject,
		RankScore:    rankScore,
		Citations: []domain.Citation{{
			MessageID: c.MessageID,
			Start:     c.StartOffset,
			End:       c.StartOffset + len(quote),
			Preview:   quote,
		}},
	}, true
}

// locateQuote finds quote's byte offsets within the message body, given
// that c.Content is the exact body slice [c.StartOffset, c.EndOffset).
func locateQuote(quote string, c domain.EvidenceChunk) (start, end int, ok bool) {
	idx := strings.Index(c.Content, quote)
	if idx < 0 {
		return 0, 0, false
	}
	start = c.StartOffset + idx
	end = start + len(quote)
	return start, end, true
}

func addressedToUser(msg domain.Message, userAliases []string) bool {
	for _, alias := range userAliases {
		for _, to := range msg.ToEmails {
			if strings.EqualFold(to, alias) {
				return true
			}
		}
	}
	return false
}

func participantsOf(msg domain.Message) []string {
	seen := make(map[string]bool, 1+len(msg.ToEmails)+len(msg.CcEmails))
	var out []string
	add := func(email string) {
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		out = append(out, email)
	}
	add(msg.FromEmail)
	for _, e := range msg.ToEmails {
		add(e)
	}
	for _, e := range msg.CcEmails {
		add(e)
	}
	return out
}

func confidenceFromScore(score float64) domain.Confidence {
	switch {
	case score >= 0.75:
		return domain.ConfidenceHigh
	case score >= 0.45:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// sortDigestItemsByRank orders every section's items by rank_score
// descending, matching the deterministic output ordering the
// model-produced path gets from rank.Select's own ordering (spec §5
// "Output item order within a section is deterministic").
func sortDigestItemsByRank(d *domain.Digest) {
	for _, items := range [][]domain.DigestItem{d.MyActions, d.OthersActions, d.DeadlinesMeetings, d.RisksBlockers, d.FYI} {
		sort.SliceStable(items, func(i, j int) bool { return items[i].RankScore > items[j].RankScore })
	}
}

// reportMetrics publishes the observability-surface counters/histograms/
// gauges named in spec §6 for the stages pipeline.Run covers directly.
// LLM-specific metrics (llm_latency_ms, llm_tokens_in_total, ...) are the
// caller's job, since only it holds the llm.Client's CostStats.
func reportMetrics(sink domain.MetricSink, threads []domain.Thread, chunks []domain.EvidenceChunk, actionsByChunk map[string][]domain.ExtractedAction, selected []rank.Scored, mode summarize.Mode, triggerReason summarize.TriggerReason, digest domain.Digest) {
	if sink == nil {
		return
	}

	for _, t := range threads {
		sink.IncCounter("threads_merged_total", map[string]string{"method": string(t.MergedBy)}, 1)
	}

	sink.IncCounter("chunks_produced_total", nil, float64(len(chunks)))

	mentions := 0
	for _, actions := range actionsByChunk {
		for _, a := range actions {
			sink.IncCounter("actions_found_total", map[string]string{"kind": string(a.Kind)}, 1)
			sink.ObserveHistogram("actions_confidence_histogram", nil, a.Confidence)
			if a.Kind == domain.ActionKindMention {
				mentions++
			}
		}
	}
	sink.IncCounter("mentions_found_total", nil, float64(mentions))

	for _, s := range selected {
		sink.ObserveHistogram("rank_score_histogram", nil, s.RankScore)
	}
	sink.SetGauge("top10_actions_share", nil, rank.Top10ActionableShare(selected))

	if mode == summarize.ModeHierarchical {
		sink.IncCounter("hierarchical_runs_total", map[string]string{"trigger_reason": string(triggerReason)}, 1)
	}

	if digest.Partial {
		for _, reason := range strings.Split(digest.DegradeReason, "; ") {
			category := reason
			if idx := strings.Index(reason, ":"); idx >= 0 {
				category = reason[:idx]
			}
			sink.IncCounter("degrade_activated_total", map[string]string{"reason": category}, 1)
		}
	}

	status := "ok"
	if digest.Partial {
		status = "partial"
	}
	sink.IncCounter("runs_total", map[string]string{"status": status}, 1)
}

func countMessagesWithActions(actionsByChunk map[string][]domain.ExtractedAction) int {
	seen := make(map[string]bool)
	for _, actions := range actionsByChunk {
		for _, a := range actions {
			seen[a.MessageID] = true
		}
	}
	return len(seen)
}
