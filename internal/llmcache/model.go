package llmcache

import (
	"context"

	"github.com/d1249/maildigest/internal/domain"
)

// CachingModel decorates a domain.LanguageModel with the Redis-backed
// cache, so the summarize orchestrator can use it as a drop-in
// replacement for internal/llm.Client without knowing caching exists.
type CachingModel struct {
	Inner         domain.LanguageModel
	Cache         *Cache
	PromptVersion string
	DigestDate    string
}

// Complete implements domain.LanguageModel, checking the cache before
// falling through to Inner.Complete on a miss. A cache write failure is
// ignored and never fails the call — the cache is an optimization, not a
// dependency.
func (m *CachingModel) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	key := Key(m.PromptVersion, req.Model, req.PromptText, m.DigestDate)

	if entry, ok := m.Cache.Get(ctx, key); ok {
		return domain.CompletionResponse{
			ResponseText: entry.ResponseText,
			TokensIn:     entry.TokensIn,
			TokensOut:    entry.TokensOut,
		}, nil
	}

	resp, err := m.Inner.Complete(ctx, req)
	if err != nil {
		return resp, err
	}

	_ = m.Cache.Put(ctx, key, Entry{
		ResponseText: resp.ResponseText,
		TokensIn:     resp.TokensIn,
		TokensOut:    resp.TokensOut,
	})
	return resp, nil
}
