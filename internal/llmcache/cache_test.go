package llmcache

import "testing"

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("v1", "gpt-4o-mini", "prompt text", "2024-12-15")
	b := Key("v1", "gpt-4o-mini", "prompt text", "2024-12-15")
	if a != b {
		t.Fatalf("expected identical keys, got %s vs %s", a, b)
	}
}

func TestKeyVariesWithDigestDate(t *testing.T) {
	a := Key("v1", "gpt-4o-mini", "prompt text", "2024-12-15")
	b := Key("v1", "gpt-4o-mini", "prompt text", "2024-12-16")
	if a == b {
		t.Fatal("expected keys from different digest dates to differ")
	}
}

func TestKeyVariesWithPromptText(t *testing.T) {
	a := Key("v1", "gpt-4o-mini", "prompt one", "2024-12-15")
	b := Key("v1", "gpt-4o-mini", "prompt two", "2024-12-15")
	if a == b {
		t.Fatal("expected keys from different prompt text to differ")
	}
}

func TestNilCacheGetIsAlwaysMiss(t *testing.T) {
	var c *Cache
	_, ok := c.Get(nil, "any-key") //nolint:staticcheck // nil context fine for a cache with a nil client
	if ok {
		t.Fatal("expected a nil cache to always miss")
	}
}

func TestUnconfiguredCacheGetIsAlwaysMiss(t *testing.T) {
	c := New(nil, 0)
	_, ok := c.Get(nil, "any-key") //nolint:staticcheck
	if ok {
		t.Fatal("expected a cache with a nil redis client to always miss")
	}
}
