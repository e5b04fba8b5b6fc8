// Package stagecache is the optional Mongo-backed intermediate store
// (SPEC_FULL.md supplemented feature 2, "Stage cache (Mongo)"). Normalized
// messages and evidence chunks for a (user, digest_date) pair are written
// here when MONGODB_URL is configured, so a rebuild-window rerun can skip
// Fetch, Normalize and Chunk entirely and reuse byte-identical evidence;
// Thread build, Extract and Rank still run over the cached data. A cache miss (including an unconfigured cache)
// always falls back to recomputing from the mailbox driver.
package stagecache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/d1249/maildigest/internal/domain"
)

const (
	collectionName = "stage_snapshots"

	// compressionThreshold: only gzip the payload once it is large
	// enough to be worth the CPU.
	compressionThreshold = 1024
)

// Store reads and writes a whole run's Normalize/Chunk output as a single
// snapshot document keyed by (user, digest_date).
type Store struct {
	collection *mongo.Collection
}

// NewClient connects to mongoURL with a bounded connection pool (5 to 50
// connections, idle ones closed after 30s).
func NewClient(ctx context.Context, mongoURL string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(mongoURL).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to stage cache: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping stage cache: %w", err)
	}
	return client, nil
}

// New wraps a database handle. A nil db produces a Store whose methods
// always miss/no-op, the same "configured or not" pattern as the other
// optional stores.
func New(db *mongo.Database) *Store {
	if db == nil {
		return &Store{}
	}
	return &Store{collection: db.Collection(collectionName)}
}

// EnsureIndexes creates the unique key index and a TTL index that expires
// snapshots well past any plausible rebuild window, so an abandoned cache
// does not grow without bound.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.collection == nil {
		return nil
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_email", Value: 1}, {Key: "digest_date", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Snapshot is the cached output of Normalize + Chunk for one run.
type Snapshot struct {
	Messages []domain.Message
	Chunks   []domain.EvidenceChunk
}

type snapshotDocument struct {
	UserEmail    string    `bson:"user_email"`
	DigestDate   string    `bson:"digest_date"`
	Payload      []byte    `bson:"payload"`
	IsCompressed bool      `bson:"is_compressed"`
	CachedAt     time.Time `bson:"cached_at"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

// Put stores snap under (user, digestDate), replacing any prior entry.
func (s *Store) Put(ctx context.Context, user, digestDate string, snap Snapshot, ttl time.Duration) error {
	if s == nil || s.collection == nil {
		return nil
	}

	raw, err := marshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("marshal stage snapshot: %w", err)
	}

	payload := raw
	compressed := false
	if len(raw) > compressionThreshold {
		payload, err = compress(raw)
		if err != nil {
			return fmt.Errorf("compress stage snapshot: %w", err)
		}
		compressed = true
	}

	now := time.Now()
	doc := snapshotDocument{
		UserEmail:    user,
		DigestDate:   digestDate,
		Payload:      payload,
		IsCompressed: compressed,
		CachedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}

	filter := bson.M{"user_email": user, "digest_date": digestDate}
	opts := options.Replace().SetUpsert(true)
	_, err = s.collection.ReplaceOne(ctx, filter, doc, opts)
	if err != nil {
		return fmt.Errorf("put stage snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot for (user, digestDate), or ok=false on
// a miss (no entry, expired entry already reaped, or cache unconfigured).
func (s *Store) Get(ctx context.Context, user, digestDate string) (Snapshot, bool) {
	if s == nil || s.collection == nil {
		return Snapshot{}, false
	}

	var doc snapshotDocument
	filter := bson.M{"user_email": user, "digest_date": digestDate}
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		return Snapshot{}, false
	}

	raw := doc.Payload
	if doc.IsCompressed {
		decompressed, err := decompress(raw)
		if err != nil {
			return Snapshot{}, false
		}
		raw = decompressed
	}

	snap, err := unmarshalSnapshot(raw)
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
