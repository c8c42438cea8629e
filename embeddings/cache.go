package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const cacheFileName = "vectors.db"

var (
	bucketVectors = []byte("vectors")

	// keyNamespace seeds the name-based UUIDs used as cache keys.
	keyNamespace = uuid.MustParse("8c6f0b64-3f5e-4a8e-9f55-8d2a1c7e4b10")
)

// ByteStore is a key/value store of serialized vectors.
type ByteStore interface {
	MGet(keys []string) ([][]byte, error)
	MSet(keys []string, values [][]byte) error
	Close() error
}

// BoltStore keeps cached vectors in a single bbolt file inside a per-file directory.
type BoltStore struct {
	db *bbolt.DB
}

// CacheDir returns the cache directory of an uploaded file: <root>/embeddings/<file name>.
func CacheDir(root, fileName string) string {
	return filepath.Join(root, "embeddings", filepath.Base(fileName))
}

func OpenBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, cacheFileName), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) MGet(keys []string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for i, key := range keys {
			if data := b.Get([]byte(key)); data != nil {
				// bbolt values are only valid inside the transaction.
				values[i] = append([]byte(nil), data...)
			}
		}
		return nil
	})
	return values, err
}

func (s *BoltStore) MSet(keys []string, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("cache keys and values length mismatch")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		for i := range keys {
			if err := b.Put([]byte(keys[i]), values[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CacheBackedEmbedder returns stored vectors for texts it has seen and asks the
// underlying provider only for the rest. Query embeddings bypass the cache.
type CacheBackedEmbedder struct {
	underlying Embedder
	store      ByteStore
	namespace  string
	logger     *log.Logger
}

func NewCacheBackedEmbedder(underlying Embedder, store ByteStore, namespace string, logger *log.Logger) *CacheBackedEmbedder {
	if logger == nil {
		logger = log.Default()
	}
	return &CacheBackedEmbedder{
		underlying: underlying,
		store:      store,
		namespace:  namespace,
		logger:     logger,
	}
}

// Key derives the cache key for text. Reads and writes both go through here.
func (c *CacheBackedEmbedder) Key(text string) string {
	return c.namespace + uuid.NewSHA1(keyNamespace, []byte(text)).String()
}

func (c *CacheBackedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.Key(text)
	}

	raw, err := c.store.MGet(keys)
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}

	vectors := make([][]float32, len(texts))
	missing := make([]int, 0)
	for i, data := range raw {
		if data == nil {
			missing = append(missing, i)
			continue
		}
		var vec []float32
		if err := json.Unmarshal(data, &vec); err != nil {
			c.logger.Printf("discard corrupt cache entry %s: %v", keys[i], err)
			missing = append(missing, i)
			continue
		}
		vectors[i] = vec
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	missingTexts := make([]string, len(missing))
	for i, idx := range missing {
		missingTexts[i] = texts[idx]
	}

	computed, err := c.underlying.Embed(ctx, missingTexts)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missing) {
		return nil, fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", len(missing), len(computed))
	}

	newKeys := make([]string, len(missing))
	newValues := make([][]byte, len(missing))
	for i, idx := range missing {
		data, err := json.Marshal(computed[i])
		if err != nil {
			return nil, fmt.Errorf("encode embedding: %w", err)
		}
		vectors[idx] = computed[i]
		newKeys[i] = keys[idx]
		newValues[i] = data
	}

	if err := c.store.MSet(newKeys, newValues); err != nil {
		return nil, fmt.Errorf("write embedding cache: %w", err)
	}

	c.logger.Printf("embedding cache: %d hits, %d misses", len(texts)-len(missing), len(missing))
	return vectors, nil
}

// EmbedQuery always calls the provider.
func (c *CacheBackedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return EmbedQuery(ctx, c.underlying, text)
}

var _ Embedder = (*CacheBackedEmbedder)(nil)
