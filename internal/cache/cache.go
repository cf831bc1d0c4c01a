// ABOUTME: Decode cache backed by BadgerDB
// ABOUTME: Stores imported PCM buffers as msgpack, keyed by source identity and target
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
)

const keyPrefix = "pcm/"

// Options configures the cache.
type Options struct {
	// Dir holds the badger files. Required unless InMemory.
	Dir string
	// InMemory keeps everything in RAM, for tests.
	InMemory bool
	// TTL expires entries; zero keeps them until evicted by Delete.
	TTL time.Duration
}

// Cache maps encoded sources to their decoded PCM.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// entry is the stored form of a Buffer.
type entry struct {
	Codec      string    `msgpack:"codec"`
	SampleRate int       `msgpack:"rate"`
	Channels   int       `msgpack:"ch"`
	BitDepth   int       `msgpack:"bits"`
	Float      bool      `msgpack:"float"`
	Samples    []int32   `msgpack:"samples,omitempty"`
	Floats     []float32 `msgpack:"floats,omitempty"`
	Source     string    `msgpack:"src"`
	Stored     int64     `msgpack:"stored"`
}

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cache: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", opts.Dir, err)
	}
	return &Cache{db: db, ttl: opts.TTL}, nil
}

// Close flushes and closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives a cache key from a source identity and the conversion target.
func Key(identity string, target convert.Target) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d|%t|%d", identity,
		target.SampleRate, target.Channels, target.BitDepth, target.Float, target.Quality)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// FileKey keys a local file by absolute path, size and modification time,
// so edits invalidate the entry without hashing the content.
func FileKey(path string, target convert.Target) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	return Key(fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano()), target), nil
}

// BytesKey keys in-memory input by content hash.
func BytesKey(data []byte, target convert.Target) string {
	sum := sha256.Sum256(data)
	return Key(hex.EncodeToString(sum[:]), target)
}

// Get returns the cached buffer for key.
func (c *Cache) Get(key string) (audio.Buffer, bool, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return audio.Buffer{}, false, nil
	}
	if err != nil {
		return audio.Buffer{}, false, err
	}

	var e entry
	if err := msgpack.Unmarshal(val, &e); err != nil {
		return audio.Buffer{}, false, fmt.Errorf("cache: corrupt entry %s: %w", key, err)
	}
	buf := audio.Buffer{
		Format: audio.Format{
			Codec:      e.Codec,
			SampleRate: e.SampleRate,
			Channels:   e.Channels,
			BitDepth:   e.BitDepth,
			Float:      e.Float,
		},
		Samples: e.Samples,
		Floats:  e.Floats,
	}
	// Empty slices decode as nil; keep the populated side non-nil.
	if buf.Format.Float && buf.Floats == nil {
		buf.Floats = []float32{}
	}
	if !buf.Format.Float && buf.Samples == nil {
		buf.Samples = []int32{}
	}
	if err := buf.Validate(); err != nil {
		return audio.Buffer{}, false, fmt.Errorf("cache: invalid entry %s: %w", key, err)
	}
	return buf, true, nil
}

// Put stores buf under key. source is kept for diagnostics.
func (c *Cache) Put(key, source string, buf audio.Buffer) error {
	data, err := msgpack.Marshal(&entry{
		Codec:      buf.Format.Codec,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.Channels,
		BitDepth:   buf.Format.BitDepth,
		Float:      buf.Format.Float,
		Samples:    buf.Samples,
		Floats:     buf.Floats,
		Source:     source,
		Stored:     time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes key. Missing keys are not an error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Len counts cached buffers.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// badgerLogger routes badger's warnings and errors to the leveled log.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { log.Errorf("badger: "+f, v...) }
func (badgerLogger) Warningf(f string, v ...interface{}) { log.Warnf("badger: "+f, v...) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(f string, v ...interface{})   { log.Debugf("badger: "+f, v...) }
