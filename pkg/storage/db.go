package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// DB is a thin JSON-over-Pebble layer shared by the wallet and notary stores.
type DB struct {
	db *pebble.DB
}

// Options tunes the underlying Pebble instance.
type Options struct {
	CacheSize    int64 // bytes; 0 uses Pebble's default
	MemTableSize uint64
}

// Open opens (or creates) a Pebble database at path.
func Open(path string, o Options) (*DB, error) {
	opts := &pebble.Options{
		MaxOpenFiles: 500,
		BytesPerSync: 512 << 10,
	}
	if o.CacheSize > 0 {
		cache := pebble.NewCache(o.CacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}
	if o.MemTableSize > 0 {
		opts.MemTableSize = o.MemTableSize
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// PutJSON stores v under key. Sync forces an fsync before returning.
func (d *DB) PutJSON(key []byte, v any, sync bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := d.db.Set(key, data, writeOpts(sync)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetJSON loads key into v. It reports false when the key does not exist.
func (d *DB) GetJSON(key []byte, v any) (bool, error) {
	data, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Has reports whether key exists.
func (d *DB) Has(key []byte) (bool, error) {
	_, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	closer.Close()
	return true, nil
}

func (d *DB) Delete(key []byte) error {
	if err := d.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scan calls fn for every key with the given prefix, in key order.
// Key and value slices are only valid during the call.
func (d *DB) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch groups writes that must land together.
type Batch struct {
	b *pebble.Batch
}

func (d *DB) NewBatch() *Batch { return &Batch{b: d.db.NewBatch()} }

func (b *Batch) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.b.Set(key, data, nil)
}

func (b *Batch) Delete(key []byte) error { return b.b.Delete(key, nil) }

// Commit writes the batch atomically and releases it.
func (b *Batch) Commit() error {
	defer b.b.Close()
	return b.b.Commit(pebble.Sync)
}

// Discard releases the batch without writing.
func (b *Batch) Discard() error { return b.b.Close() }

func writeOpts(sync bool) *pebble.WriteOptions {
	if sync {
		return pebble.Sync
	}
	return pebble.NoSync
}
