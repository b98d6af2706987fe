// Package badger provides a persistent metadata store on top of BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/authproxy/pkg/store/metadata"
)

// Config holds the badger store options.
type Config struct {
	// Path is the database directory. It is created if missing.
	Path string `mapstructure:"path" validate:"required"`

	// BlockCacheSizeMB is the LSM block cache size. Default: 64.
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"min=0"`

	// IndexCacheSizeMB is the LSM index cache size. Default: 32.
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" validate:"min=0"`

	// InMemory keeps the database in memory. Used by tests.
	InMemory bool `mapstructure:"in_memory"`
}

// inoLease is how many inode numbers the sequence reserves per disk write.
const inoLease = 128

// Store implements metadata.Store with BadgerDB. Rename runs in a single
// transaction, so a subtree never appears half moved.
type Store struct {
	db     *badger.DB
	ino    *badger.Sequence
	closed atomic.Bool
}

var _ metadata.Store = (*Store)(nil)

// New opens the database described by config.
func New(ctx context.Context, config Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}

	seq, err := db.GetSequence([]byte(keyInoSeq), inoLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open inode sequence: %w", err)
	}

	return &Store{db: db, ino: seq}, nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return metadata.ErrClosed
	}
	return nil
}

func getEntry(txn *badger.Txn, p string) (*metadata.Entry, error) {
	item, err := txn.Get(entryKey(p))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var e metadata.Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", p, err)
	}
	return &e, nil
}

func putEntry(txn *badger.Txn, e *metadata.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.Path, err)
	}
	if err := txn.Set(entryKey(e.Path), data); err != nil {
		return err
	}

	parent, name := metadata.Split(e.Path)
	if parent == "" {
		return nil
	}
	return txn.Set(childKey(parent, name), nil)
}

func deleteEntry(txn *badger.Txn, p string) error {
	if err := txn.Delete(entryKey(p)); err != nil {
		return err
	}
	parent, name := metadata.Split(p)
	if parent == "" {
		return nil
	}
	return txn.Delete(childKey(parent, name))
}

func (s *Store) Get(ctx context.Context, p string) (*metadata.Entry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var e *metadata.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getEntry(txn, p)
		return err
	})
	return e, err
}

func (s *Store) Put(ctx context.Context, e *metadata.Entry) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return putEntry(txn, e)
	})
}

func (s *Store) Delete(ctx context.Context, p string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(p)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.ErrNotFound
			}
			return err
		}
		return deleteEntry(txn, p)
	})
}

func (s *Store) Children(ctx context.Context, dir string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(dir)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return metadata.ErrNotFound
			}
			return err
		}

		prefix := childPrefix(dir)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if _, name, ok := parseChildKey(it.Item().Key()); ok {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(names)
	return names, nil
}

// Rename walks the entry prefix of oldPath. Keys sharing the textual prefix
// but not the path (e.g. "/a" and "/ab") are skipped by metadata.Within.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, oldPath); err != nil {
			return err
		}
		if _, err := getEntry(txn, newPath); err == nil {
			return metadata.ErrExists
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return err
		}

		var moved []*metadata.Entry
		prefix := entryKey(oldPath)

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			p := string(item.Key()[len(prefixEntry):])
			if !metadata.Within(p, oldPath) {
				continue
			}

			var e metadata.Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				it.Close()
				return fmt.Errorf("decode entry %s: %w", p, err)
			}
			moved = append(moved, &e)
		}
		it.Close()

		for _, e := range moved {
			if err := deleteEntry(txn, e.Path); err != nil {
				return err
			}
		}
		for _, e := range moved {
			e.Path = metadata.Rebase(e.Path, oldPath, newPath)
			if err := putEntry(txn, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// NextIno returns numbers above metadata.RootIno.
func (s *Store) NextIno(ctx context.Context) (uint64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n, err := s.ino.Next()
	if err != nil {
		return 0, err
	}
	return n + metadata.RootIno + 1, nil
}

func (s *Store) Statistics(ctx context.Context) (metadata.Statistics, error) {
	var st metadata.Statistics
	if err := s.check(ctx); err != nil {
		return st, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixEntry)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var e metadata.Entry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return err
			}
			st.Entries++
			if e.IsDir() {
				st.Directories++
				continue
			}
			st.Files++
			st.Bytes += uint64(max(e.Size, 0))
		}
		return nil
	})
	return st, err
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := s.ino.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release inode sequence: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close BadgerDB: %w", err))
	}
	return errors.Join(errs...)
}
