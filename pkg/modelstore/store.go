// Package modelstore keeps named models in an embedded badger database, each stored
// as an LZ4-framed binary model.
package modelstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Sumatoshi-tech/parstat/pkg/compress"
	"github.com/Sumatoshi-tech/parstat/pkg/model"
)

const (
	keyPrefix = "model/"
	dirMode   = 0o750
)

var (
	// ErrNotFound is returned when no model is stored under a name.
	ErrNotFound = errors.New("model not found")
	// ErrNoPath is returned when a persistent store is opened without a directory.
	ErrNoPath = errors.New("path is required for a persistent model store")
	// ErrBadName is returned for empty model names.
	ErrBadName = errors.New("model name must not be empty")
)

// Config holds the options of a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM, for tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's own messages. Nil silences them.
	Logger *slog.Logger
}

// Store is a named model store. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Open opens or creates the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrNoPath
	}

	var opts badger.Options

	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		err := os.MkdirAll(cfg.Path, dirMode)
		if err != nil {
			return nil, fmt.Errorf("create model store directory %s: %w", cfg.Path, err)
		}

		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(name string) ([]byte, error) {
	if name == "" {
		return nil, ErrBadName
	}

	return []byte(keyPrefix + name), nil
}

// Put stores m under name, replacing any previous model.
func (s *Store) Put(name string, m *model.Model) error {
	k, err := key(name)
	if err != nil {
		return err
	}

	raw, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode model %q: %w", name, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, compress.Block(raw))
	})
	if err != nil {
		return fmt.Errorf("store model %q: %w", name, err)
	}

	return nil
}

// Get returns the model stored under name.
func (s *Store) Get(name string) (*model.Model, error) {
	k, err := key(name)
	if err != nil {
		return nil, err
	}

	var frame []byte

	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(k)
		if getErr != nil {
			return getErr
		}

		frame, getErr = item.ValueCopy(nil)

		return getErr
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("read model %q: %w", name, err)
	}

	raw, err := compress.Unblock(frame)
	if err != nil {
		return nil, fmt.Errorf("read model %q: %w", name, err)
	}

	m := &model.Model{}

	err = m.UnmarshalBinary(raw)
	if err != nil {
		return nil, fmt.Errorf("read model %q: %w", name, err)
	}

	return m, nil
}

// Delete removes the model stored under name. Deleting a missing model is not an error.
func (s *Store) Delete(name string) error {
	k, err := key(name)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
	if err != nil {
		return fmt.Errorf("delete model %q: %w", name, err)
	}

	return nil
}

// Names returns the stored model names in lexical order.
func (s *Store) Names() ([]string, error) {
	var names []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	return names, nil
}
