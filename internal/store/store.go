package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"dreamie/internal/domain"
)

var (
	// ErrUnavailable means the backing log could not be read or written.
	ErrUnavailable = errors.New("request store unavailable")
	// ErrCorrupt means a record other than the last one failed to decode.
	ErrCorrupt = fmt.Errorf("%w: corrupt record log", ErrUnavailable)
	// ErrDuplicateID is returned by Tx.Insert for an id already in the log.
	ErrDuplicateID = errors.New("application id already exists")
)

const maxLineBytes = 1 << 20

// Options configure a Store.
type Options struct {
	TimeLayout string
	Logger     *zerolog.Logger
}

// Store is the durable request log: one JSON object per line, keyed by
// application id, replayed last-write-wins.
//
// Every read and write goes through one mutex, and Update holds it across
// load, mutate and commit so callers get a single critical section per
// logical change. Only one process may write the file.
type Store struct {
	path  string
	codec Codec
	log   zerolog.Logger

	mu sync.Mutex
	// torn is set when the last load found a trailing line without its
	// newline, decodable or not; the next commit rewrites the file instead
	// of appending to it.
	torn bool
}

// Open prepares the log at path, creating the directory and an empty file
// when missing.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: record file path is empty", ErrUnavailable)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.Close()
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Store{
		path:  path,
		codec: Codec{TimeLayout: opts.TimeLayout},
		log:   logger.With().Str("component", "store").Logger(),
	}, nil
}

// Path returns the log file location.
func (s *Store) Path() string { return s.path }

// Codec returns the line codec, which also owns the timestamp layout.
func (s *Store) Codec() Codec { return s.codec }

// LoadAll replays the log into a map keyed by id.
func (s *Store) LoadAll(ctx context.Context) (map[string]domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// ReplaceAll atomically swaps the log for one line per application.
func (s *Store) ReplaceAll(ctx context.Context, apps map[string]domain.Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewrite(apps)
}

// AppendOne adds a new application. It is an Update that only inserts, so
// it is committed as a true append.
func (s *Store) AppendOne(ctx context.Context, app domain.Application) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Insert(app)
	})
}

// Update runs fn against a working copy of the log and commits its changes
// before releasing the lock. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return err
	}
	tx := &Tx{records: records}
	if err := fn(tx); err != nil {
		return err
	}
	switch {
	case tx.rewrite || (s.torn && len(tx.inserted) > 0):
		err = s.rewrite(tx.records)
	case len(tx.inserted) > 0:
		err = s.append(tx.inserted)
	}
	if err != nil {
		return err
	}
	// hooks run under the lock so their side effects keep commit order
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

func (s *Store) load() (map[string]domain.Application, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	out := make(map[string]domain.Application)
	reader := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	s.torn = false
	var pending error
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("%w: line %d exceeds %d bytes", ErrCorrupt, lineNo+1, maxLineBytes)
		}
		if len(bytes.TrimSpace(line)) > 0 {
			lineNo++
			if pending != nil {
				// a bad line followed by more data is corruption, not a torn tail
				return nil, pending
			}
			terminated := line[len(line)-1] == '\n'
			app, err := s.codec.Decode(bytes.TrimSpace(line))
			switch {
			case err == nil:
				out[app.ID] = app
				if !terminated {
					s.torn = true
				}
			case !terminated && readErr == io.EOF:
				s.torn = true
				s.log.Warn().Int("line", lineNo).Err(err).Msg("dropping incomplete trailing record")
			default:
				pending = fmt.Errorf("%w: line %d: %v", ErrCorrupt, lineNo, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, readErr)
		}
	}
	if pending != nil {
		return nil, pending
	}
	return out, nil
}

func (s *Store) encodeAll(apps []domain.Application) ([]byte, error) {
	var buf bytes.Buffer
	for _, app := range apps {
		line, err := s.codec.Encode(app)
		if err != nil {
			return nil, fmt.Errorf("encode application %s: %w", quoteID(app.ID), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (s *Store) rewrite(apps map[string]domain.Application) error {
	data, err := s.encodeAll(sorted(apps))
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrUnavailable, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: swap record file: %v", ErrUnavailable, err)
	}
	success = true
	s.torn = false
	syncDir(dir)
	return nil
}

func (s *Store) append(apps []domain.Application) error {
	data, err := s.encodeAll(apps)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: append: %v", ErrUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync: %v", ErrUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

func sorted(apps map[string]domain.Application) []domain.Application {
	return domain.ByCreation(apps)
}

// Tx is the working copy handed to Update callbacks.
type Tx struct {
	records  map[string]domain.Application
	inserted []domain.Application
	rewrite  bool
	hooks    []func()
}

// Get returns a copy of one application.
func (tx *Tx) Get(id string) (domain.Application, bool) {
	app, ok := tx.records[id]
	return app, ok
}

// Exists reports whether id is taken.
func (tx *Tx) Exists(id string) bool {
	_, ok := tx.records[id]
	return ok
}

// All returns every application in creation order.
func (tx *Tx) All() []domain.Application {
	return sorted(tx.records)
}

// Insert adds an application with a fresh id.
func (tx *Tx) Insert(app domain.Application) error {
	if app.ID == "" {
		return errors.New("application id required")
	}
	if tx.Exists(app.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, app.ID)
	}
	tx.records[app.ID] = app
	tx.inserted = append(tx.inserted, app)
	return nil
}

// Put replaces an existing application; the commit rewrites the whole log.
func (tx *Tx) Put(app domain.Application) error {
	if !tx.Exists(app.ID) {
		return fmt.Errorf("application %s not in store", quoteID(app.ID))
	}
	tx.records[app.ID] = app
	tx.rewrite = true
	return nil
}

// OnCommit registers fn to run after a successful commit, before the store
// lock is released. Hooks are skipped when the callback or the write fails.
func (tx *Tx) OnCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}
