package predictlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
)

// ErrStorage is returned when an append could not be written. The store does not retry.
var ErrStorage = errors.New("prediction log write failed")

// ErrUnreadable is returned by Tail when the log exists but cannot be opened, read, or parsed.
var ErrUnreadable = errors.New("prediction log unreadable")

// State is the observable state of the log file.
type State int

const (
	// StateAbsent means no header has been written yet.
	StateAbsent State = iota
	// StatePresent means a header and zero or more records exist.
	StatePresent
)

func (s State) String() string {
	if s == StatePresent {
		return "present"
	}
	return "absent"
}

// Snapshot is the result of Tail: the log state and up to n most recent records
// in append order (newest last).
type Snapshot struct {
	State   State
	Records []models.PredictionRecord
}

// Store is an append-only prediction log with tail-N retrieval.
type Store interface {
	Append(ctx context.Context, rec models.PredictionRecord) error
	Tail(ctx context.Context, n int) (Snapshot, error)
	// ReadRecent returns the last min(n, total) records, or an empty slice when the
	// log is absent or unreadable. It never fails.
	ReadRecent(ctx context.Context, n int) []models.PredictionRecord
}

// FileStore is a Store backed by a CSV file. Every append opens the file in append
// mode, takes an exclusive advisory lock, and writes one complete line in a single
// write; readers take a shared lock, so a partially written line is never observed.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore returns a FileStore for path. The file is created on first Append.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the log file location.
func (s *FileStore) Path() string {
	return s.path
}

// Append writes rec as one line, preceded by the header when the file is new or empty.
func (s *FileStore) Append(ctx context.Context, rec models.PredictionRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	line, err := EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	start := time.Now()
	err = s.appendLine(line)
	observability.ObserveLogAppend(err, time.Since(start))
	return err
}

func (s *FileStore) appendLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
	}
	if err := lockExclusive(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: lock %s: %w", ErrStorage, s.path, err)
	}

	buf, err := s.framed(f, line)
	if err == nil {
		_, err = f.Write(buf)
	}
	if err == nil {
		err = f.Sync()
	}
	_ = unlock(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, s.path, err)
	}
	return nil
}

// framed prefixes line with the header for an empty file, or with a newline when a
// previous writer left the last line unterminated.
func (s *FileStore) framed(f *os.File, line []byte) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return append(EncodeHeader(), line...), nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return nil, err
	}
	if last[0] != '\n' {
		return append([]byte{'\n'}, line...), nil
	}
	return line, nil
}

// Tail returns the state of the log and its last min(n, total) records.
// A missing or empty file is StateAbsent with no error.
func (s *FileStore) Tail(ctx context.Context, n int) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{State: StateAbsent, Records: []models.PredictionRecord{}}, nil
		}
		return Snapshot{}, fmt.Errorf("%w: open %s: %w", ErrUnreadable, s.path, err)
	}
	defer f.Close()
	if err := lockShared(f); err != nil {
		return Snapshot{}, fmt.Errorf("%w: lock %s: %w", ErrUnreadable, s.path, err)
	}
	defer func() { _ = unlock(f) }()

	dec, err := NewDecoder(f)
	if errors.Is(err, io.EOF) {
		return Snapshot{State: StateAbsent, Records: []models.PredictionRecord{}}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	records, err := tail(dec, n)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{State: StatePresent, Records: records}, nil
}

// ReadRecent implements Store. Unreadable logs are reported and counted, then served as empty.
func (s *FileStore) ReadRecent(ctx context.Context, n int) []models.PredictionRecord {
	snap, err := s.Tail(ctx, n)
	if err != nil {
		observability.LogReadFailuresTotal.Inc()
		if s.logger != nil {
			s.logger.Warn("prediction log unreadable, serving empty history", zap.String("path", s.path), zap.Error(err))
		}
		return []models.PredictionRecord{}
	}
	return snap.Records
}

// tail decodes every record and keeps the last n.
func tail(dec *Decoder, n int) ([]models.PredictionRecord, error) {
	records := []models.PredictionRecord{}
	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			continue
		}
		records = append(records, rec)
		if len(records) > n && len(records)-n >= n {
			records = append(records[:0], records[len(records)-n:]...)
		}
	}
	if n > 0 && len(records) > n {
		records = append([]models.PredictionRecord(nil), records[len(records)-n:]...)
	}
	return records, nil
}
