// Package store provides append-only execution journals as JSON-lines files.
//
// Two journals are kept in a designated directory, one pair per UTC day:
// executions-YYYY-MM-DD.jsonl records every per-client order outcome,
// waves-YYYY-MM-DD.jsonl records every dispatched wave. Appends are O_APPEND
// single writes under a mutex, so records from the concurrent executor
// fan-out never interleave mid-line. The journals are the audit trail of
// what the dispatcher did; nothing in the pipeline reads them back at
// runtime.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"horus-core/pkg/types"
)

// Store appends execution and wave records to JSON-lines journals.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	mu         sync.Mutex // serializes all file operations
	executions *os.File
	waves      *os.File
}

// WaveRecord is one dispatched wave as written to the waves journal.
type WaveRecord struct {
	SignalID  string         `json:"signal_id"`
	ParentID  string         `json:"parent_id"`
	Exchange  types.Exchange `json:"exchange"`
	WaveIndex int            `json:"wave_index"`
	WaveCount int            `json:"wave_count"`
	Symbol    types.Symbol   `json:"symbol"`
	TotalUSD  float64        `json:"total_usd"`
	Timestamp float64        `json:"timestamp"`
}

// journalName returns the dated file name for a journal prefix. The date is
// fixed at Open time; a long-running process rolls over on restart.
func journalName(prefix string) string {
	return fmt.Sprintf("%s-%s.jsonl", prefix, time.Now().UTC().Format("2006-01-02"))
}

// Open creates the journal directory and opens both of today's journals for
// append.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	open := func(prefix string) (*os.File, error) {
		return os.OpenFile(filepath.Join(dir, journalName(prefix)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	}
	executions, err := open("executions")
	if err != nil {
		return nil, fmt.Errorf("open executions journal: %w", err)
	}
	waves, err := open("waves")
	if err != nil {
		executions.Close()
		return nil, fmt.Errorf("open waves journal: %w", err)
	}
	return &Store{executions: executions, waves: waves}, nil
}

// Close flushes and closes both journals.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.executions.Close()
	if werr := s.waves.Close(); err == nil {
		err = werr
	}
	return err
}

// RecordExecution appends one per-client order outcome.
func (s *Store) RecordExecution(res types.ExecutionResult) error {
	return s.append(s.executions, res)
}

// RecordWave appends one dispatched wave.
func (s *Store) RecordWave(rec WaveRecord) error {
	return s.append(s.waves, rec)
}

func (s *Store) append(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}
