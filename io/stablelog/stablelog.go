// Package stablelog persists every state transition of a role to a gowal write-ahead log.
//
// The log is write-only: recovery from it is not part of the protocol.
package stablelog

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/walrecord"
)

// Log appends state transitions to a WAL.
type Log struct {
	mu   sync.Mutex
	wal  *gowal.Wal
	next uint64
	now  func() time.Time
}

// WALConfig returns the WAL settings of a stable log in dir. Every append is synced.
func WALConfig(dir, prefix string) gowal.Config {
	return gowal.Config{
		Dir:              dir,
		Prefix:           prefix,
		SegmentThreshold: 1000,
		MaxSegments:      100,
		IsInSyncDiskMode: true,
	}
}

// Open opens (or creates) the WAL in dir.
func Open(dir, prefix string) (*Log, error) {
	wal, err := gowal.NewWAL(WALConfig(dir, prefix))
	if err != nil {
		return nil, errors.Wrap(err, "open stable log")
	}

	return New(wal), nil
}

// New wraps an already opened WAL. Appends continue after the highest existing index.
func New(wal *gowal.Wal) *Log {
	var (
		next       uint64
		hasEntries bool
	)
	for msg := range wal.Iterator() {
		hasEntries = true
		if msg.Idx >= next {
			next = msg.Idx
		}
	}
	if hasEntries {
		next++
	}

	return &Log{wal: wal, next: next, now: time.Now}
}

// Append writes one record for the transition of role id into state.
func (l *Log) Append(role dto.Role, id dto.ID, state dto.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := walrecord.Record{Role: role, ID: id, State: state, At: l.now()}
	if err := l.wal.Write(l.next, walrecord.Key(role, id), walrecord.Encode(rec)); err != nil {
		return errors.Wrapf(err, "append %s to stable log", state)
	}
	l.next++

	return nil
}

// Close closes the underlying WAL.
func (l *Log) Close() error {
	return l.wal.Close()
}

// Discard is a StableLog that drops every record.
type Discard struct{}

func (Discard) Append(dto.Role, dto.ID, dto.State) error { return nil }

// Memory keeps records in memory. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []walrecord.Record
}

func (m *Memory) Append(role dto.Role, id dto.ID, state dto.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, walrecord.Record{Role: role, ID: id, State: state, At: time.Now()})
	return nil
}

// States returns the states recorded for role id, in append order.
func (m *Memory) States(role dto.Role, id dto.ID) []dto.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	var states []dto.State
	for _, r := range m.records {
		if r.Role == role && r.ID == id {
			states = append(states, r.State)
		}
	}
	return states
}
