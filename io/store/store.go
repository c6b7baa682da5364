// Package store keeps terminal outcomes in BadgerDB.
//
// On startup the last logged state of every role instance is rebuilt from the stable
// log, so an operator can see where a crashed process stopped. This view is for
// operators only: coordinators and participants never read the stable log or the
// recovered states, and a restarted process begins a fresh run.
package store

import (
	stdErrors "errors"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/walrecord"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	outcomePrefix = "outcome/"
	statePrefix   = "state/"
)

// ErrNotFound returned when key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// Store persists outcomes and recovered states in BadgerDB.
type Store struct {
	db *badger.DB
	mu sync.RWMutex
}

// RecoveryState contains information extracted from the stable log during startup.
type RecoveryState struct {
	// Entries is the number of records found in the stable log.
	Entries int
	// States is the last logged state per role instance, keyed by walrecord.Key.
	States map[string]dto.State
}

type outcomeRecord struct {
	Role     string `msgpack:"role"`
	ID       uint64 `msgpack:"id"`
	State    string `msgpack:"state"`
	Decision string `msgpack:"decision,omitempty"`
	Reason   string `msgpack:"reason,omitempty"`
	Crashed  bool   `msgpack:"crashed,omitempty"`
}

// New opens the Badger database at dbPath and replays wal into it. wal may be nil.
func New(wal *gowal.Wal, dbPath string) (*Store, *RecoveryState, error) {
	if dbPath == "" {
		return nil, nil, errors.New("db path is empty")
	}

	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "create badger directory")
	}

	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, nil, errors.Wrap(err, "open badger db")
	}

	s := &Store{db: db}

	recovery := &RecoveryState{States: make(map[string]dto.State)}
	if wal != nil {
		if recovery, err = s.recover(wal); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	return s, recovery, nil
}

// PutOutcome stores the terminal outcome of a role instance, replacing an older one.
func (s *Store) PutOutcome(o dto.Outcome) error {
	value, err := msgpack.Marshal(outcomeRecord{
		Role:     string(o.Role),
		ID:       uint64(o.ID),
		State:    string(o.State),
		Decision: string(o.Decision),
		Reason:   o.Reason,
		Crashed:  o.Crashed,
	})
	if err != nil {
		return errors.Wrap(err, "encode outcome")
	}

	return s.put(outcomePrefix+walrecord.Key(o.Role, o.ID), value)
}

// Outcome returns the stored outcome of role id. Returns ErrNotFound if there is none.
func (s *Store) Outcome(role dto.Role, id dto.ID) (dto.Outcome, error) {
	value, err := s.get(outcomePrefix + walrecord.Key(role, id))
	if err != nil {
		return dto.Outcome{}, err
	}
	return decodeOutcome(value)
}

// Outcomes returns every stored outcome in key order.
func (s *Store) Outcomes() ([]dto.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var outcomes []dto.Outcome
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(outcomePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				o, err := decodeOutcome(val)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, o)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})

	return outcomes, err
}

// LastState returns the last state of role id found in the stable log.
func (s *Store) LastState(role dto.Role, id dto.ID) (dto.State, error) {
	value, err := s.get(statePrefix + walrecord.Key(role, id))
	if err != nil {
		return "", err
	}
	return dto.ParseState(string(value))
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *Store) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if stdErrors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) recover(wal *gowal.Wal) (*RecoveryState, error) {
	state := &RecoveryState{States: make(map[string]dto.State)}

	for msg := range wal.Iterator() {
		state.Entries++
		if msg.Key == "" || !strings.Contains(msg.Key, "-") {
			continue
		}

		rec, err := walrecord.Decode(msg.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "decode stable log entry %d", msg.Idx)
		}
		state.States[walrecord.Key(rec.Role, rec.ID)] = rec.State
	}

	if len(state.States) == 0 {
		return state, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		for key, st := range state.States {
			if err := txn.Set([]byte(statePrefix+key), []byte(st)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply stable log")
	}

	return state, nil
}

func decodeOutcome(value []byte) (dto.Outcome, error) {
	var rec outcomeRecord
	if err := msgpack.Unmarshal(value, &rec); err != nil {
		return dto.Outcome{}, errors.Wrap(err, "decode outcome")
	}

	return dto.Outcome{
		Role:     dto.Role(rec.Role),
		ID:       dto.ID(rec.ID),
		State:    dto.State(rec.State),
		Decision: dto.Decision(rec.Decision),
		Reason:   rec.Reason,
		Crashed:  rec.Crashed,
	}, nil
}
