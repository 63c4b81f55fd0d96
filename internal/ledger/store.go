// Package ledger keeps the engine's records and books the side effects the
// engine emits. The store is the in-memory source of truth between
// snapshots; persistence tails the journal asynchronously.
package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

var ErrNotFound = fmt.Errorf("record not found")

// RecordKey addresses one derivative slot: a user may hold several records
// per pool, distinguished by index.
type RecordKey struct {
	Owner uuid.UUID
	Pool  string
	Index uint64
}

// Store holds the live records for every pool. All access goes through the
// mutex; the engine itself stays single-writer per pool, but keepers and
// the query service read concurrently.
type Store struct {
	mu sync.RWMutex

	pools     map[string]*state.Pool
	positions map[RecordKey]*state.Position
	futures   map[RecordKey]*state.Future
	options   map[RecordKey]*state.Option

	// Trigger books are keyed by the record they belong to.
	books map[uuid.UUID]*state.TriggerBook

	// Closed-option audit siblings, keyed by the parent grant's ID. They
	// outlive the parent: removing a fully bought-back option keeps its
	// sibling.
	closedOptions map[uuid.UUID]*state.ClosedOption

	byID map[uuid.UUID]RecordKey
}

func NewStore() *Store {
	return &Store{
		pools:         make(map[string]*state.Pool),
		positions:     make(map[RecordKey]*state.Position),
		futures:       make(map[RecordKey]*state.Future),
		options:       make(map[RecordKey]*state.Option),
		books:         make(map[uuid.UUID]*state.TriggerBook),
		closedOptions: make(map[uuid.UUID]*state.ClosedOption),
		byID:          make(map[uuid.UUID]RecordKey),
	}
}

// PutPool registers or replaces a pool.
func (s *Store) PutPool(p *state.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.Name] = p
}

// Pool returns the named pool.
func (s *Store) Pool(name string) (*state.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Pools returns a snapshot slice of all pools.
func (s *Store) Pools() []*state.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out
}

// PutPosition stores a position under its (owner, pool, index) slot.
func (s *Store) PutPosition(p *state.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := RecordKey{Owner: p.Owner, Pool: p.Pool, Index: p.Index}
	s.positions[key] = p
	s.byID[p.ID] = key
}

// Position looks up a position by slot.
func (s *Store) Position(key RecordKey) (*state.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %v: %w", key, ErrNotFound)
	}
	return p, nil
}

// RemovePosition drops a closed position and its trigger book.
func (s *Store) RemovePosition(key RecordKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok {
		delete(s.books, p.ID)
		delete(s.byID, p.ID)
		delete(s.positions, key)
	}
}

// Positions returns a snapshot slice of all live positions, for keeper
// sweeps.
func (s *Store) Positions() []*state.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// OwnerPositions returns the owner's positions across all pools.
func (s *Store) OwnerPositions(owner uuid.UUID) []*state.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*state.Position
	for key, p := range s.positions {
		if key.Owner == owner {
			out = append(out, p)
		}
	}
	return out
}

// PutFuture stores a future under its slot.
func (s *Store) PutFuture(f *state.Future) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := RecordKey{Owner: f.Owner, Pool: f.Pool, Index: f.Index}
	s.futures[key] = f
	s.byID[f.ID] = key
}

// Future looks up a future by slot.
func (s *Store) Future(key RecordKey) (*state.Future, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.futures[key]
	if !ok {
		return nil, fmt.Errorf("future %v: %w", key, ErrNotFound)
	}
	return f, nil
}

// RemoveFuture drops a claimed or cancelled future.
func (s *Store) RemoveFuture(key RecordKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.futures[key]; ok {
		delete(s.byID, f.ID)
		delete(s.futures, key)
	}
}

// Futures returns a snapshot slice of all live futures.
func (s *Store) Futures() []*state.Future {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.Future, 0, len(s.futures))
	for _, f := range s.futures {
		out = append(out, f)
	}
	return out
}

// PutOption stores an option under its slot.
func (s *Store) PutOption(o *state.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := RecordKey{Owner: o.Owner, Pool: o.Pool, Index: o.Index}
	s.options[key] = o
	s.byID[o.ID] = key
}

// Option looks up an option by slot.
func (s *Store) Option(key RecordKey) (*state.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[key]
	if !ok {
		return nil, fmt.Errorf("option %v: %w", key, ErrNotFound)
	}
	return o, nil
}

// RemoveOption drops a settled or bought-back option and its book.
func (s *Store) RemoveOption(key RecordKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.options[key]; ok {
		delete(s.books, o.ID)
		delete(s.byID, o.ID)
		delete(s.options, key)
	}
}

// Options returns a snapshot slice of all live options.
func (s *Store) Options() []*state.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.Option, 0, len(s.options))
	for _, o := range s.options {
		out = append(out, o)
	}
	return out
}

// PutClosedOption stores a grant's audit sibling under the parent's ID.
func (s *Store) PutClosedOption(c *state.ClosedOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedOptions[c.Parent] = c
}

// ClosedOption returns the audit sibling for a parent grant, or nil when it
// has never been partially closed.
func (s *Store) ClosedOption(parent uuid.UUID) *state.ClosedOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closedOptions[parent]
}

// ClosedOptions returns every audit sibling, for snapshotting.
func (s *Store) ClosedOptions() []*state.ClosedOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.ClosedOption, 0, len(s.closedOptions))
	for _, c := range s.closedOptions {
		out = append(out, c)
	}
	return out
}

// PutBook attaches a trigger book to its parent record.
func (s *Store) PutBook(b *state.TriggerBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[b.Position] = b
}

// Book returns the trigger book attached to a record, or nil when none
// exists. Absence is a normal state, not an error.
func (s *Store) Book(record uuid.UUID) *state.TriggerBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[record]
}

// RemoveBook detaches a record's trigger book.
func (s *Store) RemoveBook(record uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, record)
}

// Books returns every trigger book, for snapshotting.
func (s *Store) Books() []*state.TriggerBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*state.TriggerBook, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	return out
}
