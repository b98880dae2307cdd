package peers

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync/atomic"
)

// ErrInvalidAddress is returned when an entry has no usable virtual IP.
var ErrInvalidAddress = errors.New("invalid virtual IP")

// DuplicateError indicates two entries in one snapshot share a virtual IP.
type DuplicateError struct {
	IP       netip.Addr
	Existing string
	New      string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate virtual IP %s: existing peer %q, new peer %q",
		e.IP, e.Existing, e.New)
}

// IsDuplicate checks if an error is a duplicate address error.
func IsDuplicate(err error) bool {
	var dup *DuplicateError
	return errors.As(err, &dup)
}

type snapshot struct {
	entries    []Entry
	index      map[netip.Addr]int
	generation uint64
}

// Table is the peer route table. Each refresh replaces the whole snapshot;
// readers always see a complete one and never block. The zero value is an
// empty table ready to use.
type Table struct {
	current atomic.Pointer[snapshot]
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Replace installs entries as the new snapshot, ordered by virtual IP. If any
// entry is invalid or duplicated the table is left unchanged.
func (t *Table) Replace(entries []Entry) error {
	next := &snapshot{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[netip.Addr]int, len(entries)),
	}
	names := make(map[netip.Addr]string, len(entries))

	for _, e := range entries {
		if !e.VirtualIP.IsValid() {
			return fmt.Errorf("peer %q: %w", e.Name, ErrInvalidAddress)
		}
		if existing, ok := names[e.VirtualIP]; ok {
			return &DuplicateError{IP: e.VirtualIP, Existing: existing, New: e.Name}
		}
		names[e.VirtualIP] = e.Name
		next.entries = append(next.entries, e.Clone())
	}

	slices.SortFunc(next.entries, func(a, b Entry) int {
		return a.VirtualIP.Compare(b.VirtualIP)
	})
	for i, e := range next.entries {
		next.index[e.VirtualIP] = i
	}

	// Generations only move forward even if two refreshes race.
	for {
		prev := t.current.Load()
		next.generation = 1
		if prev != nil {
			next.generation = prev.generation + 1
		}
		if t.current.CompareAndSwap(prev, next) {
			break
		}
	}

	log.WithField("peers", len(next.entries)).WithField("generation", next.generation).Debug("peer table replaced")
	return nil
}

// List returns a copy of the current snapshot ordered by virtual IP. It
// returns an empty, non-nil slice before the first refresh.
func (t *Table) List() []Entry {
	s := t.current.Load()
	if s == nil {
		return []Entry{}
	}
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns the entry for ip.
func (t *Table) Get(ip netip.Addr) (Entry, bool) {
	s := t.current.Load()
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.index[ip]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i].Clone(), true
}

// Len returns the number of peers in the current snapshot.
func (t *Table) Len() int {
	s := t.current.Load()
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Counts returns the number of peers per status.
func (t *Table) Counts() map[Status]int {
	counts := map[Status]int{Unreachable: 0, Relayed: 0, Direct: 0}
	s := t.current.Load()
	if s == nil {
		return counts
	}
	for _, e := range s.entries {
		counts[e.Status]++
	}
	return counts
}

// Generation returns how many snapshots have been installed.
func (t *Table) Generation() uint64 {
	s := t.current.Load()
	if s == nil {
		return 0
	}
	return s.generation
}
