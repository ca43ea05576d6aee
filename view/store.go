package view

import (
	"fmt"
	"sort"

	"github.com/lineage/lineage/storage"
)

// Options configures a session obtained from Store.Get. The teacher's
// constructor-options style (spec §6, "Constructor options") is mirrored
// here at the per-view granularity.
type Options struct {
	ValueEncoding string // informational; views store opaque bytes regardless
}

// Store creates and tracks named views, each backed by its own namespaced
// log within the same underlying storage.Store (spec §4.4, "view/<name>"
// addressing from spec §6).
type Store struct {
	base *storage.Store
	sink AppendSink

	views   map[string]*View
	pending []string // names created this tick, not yet "ready"
}

// NewStore creates a ViewStore over base. sink receives every user append
// issued against any view it creates.
func NewStore(base *storage.Store, sink AppendSink) *Store {
	return &Store{
		base: base,
		sink: sink,
		views: make(map[string]*View),
	}
}

// Get returns the session for the named view, creating it lazily. Newly
// created views are marked not-yet-ready until ReadyPending runs at the
// end of the current advance tick (spec §4.4).
func (s *Store) Get(name string, _ Options) (*View, error) {
	if v, ok := s.views[name]; ok {
		return v, nil
	}
	log, err := storage.OpenLog(s.base, "view/"+name)
	if err != nil {
		return nil, fmt.Errorf("view store: open %s: %w", name, err)
	}
	v := &View{name: name, log: log, sink: s.sink}
	s.views[name] = v
	s.pending = append(s.pending, name)
	return v, nil
}

// ReadyPending marks every view created since the last call as ready,
// matching spec §4.4's "pending newly-created cores are ready-ed at the
// end of each advance tick".
func (s *Store) ReadyPending() {
	for _, name := range s.pending {
		if v, ok := s.views[name]; ok {
			v.ready = true
		}
	}
	s.pending = s.pending[:0]
}

// Names returns every view name currently tracked, sorted for determinism.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.views))
	for name := range s.views {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// View returns the named view if it has already been created, without
// creating it.
func (s *Store) View(name string) (*View, bool) {
	v, ok := s.views[name]
	return v, ok
}
