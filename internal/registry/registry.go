// Package registry keeps the ordered list of recorded takes and persists
// it through a state store.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/state"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound   = errors.New("recording not found")
	ErrEmptyTitle = errors.New("recording title must not be empty")
)

// Recording is one take known to the registry
type Recording struct {
	ID        uuid.UUID
	Path      string
	CreatedAt time.Time
	Title     string
	Mode      library.Mode
}

// Remover deletes a recording's file
type Remover interface {
	Remove(path string) error
}

// Registry is the in-memory list of takes in insertion order
type Registry struct {
	store   state.Store
	remover Remover
	log     zerolog.Logger

	mu        sync.Mutex
	items     []Recording
	sortOrder library.SortOrder

	saveMu sync.Mutex // orders snapshots written to the store
}

func New(store state.Store, remover Remover, log zerolog.Logger) *Registry {
	return &Registry{
		store:     store,
		remover:   remover,
		log:       log,
		sortOrder: library.Chronological,
	}
}

// Load replaces the list with the persisted one. Entries whose file has
// gone are dropped; every entry gets a fresh ID. A load failure leaves the
// registry empty.
func (r *Registry) Load() {
	st, err := r.store.Load()
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to load saved recordings, starting empty")
		st = state.State{}
	}

	items := make([]Recording, 0, len(st.Recordings))
	dropped := 0
	for _, e := range st.Recordings {
		if _, err := os.Stat(e.Path); err != nil {
			dropped++
			continue
		}
		items = append(items, Recording{
			ID:        uuid.New(),
			Path:      e.Path,
			CreatedAt: e.CreatedAt,
			Title:     e.Title,
			Mode:      library.Mode(e.Mode),
		})
	}

	r.mu.Lock()
	r.items = items
	if st.SortOrder != "" {
		r.sortOrder = library.ParseSortOrder(st.SortOrder)
	}
	r.mu.Unlock()

	r.log.Info().Int("recordings", len(items)).Int("dropped", dropped).Msg("Loaded recordings")
	if dropped > 0 {
		r.save()
	}
}

// Append adds rec to the end of the list, assigning an ID if it has none
func (r *Registry) Append(rec Recording) Recording {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	r.mu.Lock()
	r.items = append(r.items, rec)
	r.mu.Unlock()

	r.log.Info().Str("id", rec.ID.String()).Str("path", rec.Path).Msg("Recording added")
	r.save()
	return rec
}

// Rename changes the title of a recording. Blank titles are rejected and
// the previous title is kept.
func (r *Registry) Rename(id uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.items[i].Title = title
	r.mu.Unlock()

	r.save()
	return nil
}

// Relocate points every recording at oldPath to newPath, after the file
// was moved on disk. It reports whether any entry changed.
func (r *Registry) Relocate(oldPath, newPath string) bool {
	r.mu.Lock()
	changed := false
	for i := range r.items {
		if r.items[i].Path == oldPath {
			r.items[i].Path = newPath
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.save()
	}
	return changed
}

// Delete removes a recording and its file. A file that cannot be removed
// is logged and the entry is removed anyway.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := r.items[i]
	r.items = append(r.items[:i:i], r.items[i+1:]...)
	r.mu.Unlock()

	if r.remover != nil {
		if err := r.remover.Remove(rec.Path); err != nil {
			r.log.Error().Err(err).Str("path", rec.Path).Msg("Failed to remove recording file")
		}
	}

	r.log.Info().Str("id", id.String()).Msg("Recording deleted")
	r.save()
	return nil
}

// List returns a copy of the recordings in insertion order
func (r *Registry) List() []Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recording, len(r.items))
	copy(out, r.items)
	return out
}

// Sorted returns a copy ordered for presentation
func (r *Registry) Sorted(order library.SortOrder) []Recording {
	out := r.List()
	switch order {
	case library.Alphabetical:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}
	return out
}

// Get returns the recording with id
func (r *Registry) Get(id uuid.UUID) (Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.items[i], true
	}
	return Recording{}, false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// SortOrder returns the persisted presentation order
func (r *Registry) SortOrder() library.SortOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortOrder
}

// SetSortOrder records the presentation order
func (r *Registry) SetSortOrder(order library.SortOrder) {
	r.mu.Lock()
	r.sortOrder = order
	r.mu.Unlock()
	r.save()
}

func (r *Registry) indexLocked(id uuid.UUID) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) save() {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	st := state.State{
		Recordings: make([]state.Entry, len(r.items)),
		SortOrder:  string(r.sortOrder),
	}
	for i, rec := range r.items {
		st.Recordings[i] = state.Entry{
			Path:      rec.Path,
			Title:     rec.Title,
			CreatedAt: rec.CreatedAt,
			Mode:      string(rec.Mode),
		}
	}
	r.mu.Unlock()

	if err := r.store.Save(st); err != nil {
		r.log.Error().Err(err).Msg("Failed to save recordings")
	}
}
