package transfer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Registry tracks in-flight transfers by id. It is owned by a Manager and
// shared with that manager's Sender and Receiver.
type Registry struct {
	transfers    map[string]*Transfer
	timeProvider TimeProvider
	mu           sync.RWMutex
}

func NewRegistry(tp TimeProvider) *Registry {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	return &Registry{
		transfers:    make(map[string]*Transfer),
		timeProvider: tp,
	}
}

// Create registers a new transfer. Incoming transfers start with no filled slots.
func (r *Registry) Create(id string, meta Metadata, dir Direction) (*Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transfers[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	t := newTransfer(id, meta, dir, r.timeProvider)
	r.transfers[id] = t
	return t, nil
}

func (r *Registry) Get(id string) (*Transfer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transfers[id]
	return t, ok
}

// Remove deletes id. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transfers, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transfers)
}

// List returns every registered transfer, oldest first.
func (r *Registry) List() []*Transfer {
	r.mu.RLock()
	list := lo.Values(r.transfers)
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].startedAt.Equal(list[j].startedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].startedAt.Before(list[j].startedAt)
	})
	return list
}

// Clear empties the registry and returns what it held.
func (r *Registry) Clear() []*Transfer {
	r.mu.Lock()
	list := lo.Values(r.transfers)
	r.transfers = make(map[string]*Transfer)
	r.mu.Unlock()
	return list
}

// Stalled returns the active, unpaused transfers idle for at least timeout.
func (r *Registry) Stalled(timeout time.Duration) []*Transfer {
	return lo.Filter(r.List(), func(t *Transfer, _ int) bool {
		return t.stalled(timeout)
	})
}
