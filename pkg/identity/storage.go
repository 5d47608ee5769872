package identity

import (
	"context"
	"sync"
)

// Persisted keys. Bump the suffix when the record format changes.
const (
	TokenKey      = "identity_token_v1"
	DeviceMetaKey = "device_meta_v1"
)

// Change is a storage mutation observed from another context sharing the same origin.
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// Storage is a client-side, origin-scoped key/value store.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	// Watch streams changes made by other contexts until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Change, error)
}

// MemoryOrigin is an in-process origin shared by any number of MemoryStorage handles.
// A write through one handle is broadcast to every other handle's watchers, like
// the browser storage event.
type MemoryOrigin struct {
	mu     sync.Mutex
	data   map[string]string
	nextID int
	subs   map[int]map[chan Change]struct{}
}

func NewMemoryOrigin() *MemoryOrigin {
	return &MemoryOrigin{
		data: make(map[string]string),
		subs: make(map[int]map[chan Change]struct{}),
	}
}

// Context opens a new handle (one per tab or process).
func (o *MemoryOrigin) Context() *MemoryStorage {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	return &MemoryStorage{origin: o, id: o.nextID}
}

// NewMemoryStorage returns a handle on a fresh private origin.
func NewMemoryStorage() *MemoryStorage {
	return NewMemoryOrigin().Context()
}

type MemoryStorage struct {
	origin *MemoryOrigin
	id     int
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.origin.mu.Lock()
	defer s.origin.mu.Unlock()
	v, ok := s.origin.data[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.origin.mu.Lock()
	defer s.origin.mu.Unlock()
	s.origin.data[key] = value
	s.origin.broadcast(s.id, Change{Key: key, Value: value})
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.origin.mu.Lock()
	defer s.origin.mu.Unlock()
	if _, ok := s.origin.data[key]; !ok {
		return nil
	}
	delete(s.origin.data, key)
	s.origin.broadcast(s.id, Change{Key: key, Deleted: true})
	return nil
}

func (s *MemoryStorage) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)

	s.origin.mu.Lock()
	if s.origin.subs[s.id] == nil {
		s.origin.subs[s.id] = make(map[chan Change]struct{})
	}
	s.origin.subs[s.id][ch] = struct{}{}
	s.origin.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.origin.mu.Lock()
		delete(s.origin.subs[s.id], ch)
		close(ch)
		s.origin.mu.Unlock()
	}()
	return ch, nil
}

// broadcast must be called with o.mu held. Slow watchers drop events rather than
// block writers; the manager re-reads storage on the next event anyway.
func (o *MemoryOrigin) broadcast(from int, c Change) {
	for id, set := range o.subs {
		if id == from {
			continue
		}
		for ch := range set {
			select {
			case ch <- c:
			default:
			}
		}
	}
}
