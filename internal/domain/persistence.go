package domain

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrPersistenceClosed is returned by a PersistenceSession used outside
// Open and Close.
var ErrPersistenceClosed = errors.New("persistence session is not open")

// Object is a persisted domain object.
type Object struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Fields map[string]string `json:"fields,omitempty"`
}

// PersistenceSessionFactory creates the persistence half of a domain session.
type PersistenceSessionFactory interface {
	CreatePersistenceSession(ctx context.Context) (PersistenceSession, error)
}

// PersistenceSession gives a single domain session access to stored objects.
type PersistenceSession interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Objects(ctx context.Context) ([]Object, error)
	Store(ctx context.Context, obj Object) (Object, error)
}

// InMemoryPersistence keeps objects in a process-local map shared by all of
// its sessions.
type InMemoryPersistence struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewInMemoryPersistence returns an empty object store.
func NewInMemoryPersistence() *InMemoryPersistence {
	return &InMemoryPersistence{objects: make(map[string]Object)}
}

// CreatePersistenceSession returns a new, unopened session.
func (p *InMemoryPersistence) CreatePersistenceSession(context.Context) (PersistenceSession, error) {
	return &memoryPersistenceSession{store: p}, nil
}

// Len returns the number of stored objects.
func (p *InMemoryPersistence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}

type memoryPersistenceSession struct {
	store *InMemoryPersistence

	mu   sync.Mutex
	open bool
}

func (s *memoryPersistenceSession) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *memoryPersistenceSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *memoryPersistenceSession) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Objects returns all stored objects ordered by type then title.
func (s *memoryPersistenceSession) Objects(context.Context) ([]Object, error) {
	if !s.isOpen() {
		return nil, ErrPersistenceClosed
	}

	s.store.mu.RLock()
	out := make([]Object, 0, len(s.store.objects))
	for _, o := range s.store.objects {
		out = append(out, o)
	}
	s.store.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// Store saves obj, assigning an ID if it has none.
func (s *memoryPersistenceSession) Store(_ context.Context, obj Object) (Object, error) {
	if !s.isOpen() {
		return Object{}, ErrPersistenceClosed
	}
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}

	s.store.mu.Lock()
	s.store.objects[obj.ID] = obj
	s.store.mu.Unlock()

	return obj, nil
}
