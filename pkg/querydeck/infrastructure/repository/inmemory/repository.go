// Package inmemory provides an in-memory implementation of repository.Store.
// It keeps every collection in maps guarded by one RWMutex, suitable for tests
// and local runs where persistence is not required. Values are copied on the way
// in and out so callers never share state with the store.
package inmemory

import (
	"sync"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

type ownerConn struct {
	owner, conn string
}

type diffKey struct {
	from, to string
}

// Store is the in-memory repository.Store.
type Store struct {
	mu            sync.RWMutex
	schedules     map[string]*model.ScheduleDefinition
	executions    map[string]*model.ExecutionRecord
	connections   map[string]*model.ConnectionConfig
	current       map[ownerConn]string
	versions      map[string]*model.SnapshotVersion
	history       map[ownerConn][]string
	diffs         map[diffKey]*model.DiffRecord
	preferences   map[string]*model.NotificationPreferences
	notifications map[string]*model.Notification
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		schedules:     make(map[string]*model.ScheduleDefinition),
		executions:    make(map[string]*model.ExecutionRecord),
		connections:   make(map[string]*model.ConnectionConfig),
		current:       make(map[ownerConn]string),
		versions:      make(map[string]*model.SnapshotVersion),
		history:       make(map[ownerConn][]string),
		diffs:         make(map[diffKey]*model.DiffRecord),
		preferences:   make(map[string]*model.NotificationPreferences),
		notifications: make(map[string]*model.Notification),
	}
}

// Close releases nothing; the store holds no external resources.
func (s *Store) Close() error {
	return nil
}

var _ repository.Store = (*Store)(nil)
