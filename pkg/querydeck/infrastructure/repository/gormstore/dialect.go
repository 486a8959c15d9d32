package gormstore

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a data source name.
type DialectorFactory func(dsn string) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given store type.
func RegisterDialector(storeType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[storeType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", storeType)
	}
	dialectorRegistry[storeType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory registered for storeType.
func GetDialectorFactory(storeType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[storeType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for store type: %s", storeType)
	}
	return factory, nil
}
