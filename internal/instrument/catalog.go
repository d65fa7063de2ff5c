package instrument

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds an instrument from create-instrument arguments.
type Constructor func(name string, args []any, kwargs map[string]any) (Instrument, error)

// Catalog maps class identifiers to constructors.
//
// Thread Safety: All methods are safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ctors: make(map[string]Constructor)}
}

// Register adds a class. Registering the same identifier twice fails.
func (c *Catalog) Register(classID string, ctor Constructor) error {
	if classID == "" || ctor == nil {
		return fmt.Errorf("%w: empty class id or nil constructor", ErrUnknownClass)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.ctors[classID]; exists {
		return fmt.Errorf("%w: %s", ErrClassExists, classID)
	}
	c.ctors[classID] = ctor
	return nil
}

// Lookup returns the constructor for classID.
func (c *Catalog) Lookup(classID string) (Constructor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctor, ok := c.ctors[classID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, classID)
	}
	return ctor, nil
}

// Classes returns the registered class identifiers in sorted order.
func (c *Catalog) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.ctors))
	for id := range c.ctors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var defaultCatalog = NewCatalog()

// Default returns the process-wide catalog drivers register into.
func Default() *Catalog { return defaultCatalog }

// Register adds a class to the default catalog. It panics on duplicates,
// so a driver package linked twice under one identifier fails at init.
func Register(classID string, ctor Constructor) {
	if err := defaultCatalog.Register(classID, ctor); err != nil {
		panic(err)
	}
}
