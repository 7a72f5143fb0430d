// Package registry maps process names to process builders.
//
// # Overview
//
// The CLI and the scheduler resolve the processes to run by name instead
// of switching over a fixed list. Built-in georef processes register
// themselves at startup in dependency order; registration order is the
// order in which a full run executes them.
//
// # Adding a Process
//
// To add a new process (e.g., "barrios"):
//
//  1. Declare a georef.Definition, or write a Builder by hand
//  2. Register it in an init() function
//
// Example:
//
//	func init() {
//	    registry.Register("barrios", func(opts georef.Options) *etl.Process {
//	        return Neighborhoods().Process(opts)
//	    })
//	}
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/georef"
)

// ErrUnknownProcess is returned when a requested process is not registered.
var ErrUnknownProcess = errors.New("unknown process")

// Builder creates a process from the build options.
type Builder func(opts georef.Options) *etl.Process

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
	order    []string
)

// Register registers a process builder by name. Registering an already
// registered name replaces the builder but keeps its position.
//
// This function is safe for concurrent use and is typically called from
// init() functions.
func Register(name string, builder Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := builders[name]; !ok {
		order = append(order, name)
	}
	builders[name] = builder
}

// Get returns the registered builder for a process name.
// Returns nil if no builder is registered under that name.
func Get(name string) Builder {
	mu.RLock()
	defer mu.RUnlock()
	return builders[name]
}

// Names returns the registered process names in registration order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// Build builds the named processes in the order given. No names means
// every registered process, in registration order.
func Build(names []string, opts georef.Options) ([]*etl.Process, error) {
	if len(names) == 0 {
		names = Names()
	}
	processes := make([]*etl.Process, 0, len(names))
	for _, name := range names {
		b := Get(name)
		if b == nil {
			return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownProcess, name, Names())
		}
		processes = append(processes, b(opts))
	}
	return processes, nil
}

// Clear removes all registered builders.
// This is intended for testing purposes only.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	builders = make(map[string]Builder)
	order = nil
}
