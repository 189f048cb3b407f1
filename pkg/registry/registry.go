// Package registry provides the process-wide mapping from string type
// identifiers to element factories and configuration schemas. Registration
// happens from package init functions at program start; once the suite
// begins running the registry is read-only.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Category groups registrations by the kind of element they build.
type Category string

// Registration categories.
const (
	Deployment      Category = "deployment"
	Execution       Category = "execution"
	Monitoring      Category = "monitoring"
	Configuration   Category = "configuration"
	HookStrategy    Category = "hook"
	StepAction      Category = "step_action"
	ReportFormatter Category = "report_formatter"
	ReportWriter    Category = "report_writer"
)

// Registration binds a type name to its config schema and element factory.
type Registration struct {
	// NewConfig returns a pointer to a zero value of the element's
	// configuration struct, ready for YAML decoding and validation.
	NewConfig func() any

	// Build constructs the element from its decoded configuration.
	Build func(cfg any) (any, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[Category]map[string]Registration)
)

// Register adds a registration under (category, typeName). Registering the
// same pair twice is a programming error and panics.
func Register(cat Category, typeName string, reg Registration) {
	mu.Lock()
	defer mu.Unlock()
	if registry[cat] == nil {
		registry[cat] = make(map[string]Registration)
	}
	if _, exists := registry[cat][typeName]; exists {
		panic(fmt.Sprintf("registry: %s/%s already registered", cat, typeName))
	}
	registry[cat][typeName] = reg
}

// Lookup returns the registration for (category, typeName).
func Lookup(cat Category, typeName string) (Registration, bool) {
	mu.RLock()
	defer mu.RUnlock()
	reg, ok := registry[cat][typeName]
	return reg, ok
}

// Types returns the sorted type names registered under a category.
func Types(cat Category) []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry[cat]))
	for name := range registry[cat] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
