package provider

import (
	"sort"
	"sync"
)

// Provider describes how a vendor lays out its archive.
type Provider interface {
	// Name is a unique ID, e.g. "debian" or "ubuntu".
	Name() string

	// IndexFiles lists the Packages index file names to try, most preferred first.
	IndexFiles() []string
}

var (
	mu        sync.RWMutex
	providers = make(map[string]Provider)
)

// Register makes a Provider available under its Name().
func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	providers[p.Name()] = p
}

// Get returns the Provider by name.
func Get(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
