package ninep

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Exports routes a Tattach aname to the FileSystem serving it. It is safe
// for concurrent use, so exports can be added while the server runs.
type Exports struct {
	m        sync.RWMutex
	exports  map[string]FileSystem
	fallback string
	hasFall  bool
}

func NewExports() *Exports {
	return &Exports{exports: make(map[string]FileSystem)}
}

// SingleExport serves fsys for every aname.
func SingleExport(fsys FileSystem) *Exports {
	e := NewExports()
	e.exports[""] = fsys
	e.fallback = ""
	e.hasFall = true
	return e
}

func normalizeAname(aname string) string {
	return strings.Trim(aname, "/")
}

// Add registers fsys under name. Names are compared without leading or
// trailing slashes.
func (e *Exports) Add(name string, fsys FileSystem) error {
	if fsys == nil {
		return fmt.Errorf("%w: export %q has no file system", ErrInvalid, name)
	}
	name = normalizeAname(name)
	e.m.Lock()
	defer e.m.Unlock()
	if _, ok := e.exports[name]; ok {
		return fmt.Errorf("%w: export %q already defined", ErrInvalid, name)
	}
	e.exports[name] = fsys
	return nil
}

// SetDefault makes name serve anames that match no export, including the
// empty aname.
func (e *Exports) SetDefault(name string) {
	e.m.Lock()
	e.fallback = normalizeAname(name)
	e.hasFall = true
	e.m.Unlock()
}

func (e *Exports) Remove(name string) {
	name = normalizeAname(name)
	e.m.Lock()
	delete(e.exports, name)
	if e.hasFall && e.fallback == name {
		e.hasFall = false
	}
	e.m.Unlock()
}

// Lookup returns the export name and file system for aname, or an error
// wrapping ErrNoSuchExport.
func (e *Exports) Lookup(aname string) (string, FileSystem, error) {
	name := normalizeAname(aname)
	e.m.RLock()
	defer e.m.RUnlock()
	if fsys, ok := e.exports[name]; ok {
		return name, fsys, nil
	}
	if e.hasFall {
		if fsys, ok := e.exports[e.fallback]; ok {
			return e.fallback, fsys, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %q", ErrNoSuchExport, aname)
}

func (e *Exports) Names() []string {
	e.m.RLock()
	names := make([]string, 0, len(e.exports))
	for name := range e.exports {
		names = append(names, name)
	}
	e.m.RUnlock()
	slices.Sort(names)
	return names
}
