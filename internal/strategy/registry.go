package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/autofix/internal/issue"
	"go.uber.org/zap"
)

// ErrInvalidType is returned when registering for an unknown issue type.
var ErrInvalidType = errors.New("invalid issue type")

// Registry collects factories per issue type in registration order.
type Registry struct {
	mu        sync.RWMutex
	factories map[issue.Type][]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[issue.Type][]Factory)}
}

// DefaultRegistry returns a registry with the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(issue.TypeFormatting, NewGofmt)
	_ = r.Register(issue.TypeFormatting, NewWhitespace)
	return r
}

// Register appends f to the candidates for t. Candidates are tried in
// registration order.
func (r *Registry) Register(t issue.Type, f Factory) error {
	if !t.Valid() {
		return fmt.Errorf("register %q: %w", t, ErrInvalidType)
	}
	if f == nil {
		return fmt.Errorf("register %q: nil factory", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = append(r.factories[t], f)
	return nil
}

// Types returns the issue types with at least one factory, sorted.
func (r *Registry) Types() []issue.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]issue.Type, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Resolve runs every factory once and returns the resulting Set.
// A factory error aborts resolution.
func (r *Registry) Resolve(deps Deps) (*Set, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	byType := make(map[issue.Type][]Strategy, len(r.factories))
	for t, factories := range r.factories {
		for i, f := range factories {
			s, err := f(deps)
			if err != nil {
				return nil, fmt.Errorf("resolve strategy %d for %s: %w", i, t, err)
			}
			byType[t] = append(byType[t], s)
		}
	}
	return &Set{byType: byType}, nil
}

// Set is an immutable mapping from issue type to candidate strategies.
type Set struct {
	byType map[issue.Type][]Strategy
}

// NewSet builds a Set directly from strategies.
func NewSet(byType map[issue.Type][]Strategy) *Set {
	cp := make(map[issue.Type][]Strategy, len(byType))
	for t, s := range byType {
		cp[t] = append([]Strategy(nil), s...)
	}
	return &Set{byType: cp}
}

// Candidates returns the strategies for t in priority order.
func (s *Set) Candidates(t issue.Type) []Strategy {
	if s == nil {
		return nil
	}
	return append([]Strategy(nil), s.byType[t]...)
}

// Supports reports whether at least one strategy handles t.
func (s *Set) Supports(t issue.Type) bool {
	return s != nil && len(s.byType[t]) > 0
}

var _ Source = (*Set)(nil)
