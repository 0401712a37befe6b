/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"reflect"
	"sort"
	"sync"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/registry"
)

// typedRepositories caches the repositories of one type by tenant.
type typedRepositories[T any] struct {
	mu       sync.RWMutex
	byTenant map[string]*Repository[T]
}

func newTypedRepositories[T any]() *typedRepositories[T] {
	return &typedRepositories[T]{byTenant: make(map[string]*Repository[T])}
}

func (tr *typedRepositories[T]) get(tenant string) (*Repository[T], bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	r, ok := tr.byTenant[tenant]
	return r, ok
}

// add stores r unless another goroutine got there first, and returns the
// cached repository.
func (tr *typedRepositories[T]) add(tenant string, r *Repository[T]) *Repository[T] {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if existing, ok := tr.byTenant[tenant]; ok {
		return existing
	}
	tr.byTenant[tenant] = r
	return r
}

func (tr *typedRepositories[T]) remove(tenant string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.byTenant[tenant]; !ok {
		return false
	}
	delete(tr.byTenant, tenant)
	return true
}

func (tr *typedRepositories[T]) tenants() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	keys := make([]string, 0, len(tr.byTenant))
	for k := range tr.byTenant {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// repositories holds a typedRepositories per entity type.
type repositories struct {
	mu     sync.Mutex
	byType map[reflect.Type]any
}

func newRepositories() *repositories {
	return &repositories{byType: make(map[reflect.Type]any)}
}

func typedFor[T any](rs *repositories) *typedRepositories[T] {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	typ := reflect.TypeFor[T]()
	if tr, ok := rs.byType[typ]; ok {
		return tr.(*typedRepositories[T])
	}
	tr := newTypedRepositories[T]()
	rs.byType[typ] = tr
	return tr
}

// For returns the repository of T for tenant. Types mapped to a fixed
// database take an empty tenant. Repositories are cached per type and tenant.
func For[T any](c *Client, tenant string) (*Repository[T], error) {
	tr := typedFor[T](c.repos)
	if r, ok := tr.get(tenant); ok {
		return r, nil
	}

	loc, err := registry.Resolve[T](c.registry, tenant)
	if err != nil {
		return nil, err
	}
	return tr.add(tenant, &Repository[T]{client: c, loc: loc}), nil
}

// MustFor is For for declarations known to be valid; it panics on error.
func MustFor[T any](c *Client, tenant string) *Repository[T] {
	r, err := For[T](c, tenant)
	if err != nil {
		panic(err)
	}
	return r
}

// ListRepositories returns the tenants with a cached repository of T, sorted.
func ListRepositories[T any](c *Client) []string {
	return typedFor[T](c.repos).tenants()
}

// Forget drops the cached repository of T for tenant.
func Forget[T any](c *Client, tenant string) error {
	if !typedFor[T](c.repos).remove(tenant) {
		return errors.NewNotFoundError("repository "+reflect.TypeFor[T]().String(), tenant)
	}
	return nil
}
