package org

import (
	"context"
	"fmt"
	"sync"
)

// Directory is the read-only source of departments and users. Storage packages
// implement it; the resolver never writes through it.
type Directory interface {
	Departments(ctx context.Context) ([]Department, error)
	Users(ctx context.Context) ([]User, error)
}

// Load reads the directory and builds a Resolver. Integrity faults in the stored
// hierarchy abort the load.
func Load(ctx context.Context, dir Directory, cfg Config) (*Resolver, error) {
	depts, err := dir.Departments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	users, err := dir.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return Build(depts, users, cfg)
}

// =============================================================================
// CACHE - Read-mostly snapshot
// =============================================================================

// Cache holds the current Resolver and rebuilds it lazily after Invalidate.
// Reference data changes rarely; callers that mutate departments, users or roles
// call Invalidate afterwards.
type Cache struct {
	dir Directory

	mu      sync.RWMutex
	cfg     Config
	current *Resolver
}

func NewCache(dir Directory, cfg Config) *Cache {
	return &Cache{dir: dir, cfg: cfg}
}

// Resolver returns the cached snapshot, loading it on first use.
func (c *Cache) Resolver(ctx context.Context) (*Resolver, error) {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current, nil
	}
	r, err := Load(ctx, c.dir, c.cfg)
	if err != nil {
		return nil, err
	}
	c.current = r
	return r, nil
}

// Invalidate drops the snapshot; the next Resolver call reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// Reload rebuilds the snapshot now, optionally with a new configuration. On
// failure the previous snapshot stays in place.
func (c *Cache) Reload(ctx context.Context, cfg *Config) (*Resolver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cfg
	if cfg != nil {
		next = *cfg
	}
	r, err := Load(ctx, c.dir, next)
	if err != nil {
		return nil, err
	}
	c.cfg = next
	c.current = r
	return r, nil
}

// Config returns the configuration the snapshot is built with.
func (c *Cache) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Static wraps a prebuilt Resolver; useful where no reloading is needed.
type Static struct{ R *Resolver }

func (s Static) Resolver(context.Context) (*Resolver, error) { return s.R, nil }
