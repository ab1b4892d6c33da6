// Package hooks runs middleware around write commands.
//
// A Registry owns one Chain per table. Hooks run in registration order: every
// Before runs ahead of the SQL write and may rewrite the compiled rows, every
// After runs once the result is produced. Any error fails the whole command.
package hooks

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dataserve/dataserve-sub000/query"
	"github.com/dataserve/dataserve-sub000/schema"
)

// ExistsFunc returns the primary keys of the rows whose field equals value.
type ExistsFunc func(ctx context.Context, field string, value any) ([]any, error)

// Call is a write command in flight.
type Call struct {
	DB     string
	Table  string
	Schema *schema.Schema
	Query  *query.Query
	// Exists looks up stored rows; it is nil when the caller cannot provide it.
	Exists ExistsFunc
}

// Outcome is the result handed to After hooks.
type Outcome struct {
	Value any
	Err   error
}

// Hook is a write middleware.
type Hook interface {
	Before(ctx context.Context, call *Call) error
	After(ctx context.Context, call *Call, out Outcome) error
}

// Funcs adapts plain functions to Hook; nil members are skipped.
type Funcs struct {
	BeforeFunc func(ctx context.Context, call *Call) error
	AfterFunc  func(ctx context.Context, call *Call, out Outcome) error
}

func (f Funcs) Before(ctx context.Context, call *Call) error {
	if f.BeforeFunc == nil {
		return nil
	}
	return f.BeforeFunc(ctx, call)
}

func (f Funcs) After(ctx context.Context, call *Call, out Outcome) error {
	if f.AfterFunc == nil {
		return nil
	}
	return f.AfterFunc(ctx, call, out)
}

// Chain is an ordered list of hooks.
type Chain struct {
	hooks []Hook
}

// Len returns the number of hooks.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.hooks)
}

// Before runs every Before hook and stops at the first error.
func (c *Chain) Before(ctx context.Context, call *Call) error {
	if c == nil {
		return nil
	}
	for _, h := range c.hooks {
		if err := h.Before(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

// After runs every After hook and stops at the first error.
func (c *Chain) After(ctx context.Context, call *Call, out Outcome) error {
	if c == nil {
		return nil
	}
	for _, h := range c.hooks {
		if err := h.After(ctx, call, out); err != nil {
			return err
		}
	}
	return nil
}

// Registry maps table names to chains.
type Registry struct {
	chains *xsync.MapOf[string, *Chain]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: xsync.NewMapOf[string, *Chain]()}
}

// Use appends hooks to the chain of table.
func (r *Registry) Use(table string, hooks ...Hook) {
	r.chains.Compute(table, func(old *Chain, loaded bool) (*Chain, bool) {
		next := &Chain{}
		if loaded {
			next.hooks = append(next.hooks, old.hooks...)
		}
		next.hooks = append(next.hooks, hooks...)
		return next, false
	})
}

// Chain returns the chain of table, or nil when none is registered. A nil
// chain is safe to run.
func (r *Registry) Chain(table string) *Chain {
	if r == nil {
		return nil
	}
	c, _ := r.chains.Load(table)
	return c
}
