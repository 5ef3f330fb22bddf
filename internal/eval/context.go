// Package eval implements the constant-evaluation machinery: the
// scope-local evaluation context, the constant evaluator, and the safety
// gate that decides what native operations may run during folding.
package eval

import (
	"strings"

	"github.com/pslens/pslens/internal/syntax"
)

// Context is the scope-local symbol table for one rewrite pass. Per
// variable name it tracks either a known constant value or a tainted
// (unknown) status; a separate registry tracks discovered function
// definitions. Names are case-insensitive.
//
// A name is never simultaneously constant and tainted: Taint clears any
// stored value, and SetConstant refuses tainted names.
type Context struct {
	values  map[string]any
	tainted map[string]bool

	// touched records names written since this context (or clone) was
	// created, so a branch merge taints exactly what the branch may have
	// changed.
	touched map[string]bool

	// funcs is shared between a context and its clones: function
	// definitions are discoveries, not branch-local state.
	funcs map[string]*syntax.Node
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		values:  make(map[string]any),
		tainted: make(map[string]bool),
		touched: make(map[string]bool),
		funcs:   make(map[string]*syntax.Node),
	}
}

func key(name string) string { return strings.ToLower(name) }

// SetConstant records a known value for name. No-op if name is tainted.
func (c *Context) SetConstant(name string, v any) {
	k := key(name)
	if c.tainted[k] {
		return
	}
	c.values[k] = v
	c.touched[k] = true
}

// Taint marks name as unknown, clearing any stored value.
func (c *Context) Taint(name string) {
	k := key(name)
	delete(c.values, k)
	c.tainted[k] = true
	c.touched[k] = true
}

// Get returns the known constant value for name.
func (c *Context) Get(name string) (any, bool) {
	v, ok := c.values[key(name)]
	return v, ok
}

// IsConstant reports whether name has a known constant value.
func (c *Context) IsConstant(name string) bool {
	_, ok := c.values[key(name)]
	return ok
}

// Clone returns an independent copy for descending into a branch. The
// clone starts with the parent's knowledge, an empty touched set, and the
// shared function registry.
func (c *Context) Clone() *Context {
	clone := &Context{
		values:  make(map[string]any, len(c.values)),
		tainted: make(map[string]bool, len(c.tainted)),
		touched: make(map[string]bool),
		funcs:   c.funcs,
	}
	for k, v := range c.values {
		clone.values[k] = v
	}
	for k := range c.tainted {
		clone.tainted[k] = true
	}
	return clone
}

// NewScope returns an empty variable scope sharing this context's
// function registry. Function bodies evaluate in a new scope rather
// than a clone: parameters shadow everything outside.
func (c *Context) NewScope() *Context {
	return &Context{
		values:  make(map[string]any),
		tainted: make(map[string]bool),
		touched: make(map[string]bool),
		funcs:   c.funcs,
	}
}

// Merge folds a branch clone back in: every name the branch touched,
// constant or tainted, becomes unknown here. The branch may or may not
// have executed, so nothing it wrote can be trusted afterwards.
func (c *Context) Merge(other *Context) {
	for k := range other.touched {
		c.Taint(k)
	}
}

// DefineFunction registers a discovered function definition.
func (c *Context) DefineFunction(name string, def *syntax.Node) {
	c.funcs[key(name)] = def
}

// LookupFunction returns the definition for a function name.
func (c *Context) LookupFunction(name string) (*syntax.Node, bool) {
	def, ok := c.funcs[key(name)]
	return def, ok
}
