package eval

import (
	"strings"

	"github.com/pslens/pslens/internal/syntax"
)

// Gate is the safety boundary of the evaluator. It decides which native
// type namespaces may be constructed or invoked during folding, and
// whether a user-defined function body is safe to inline-evaluate.
//
// The allowlist covers side-effect-free computation only: string
// manipulation, encoding and base64, numeric and math helpers,
// cryptographic hashing, in-memory stream and compression primitives,
// and basic array utilities. Everything else - file systems, network,
// process creation, reflection - stays out, no matter how constant the
// arguments look.
type Gate struct {
	prefixes []string
}

// defaultPrefixes is the fixed namespace allowlist. Entries are matched
// case-insensitively, exactly or as a dotted parent.
var defaultPrefixes = []string{
	"system.array",
	"system.bitconverter",
	"system.byte",
	"system.char",
	"system.convert",
	"system.double",
	"system.int16",
	"system.int32",
	"system.int64",
	"system.io.compression",
	"system.io.memorystream",
	"system.io.streamreader",
	"system.math",
	"system.security.cryptography",
	"system.string",
	"system.text",
}

// NewGate returns a gate with the default allowlist plus any extra
// namespace prefixes from configuration.
func NewGate(extra ...string) *Gate {
	g := &Gate{prefixes: append([]string(nil), defaultPrefixes...)}
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			g.prefixes = append(g.prefixes, p)
		}
	}
	return g
}

// CanonicalType normalizes a type spelling as it appears in source
// ([convert], [System.Convert], [char[]]) to a lowercase fully-qualified
// name without array suffix.
func CanonicalType(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, "[]")
	if name == "" {
		return ""
	}
	if !strings.HasPrefix(name, "system.") {
		name = "system." + name
	}
	return name
}

// TypeAllowed reports whether the fully-qualified type name matches an
// allowlisted prefix exactly or as a dotted parent.
func (g *Gate) TypeAllowed(name string) bool {
	canon := CanonicalType(name)
	if canon == "" {
		return false
	}
	for _, p := range g.prefixes {
		if canon == p || strings.HasPrefix(canon, p+".") {
			return true
		}
	}
	return false
}

// IsSafeToInline reports whether a function body consists exclusively of
// constructs the evaluator can execute without side effects: literals,
// variable reads, unary/binary/parenthesized expressions, casts,
// indexing, array literals,
// assignments with pure right sides, return, structurally pure if
// statements, and calls to other known functions that are themselves
// pure. The visiting set guards cycles: a function currently under check
// is never re-entered, so direct or mutual recursion disqualifies
// inlining.
func (g *Gate) IsSafeToInline(ctx *Context, fn *syntax.Node, visiting map[string]bool) bool {
	if fn == nil || fn.Body == nil {
		return false
	}
	name := strings.ToLower(fn.Name)
	if visiting[name] {
		return false
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, param := range fn.Elems {
		if param.Child != nil && !g.pureExpr(ctx, param.Child, visiting) {
			return false
		}
	}
	return g.pureBlock(ctx, fn.Body, visiting)
}

// SideEffectFree reports whether evaluating the expression has no
// observable effect beyond producing its value. Dead-code elimination
// uses it to decide whether an unread assignment may be dropped.
func (g *Gate) SideEffectFree(ctx *Context, n *syntax.Node) bool {
	return g.pureExpr(ctx, n, map[string]bool{})
}

func (g *Gate) pureBlock(ctx *Context, block *syntax.Node, visiting map[string]bool) bool {
	if block == nil {
		return true
	}
	for _, stmt := range block.Elems {
		if !g.pureStmt(ctx, stmt, visiting) {
			return false
		}
	}
	return true
}

func (g *Gate) pureStmt(ctx *Context, n *syntax.Node, visiting map[string]bool) bool {
	switch n.Kind {
	case syntax.KindAssignment:
		return n.Target.Kind == syntax.KindVariable && g.pureExpr(ctx, n.Child, visiting)
	case syntax.KindReturn:
		return n.Child == nil || g.pureExpr(ctx, n.Child, visiting)
	case syntax.KindIf:
		if !g.pureExpr(ctx, n.Cond, visiting) || !g.pureBlock(ctx, n.Body, visiting) {
			return false
		}
		for _, clause := range n.Elems {
			if !g.pureExpr(ctx, clause.Cond, visiting) || !g.pureBlock(ctx, clause.Body, visiting) {
				return false
			}
		}
		return g.pureBlock(ctx, n.Alt, visiting)
	case syntax.KindCommand:
		// Only calls to known, already-defined functions whose bodies are
		// themselves pure qualify.
		if n.Name == "" {
			return false
		}
		callee, ok := ctx.LookupFunction(n.Name)
		if !ok {
			return false
		}
		for _, elem := range n.Elems[1:] {
			switch elem.Kind {
			case syntax.KindCmdParam, syntax.KindRedirect:
				return false
			}
			if !g.pureExpr(ctx, elem, visiting) {
				return false
			}
		}
		return g.IsSafeToInline(ctx, callee, visiting)
	}
	return g.pureExpr(ctx, n, visiting)
}

func (g *Gate) pureExpr(ctx *Context, n *syntax.Node, visiting map[string]bool) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case syntax.KindStringLit, syntax.KindNumberLit, syntax.KindBoolLit,
		syntax.KindNullLit, syntax.KindVariable:
		return true
	case syntax.KindParen:
		return g.pureExpr(ctx, n.Child, visiting)
	case syntax.KindUnaryExpr:
		return g.pureExpr(ctx, n.Child, visiting)
	case syntax.KindBinaryExpr:
		return g.pureExpr(ctx, n.Left, visiting) && g.pureExpr(ctx, n.Right, visiting)
	case syntax.KindArrayLit:
		for _, e := range n.Elems {
			if !g.pureExpr(ctx, e, visiting) {
				return false
			}
		}
		return true
	case syntax.KindCast:
		// Casts go through the closed conversion table, which has no
		// side effects.
		return g.pureExpr(ctx, n.Child, visiting)
	case syntax.KindCommand:
		return g.pureStmt(ctx, n, visiting)
	case syntax.KindPipeline:
		if len(n.Elems) != 1 {
			return false
		}
		return g.pureExpr(ctx, n.Elems[0], visiting)
	case syntax.KindCmdExpr:
		return g.pureExpr(ctx, n.Child, visiting)
	}
	// Member access, member invocation, indexing and anything
	// unrecognized make the body impure.
	return false
}
