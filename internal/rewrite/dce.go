package rewrite

import (
	"strings"

	"github.com/pslens/pslens/internal/eval"
	"github.com/pslens/pslens/internal/syntax"
)

// Eliminate drops code the program can no longer observe: assignments
// to variables that are never read, function definitions that are never
// invoked, and control statements whose every block has emptied out.
//
// The analysis is global and conservative. String interpolation,
// unrecoverable statements and dynamic invocation hide reads the tree
// cannot show, so their presence disables the corresponding removals.
func Eliminate(program *syntax.Node, gate *eval.Gate) {
	a := analyze(program)
	ctx := eval.NewContext()
	syntax.Walk(program, func(n *syntax.Node) {
		if n.Kind == syntax.KindFunction {
			ctx.DefineFunction(n.Name, n)
		}
	})
	sweep(program, a, ctx, gate)
}

type analysis struct {
	reads map[string]bool
	calls map[string]bool

	// varsOpaque is set when some construct may read variables the tree
	// does not name; callsOpaque, when functions may be invoked by name
	// at runtime.
	varsOpaque  bool
	callsOpaque bool
}

func analyze(program *syntax.Node) *analysis {
	a := &analysis{reads: map[string]bool{}, calls: map[string]bool{}}
	a.scan(program)
	return a
}

func (a *analysis) scan(n *syntax.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case syntax.KindVariable:
		a.reads[strings.ToLower(n.Name)] = true
		return

	case syntax.KindStringLit:
		if s, ok := n.Value.(string); ok && n.Quote == syntax.DoubleQuote && strings.ContainsRune(s, '$') {
			a.varsOpaque = true
		}
		return

	case syntax.KindError, syntax.KindClass:
		a.varsOpaque = true
		a.callsOpaque = true
		return

	case syntax.KindAssignment:
		// A plain assignment writes its target; every other shape of
		// target, and every compound operator, also reads it.
		if n.Target != nil && n.Target.Kind == syntax.KindVariable && n.Op == "=" {
			a.scan(n.Child)
			return
		}

	case syntax.KindCommand:
		if n.Op == "&" {
			target := n.Elems[0]
			if target.Kind == syntax.KindStringLit {
				if s, ok := target.Value.(string); ok {
					a.calls[strings.ToLower(s)] = true
				}
			} else {
				a.callsOpaque = true
			}
		} else {
			name := strings.ToLower(n.Name)
			a.calls[name] = true
			switch name {
			case "invoke-expression", "iex", "invoke-command", "get-variable", "set-variable":
				a.varsOpaque = true
				a.callsOpaque = true
			}
		}
	}
	a.scanChildren(n)
}

func (a *analysis) scanChildren(n *syntax.Node) {
	for _, c := range []*syntax.Node{n.Left, n.Right, n.Child, n.Target, n.Index,
		n.Cond, n.Init, n.Step, n.Body, n.Alt} {
		a.scan(c)
	}
	for _, c := range n.Elems {
		a.scan(c)
	}
}

// sweep filters a statement block, recursing into nested blocks first so
// emptied structures collapse bottom-up.
func sweep(b *syntax.Node, a *analysis, ctx *eval.Context, gate *eval.Gate) {
	if b == nil {
		return
	}
	out := b.Elems[:0]
	for _, stmt := range b.Elems {
		sweepNested(stmt, a, ctx, gate)
		if removable(stmt, a, ctx, gate) {
			continue
		}
		out = append(out, stmt)
	}
	b.Elems = out
}

func sweepNested(n *syntax.Node, a *analysis, ctx *eval.Context, gate *eval.Gate) {
	switch n.Kind {
	case syntax.KindIf:
		sweep(n.Body, a, ctx, gate)
		for _, clause := range n.Elems {
			sweep(clause.Body, a, ctx, gate)
		}
		sweep(n.Alt, a, ctx, gate)
	case syntax.KindWhile, syntax.KindDoWhile, syntax.KindDoUntil,
		syntax.KindFor, syntax.KindForEach, syntax.KindFunction:
		sweep(n.Body, a, ctx, gate)
	case syntax.KindSwitch:
		for _, clause := range n.Elems {
			sweep(clause.Body, a, ctx, gate)
		}
	case syntax.KindTry:
		sweep(n.Body, a, ctx, gate)
		for _, clause := range n.Elems {
			sweep(clause.Body, a, ctx, gate)
		}
		sweep(n.Alt, a, ctx, gate)
	}
}

func removable(n *syntax.Node, a *analysis, ctx *eval.Context, gate *eval.Gate) bool {
	switch n.Kind {
	case syntax.KindAssignment:
		if a.varsOpaque {
			return false
		}
		if n.Target == nil || n.Target.Kind != syntax.KindVariable || n.Op != "=" {
			return false
		}
		if a.reads[strings.ToLower(n.Target.Name)] {
			return false
		}
		return gate.SideEffectFree(ctx, n.Child)

	case syntax.KindFunction:
		if a.callsOpaque {
			return false
		}
		return !a.calls[strings.ToLower(n.Name)]

	case syntax.KindIf:
		if !emptyBlock(n.Body) || !emptyBlock(n.Alt) {
			return false
		}
		for _, clause := range n.Elems {
			if !emptyBlock(clause.Body) || !gate.SideEffectFree(ctx, clause.Cond) {
				return false
			}
		}
		return gate.SideEffectFree(ctx, n.Cond)

	case syntax.KindWhile, syntax.KindDoWhile, syntax.KindDoUntil:
		return emptyBlock(n.Body) && gate.SideEffectFree(ctx, n.Cond)

	case syntax.KindForEach:
		// The loop variable holds the last element afterwards; a read
		// downstream keeps the loop.
		if a.varsOpaque || a.reads[strings.ToLower(n.Name)] {
			return false
		}
		return emptyBlock(n.Body) && gate.SideEffectFree(ctx, n.Child)

	case syntax.KindFor:
		return emptyBlock(n.Body) &&
			pureOrAbsent(gate, ctx, n.Init) &&
			pureOrAbsent(gate, ctx, n.Cond) &&
			pureOrAbsent(gate, ctx, n.Step)

	case syntax.KindSwitch:
		if n.Flags&syntax.SwitchFile != 0 {
			return false
		}
		for _, clause := range n.Elems {
			if !emptyBlock(clause.Body) || !pureOrAbsent(gate, ctx, clause.Cond) {
				return false
			}
		}
		return gate.SideEffectFree(ctx, n.Cond)

	case syntax.KindTry:
		if !emptyBlock(n.Body) || !emptyBlock(n.Alt) {
			return false
		}
		for _, clause := range n.Elems {
			if !emptyBlock(clause.Body) {
				return false
			}
		}
		return true
	}
	return false
}

func pureOrAbsent(gate *eval.Gate, ctx *eval.Context, n *syntax.Node) bool {
	return n == nil || gate.SideEffectFree(ctx, n)
}

func emptyBlock(b *syntax.Node) bool {
	return b == nil || len(b.Elems) == 0
}
