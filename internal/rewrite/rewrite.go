// Package rewrite implements the tree transformation passes: constant
// propagation and folding over the whole program, and dead-code
// elimination. A pass never executes anything outside the evaluator's
// closed dispatch tables and never aborts on an unfoldable region; it
// simply leaves that region alone.
package rewrite

import (
	"sort"
	"strings"

	"github.com/pslens/pslens/internal/eval"
	"github.com/pslens/pslens/internal/syntax"
)

// Rewriter walks statements in execution order, folding what the
// evaluator proves constant and tracking variable knowledge in the
// evaluation context as it goes.
type Rewriter struct {
	ev *eval.Evaluator
}

// Pass runs one rewrite pass over a program block.
func Pass(program *syntax.Node, ev *eval.Evaluator) {
	r := &Rewriter{ev: ev}
	r.block(program)
}

func (r *Rewriter) withCtx(ctx *eval.Context) *Rewriter {
	return &Rewriter{ev: eval.New(ctx, r.ev.Gate)}
}

func (r *Rewriter) merge(branch *Rewriter) {
	r.ev.Ctx.Merge(branch.ev.Ctx)
}

// block rewrites the statements of a statement block in place. A
// statement may rewrite to nothing (removed) or to several statements
// (an unfolded branch spliced into its parent).
func (r *Rewriter) block(b *syntax.Node) {
	if b == nil {
		return
	}
	out := make([]*syntax.Node, 0, len(b.Elems))
	for _, stmt := range b.Elems {
		out = append(out, r.stmt(stmt)...)
	}
	b.Elems = out
}

func (r *Rewriter) stmt(n *syntax.Node) []*syntax.Node {
	switch n.Kind {
	case syntax.KindFunction:
		return r.function(n)
	case syntax.KindAssignment:
		return r.assignment(n)
	case syntax.KindIf:
		return r.ifStmt(n)
	case syntax.KindWhile:
		return r.whileStmt(n)
	case syntax.KindDoWhile, syntax.KindDoUntil:
		return r.doStmt(n)
	case syntax.KindFor:
		return r.forStmt(n)
	case syntax.KindForEach:
		return r.forEachStmt(n)
	case syntax.KindSwitch:
		return r.switchStmt(n)
	case syntax.KindTry:
		return r.tryStmt(n)
	case syntax.KindReturn, syntax.KindThrow:
		n.Child = r.expr(n.Child)
		return keep(n)
	case syntax.KindBreak, syntax.KindContinue, syntax.KindParam,
		syntax.KindClass, syntax.KindError:
		return keep(n)
	}
	if r.arrayMutation(n) {
		return nil
	}
	return keep(r.expr(n))
}

func keep(n *syntax.Node) []*syntax.Node {
	if n == nil {
		return nil
	}
	return []*syntax.Node{n}
}

// function registers the definition and rewrites the body in a fresh
// scope: parameters are unknown at definition time, so nothing from the
// enclosing scope may be substituted into the body.
func (r *Rewriter) function(n *syntax.Node) []*syntax.Node {
	r.ev.Ctx.DefineFunction(n.Name, n)
	body := r.withCtx(r.ev.Ctx.NewScope())
	body.block(n.Body)
	return keep(n)
}

func (r *Rewriter) assignment(n *syntax.Node) []*syntax.Node {
	if n.Target == nil {
		return keep(n)
	}
	if n.Target.Kind != syntax.KindVariable {
		// Writing through a member or index mutates the base variable in
		// a way the context cannot track.
		n.Child = r.expr(n.Child)
		if base, ok := baseVariable(n.Target); ok {
			r.ev.Ctx.Taint(base)
		}
		return keep(n)
	}

	name := n.Target.Name
	n.Child = r.expr(n.Child)
	v, folded := r.ev.TryConstant(n.Child)

	if n.Op != "=" {
		cur, known := r.ev.Ctx.Get(name)
		if folded && known {
			if nv, ok := r.ev.Binary(strings.TrimSuffix(n.Op, "="), cur, v); ok {
				r.ev.Ctx.SetConstant(name, nv)
				if eval.Representable(nv) {
					n.Op = "="
					n.Child = syntax.FromValue(nv)
				}
				return keep(n)
			}
		}
		r.ev.Ctx.Taint(name)
		return keep(n)
	}

	if !folded {
		r.ev.Ctx.Taint(name)
		return keep(n)
	}
	r.ev.Ctx.SetConstant(name, v)
	if eval.Representable(v) {
		n.Child = syntax.FromValue(v)
	}
	return keep(n)
}

func (r *Rewriter) ifStmt(n *syntax.Node) []*syntax.Node {
	if taken, decided := r.selectBranch(n); decided {
		if taken == nil {
			return nil
		}
		r.block(taken)
		return taken.Elems
	}

	n.Cond = r.expr(n.Cond)
	branches := make([]*Rewriter, 0, len(n.Elems)+2)

	br := r.withCtx(r.ev.Ctx.Clone())
	br.block(n.Body)
	branches = append(branches, br)

	for _, clause := range n.Elems {
		br = r.withCtx(r.ev.Ctx.Clone())
		clause.Cond = br.expr(clause.Cond)
		br.block(clause.Body)
		branches = append(branches, br)
	}
	if n.Alt != nil {
		br = r.withCtx(r.ev.Ctx.Clone())
		br.block(n.Alt)
		branches = append(branches, br)
	}
	for _, br := range branches {
		r.merge(br)
	}
	return keep(n)
}

// selectBranch resolves an if statement whose conditions fold, returning
// the block that executes. The second result is false when any condition
// on the path stays unknown.
func (r *Rewriter) selectBranch(n *syntax.Node) (*syntax.Node, bool) {
	v, ok := r.ev.TryConstant(n.Cond)
	if !ok {
		return nil, false
	}
	if eval.Truthy(v) {
		return n.Body, true
	}
	for _, clause := range n.Elems {
		v, ok = r.ev.TryConstant(clause.Cond)
		if !ok {
			return nil, false
		}
		if eval.Truthy(v) {
			return clause.Body, true
		}
	}
	return n.Alt, true
}

func (r *Rewriter) whileStmt(n *syntax.Node) []*syntax.Node {
	if v, ok := r.ev.TryConstant(n.Cond); ok && !eval.Truthy(v) {
		return nil
	}
	lr := r.loopScope(n)
	n.Cond = lr.expr(n.Cond)
	lr.block(n.Body)
	r.merge(lr)
	return keep(n)
}

func (r *Rewriter) doStmt(n *syntax.Node) []*syntax.Node {
	lr := r.loopScope(n)
	lr.block(n.Body)
	n.Cond = lr.expr(n.Cond)
	r.merge(lr)
	return keep(n)
}

func (r *Rewriter) forStmt(n *syntax.Node) []*syntax.Node {
	if n.Init != nil {
		if res := r.stmt(n.Init); len(res) == 1 {
			n.Init = res[0]
		}
	}
	lr := r.loopScope(n)
	if n.Cond != nil {
		n.Cond = lr.expr(n.Cond)
	}
	lr.block(n.Body)
	if n.Step != nil {
		if res := lr.stmt(n.Step); len(res) == 1 {
			n.Step = res[0]
		}
	}
	r.merge(lr)
	return keep(n)
}

func (r *Rewriter) forEachStmt(n *syntax.Node) []*syntax.Node {
	n.Child = r.expr(n.Child)
	if v, ok := r.ev.TryConstant(n.Child); ok {
		if arr, isArr := v.([]any); v == nil || (isArr && len(arr) == 0) {
			// Iterating nothing: the body never runs.
			return nil
		}
	}
	lr := r.loopScope(n, n.Name)
	lr.block(n.Body)
	r.merge(lr)
	return keep(n)
}

// switchStmt treats every clause as a loop body: a switch over an array
// subject runs matching clauses once per element, so clause-local
// assignments may repeat.
func (r *Rewriter) switchStmt(n *syntax.Node) []*syntax.Node {
	n.Cond = r.expr(n.Cond)
	for _, clause := range n.Elems {
		lr := r.loopScope(n)
		if clause.Cond != nil {
			clause.Cond = lr.expr(clause.Cond)
		}
		lr.block(clause.Body)
		r.merge(lr)
	}
	return keep(n)
}

func (r *Rewriter) tryStmt(n *syntax.Node) []*syntax.Node {
	br := r.withCtx(r.ev.Ctx.Clone())
	br.block(n.Body)
	r.merge(br)

	// Catch and finally observe an interrupted try body: nothing the try
	// block assigned can be trusted inside them.
	tryAssigned := assignedNames(n.Body)
	for _, clause := range n.Elems {
		cr := r.withCtx(r.ev.Ctx.Clone())
		for _, name := range tryAssigned {
			cr.ev.Ctx.Taint(name)
		}
		cr.block(clause.Body)
		r.merge(cr)
	}
	if n.Alt != nil {
		fr := r.withCtx(r.ev.Ctx.Clone())
		for _, name := range tryAssigned {
			fr.ev.Ctx.Taint(name)
		}
		fr.block(n.Alt)
		r.merge(fr)
	}
	return keep(n)
}

// loopScope clones the context and taints every name the loop subtree
// assigns, so body rewriting never substitutes a first-iteration value
// into code that re-executes.
func (r *Rewriter) loopScope(n *syntax.Node, extra ...string) *Rewriter {
	clone := r.ev.Ctx.Clone()
	for _, name := range assignedNames(n) {
		clone.Taint(name)
	}
	for _, name := range extra {
		clone.Taint(name)
	}
	return r.withCtx(clone)
}

// assignedNames collects every variable a subtree may write.
func assignedNames(n *syntax.Node) []string {
	seen := map[string]bool{}
	syntax.Walk(n, func(node *syntax.Node) {
		switch node.Kind {
		case syntax.KindAssignment:
			if base, ok := baseVariable(node.Target); ok {
				seen[strings.ToLower(base)] = true
			}
		case syntax.KindForEach:
			seen[strings.ToLower(node.Name)] = true
		}
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func baseVariable(n *syntax.Node) (string, bool) {
	for n != nil {
		switch n.Kind {
		case syntax.KindVariable:
			return n.Name, true
		case syntax.KindMemberAccess, syntax.KindMemberInvoke, syntax.KindIndex:
			n = n.Target
		default:
			return "", false
		}
	}
	return "", false
}

// arrayMutation handles the in-place mutation idiom
// [array]::Reverse($v) as a whole statement: when $v holds a known
// array, the stored value is updated and the statement disappears.
// Unknown System.Array mutations taint the argument instead.
func (r *Rewriter) arrayMutation(n *syntax.Node) bool {
	if n.Kind != syntax.KindMemberInvoke || !n.Static {
		return false
	}
	if n.Target == nil || n.Target.Kind != syntax.KindTypeLit {
		return false
	}
	if eval.CanonicalType(n.Target.Name) != "system.array" {
		return false
	}
	if len(n.Elems) != 1 || n.Elems[0].Kind != syntax.KindVariable {
		return false
	}
	name := n.Elems[0].Name
	v, known := r.ev.Ctx.Get(name)
	arr, isArr := v.([]any)
	if !known || !isArr {
		r.ev.Ctx.Taint(name)
		return false
	}

	switch strings.ToLower(n.Name) {
	case "reverse":
		out := make([]any, len(arr))
		for i, el := range arr {
			out[len(arr)-1-i] = el
		}
		r.ev.Ctx.SetConstant(name, out)
		return true
	case "sort":
		out, ok := sortValues(arr)
		if !ok {
			r.ev.Ctx.Taint(name)
			return false
		}
		r.ev.Ctx.SetConstant(name, out)
		return true
	}
	r.ev.Ctx.Taint(name)
	return false
}

// sortValues sorts a homogeneous array of integers or strings.
func sortValues(arr []any) ([]any, bool) {
	ints := make([]int64, 0, len(arr))
	for _, el := range arr {
		n, ok := el.(int64)
		if !ok {
			ints = nil
			break
		}
		ints = append(ints, n)
	}
	if ints != nil {
		sort.Slice(ints, func(i, j int) bool { return ints[i] < ints[j] })
		out := make([]any, len(ints))
		for i, n := range ints {
			out[i] = n
		}
		return out, true
	}

	strs := make([]string, 0, len(arr))
	for _, el := range arr {
		s, ok := el.(string)
		if !ok {
			return nil, false
		}
		strs = append(strs, s)
	}
	sort.Strings(strs)
	out := make([]any, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out, true
}

// expr rewrites an expression bottom-up and replaces it with a literal
// when it folds to a representable constant. Script blocks are deferred
// code and are left untouched.
func (r *Rewriter) expr(n *syntax.Node) *syntax.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case syntax.KindStringLit, syntax.KindNumberLit, syntax.KindBoolLit,
		syntax.KindNullLit, syntax.KindTypeLit, syntax.KindScriptBlok,
		syntax.KindError, syntax.KindCmdParam:
		return n

	case syntax.KindVariable:
		// fold attempt below

	case syntax.KindAssignment:
		// Assignment in expression position. The value folds; the
		// target never does, and whatever was known about it is gone.
		n.Child = r.expr(n.Child)
		if base, ok := baseVariable(n.Target); ok {
			r.ev.Ctx.Taint(base)
		}
		return n

	case syntax.KindCommand:
		for i, el := range n.Elems[1:] {
			switch el.Kind {
			case syntax.KindCmdParam:
			case syntax.KindRedirect:
				el.Child = r.expr(el.Child)
			default:
				n.Elems[i+1] = r.expr(el)
			}
		}

	case syntax.KindPipeline:
		for i, stage := range n.Elems {
			n.Elems[i] = r.expr(stage)
		}

	case syntax.KindSubExpr, syntax.KindArrayExpr:
		r.block(n.Body)

	case syntax.KindHashLit:
		for _, entry := range n.Elems {
			entry.Right = r.expr(entry.Right)
		}

	default:
		n.Left = r.expr(n.Left)
		n.Right = r.expr(n.Right)
		n.Child = r.expr(n.Child)
		n.Target = r.expr(n.Target)
		n.Index = r.expr(n.Index)
		for i, el := range n.Elems {
			n.Elems[i] = r.expr(el)
		}
	}

	if v, ok := r.ev.TryConstant(n); ok && eval.Representable(v) {
		return syntax.FromValue(v)
	}

	// An instance invocation that survives folding may mutate its
	// receiver; a static one may mutate variable arguments.
	if n.Kind == syntax.KindMemberInvoke {
		if !n.Static {
			if base, ok := baseVariable(n.Target); ok {
				r.ev.Ctx.Taint(base)
			}
		} else {
			for _, el := range n.Elems {
				if el.Kind == syntax.KindVariable {
					r.ev.Ctx.Taint(el.Name)
				}
			}
		}
	}
	return n
}
