package eval

import (
	"strings"

	"github.com/pslens/pslens/internal/syntax"
)

// maxCallDepth bounds pure-function inlining so mutually recursive or
// deeply nested helper chains cannot stack-overflow the evaluator. The
// purity check already rejects recursion, so in practice the bound is
// hit only by adversarial function graphs discovered mid-pass.
const maxCallDepth = 16

// foldCommand reduces a command invocation appearing in expression
// position. Only two shapes fold: New-Object of an allowlisted type,
// and calls to user functions the gate judged safe to inline.
func (e *Evaluator) foldCommand(n *syntax.Node) (any, bool) {
	if n.Op == "&" || n.Name == "" {
		return nil, false
	}
	args, ok := e.commandArgs(n)
	if !ok {
		return nil, false
	}
	if strings.EqualFold(n.Name, "new-object") {
		if len(args) == 0 {
			return nil, false
		}
		typ, ok := args[0].(string)
		if !ok {
			return nil, false
		}
		return e.Gate.Construct(typ, args[1:])
	}
	fn, ok := e.Ctx.LookupFunction(n.Name)
	if !ok || !e.Gate.IsSafeToInline(e.Ctx, fn, map[string]bool{}) {
		return nil, false
	}
	return e.callFunction(fn, args, 0)
}

// commandArgs folds every positional argument. Parameters and
// redirections disqualify the command.
func (e *Evaluator) commandArgs(n *syntax.Node) ([]any, bool) {
	args := make([]any, 0, len(n.Elems)-1)
	for _, el := range n.Elems[1:] {
		switch el.Kind {
		case syntax.KindCmdParam, syntax.KindRedirect:
			return nil, false
		}
		v, ok := e.TryConstant(el)
		if !ok {
			return nil, false
		}
		args = append(args, v)
	}
	return args, true
}

// CallFunction evaluates a user-defined function against constant
// arguments. The caller is responsible for the safety check; this only
// interprets the shapes the gate admits and fails soft on anything else.
func (e *Evaluator) CallFunction(fn *syntax.Node, args []any) (any, bool) {
	return e.callFunction(fn, args, 0)
}

func (e *Evaluator) callFunction(fn *syntax.Node, args []any, depth int) (any, bool) {
	if depth >= maxCallDepth || fn == nil || fn.Body == nil {
		return nil, false
	}
	if len(args) > len(fn.Elems) {
		return nil, false
	}

	local := &Evaluator{Ctx: e.Ctx.NewScope(), Gate: e.Gate}
	for i, param := range fn.Elems {
		if param.Kind != syntax.KindParam || param.Name == "" {
			return nil, false
		}
		switch {
		case i < len(args):
			local.Ctx.SetConstant(param.Name, args[i])
		case param.Child != nil:
			def, ok := local.TryConstant(param.Child)
			if !ok {
				return nil, false
			}
			local.Ctx.SetConstant(param.Name, def)
		default:
			local.Ctx.SetConstant(param.Name, nil)
		}
	}

	var out outputs
	if !local.execBlock(fn.Body, &out, depth) {
		return nil, false
	}
	return out.result(), true
}

// outputs accumulates the values a function body emits: bare expression
// statements and return values, collected the way the pipeline would.
type outputs struct {
	values   []any
	returned bool
}

func (o *outputs) emit(v any) { o.values = append(o.values, v) }

func (o *outputs) result() any {
	switch len(o.values) {
	case 0:
		return nil
	case 1:
		return o.values[0]
	}
	return append([]any(nil), o.values...)
}

func (e *Evaluator) execBlock(block *syntax.Node, out *outputs, depth int) bool {
	if block == nil {
		return true
	}
	for _, stmt := range block.Elems {
		if !e.execStmt(stmt, out, depth) {
			return false
		}
		if out.returned {
			return true
		}
	}
	return true
}

func (e *Evaluator) execStmt(n *syntax.Node, out *outputs, depth int) bool {
	switch n.Kind {
	case syntax.KindAssignment:
		return e.execAssignment(n)

	case syntax.KindReturn:
		if n.Child != nil {
			v, ok := e.TryConstant(n.Child)
			if !ok {
				return false
			}
			out.emit(v)
		}
		out.returned = true
		return true

	case syntax.KindIf:
		return e.execIf(n, out, depth)

	case syntax.KindCommand:
		if n.Op == "&" {
			return false
		}
		fn, ok := e.Ctx.LookupFunction(n.Name)
		if !ok {
			return false
		}
		args, ok := e.commandArgs(n)
		if !ok {
			return false
		}
		v, ok := e.callFunction(fn, args, depth+1)
		if !ok {
			return false
		}
		out.emit(v)
		return true

	default:
		// A bare expression statement emits its value.
		v, ok := e.TryConstant(n)
		if !ok {
			return false
		}
		out.emit(v)
		return true
	}
}

func (e *Evaluator) execAssignment(n *syntax.Node) bool {
	if n.Target == nil || n.Target.Kind != syntax.KindVariable {
		return false
	}
	v, ok := e.TryConstant(n.Child)
	if !ok {
		return false
	}
	if n.Op != "=" {
		cur, known := e.Ctx.Get(n.Target.Name)
		if !known {
			return false
		}
		v, ok = binaryOp(strings.TrimSuffix(n.Op, "="), cur, v)
		if !ok {
			return false
		}
	}
	e.Ctx.SetConstant(n.Target.Name, v)
	return true
}

func (e *Evaluator) execIf(n *syntax.Node, out *outputs, depth int) bool {
	cond, ok := e.TryConstant(n.Cond)
	if !ok {
		return false
	}
	if Truthy(cond) {
		return e.execBlock(n.Body, out, depth)
	}
	for _, clause := range n.Elems {
		cond, ok = e.TryConstant(clause.Cond)
		if !ok {
			return false
		}
		if Truthy(cond) {
			return e.execBlock(clause.Body, out, depth)
		}
	}
	return e.execBlock(n.Alt, out, depth)
}

// foldPipeline reduces the element-mapping idiom: a constant head stage
// piped through ForEach-Object blocks that fold per element, as in
// (65..67) | ForEach-Object { [char]$_ }.
func (e *Evaluator) foldPipeline(n *syntax.Node) (any, bool) {
	head, ok := e.TryConstant(n.Elems[0])
	if !ok {
		return nil, false
	}
	for _, stage := range n.Elems[1:] {
		head, ok = e.mapStage(stage, head)
		if !ok {
			return nil, false
		}
	}
	return head, true
}

func (e *Evaluator) mapStage(stage *syntax.Node, in any) (any, bool) {
	if stage.Kind != syntax.KindCommand {
		return nil, false
	}
	name := strings.ToLower(stage.Name)
	if name != "foreach-object" && name != "%" {
		return nil, false
	}
	if len(stage.Elems) != 2 {
		return nil, false
	}
	block := stage.Elems[1]
	if block.Kind != syntax.KindScriptBlok || block.Body == nil || len(block.Body.Elems) != 1 {
		return nil, false
	}
	body := block.Body.Elems[0]

	elems, isArr := in.([]any)
	if !isArr {
		elems = []any{in}
	}
	out := make([]any, 0, len(elems))
	scope := &Evaluator{Ctx: e.Ctx.NewScope(), Gate: e.Gate}
	for _, el := range elems {
		scope.Ctx = e.Ctx.NewScope()
		scope.Ctx.SetConstant("_", el)
		v, ok := scope.TryConstant(body)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	if !isArr {
		if len(out) != 1 {
			return nil, false
		}
		return out[0], true
	}
	return out, true
}
