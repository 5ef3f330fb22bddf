package eval

import (
	"math"
	"strings"

	"github.com/pslens/pslens/internal/syntax"
)

// Bounds on folded results. Obfuscated inputs routinely contain
// expressions like 1..99999999 or 'a'*1GB whose folded form would dwarf
// the script; past these limits the expression is left unfolded.
const (
	maxRangeElems   = 1 << 16
	maxFoldedString = 1 << 20
	maxFoldedElems  = 1 << 16
)

// Evaluator folds expression trees down to constant values. Every
// entry point is fail-soft: an unfoldable node, a runtime error
// condition (division by zero, overflow of a bound) or a gated-off
// operation yields a false second return, never a panic or an abort.
type Evaluator struct {
	Ctx  *Context
	Gate *Gate
}

func New(ctx *Context, gate *Gate) *Evaluator {
	return &Evaluator{Ctx: ctx, Gate: gate}
}

// Binary applies a binary operator to two already-folded values. The
// rewrite pass uses it to resolve compound assignments.
func (e *Evaluator) Binary(op string, lv, rv any) (any, bool) {
	return binaryOp(op, lv, rv)
}

// TryConstant attempts to reduce the expression to a constant value.
func (e *Evaluator) TryConstant(n *syntax.Node) (any, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Kind {
	case syntax.KindStringLit:
		s, ok := n.Value.(string)
		if !ok {
			return nil, false
		}
		// Double-quoted strings interpolate; a remaining dollar sign
		// means the value depends on runtime state.
		if n.Quote == syntax.DoubleQuote && strings.ContainsRune(s, '$') {
			return nil, false
		}
		return s, true

	case syntax.KindNumberLit, syntax.KindBoolLit:
		return n.Value, true

	case syntax.KindNullLit:
		return nil, true

	case syntax.KindVariable:
		return e.Ctx.Get(n.Name)

	case syntax.KindParen, syntax.KindCmdExpr:
		return e.TryConstant(n.Child)

	case syntax.KindSubExpr:
		return e.foldSubExpr(n.Body)

	case syntax.KindArrayExpr:
		return e.foldArrayExpr(n.Body)

	case syntax.KindArrayLit:
		out := make([]any, len(n.Elems))
		for i, el := range n.Elems {
			v, ok := e.TryConstant(el)
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true

	case syntax.KindPipeline:
		if len(n.Elems) == 1 {
			return e.TryConstant(n.Elems[0])
		}
		return e.foldPipeline(n)

	case syntax.KindCommand:
		return e.foldCommand(n)

	case syntax.KindUnaryExpr:
		v, ok := e.TryConstant(n.Child)
		if !ok {
			return nil, false
		}
		return unaryOp(n.Op, v)

	case syntax.KindBinaryExpr:
		return e.foldBinary(n)

	case syntax.KindCast:
		v, ok := e.TryConstant(n.Child)
		if !ok {
			return nil, false
		}
		return CastValue(n.Name, v)

	case syntax.KindMemberAccess:
		return e.foldMemberAccess(n)

	case syntax.KindMemberInvoke:
		return e.foldMemberInvoke(n)

	case syntax.KindIndex:
		return e.foldIndex(n)
	}
	return nil, false
}

// foldSubExpr reduces $( ... ) when the body is a single foldable
// expression statement.
func (e *Evaluator) foldSubExpr(body *syntax.Node) (any, bool) {
	if body == nil || len(body.Elems) != 1 {
		return nil, false
	}
	return e.TryConstant(body.Elems[0])
}

// foldArrayExpr reduces @( ... ). Statement results splice the way the
// pipeline flattens them, so @(1..3) is a three-element array.
func (e *Evaluator) foldArrayExpr(body *syntax.Node) (any, bool) {
	if body == nil {
		return nil, false
	}
	out := []any{}
	for _, stmt := range body.Elems {
		v, ok := e.TryConstant(stmt)
		if !ok {
			return nil, false
		}
		if arr, isArr := v.([]any); isArr {
			if len(out)+len(arr) > maxFoldedElems {
				return nil, false
			}
			out = append(out, arr...)
		} else {
			out = append(out, v)
		}
	}
	return out, true
}

func (e *Evaluator) foldMemberAccess(n *syntax.Node) (any, bool) {
	if n.Static {
		if n.Target == nil || n.Target.Kind != syntax.KindTypeLit {
			return nil, false
		}
		return e.Gate.StaticProp(n.Target.Name, n.Name)
	}
	recv, ok := e.TryConstant(n.Target)
	if !ok {
		return nil, false
	}
	return InstanceProp(recv, n.Name)
}

func (e *Evaluator) foldMemberInvoke(n *syntax.Node) (any, bool) {
	args := make([]any, len(n.Elems))
	for i, a := range n.Elems {
		v, ok := e.TryConstant(a)
		if !ok {
			return nil, false
		}
		args[i] = v
	}
	if n.Static {
		if n.Target == nil || n.Target.Kind != syntax.KindTypeLit {
			return nil, false
		}
		if strings.EqualFold(n.Name, "new") {
			return e.Gate.Construct(n.Target.Name, args)
		}
		return e.Gate.Static(n.Target.Name, n.Name, args)
	}
	recv, ok := e.TryConstant(n.Target)
	if !ok {
		return nil, false
	}
	return Instance(recv, n.Name, args)
}

func (e *Evaluator) foldIndex(n *syntax.Node) (any, bool) {
	recv, ok := e.TryConstant(n.Target)
	if !ok {
		return nil, false
	}
	idx, ok := e.TryConstant(n.Index)
	if !ok {
		return nil, false
	}
	i, ok := asInt(idx)
	if !ok {
		return nil, false
	}
	switch target := recv.(type) {
	case []any:
		if i < 0 {
			i += int64(len(target))
		}
		if i < 0 || i >= int64(len(target)) {
			// Out-of-range array indexing yields null, not an error.
			return nil, true
		}
		return target[i], true
	case string:
		runes := []rune(target)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return nil, true
		}
		return string(runes[i]), true
	}
	return nil, false
}

func unaryOp(op string, v any) (any, bool) {
	switch op {
	case "-":
		switch n := v.(type) {
		case int64:
			if n == math.MinInt64 {
				return nil, false
			}
			return -n, true
		case float64:
			return -n, true
		}
		return nil, false
	case "+":
		if isNumeric(v) {
			return v, true
		}
		return asIntResult(v)
	case "!", "-not":
		return !Truthy(v), true
	case "-bnot":
		n, ok := asInt(v)
		if !ok {
			return nil, false
		}
		return ^n, true
	case "-join":
		arr, ok := v.([]any)
		if !ok {
			return ToString(v), true
		}
		parts := make([]string, len(arr))
		for i, el := range arr {
			parts[i] = ToString(el)
		}
		return strings.Join(parts, ""), true
	case "-split":
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		fields := strings.Fields(s)
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func (e *Evaluator) foldBinary(n *syntax.Node) (any, bool) {
	// -and and -or short-circuit, so a constant left side can decide the
	// result before the right side folds.
	switch n.Op {
	case "-and", "-iand":
		if lv, ok := e.TryConstant(n.Left); ok && !Truthy(lv) {
			return false, true
		}
	case "-or", "-ior":
		if lv, ok := e.TryConstant(n.Left); ok && Truthy(lv) {
			return true, true
		}
	}
	lv, ok := e.TryConstant(n.Left)
	if !ok {
		return nil, false
	}
	rv, ok := e.TryConstant(n.Right)
	if !ok {
		return nil, false
	}
	return binaryOp(n.Op, lv, rv)
}

func binaryOp(op string, lv, rv any) (any, bool) {
	switch op {
	case "+":
		return addValues(lv, rv)
	case "-":
		return arith(lv, rv, subInt, func(a, b float64) float64 { return a - b })
	case "*":
		return mulValues(lv, rv)
	case "/":
		return divValues(lv, rv)
	case "%":
		return modValues(lv, rv)
	case "..":
		return rangeValues(lv, rv)
	}

	base := op
	caseSensitive := false
	if strings.HasPrefix(op, "-") {
		word := op[1:]
		if len(word) > 2 {
			switch word[0] {
			case 'c':
				caseSensitive = true
				word = word[1:]
			case 'i':
				word = word[1:]
			}
		}
		base = word
	}

	switch base {
	case "eq", "ne", "gt", "ge", "lt", "le":
		return compareValues(base, lv, rv, caseSensitive)
	case "and":
		return Truthy(lv) && Truthy(rv), true
	case "or":
		return Truthy(lv) || Truthy(rv), true
	case "xor":
		return Truthy(lv) != Truthy(rv), true
	case "band", "bor", "bxor", "shl", "shr":
		return bitwiseOp(base, lv, rv)
	case "f":
		format, ok := lv.(string)
		if !ok {
			return nil, false
		}
		args, isArr := rv.([]any)
		if !isArr {
			args = []any{rv}
		}
		return FormatPositional(format, args)
	case "join":
		arr, ok := lv.([]any)
		if !ok {
			arr = []any{lv}
		}
		sep := ToString(rv)
		parts := make([]string, len(arr))
		for i, el := range arr {
			parts[i] = ToString(el)
		}
		return strings.Join(parts, sep), true
	case "split":
		return splitOp(lv, rv)
	case "replace":
		return replaceOp(lv, rv, caseSensitive)
	case "contains", "notcontains":
		arr, ok := lv.([]any)
		if !ok {
			arr = []any{lv}
		}
		found := arrayContains(arr, rv, caseSensitive)
		if base == "notcontains" {
			return !found, true
		}
		return found, true
	case "in", "notin":
		arr, ok := rv.([]any)
		if !ok {
			arr = []any{rv}
		}
		found := arrayContains(arr, lv, caseSensitive)
		if base == "notin" {
			return !found, true
		}
		return found, true
	}
	// -like, -match, -as and friends carry wildcard or runtime type
	// semantics this evaluator does not model.
	return nil, false
}

func addValues(lv, rv any) (any, bool) {
	switch left := lv.(type) {
	case string:
		r := left + ToString(rv)
		if len(r) > maxFoldedString {
			return nil, false
		}
		return r, true
	case []any:
		var extra []any
		if arr, ok := rv.([]any); ok {
			extra = arr
		} else {
			extra = []any{rv}
		}
		if len(left)+len(extra) > maxFoldedElems {
			return nil, false
		}
		out := make([]any, 0, len(left)+len(extra))
		out = append(out, left...)
		out = append(out, extra...)
		return out, true
	}
	return arith(lv, rv, addInt, func(a, b float64) float64 { return a + b })
}

func mulValues(lv, rv any) (any, bool) {
	switch left := lv.(type) {
	case string:
		count, ok := asInt(rv)
		if !ok || count < 0 || count > maxFoldedString {
			return nil, false
		}
		if len(left) > 0 && count > int64(maxFoldedString/len(left)) {
			return nil, false
		}
		return strings.Repeat(left, int(count)), true
	case []any:
		count, ok := asInt(rv)
		if !ok || count < 0 || count > maxFoldedElems {
			return nil, false
		}
		if len(left) > 0 && count > int64(maxFoldedElems/len(left)) {
			return nil, false
		}
		out := make([]any, 0, int64(len(left))*count)
		for i := int64(0); i < count; i++ {
			out = append(out, left...)
		}
		return out, true
	}
	return arith(lv, rv, mulInt, func(a, b float64) float64 { return a * b })
}

func divValues(lv, rv any) (any, bool) {
	if !isNumeric(lv) && !numericString(lv) {
		return nil, false
	}
	af, ok1 := asFloat(lv)
	bf, ok2 := asFloat(rv)
	if !ok1 || !ok2 || bf == 0 {
		return nil, false
	}
	ai, aInt := asInt(lv)
	bi, bInt := asInt(rv)
	if aInt && bInt && bi != 0 && ai%bi == 0 {
		return ai / bi, true
	}
	r := af / bf
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return nil, false
	}
	return r, true
}

func modValues(lv, rv any) (any, bool) {
	ai, ok1 := asInt(lv)
	bi, ok2 := asInt(rv)
	if !ok1 || !ok2 || bi == 0 {
		return nil, false
	}
	return ai % bi, true
}

func rangeValues(lv, rv any) (any, bool) {
	lo, ok1 := asInt(lv)
	hi, ok2 := asInt(rv)
	if !ok1 || !ok2 {
		return nil, false
	}
	step := int64(1)
	width := uint64(hi) - uint64(lo)
	if hi < lo {
		step = -1
		width = uint64(lo) - uint64(hi)
	}
	if width >= maxRangeElems {
		return nil, false
	}
	out := make([]any, 0, width+1)
	for v := lo; ; v += step {
		out = append(out, v)
		if v == hi {
			break
		}
	}
	return out, true
}

// arith runs an integer operation with overflow detection, falling back
// to float arithmetic when either operand is a float or the integers
// overflow.
func arith(lv, rv any, intOp func(a, b int64) (int64, bool), floatOp func(a, b float64) float64) (any, bool) {
	ai, aInt := asInt(lv)
	bi, bInt := asInt(rv)
	if aInt && bInt {
		if r, ok := intOp(ai, bi); ok {
			return r, true
		}
	}
	af, ok1 := asFloat(lv)
	bf, ok2 := asFloat(rv)
	if !ok1 || !ok2 {
		return nil, false
	}
	r := floatOp(af, bf)
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return nil, false
	}
	return r, true
}

func addInt(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func subInt(a, b int64) (int64, bool) {
	r := a - b
	if (b < 0 && r < a) || (b > 0 && r > a) {
		return 0, false
	}
	return r, true
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

func bitwiseOp(base string, lv, rv any) (any, bool) {
	a, ok1 := asInt(lv)
	b, ok2 := asInt(rv)
	if !ok1 || !ok2 {
		return nil, false
	}
	switch base {
	case "band":
		return a & b, true
	case "bor":
		return a | b, true
	case "bxor":
		return a ^ b, true
	case "shl":
		return a << (uint64(b) & 63), true
	case "shr":
		return a >> (uint64(b) & 63), true
	}
	return nil, false
}

func compareValues(base string, lv, rv any, caseSensitive bool) (any, bool) {
	if isNumeric(lv) {
		af, ok1 := asFloat(lv)
		bf, ok2 := asFloat(rv)
		if !ok1 || !ok2 {
			return nil, false
		}
		return orderingResult(base, compareFloat(af, bf)), true
	}
	ls, lok := lv.(string)
	rs := ToString(rv)
	if !lok {
		if lv == nil {
			return orderingResult(base, compareString("", rs)), true
		}
		return nil, false
	}
	if !caseSensitive {
		ls = strings.ToLower(ls)
		rs = strings.ToLower(rs)
	}
	return orderingResult(base, compareString(ls, rs)), true
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareString(a, b string) int { return strings.Compare(a, b) }

func orderingResult(base string, cmp int) bool {
	switch base {
	case "eq":
		return cmp == 0
	case "ne":
		return cmp != 0
	case "gt":
		return cmp > 0
	case "ge":
		return cmp >= 0
	case "lt":
		return cmp < 0
	case "le":
		return cmp <= 0
	}
	return false
}

func arrayContains(arr []any, v any, caseSensitive bool) bool {
	for _, el := range arr {
		if eq, ok := compareValues("eq", el, v, caseSensitive); ok && eq == true {
			return true
		}
	}
	return false
}

func splitOp(lv, rv any) (any, bool) {
	s, ok := lv.(string)
	if !ok {
		return nil, false
	}
	sep, ok := rv.(string)
	if !ok || sep == "" || strings.ContainsAny(sep, `\^$.|?*+()[]{}`) {
		// The separator is a regular expression; only literal
		// separators fold.
		return nil, false
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, true
}

func replaceOp(lv, rv any, caseSensitive bool) (any, bool) {
	s, ok := lv.(string)
	if !ok {
		return nil, false
	}
	var pattern, repl string
	switch r := rv.(type) {
	case string:
		pattern = r
	case []any:
		if len(r) != 2 {
			return nil, false
		}
		p, ok1 := r[0].(string)
		rep, ok2 := r[1].(string)
		if !ok1 || !ok2 {
			return nil, false
		}
		pattern, repl = p, rep
	default:
		return nil, false
	}
	if pattern == "" || strings.ContainsAny(pattern, `\^$.|?*+()[]{}`) || strings.Contains(repl, "$") {
		return nil, false
	}
	if !caseSensitive {
		return replaceFold(s, pattern, repl), true
	}
	return strings.ReplaceAll(s, pattern, repl), true
}

// replaceFold is a case-insensitive literal ReplaceAll, matching the
// default comparison mode of the replace operator.
func replaceFold(s, pattern, repl string) string {
	lower := strings.ToLower(s)
	pat := strings.ToLower(pattern)
	var b strings.Builder
	for {
		i := strings.Index(lower, pat)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[i+len(pattern):]
		lower = lower[i+len(pat):]
	}
}

// CastValue applies a type cast to an already-folded value. The cast
// table is closed the same way the member dispatch table is.
func CastValue(typ string, v any) (any, bool) {
	if strings.HasSuffix(strings.TrimSpace(typ), "[]") {
		return castArray(CanonicalType(typ), v)
	}
	switch CanonicalType(typ) {
	case "system.char":
		return CharCode(v)
	case "system.int16", "system.int32", "system.int64", "system.int":
		if f, isFloat := v.(float64); isFloat {
			// Numeric casts round half to even.
			return int64(math.RoundToEven(f)), true
		}
		if s, isStr := v.(string); isStr && len([]rune(s)) == 1 && !isDigitString(s) {
			return int64([]rune(s)[0]), true
		}
		return asIntResult(v)
	case "system.byte":
		return convertToByte([]any{v})
	case "system.double", "system.single", "system.float", "system.decimal":
		return convertToDouble([]any{v})
	case "system.string":
		return ToString(v), true
	case "system.bool", "system.boolean":
		return Truthy(v), true
	case "system.array":
		if arr, ok := v.([]any); ok {
			return arr, true
		}
		return []any{v}, true
	}
	return nil, false
}

func castArray(elem string, v any) (any, bool) {
	switch elem {
	case "system.char":
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		return stringMethod(s, "tochararray", nil)
	case "system.byte":
		b, ok := asBytes(v)
		if !ok {
			return nil, false
		}
		return bytesValue(b), true
	case "system.object", "system.string", "system.int32", "system.int64":
		if arr, ok := v.([]any); ok {
			return arr, true
		}
		return []any{v}, true
	}
	return nil, false
}

func isDigitString(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func numericString(v any) bool {
	if s, ok := v.(string); ok {
		_, yes := asInt(s)
		return yes
	}
	return false
}
