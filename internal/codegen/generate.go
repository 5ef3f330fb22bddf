// Package codegen regenerates source text from a syntax tree.
//
// Generate is total and deterministic: any well-formed tree renders to a
// string, and re-parsing that string yields an equivalent tree. The pass
// orchestrator relies on this round trip to detect its fixed point, so
// formatting decisions here are load-bearing - identical trees must always
// render to identical text.
package codegen

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pslens/pslens/internal/invariant"
	"github.com/pslens/pslens/internal/syntax"
)

const indentUnit = "    "

// Generate renders the tree rooted at n to source text. Statement blocks
// render one statement per line; the result ends with a newline when any
// statement was emitted.
func Generate(n *syntax.Node) string {
	invariant.NotNil(n, "node")
	g := &generator{}
	if n.Kind == syntax.KindStmtBlock {
		g.block(n, 0)
	} else {
		g.stmt(n, 0)
	}
	return g.b.String()
}

// Expr renders a single node inline, without statement framing.
func Expr(n *syntax.Node) string {
	g := &generator{}
	return g.expr(n)
}

type generator struct {
	b strings.Builder
}

func (g *generator) block(block *syntax.Node, depth int) {
	for _, stmt := range block.Elems {
		g.stmt(stmt, depth)
	}
}

func (g *generator) stmt(n *syntax.Node, depth int) {
	pad := strings.Repeat(indentUnit, depth)
	switch n.Kind {
	case syntax.KindIf:
		g.b.WriteString(pad + "if (" + g.expr(n.Cond) + ") {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "}")
		for _, clause := range n.Elems {
			g.b.WriteString(" elseif (" + g.expr(clause.Cond) + ") {\n")
			g.block(clause.Body, depth+1)
			g.b.WriteString(pad + "}")
		}
		if n.Alt != nil {
			g.b.WriteString(" else {\n")
			g.block(n.Alt, depth+1)
			g.b.WriteString(pad + "}")
		}
		g.b.WriteString("\n")

	case syntax.KindWhile:
		g.b.WriteString(pad + "while (" + g.expr(n.Cond) + ") {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "}\n")

	case syntax.KindDoWhile, syntax.KindDoUntil:
		kw := "while"
		if n.Kind == syntax.KindDoUntil {
			kw = "until"
		}
		g.b.WriteString(pad + "do {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "} " + kw + " (" + g.expr(n.Cond) + ")\n")

	case syntax.KindFor:
		g.b.WriteString(pad + "for (")
		if n.Init != nil {
			g.b.WriteString(g.expr(n.Init))
		}
		g.b.WriteString("; ")
		if n.Cond != nil {
			g.b.WriteString(g.expr(n.Cond))
		}
		g.b.WriteString("; ")
		if n.Step != nil {
			g.b.WriteString(g.expr(n.Step))
		}
		g.b.WriteString(") {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "}\n")

	case syntax.KindForEach:
		g.b.WriteString(pad + "foreach (" + variable(n.Name) + " in " + g.expr(n.Child) + ") {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "}\n")

	case syntax.KindSwitch:
		g.b.WriteString(pad + "switch" + switchFlags(n.Flags) + " (" + g.expr(n.Cond) + ") {\n")
		inner := strings.Repeat(indentUnit, depth+1)
		for _, clause := range n.Elems {
			if clause.Cond == nil {
				g.b.WriteString(inner + "default {\n")
			} else {
				g.b.WriteString(inner + g.expr(clause.Cond) + " {\n")
			}
			g.block(clause.Body, depth+2)
			g.b.WriteString(inner + "}\n")
		}
		g.b.WriteString(pad + "}\n")

	case syntax.KindTry:
		g.b.WriteString(pad + "try {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "}")
		for _, clause := range n.Elems {
			g.b.WriteString(" catch ")
			for _, t := range clause.Elems {
				g.b.WriteString("[" + t.Name + "] ")
			}
			g.b.WriteString("{\n")
			g.block(clause.Body, depth+1)
			g.b.WriteString(pad + "}")
		}
		if n.Alt != nil {
			g.b.WriteString(" finally {\n")
			g.block(n.Alt, depth+1)
			g.b.WriteString(pad + "}")
		}
		g.b.WriteString("\n")

	case syntax.KindFunction:
		g.b.WriteString(pad + "function " + n.Name)
		if len(n.Elems) > 0 {
			parts := make([]string, len(n.Elems))
			for i, param := range n.Elems {
				parts[i] = variable(param.Name)
				if param.Child != nil {
					parts[i] += " = " + g.expr(param.Child)
				}
			}
			g.b.WriteString("(" + strings.Join(parts, ", ") + ")")
		}
		g.b.WriteString(" {\n")
		g.block(n.Body, depth+1)
		g.b.WriteString(pad + "}\n")

	case syntax.KindClass:
		g.b.WriteString(pad + n.Text + "\n")

	case syntax.KindError:
		if n.Text == "" {
			g.b.WriteString(pad + "# <unrecoverable statement>\n")
		} else {
			g.b.WriteString(pad + n.Text + "\n")
		}

	default:
		g.b.WriteString(pad + g.expr(n) + "\n")
	}
}

// expr renders any expression-shaped node inline.
func (g *generator) expr(n *syntax.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case syntax.KindStringLit:
		return stringLit(n)
	case syntax.KindNumberLit:
		return numberLit(n.Value)
	case syntax.KindBoolLit:
		if n.Value.(bool) {
			return "$true"
		}
		return "$false"
	case syntax.KindNullLit:
		return "$null"
	case syntax.KindVariable:
		return variable(n.Name)
	case syntax.KindTypeLit:
		return "[" + n.Name + "]"
	case syntax.KindCast:
		return "[" + n.Name + "]" + g.expr(n.Child)

	case syntax.KindArrayLit:
		parts := make([]string, len(n.Elems))
		for i, e := range n.Elems {
			parts[i] = g.expr(e)
		}
		if len(parts) == 1 {
			// Leading comma keeps single-element-array semantics.
			return "," + parts[0]
		}
		return strings.Join(parts, ", ")

	case syntax.KindArrayExpr:
		return "@(" + g.inlineBlock(n.Body) + ")"

	case syntax.KindHashLit:
		if len(n.Elems) == 0 {
			return "@{}"
		}
		parts := make([]string, len(n.Elems))
		for i, entry := range n.Elems {
			parts[i] = g.expr(entry.Left) + " = " + g.expr(entry.Right)
		}
		return "@{ " + strings.Join(parts, "; ") + " }"

	case syntax.KindScriptBlok:
		return "{ " + g.inlineBlock(n.Body) + " }"

	case syntax.KindParen:
		return "(" + g.expr(n.Child) + ")"

	case syntax.KindSubExpr:
		return "$(" + g.inlineBlock(n.Body) + ")"

	case syntax.KindUnaryExpr:
		if strings.HasPrefix(n.Op, "-") && len(n.Op) > 1 && n.Op[1] >= 'a' && n.Op[1] <= 'z' {
			return n.Op + " " + g.expr(n.Child)
		}
		return n.Op + g.expr(n.Child)

	case syntax.KindBinaryExpr:
		if n.Op == ".." {
			return g.expr(n.Left) + ".." + g.expr(n.Right)
		}
		return g.expr(n.Left) + " " + n.Op + " " + g.expr(n.Right)

	case syntax.KindMemberAccess:
		return g.expr(n.Target) + accessOp(n.Static) + n.Name

	case syntax.KindMemberInvoke:
		parts := make([]string, len(n.Elems))
		for i, a := range n.Elems {
			parts[i] = g.expr(a)
		}
		return g.expr(n.Target) + accessOp(n.Static) + n.Name + "(" + strings.Join(parts, ", ") + ")"

	case syntax.KindIndex:
		return g.expr(n.Target) + "[" + g.expr(n.Index) + "]"

	case syntax.KindCommand:
		return g.command(n)

	case syntax.KindCmdParam:
		return "-" + n.Name

	case syntax.KindCmdExpr:
		return g.expr(n.Child)

	case syntax.KindRedirect:
		return redirect(n) + redirectTarget(g, n)

	case syntax.KindPipeline:
		parts := make([]string, len(n.Elems))
		for i, stage := range n.Elems {
			parts[i] = g.expr(stage)
		}
		return strings.Join(parts, " | ")

	case syntax.KindAssignment:
		return g.expr(n.Target) + " " + n.Op + " " + g.expr(n.Child)

	case syntax.KindReturn:
		if n.Child == nil {
			return "return"
		}
		return "return " + g.expr(n.Child)

	case syntax.KindThrow:
		if n.Child == nil {
			return "throw"
		}
		return "throw " + g.expr(n.Child)

	case syntax.KindBreak:
		return "break"
	case syntax.KindContinue:
		return "continue"

	case syntax.KindError:
		if n.Text == "" {
			return "# <unrecoverable node>"
		}
		return n.Text

	// Clause kinds normally render through their owning construct; the
	// cases below keep Generate total if one appears on its own.
	case syntax.KindHashEntry:
		return g.expr(n.Left) + " = " + g.expr(n.Right)
	case syntax.KindParam:
		if n.Name != "" {
			out := variable(n.Name)
			if n.Child != nil {
				out += " = " + g.expr(n.Child)
			}
			return out
		}
		parts := make([]string, len(n.Elems))
		for i, param := range n.Elems {
			parts[i] = g.expr(param)
		}
		return "param(" + strings.Join(parts, ", ") + ")"
	case syntax.KindElseIf:
		return "elseif (" + g.expr(n.Cond) + ") { " + g.inlineBlock(n.Body) + " }"
	case syntax.KindSwitchCase:
		if n.Cond == nil {
			return "default { " + g.inlineBlock(n.Body) + " }"
		}
		return g.expr(n.Cond) + " { " + g.inlineBlock(n.Body) + " }"
	case syntax.KindCatch:
		return "catch { " + g.inlineBlock(n.Body) + " }"
	case syntax.KindStmtBlock:
		return g.inlineBlock(n)
	}

	// Statement kinds can appear inline inside $( ) and @( ); render them
	// through the statement printer without indentation.
	sub := &generator{}
	sub.stmt(n, 0)
	return strings.TrimRight(sub.b.String(), "\n")
}

func (g *generator) command(n *syntax.Node) string {
	parts := make([]string, 0, len(n.Elems)+1)
	if n.Op == "&" {
		parts = append(parts, "&")
	}
	for i, e := range n.Elems {
		if i == 0 && e.Kind == syntax.KindStringLit && e.Quote == syntax.Bareword {
			parts = append(parts, bareword(e.Value.(string)))
			continue
		}
		parts = append(parts, g.expr(e))
	}
	return strings.Join(parts, " ")
}

// inlineBlock renders a statement block on one line, statements separated
// by semicolons.
func (g *generator) inlineBlock(block *syntax.Node) string {
	if block == nil {
		return ""
	}
	parts := make([]string, 0, len(block.Elems))
	for _, stmt := range block.Elems {
		sub := &generator{}
		sub.stmt(stmt, 0)
		text := strings.TrimRight(sub.b.String(), "\n")
		text = strings.ReplaceAll(text, "\n", "; ")
		parts = append(parts, text)
	}
	return strings.Join(parts, "; ")
}

// stringLit renders a string literal with the escaping rules of its
// quoting style.
func stringLit(n *syntax.Node) string {
	s := n.Value.(string)
	switch n.Quote {
	case syntax.Bareword:
		return bareword(s)
	case syntax.DoubleQuote:
		if n.Text != "" {
			// Raw span kept by the lexer: escaped and live sigils
			// are indistinguishable after decoding, so the original
			// spelling is authoritative.
			return `"` + n.Text + `"`
		}
		return `"` + escapeDouble(s) + `"`
	default:
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
}

// escapeDouble escapes the escape character and the quote character but
// never the variable sigil, so interpolation keeps working.
func escapeDouble(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '`':
			b.WriteString("``")
		case '"':
			b.WriteString("`\"")
		case '\n':
			b.WriteString("`n")
		case '\r':
			b.WriteString("`r")
		case '\t':
			b.WriteString("`t")
		case 0:
			b.WriteString("`0")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// bareword escapes a bareword token character by character, but only when
// it contains characters outside the safe set.
func bareword(s string) string {
	if s == "" {
		return "''"
	}
	clean := true
	for _, r := range s {
		if !barewordSafe(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if !barewordSafe(r) {
			b.WriteByte('`')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// barewordSafe covers identifier characters plus the separators that are
// ordinary inside command and argument words (dashes, dots, path slashes).
func barewordSafe(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == ':' || r == '-' || r == '.' || r == '\\' || r == '/' || r == '%':
		return true
	}
	return false
}

// numberLit renders numeric values. Integers are emitted in hexadecimal
// with a trailing long marker when the value needs 64 bits, so the
// regenerated literal can never re-parse as a narrower type.
func numberLit(v any) string {
	switch val := v.(type) {
	case int64:
		if val < 0 {
			if val < math.MinInt32 {
				return strconv.FormatInt(val, 10) + "L"
			}
			return strconv.FormatInt(val, 10)
		}
		if val > math.MaxInt32 {
			return fmt.Sprintf("0x%XL", val)
		}
		return fmt.Sprintf("0x%X", val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	}
	invariant.Invariant(false, "numeric literal holds %T", v)
	return ""
}

// variable renders a variable reference, brace-wrapping names that are
// not simple identifiers.
func variable(name string) string {
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == ':':
		default:
			return "${" + name + "}"
		}
	}
	if name == "" {
		return "${}"
	}
	return "$" + name
}

// redirect renders the redirection operator using the stream-number
// convention; the default output stream number is omitted.
func redirect(n *syntax.Node) string {
	var b strings.Builder
	switch {
	case n.Stream == syntax.StreamAll:
		b.WriteString("*")
	case n.Stream != syntax.StreamOutput:
		b.WriteString(strconv.Itoa(n.Stream))
	}
	b.WriteString(">")
	switch n.Mode {
	case syntax.RedirectAppend:
		b.WriteString(">")
	case syntax.RedirectMerge:
		b.WriteString("&" + strconv.Itoa(n.MergeTo))
	}
	return b.String()
}

func redirectTarget(g *generator, n *syntax.Node) string {
	if n.Mode == syntax.RedirectMerge || n.Child == nil {
		return ""
	}
	return " " + g.expr(n.Child)
}

// switchFlags renders the modifier flags derived from the bitmask, in a
// fixed order so output stays deterministic.
func switchFlags(flags syntax.SwitchFlag) string {
	var b strings.Builder
	if flags&syntax.SwitchRegex != 0 {
		b.WriteString(" -regex")
	}
	if flags&syntax.SwitchWildcard != 0 {
		b.WriteString(" -wildcard")
	}
	if flags&syntax.SwitchExact != 0 {
		b.WriteString(" -exact")
	}
	if flags&syntax.SwitchCaseSensitive != 0 {
		b.WriteString(" -casesensitive")
	}
	if flags&syntax.SwitchFile != 0 {
		b.WriteString(" -file")
	}
	return b.String()
}

func accessOp(static bool) string {
	if static {
		return "::"
	}
	return "."
}
