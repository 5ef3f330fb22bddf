// Package syntax defines the in-memory representation of a PowerShell
// script: a mutable tree of tagged nodes mirroring the grammar constructs
// the deobfuscation engine understands.
//
// The tree is produced by the parser, rewritten in place by the engine's
// passes, and rendered back to source text by the codegen package. Nodes
// are owned exclusively by their parent: no sharing, no cycles.
package syntax

import (
	"github.com/pslens/pslens/internal/invariant"
)

// Kind identifies the grammar role of a Node.
type Kind uint8

const (
	KindError Kind = iota // Unparseable region; Text carries the original source

	// Literals
	KindStringLit  // 'literal' or "literal" string; Value is string, Quote records the style
	KindNumberLit  // Integer or float literal; Value is int64 or float64
	KindBoolLit    // $true / $false; Value is bool
	KindNullLit    // $null
	KindVariable   // $name / ${name}; Name is the variable name without sigil
	KindTypeLit    // [System.Convert] style type literal; Name is the type name
	KindArrayLit   // a, b, c bare array literal; Elems are the elements
	KindArrayExpr  // @( ... ) array subexpression; Elems are statements/expressions
	KindHashLit    // @{ k = v; ... }; Elems are KindHashEntry nodes
	KindHashEntry  // Single hashtable entry; Left is the key, Right is the value
	KindScriptBlok // { ... } script block literal; Body is the statement list

	// Expressions
	KindParen        // ( expr ); Child is the wrapped expression
	KindSubExpr      // $( statements ); Body is the statement list
	KindUnaryExpr    // Op applied to Child: -not, -, +, !, -join, etc.
	KindBinaryExpr   // Left Op Right
	KindCast         // [type] expr; Name is the type name, Child the operand
	KindMemberAccess // Target.Member or Target::Member; Static distinguishes
	KindMemberInvoke // Target.Member(Args...) or Target::Member(Args...)
	KindIndex        // Target[Index]

	// Commands and pipelines
	KindCommand   // Command invocation; Elems[0] is the name element, rest are arguments
	KindCmdParam  // -Name or -Name:value command parameter; Name, optional Child
	KindCmdExpr   // Expression used as a pipeline stage; Child is the expression
	KindRedirect  // Stream redirection attached to a command; see Redirect fields
	KindPipeline  // Ordered pipeline; Elems are the stages
	KindStmtBlock // Ordered statement list; Elems are the statements

	// Statements
	KindAssignment // Target Op Child (=, +=, -=, *=, /=, %=)
	KindIf         // Cond/Body, Elems are KindElseIfClause nodes, Alt is the else block
	KindElseIf     // elseif clause; Cond and Body
	KindWhile      // while (Cond) Body
	KindDoWhile    // do Body while (Cond)
	KindDoUntil    // do Body until (Cond)
	KindFor        // for (Init; Cond; Step) Body
	KindForEach    // foreach ($Name in Child) Body
	KindSwitch     // switch [flags] (Cond) { clauses }; Elems are KindSwitchCase nodes
	KindSwitchCase // Single switch clause; Cond is the pattern (nil for default), Body the block
	KindTry        // try Body, Elems are KindCatchClause nodes, Alt is the finally block
	KindCatch      // catch clause; Elems are caught type literals, Body the block
	KindFunction   // function Name (params) Body; Elems are KindParam nodes
	KindParam      // Function parameter; Name, optional Child default value
	KindClass      // class/enum definition; Name, Text carries the verbatim body
	KindReturn     // return [Child]
	KindBreak      // break
	KindContinue   // continue
	KindThrow      // throw [Child]
)

var kindNames = [...]string{
	KindError:        "Error",
	KindStringLit:    "StringLit",
	KindNumberLit:    "NumberLit",
	KindBoolLit:      "BoolLit",
	KindNullLit:      "NullLit",
	KindVariable:     "Variable",
	KindTypeLit:      "TypeLit",
	KindArrayLit:     "ArrayLit",
	KindArrayExpr:    "ArrayExpr",
	KindHashLit:      "HashLit",
	KindHashEntry:    "HashEntry",
	KindScriptBlok:   "ScriptBlock",
	KindParen:        "Paren",
	KindSubExpr:      "SubExpr",
	KindUnaryExpr:    "UnaryExpr",
	KindBinaryExpr:   "BinaryExpr",
	KindCast:         "Cast",
	KindMemberAccess: "MemberAccess",
	KindMemberInvoke: "MemberInvoke",
	KindIndex:        "Index",
	KindCommand:      "Command",
	KindCmdParam:     "CmdParam",
	KindCmdExpr:      "CmdExpr",
	KindRedirect:     "Redirect",
	KindPipeline:     "Pipeline",
	KindStmtBlock:    "StmtBlock",
	KindAssignment:   "Assignment",
	KindIf:           "If",
	KindElseIf:       "ElseIf",
	KindWhile:        "While",
	KindDoWhile:      "DoWhile",
	KindDoUntil:      "DoUntil",
	KindFor:          "For",
	KindForEach:      "ForEach",
	KindSwitch:       "Switch",
	KindSwitchCase:   "SwitchCase",
	KindTry:          "Try",
	KindCatch:        "Catch",
	KindFunction:     "Function",
	KindParam:        "Param",
	KindClass:        "Class",
	KindReturn:       "Return",
	KindBreak:        "Break",
	KindContinue:     "Continue",
	KindThrow:        "Throw",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(?)"
}

// Quote records the quoting style of a string literal.
type Quote uint8

const (
	SingleQuote Quote = iota // 'literal' - no interpolation
	DoubleQuote              // "literal" - interpolation preserved by codegen
	Bareword                 // unquoted command argument token
)

// SwitchFlag is the bitmask of switch statement modifiers.
type SwitchFlag uint8

const (
	SwitchRegex SwitchFlag = 1 << iota
	SwitchWildcard
	SwitchExact
	SwitchCaseSensitive
	SwitchFile
)

// RedirectMode distinguishes the redirection forms.
type RedirectMode uint8

const (
	RedirectOverwrite RedirectMode = iota // n> target
	RedirectAppend                        // n>> target
	RedirectMerge                         // n>&m
)

// Streams are the dialect's numeric output streams. StreamAll is the '*'
// wildcard; StreamOutput (1) is the default and is omitted by codegen.
const (
	StreamOutput  = 1
	StreamError   = 2
	StreamWarning = 3
	StreamVerbose = 4
	StreamDebug   = 5
	StreamInfo    = 6
	StreamAll     = 7 // rendered as '*'
)

// Node is the universal tree unit. Kind selects which fields are
// meaningful; unset children are nil. The per-kind field contract is
// documented on the Kind constants above.
//
// A single tagged struct (rather than one type per kind) keeps dispatch to
// a switch in each consumer and makes wholesale in-place replacement of a
// node trivial for the rewrite pass.
type Node struct {
	Kind Kind

	// Values and names
	Value any        // literal value: string, int64, float64, bool
	Quote Quote      // string literal quoting style
	Name  string     // variable/command/function/type/parameter name
	Op    string     // operator spelling for unary/binary/assignment nodes
	Flags SwitchFlag // switch modifier bitmask
	Text  string     // captured source: KindError, KindClass, barewords, interpolating double-quoted literals

	// Redirection fields (KindRedirect)
	Stream  int          // source stream number
	Mode    RedirectMode // overwrite, append or merge
	MergeTo int          // destination stream for RedirectMerge

	// Children
	Left, Right *Node   // binary expression / hash entry
	Child       *Node   // single-child wrappers and optional operands
	Target      *Node   // member/index target, assignment left-hand side
	Index       *Node   // index expression
	Cond        *Node   // condition / switch subject / foreach has none
	Init, Step  *Node   // for loop clauses
	Body        *Node   // primary block (always KindStmtBlock when set)
	Alt         *Node   // else block / finally block
	Elems       []*Node // ordered children: statements, stages, elements, clauses

	Static bool // member access/invoke via '::' rather than '.'
}

// NewStmtBlock returns an empty statement list.
func NewStmtBlock(stmts ...*Node) *Node {
	return &Node{Kind: KindStmtBlock, Elems: stmts}
}

// NewString returns a string literal node.
func NewString(v string, q Quote) *Node {
	return &Node{Kind: KindStringLit, Value: v, Quote: q}
}

// NewInt returns an integer literal node.
func NewInt(v int64) *Node {
	return &Node{Kind: KindNumberLit, Value: v}
}

// NewFloat returns a floating-point literal node.
func NewFloat(v float64) *Node {
	return &Node{Kind: KindNumberLit, Value: v}
}

// NewBool returns a boolean literal node.
func NewBool(v bool) *Node {
	return &Node{Kind: KindBoolLit, Value: v}
}

// NewVariable returns a variable reference node.
func NewVariable(name string) *Node {
	invariant.Precondition(name != "", "variable name must not be empty")
	return &Node{Kind: KindVariable, Name: name}
}

// NewBinary returns a binary expression node.
func NewBinary(left *Node, op string, right *Node) *Node {
	invariant.NotNil(left, "left operand")
	invariant.NotNil(right, "right operand")
	invariant.Precondition(op != "", "operator must not be empty")
	return &Node{Kind: KindBinaryExpr, Op: op, Left: left, Right: right}
}

// NewError returns an error placeholder carrying the original source text.
func NewError(text string) *Node {
	return &Node{Kind: KindError, Text: text}
}

// FromValue converts a folded constant back into a literal node. Arrays
// become array literals; nil becomes $null. This is how the rewrite pass
// materializes evaluation results into the tree.
func FromValue(v any) *Node {
	switch val := v.(type) {
	case nil:
		return &Node{Kind: KindNullLit}
	case bool:
		return NewBool(val)
	case int64:
		return NewInt(val)
	case int:
		return NewInt(int64(val))
	case float64:
		return NewFloat(val)
	case string:
		return NewString(val, SingleQuote)
	case []any:
		elems := make([]*Node, len(val))
		for i, e := range val {
			elems[i] = FromValue(e)
		}
		return &Node{Kind: KindArrayLit, Elems: elems}
	default:
		// Values produced by the evaluator are restricted to the shapes
		// above; anything else is a dispatch table bug.
		invariant.Invariant(false, "unrepresentable constant %T", v)
		return nil
	}
}

// IsStmtBlock reports whether n is a (possibly empty) statement list.
func (n *Node) IsStmtBlock() bool {
	return n != nil && n.Kind == KindStmtBlock
}

// Empty reports whether a statement block holds no statements.
func (n *Node) Empty() bool {
	return n == nil || (n.Kind == KindStmtBlock && len(n.Elems) == 0)
}

// Walk calls fn for n and every node below it, parents before children.
// Structural traversal only; the rewrite pass has its own ordered walk.
func Walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range []*Node{n.Left, n.Right, n.Child, n.Target, n.Index, n.Cond, n.Init, n.Step, n.Body, n.Alt} {
		Walk(c, fn)
	}
	for _, c := range n.Elems {
		Walk(c, fn)
	}
}
