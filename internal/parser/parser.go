// Package parser builds syntax trees from PowerShell-family source text.
//
// The parser models the subset of the grammar the deobfuscation engine
// rewrites. Statements using constructs outside that subset are captured
// verbatim as error placeholder nodes, so the regenerated script never
// loses them. Only structural breakage (unterminated strings, unbalanced
// braces) is reported as a fatal ParseError.
package parser

import (
	"strconv"
	"strings"

	"github.com/pslens/pslens/internal/lexer"
	"github.com/pslens/pslens/internal/syntax"
)

// Parser holds parsing state for one source unit.
type Parser struct {
	src    []byte
	tokens []lexer.Token
	pos    int
	errors []ParseError
}

// Parse tokenizes and parses src, returning the root statement block and
// any fatal errors. A non-empty error slice means the tree must not be
// rewritten (the run fails before any pass starts).
func Parse(src []byte) (*syntax.Node, []ParseError) {
	p := &Parser{src: src, tokens: lexer.Lex(src)}

	// Unterminated literals swallow the rest of the input, so nothing
	// after them can be trusted; fail instead of recovering.
	for _, tok := range p.tokens {
		if tok.Type != lexer.ILLEGAL || tok.Position.Offset >= len(src) {
			continue
		}
		switch src[tok.Position.Offset] {
		case '\'', '"':
			p.errors = append(p.errors, ParseError{
				Position: tok.Position,
				Message:  "unterminated string literal",
			})
		case '$':
			if tok.Position.Offset+1 < len(src) && src[tok.Position.Offset+1] == '{' {
				p.errors = append(p.errors, ParseError{
					Position: tok.Position,
					Message:  "unterminated braced variable name",
				})
			}
		}
	}
	if len(p.errors) > 0 {
		return syntax.NewStmtBlock(), p.errors
	}

	root := p.parseStatements(lexer.EOF)
	return root, p.errors
}

func (p *Parser) cur() lexer.Token  { return p.tokens[p.pos] }
func (p *Parser) at(t lexer.TokenType) bool { return p.cur().Type == t }

func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1] // EOF
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) advance() lexer.Token {
	tok := p.tokens[p.pos]
	if tok.Type != lexer.EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(t lexer.TokenType, context string) (lexer.Token, bool) {
	if p.at(t) {
		return p.advance(), true
	}
	p.errors = append(p.errors, ParseError{
		Position: p.cur().Position,
		Message:  "unexpected " + p.cur().Type.String(),
		Context:  context,
		Expected: []lexer.TokenType{t},
		Got:      p.cur().Type,
	})
	return p.cur(), false
}

func (p *Parser) fatal(msg, context string) {
	p.errors = append(p.errors, ParseError{
		Position: p.cur().Position,
		Message:  msg,
		Context:  context,
		Got:      p.cur().Type,
	})
}

// keyword reports whether tok is the given keyword (case-insensitive).
func keyword(tok lexer.Token, kw string) bool {
	return tok.Type == lexer.IDENT && strings.EqualFold(tok.Text, kw)
}

// stringNode builds a string literal from a STRING token. The raw span,
// when the lexer kept one, rides along so interpolating double-quoted
// literals regenerate verbatim.
func stringNode(tok lexer.Token) *syntax.Node {
	n := syntax.NewString(tok.Text, tok.Quote)
	n.Text = tok.Raw
	return n
}

func (p *Parser) skipSeparators() {
	for p.at(lexer.NEWLINE) || p.at(lexer.SEMI) {
		p.advance()
	}
}

// parseStatements parses statements until the given closing token (EOF or
// RBRACE) and returns them as a statement block.
func (p *Parser) parseStatements(until lexer.TokenType) *syntax.Node {
	block := syntax.NewStmtBlock()
	for {
		p.skipSeparators()
		if p.at(until) || p.at(lexer.EOF) {
			if until != lexer.EOF && !p.at(until) {
				p.fatal("unexpected end of input", "block")
			}
			return block
		}
		stmt := p.parseStatement()
		if stmt != nil {
			block.Elems = append(block.Elems, stmt)
		}
	}
}

// parseStatement parses one statement. Anything the sub-parsers reject is
// captured from the statement's first token to the next top-level
// separator and preserved as an error node.
func (p *Parser) parseStatement() *syntax.Node {
	start := p.pos
	errCount := len(p.errors)

	stmt := p.parseStatementInner()
	if stmt != nil {
		return stmt
	}
	if len(p.errors) > errCount {
		// Structural breakage already reported; skip the remains.
		p.syncStatement()
		if p.pos == start {
			p.advance()
		}
		return nil
	}
	// Unmodeled construct: keep it verbatim.
	p.pos = start
	text := p.captureStatement()
	if p.pos == start {
		// A dangling closer syncs to itself; consume it so the
		// statement loop makes progress.
		p.advance()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return syntax.NewError(strings.TrimSpace(text))
}

func (p *Parser) parseStatementInner() *syntax.Node {
	tok := p.cur()
	if tok.Type == lexer.IDENT {
		switch strings.ToLower(tok.Text) {
		case "if":
			return p.parseIf()
		case "while":
			return p.parseWhile()
		case "do":
			return p.parseDo()
		case "for":
			return p.parseFor()
		case "foreach":
			return p.parseForEach()
		case "switch":
			return p.parseSwitch()
		case "try":
			return p.parseTry()
		case "function", "filter":
			return p.parseFunction()
		case "class", "enum":
			return p.parseClass()
		case "return":
			return p.parseValuedStatement(syntax.KindReturn)
		case "throw":
			return p.parseValuedStatement(syntax.KindThrow)
		case "break":
			p.advance()
			return &syntax.Node{Kind: syntax.KindBreak}
		case "continue":
			p.advance()
			return &syntax.Node{Kind: syntax.KindContinue}
		case "param":
			if p.peekAt(1).Type == lexer.LPAREN {
				return p.parseParamStatement()
			}
		}
	}

	if p.at(lexer.PLUSPLUS) || p.at(lexer.MINUSMINUS) {
		op := "+="
		if p.advance().Type == lexer.MINUSMINUS {
			op = "-="
		}
		target := p.parsePostfix(p.parsePrimary())
		if target == nil {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindAssignment, Op: op, Target: target, Child: syntax.NewInt(1)}
	}

	if p.isAssignment() {
		return p.parseAssignment()
	}
	return p.parsePipeline()
}

// isAssignment looks ahead for `$var[...].member... =` at the current
// position without consuming anything.
func (p *Parser) isAssignment() bool {
	i := p.pos
	if p.tokens[i].Type != lexer.VARIABLE {
		return false
	}
	i++
	for {
		switch p.tokens[i].Type {
		case lexer.DOT, lexer.COLONCOLON:
			if p.tokens[i+1].Type != lexer.IDENT {
				return false
			}
			i += 2
		case lexer.LBRACKET:
			depth := 1
			i++
			for depth > 0 {
				switch p.tokens[i].Type {
				case lexer.LBRACKET:
					depth++
				case lexer.RBRACKET:
					depth--
				case lexer.EOF:
					return false
				}
				i++
			}
		default:
			switch p.tokens[i].Type {
			case lexer.ASSIGN, lexer.PLUS_ASSIGN, lexer.MINUS_ASSIGN,
				lexer.STAR_ASSIGN, lexer.SLASH_ASSIGN, lexer.PERCENT_ASSIGN,
				lexer.PLUSPLUS, lexer.MINUSMINUS:
				return true
			}
			return false
		}
	}
}

func (p *Parser) parseAssignment() *syntax.Node {
	target := p.parsePostfix(p.parsePrimary())
	if target == nil {
		return nil
	}
	// Postfix increment and decrement normalize to compound assignments.
	switch p.cur().Type {
	case lexer.PLUSPLUS:
		p.advance()
		return &syntax.Node{Kind: syntax.KindAssignment, Op: "+=", Target: target, Child: syntax.NewInt(1)}
	case lexer.MINUSMINUS:
		p.advance()
		return &syntax.Node{Kind: syntax.KindAssignment, Op: "-=", Target: target, Child: syntax.NewInt(1)}
	}
	op := p.advance().Text
	value := p.parsePipeline()
	if value == nil {
		return nil
	}
	return &syntax.Node{Kind: syntax.KindAssignment, Op: op, Target: target, Child: value}
}

// parsePipeline parses one or more pipeline stages. A single bare
// expression stage is returned unwrapped.
func (p *Parser) parsePipeline() *syntax.Node {
	stage := p.parseStage()
	if stage == nil {
		return nil
	}
	if !p.at(lexer.PIPE) {
		return stage
	}
	pipe := &syntax.Node{Kind: syntax.KindPipeline, Elems: []*syntax.Node{wrapStage(stage)}}
	for p.at(lexer.PIPE) {
		p.advance()
		p.skipSeparators()
		next := p.parseStage()
		if next == nil {
			return nil
		}
		pipe.Elems = append(pipe.Elems, wrapStage(next))
	}
	return pipe
}

// wrapStage normalizes expression stages so every pipeline element is a
// command-shaped node.
func wrapStage(n *syntax.Node) *syntax.Node {
	if n.Kind == syntax.KindCommand || n.Kind == syntax.KindCmdExpr {
		return n
	}
	return &syntax.Node{Kind: syntax.KindCmdExpr, Child: n}
}

func (p *Parser) parseStage() *syntax.Node {
	switch p.cur().Type {
	case lexer.IDENT, lexer.AMP, lexer.PERCENT:
		return p.parseCommand()
	}
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	return expr
}

// parseCommand parses a command invocation: name, arguments, parameters
// and redirections, in source order.
func (p *Parser) parseCommand() *syntax.Node {
	cmd := &syntax.Node{Kind: syntax.KindCommand}

	var nameElem *syntax.Node
	if p.at(lexer.AMP) {
		p.advance()
		target := p.parseArgument()
		if target == nil {
			return nil
		}
		cmd.Op = "&"
		nameElem = target
	} else if p.at(lexer.PERCENT) {
		// The ForEach-Object alias in a pipeline stage.
		p.advance()
		cmd.Name = "%"
		nameElem = &syntax.Node{Kind: syntax.KindStringLit, Value: "%", Quote: syntax.Bareword, Text: "%"}
	} else {
		name := p.glueDotted()
		nameElem = &syntax.Node{Kind: syntax.KindStringLit, Value: name, Quote: syntax.Bareword, Text: name}
		cmd.Name = name
	}
	cmd.Elems = append(cmd.Elems, nameElem)

	for {
		switch p.cur().Type {
		case lexer.NEWLINE, lexer.SEMI, lexer.PIPE, lexer.EOF,
			lexer.RPAREN, lexer.RBRACE, lexer.RBRACKET:
			return cmd
		case lexer.DASHWORD:
			tok := p.advance()
			cmd.Elems = append(cmd.Elems, &syntax.Node{Kind: syntax.KindCmdParam, Name: tok.Text[1:]})
		case lexer.REDIRECT:
			r := p.parseRedirect()
			if r == nil {
				return nil
			}
			cmd.Elems = append(cmd.Elems, r)
		default:
			arg := p.parseArgumentList()
			if arg == nil {
				return nil
			}
			cmd.Elems = append(cmd.Elems, arg)
		}
	}
}

// parseRedirect decodes a redirection spelling into a node, attaching the
// target argument for the file forms.
func (p *Parser) parseRedirect() *syntax.Node {
	tok := p.advance()
	spelling := tok.Text
	node := &syntax.Node{Kind: syntax.KindRedirect, Stream: syntax.StreamOutput}

	rest := spelling
	switch {
	case rest[0] == '*':
		node.Stream = syntax.StreamAll
		rest = rest[1:]
	case rest[0] >= '1' && rest[0] <= '6':
		node.Stream = int(rest[0] - '0')
		rest = rest[1:]
	}
	switch {
	case strings.HasPrefix(rest, ">>"):
		node.Mode = syntax.RedirectAppend
	case strings.HasPrefix(rest, ">&"):
		node.Mode = syntax.RedirectMerge
		node.MergeTo = int(rest[len(rest)-1] - '0')
		return node
	default:
		node.Mode = syntax.RedirectOverwrite
	}

	target := p.parseArgument()
	if target == nil {
		return nil
	}
	node.Child = target
	return node
}

// parseArgumentList parses a command argument, gluing comma-separated
// values into an array argument.
func (p *Parser) parseArgumentList() *syntax.Node {
	first := p.parseArgument()
	if first == nil {
		return nil
	}
	if !p.at(lexer.COMMA) {
		return first
	}
	arr := &syntax.Node{Kind: syntax.KindArrayLit, Elems: []*syntax.Node{first}}
	for p.at(lexer.COMMA) {
		p.advance()
		next := p.parseArgument()
		if next == nil {
			return nil
		}
		arr.Elems = append(arr.Elems, next)
	}
	return arr
}

// parseArgument parses a single command argument: a primary value with
// member/index postfix, but no infix operators (those are barewords in
// argument position in the real dialect).
func (p *Parser) parseArgument() *syntax.Node {
	switch p.cur().Type {
	case lexer.IDENT:
		name := p.glueDotted()
		return &syntax.Node{Kind: syntax.KindStringLit, Value: name, Quote: syntax.Bareword, Text: name}
	case lexer.NUMBER, lexer.STRING, lexer.VARIABLE, lexer.LPAREN,
		lexer.DOLLARPAREN, lexer.ATPAREN, lexer.ATBRACE, lexer.LBRACKET, lexer.LBRACE:
		return p.parsePostfix(p.parsePrimary())
	}
	return nil
}

// glueDotted joins adjacent IDENT DOT IDENT sequences into one dotted
// name (System.Convert, foo.exe). Adjacency is checked by byte offset so
// `foo . bar` stays three tokens.
func (p *Parser) glueDotted() string {
	tok := p.advance()
	name := tok.Text
	end := tok.End
	for p.at(lexer.DOT) && p.cur().Position.Offset == end &&
		p.peekAt(1).Type == lexer.IDENT && p.peekAt(1).Position.Offset == p.cur().End {
		p.advance()
		next := p.advance()
		name += "." + next.Text
		end = next.End
	}
	return name
}

// Expression parsing, lowest precedence first.

func (p *Parser) parseExpr() *syntax.Node {
	return p.parseArrayExpr()
}

// parseArrayExpr handles the comma operator: `1,2,3` and the leading
// comma single-element form `,1`.
func (p *Parser) parseArrayExpr() *syntax.Node {
	if p.at(lexer.COMMA) {
		p.advance()
		elem := p.parseLogical()
		if elem == nil {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindArrayLit, Elems: []*syntax.Node{elem}}
	}
	first := p.parseLogical()
	if first == nil || !p.at(lexer.COMMA) {
		return first
	}
	arr := &syntax.Node{Kind: syntax.KindArrayLit, Elems: []*syntax.Node{first}}
	for p.at(lexer.COMMA) {
		p.advance()
		next := p.parseLogical()
		if next == nil {
			return nil
		}
		arr.Elems = append(arr.Elems, next)
	}
	return arr
}

func (p *Parser) parseLogical() *syntax.Node {
	left := p.parseComparison()
	for left != nil && p.at(lexer.DASHWORD) && isLogicalOp(p.cur().Text) {
		op := strings.ToLower(p.advance().Text)
		right := p.parseComparison()
		if right == nil {
			return nil
		}
		left = syntax.NewBinary(left, op, right)
	}
	return left
}

func (p *Parser) parseComparison() *syntax.Node {
	left := p.parseAdditive()
	for left != nil && p.at(lexer.DASHWORD) && isComparisonOp(p.cur().Text) {
		op := strings.ToLower(p.advance().Text)
		right := p.parseAdditive()
		if right == nil {
			return nil
		}
		left = syntax.NewBinary(left, op, right)
	}
	return left
}

func (p *Parser) parseAdditive() *syntax.Node {
	left := p.parseMultiplicative()
	for left != nil && (p.at(lexer.PLUS) || p.at(lexer.MINUS)) {
		op := p.advance().Text
		right := p.parseMultiplicative()
		if right == nil {
			return nil
		}
		left = syntax.NewBinary(left, op, right)
	}
	return left
}

func (p *Parser) parseMultiplicative() *syntax.Node {
	left := p.parseRange()
	for left != nil && (p.at(lexer.STAR) || p.at(lexer.SLASH) || p.at(lexer.PERCENT)) {
		op := p.advance().Text
		right := p.parseRange()
		if right == nil {
			return nil
		}
		left = syntax.NewBinary(left, op, right)
	}
	return left
}

func (p *Parser) parseRange() *syntax.Node {
	left := p.parseUnary()
	if left == nil || !p.at(lexer.DOTDOT) {
		return left
	}
	p.advance()
	right := p.parseUnary()
	if right == nil {
		return nil
	}
	return syntax.NewBinary(left, "..", right)
}

func (p *Parser) parseUnary() *syntax.Node {
	switch {
	case p.at(lexer.MINUS), p.at(lexer.PLUS), p.at(lexer.BANG):
		op := p.advance().Text
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindUnaryExpr, Op: op, Child: operand}
	case p.at(lexer.DASHWORD) && isUnaryOp(p.cur().Text):
		op := strings.ToLower(p.advance().Text)
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindUnaryExpr, Op: op, Child: operand}
	}
	return p.parsePostfix(p.parsePrimary())
}

// parsePostfix applies member access, member invocation and indexing to
// an already-parsed operand.
func (p *Parser) parsePostfix(n *syntax.Node) *syntax.Node {
	for n != nil {
		switch p.cur().Type {
		case lexer.DOT, lexer.COLONCOLON:
			static := p.at(lexer.COLONCOLON)
			p.advance()
			if !p.at(lexer.IDENT) {
				return nil
			}
			member := p.advance().Text
			if p.at(lexer.LPAREN) {
				p.advance()
				args, ok := p.parseExprList(lexer.RPAREN)
				if !ok {
					return nil
				}
				n = &syntax.Node{Kind: syntax.KindMemberInvoke, Target: n, Name: member, Static: static, Elems: args}
			} else {
				n = &syntax.Node{Kind: syntax.KindMemberAccess, Target: n, Name: member, Static: static}
			}
		case lexer.LBRACKET:
			p.advance()
			idx := p.parseExpr()
			if idx == nil {
				return nil
			}
			if _, ok := p.expect(lexer.RBRACKET, "index expression"); !ok {
				return nil
			}
			n = &syntax.Node{Kind: syntax.KindIndex, Target: n, Index: idx}
		default:
			return n
		}
	}
	return nil
}

// parseExprList parses a comma-separated expression list up to the given
// closing token, which is consumed.
func (p *Parser) parseExprList(until lexer.TokenType) ([]*syntax.Node, bool) {
	var args []*syntax.Node
	p.skipSeparators()
	if p.at(until) {
		p.advance()
		return args, true
	}
	for {
		arg := p.parseLogical()
		if arg == nil {
			return nil, false
		}
		args = append(args, arg)
		p.skipSeparators()
		if p.at(lexer.COMMA) {
			p.advance()
			p.skipSeparators()
			continue
		}
		if _, ok := p.expect(until, "argument list"); !ok {
			return nil, false
		}
		return args, true
	}
}

func (p *Parser) parsePrimary() *syntax.Node {
	switch p.cur().Type {
	case lexer.STRING:
		return stringNode(p.advance())

	case lexer.NUMBER:
		return p.parseNumber()

	case lexer.VARIABLE:
		tok := p.advance()
		switch strings.ToLower(tok.Text) {
		case "true":
			return syntax.NewBool(true)
		case "false":
			return syntax.NewBool(false)
		case "null":
			return &syntax.Node{Kind: syntax.KindNullLit}
		}
		return syntax.NewVariable(tok.Text)

	case lexer.LPAREN:
		p.advance()
		p.skipSeparators()
		var inner *syntax.Node
		if p.isAssignment() {
			// ($a = 5) assigns and yields the value.
			inner = p.parseAssignment()
		} else {
			inner = p.parsePipeline()
		}
		if inner == nil {
			return nil
		}
		p.skipSeparators()
		if _, ok := p.expect(lexer.RPAREN, "parenthesized expression"); !ok {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindParen, Child: inner}

	case lexer.DOLLARPAREN:
		p.advance()
		body := p.parseStatements(lexer.RPAREN)
		if _, ok := p.expect(lexer.RPAREN, "subexpression"); !ok {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindSubExpr, Body: body}

	case lexer.ATPAREN:
		p.advance()
		body := p.parseStatements(lexer.RPAREN)
		if _, ok := p.expect(lexer.RPAREN, "array subexpression"); !ok {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindArrayExpr, Body: body}

	case lexer.ATBRACE:
		return p.parseHashtable()

	case lexer.LBRACKET:
		return p.parseTypeLitOrCast()

	case lexer.LBRACE:
		p.advance()
		body := p.parseStatements(lexer.RBRACE)
		if _, ok := p.expect(lexer.RBRACE, "script block"); !ok {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindScriptBlok, Body: body}

	case lexer.IDENT:
		// Bareword in expression position (switch patterns, etc.)
		name := p.glueDotted()
		return &syntax.Node{Kind: syntax.KindStringLit, Value: name, Quote: syntax.Bareword, Text: name}
	}
	return nil
}

func (p *Parser) parseNumber() *syntax.Node {
	tok := p.advance()
	text := tok.Text
	// The long suffix only widens the literal; the representation here is
	// 64-bit regardless, so the suffix is dropped.
	if strings.HasSuffix(text, "l") || strings.HasSuffix(text, "L") {
		text = text[:len(text)-1]
	}
	if strings.Contains(text, ".") && !strings.HasPrefix(strings.ToLower(text), "0x") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil
		}
		return syntax.NewFloat(f)
	}
	i, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return nil
	}
	return syntax.NewInt(i)
}

func (p *Parser) parseHashtable() *syntax.Node {
	p.advance() // @{
	hash := &syntax.Node{Kind: syntax.KindHashLit}
	for {
		p.skipSeparators()
		if p.at(lexer.RBRACE) {
			p.advance()
			return hash
		}
		var key *syntax.Node
		switch p.cur().Type {
		case lexer.IDENT:
			key = syntax.NewString(p.advance().Text, syntax.Bareword)
		case lexer.STRING:
			key = stringNode(p.advance())
		case lexer.NUMBER:
			key = p.parseNumber()
		default:
			return nil
		}
		if key == nil {
			return nil
		}
		if _, ok := p.expect(lexer.ASSIGN, "hashtable entry"); !ok {
			return nil
		}
		value := p.parseLogical()
		if value == nil {
			return nil
		}
		hash.Elems = append(hash.Elems, &syntax.Node{Kind: syntax.KindHashEntry, Left: key, Right: value})
	}
}

// parseTypeLitOrCast parses [Type.Name] and, when a value follows,
// a cast expression [Type.Name]value.
func (p *Parser) parseTypeLitOrCast() *syntax.Node {
	p.advance() // [
	if !p.at(lexer.IDENT) {
		return nil
	}
	name := p.glueDotted()
	if p.at(lexer.LBRACKET) && p.peekAt(1).Type == lexer.RBRACKET {
		p.advance()
		p.advance()
		name += "[]"
	}
	if _, ok := p.expect(lexer.RBRACKET, "type literal"); !ok {
		return nil
	}
	lit := &syntax.Node{Kind: syntax.KindTypeLit, Name: name}

	switch p.cur().Type {
	case lexer.STRING, lexer.NUMBER, lexer.VARIABLE, lexer.LPAREN,
		lexer.DOLLARPAREN, lexer.ATPAREN, lexer.LBRACKET:
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &syntax.Node{Kind: syntax.KindCast, Name: name, Child: operand}
	}
	return lit
}

// Statement constructs.

func (p *Parser) parseCondition(context string) *syntax.Node {
	if _, ok := p.expect(lexer.LPAREN, context); !ok {
		return nil
	}
	p.skipSeparators()
	cond := p.parsePipeline()
	if cond == nil {
		return nil
	}
	p.skipSeparators()
	if _, ok := p.expect(lexer.RPAREN, context); !ok {
		return nil
	}
	return cond
}

func (p *Parser) parseBlock(context string) *syntax.Node {
	p.skipSeparators()
	if _, ok := p.expect(lexer.LBRACE, context); !ok {
		return nil
	}
	body := p.parseStatements(lexer.RBRACE)
	if _, ok := p.expect(lexer.RBRACE, context); !ok {
		return nil
	}
	return body
}

func (p *Parser) parseIf() *syntax.Node {
	p.advance() // if
	cond := p.parseCondition("if condition")
	if cond == nil {
		return nil
	}
	body := p.parseBlock("if body")
	if body == nil {
		return nil
	}
	node := &syntax.Node{Kind: syntax.KindIf, Cond: cond, Body: body}

	for {
		save := p.pos
		p.skipSeparators()
		switch {
		case keyword(p.cur(), "elseif"):
			p.advance()
			c := p.parseCondition("elseif condition")
			if c == nil {
				return nil
			}
			b := p.parseBlock("elseif body")
			if b == nil {
				return nil
			}
			node.Elems = append(node.Elems, &syntax.Node{Kind: syntax.KindElseIf, Cond: c, Body: b})
		case keyword(p.cur(), "else"):
			p.advance()
			b := p.parseBlock("else body")
			if b == nil {
				return nil
			}
			node.Alt = b
			return node
		default:
			p.pos = save
			return node
		}
	}
}

func (p *Parser) parseWhile() *syntax.Node {
	p.advance() // while
	cond := p.parseCondition("while condition")
	if cond == nil {
		return nil
	}
	body := p.parseBlock("while body")
	if body == nil {
		return nil
	}
	return &syntax.Node{Kind: syntax.KindWhile, Cond: cond, Body: body}
}

func (p *Parser) parseDo() *syntax.Node {
	p.advance() // do
	body := p.parseBlock("do body")
	if body == nil {
		return nil
	}
	p.skipSeparators()
	kind := syntax.KindDoWhile
	switch {
	case keyword(p.cur(), "while"):
	case keyword(p.cur(), "until"):
		kind = syntax.KindDoUntil
	default:
		err := ParseError{
			Position: p.cur().Position,
			Message:  "do body must be followed by while or until",
			Context:  "do loop",
			Got:      p.cur().Type,
		}
		if p.cur().Type == lexer.IDENT {
			err.Suggestion = suggestKeyword(p.cur().Text)
		}
		p.errors = append(p.errors, err)
		return nil
	}
	p.advance()
	cond := p.parseCondition("do loop condition")
	if cond == nil {
		return nil
	}
	return &syntax.Node{Kind: kind, Body: body, Cond: cond}
}

func (p *Parser) parseFor() *syntax.Node {
	p.advance() // for
	if _, ok := p.expect(lexer.LPAREN, "for clauses"); !ok {
		return nil
	}
	node := &syntax.Node{Kind: syntax.KindFor}

	if !p.at(lexer.SEMI) {
		if node.Init = p.parseStatementInner(); node.Init == nil {
			return nil
		}
	}
	if _, ok := p.expect(lexer.SEMI, "for clauses"); !ok {
		return nil
	}
	if !p.at(lexer.SEMI) {
		if node.Cond = p.parseExpr(); node.Cond == nil {
			return nil
		}
	}
	if _, ok := p.expect(lexer.SEMI, "for clauses"); !ok {
		return nil
	}
	if !p.at(lexer.RPAREN) {
		if node.Step = p.parseStatementInner(); node.Step == nil {
			return nil
		}
	}
	if _, ok := p.expect(lexer.RPAREN, "for clauses"); !ok {
		return nil
	}
	node.Body = p.parseBlock("for body")
	if node.Body == nil {
		return nil
	}
	return node
}

func (p *Parser) parseForEach() *syntax.Node {
	p.advance() // foreach
	if _, ok := p.expect(lexer.LPAREN, "foreach clause"); !ok {
		return nil
	}
	if !p.at(lexer.VARIABLE) {
		return nil
	}
	name := p.advance().Text
	if !keyword(p.cur(), "in") {
		return nil
	}
	p.advance()
	coll := p.parseExpr()
	if coll == nil {
		return nil
	}
	if _, ok := p.expect(lexer.RPAREN, "foreach clause"); !ok {
		return nil
	}
	body := p.parseBlock("foreach body")
	if body == nil {
		return nil
	}
	return &syntax.Node{Kind: syntax.KindForEach, Name: name, Child: coll, Body: body}
}

func (p *Parser) parseSwitch() *syntax.Node {
	p.advance() // switch
	node := &syntax.Node{Kind: syntax.KindSwitch}

	for p.at(lexer.DASHWORD) {
		switch strings.ToLower(p.advance().Text) {
		case "-regex":
			node.Flags |= syntax.SwitchRegex
		case "-wildcard":
			node.Flags |= syntax.SwitchWildcard
		case "-exact":
			node.Flags |= syntax.SwitchExact
		case "-casesensitive":
			node.Flags |= syntax.SwitchCaseSensitive
		case "-file":
			node.Flags |= syntax.SwitchFile
		default:
			return nil
		}
	}

	node.Cond = p.parseCondition("switch subject")
	if node.Cond == nil {
		return nil
	}
	p.skipSeparators()
	if _, ok := p.expect(lexer.LBRACE, "switch body"); !ok {
		return nil
	}
	for {
		p.skipSeparators()
		if p.at(lexer.RBRACE) {
			p.advance()
			return node
		}
		var pattern *syntax.Node
		if keyword(p.cur(), "default") {
			p.advance()
		} else {
			pattern = p.parsePostfix(p.parsePrimary())
			if pattern == nil {
				return nil
			}
		}
		body := p.parseBlock("switch clause")
		if body == nil {
			return nil
		}
		node.Elems = append(node.Elems, &syntax.Node{Kind: syntax.KindSwitchCase, Cond: pattern, Body: body})
	}
}

func (p *Parser) parseTry() *syntax.Node {
	p.advance() // try
	body := p.parseBlock("try body")
	if body == nil {
		return nil
	}
	node := &syntax.Node{Kind: syntax.KindTry, Body: body}

	for {
		save := p.pos
		p.skipSeparators()
		switch {
		case keyword(p.cur(), "catch"):
			p.advance()
			clause := &syntax.Node{Kind: syntax.KindCatch}
			for p.at(lexer.LBRACKET) {
				t := p.parseTypeLitOrCast()
				if t == nil || t.Kind != syntax.KindTypeLit {
					return nil
				}
				clause.Elems = append(clause.Elems, t)
				if p.at(lexer.COMMA) {
					p.advance()
				}
			}
			clause.Body = p.parseBlock("catch body")
			if clause.Body == nil {
				return nil
			}
			node.Elems = append(node.Elems, clause)
		case keyword(p.cur(), "finally"):
			p.advance()
			node.Alt = p.parseBlock("finally body")
			if node.Alt == nil {
				return nil
			}
			return node
		default:
			p.pos = save
			if len(node.Elems) == 0 && node.Alt == nil {
				// try with neither catch nor finally is not valid
				p.fatal("try statement requires catch or finally", "try statement")
				return nil
			}
			return node
		}
	}
}

func (p *Parser) parseFunction() *syntax.Node {
	p.advance() // function
	if !p.at(lexer.IDENT) {
		return nil
	}
	node := &syntax.Node{Kind: syntax.KindFunction, Name: p.glueDotted()}

	if p.at(lexer.LPAREN) {
		p.advance()
		params, ok := p.parseParams()
		if !ok {
			return nil
		}
		node.Elems = params
	}
	node.Body = p.parseBlock("function body")
	if node.Body == nil {
		return nil
	}
	// A leading param(...) statement declares the parameters instead.
	if len(node.Elems) == 0 && len(node.Body.Elems) > 0 {
		if first := node.Body.Elems[0]; first.Kind == syntax.KindParam && first.Name == "" {
			node.Elems = first.Elems
			node.Body.Elems = node.Body.Elems[1:]
		}
	}
	return node
}

// parseParamStatement parses a free-standing param(...) declaration; the
// function parser folds it into the enclosing definition.
func (p *Parser) parseParamStatement() *syntax.Node {
	p.advance() // param
	p.advance() // (
	params, ok := p.parseParams()
	if !ok {
		return nil
	}
	return &syntax.Node{Kind: syntax.KindParam, Elems: params}
}

// parseParams parses `$a, $b = default, ...` up to and including ')'.
func (p *Parser) parseParams() ([]*syntax.Node, bool) {
	var params []*syntax.Node
	for {
		p.skipSeparators()
		if p.at(lexer.RPAREN) {
			p.advance()
			return params, true
		}
		// Optional type constraint before the name
		if p.at(lexer.LBRACKET) {
			if t := p.parseTypeLitOrCast(); t == nil {
				return nil, false
			}
		}
		if !p.at(lexer.VARIABLE) {
			return nil, false
		}
		param := &syntax.Node{Kind: syntax.KindParam, Name: p.advance().Text}
		if p.at(lexer.ASSIGN) {
			p.advance()
			if param.Child = p.parseLogical(); param.Child == nil {
				return nil, false
			}
		}
		params = append(params, param)
		if p.at(lexer.COMMA) {
			p.advance()
		}
	}
}

// parseClass captures a class or enum definition verbatim; the engine
// never rewrites inside these.
func (p *Parser) parseClass() *syntax.Node {
	startTok := p.advance() // class / enum
	if !p.at(lexer.IDENT) {
		return nil
	}
	name := p.advance().Text
	for !p.at(lexer.LBRACE) {
		if p.at(lexer.EOF) || p.at(lexer.NEWLINE) {
			return nil
		}
		p.advance()
	}
	depth := 0
	var end int
	for {
		tok := p.advance()
		switch tok.Type {
		case lexer.LBRACE:
			depth++
		case lexer.RBRACE:
			depth--
			if depth == 0 {
				end = tok.End
				return &syntax.Node{
					Kind: syntax.KindClass,
					Name: name,
					Text: string(p.src[startTok.Position.Offset:end]),
				}
			}
		case lexer.EOF:
			p.fatal("unterminated definition body", "class definition")
			return nil
		}
	}
}

func (p *Parser) parseValuedStatement(kind syntax.Kind) *syntax.Node {
	p.advance() // return / throw
	node := &syntax.Node{Kind: kind}
	switch p.cur().Type {
	case lexer.NEWLINE, lexer.SEMI, lexer.RBRACE, lexer.EOF:
		return node
	}
	node.Child = p.parsePipeline()
	if node.Child == nil {
		return nil
	}
	return node
}

// Error recovery.

// captureStatement grabs the raw source of the statement at the current
// position, skipping tokens through the next top-level separator.
func (p *Parser) captureStatement() string {
	start := p.cur().Position.Offset
	end := p.syncStatement()
	if end <= start {
		return ""
	}
	return string(p.src[start:end])
}

// syncStatement advances past the current statement, honoring nesting, and
// returns the byte offset just past the last consumed token.
func (p *Parser) syncStatement() int {
	depth := 0
	end := p.cur().End
	for {
		switch p.cur().Type {
		case lexer.EOF:
			return end
		case lexer.LPAREN, lexer.LBRACE, lexer.LBRACKET, lexer.ATPAREN, lexer.ATBRACE, lexer.DOLLARPAREN:
			depth++
		case lexer.RPAREN, lexer.RBRACE, lexer.RBRACKET:
			if depth == 0 {
				return end
			}
			depth--
		case lexer.NEWLINE, lexer.SEMI:
			if depth == 0 {
				return end
			}
		}
		end = p.advance().End
	}
}

// Operator classification. The i/c prefixed spellings (case-insensitive /
// case-sensitive comparison variants) classify with their base operator.

func baseOp(word string) string {
	op := strings.ToLower(strings.TrimPrefix(word, "-"))
	if len(op) > 2 && (op[0] == 'i' || op[0] == 'c') {
		switch op[1:] {
		case "eq", "ne", "gt", "ge", "lt", "le", "like", "notlike",
			"match", "notmatch", "contains", "notcontains", "replace", "split", "join":
			return op[1:]
		}
	}
	return op
}

func isLogicalOp(word string) bool {
	switch baseOp(word) {
	case "and", "or", "xor":
		return true
	}
	return false
}

func isComparisonOp(word string) bool {
	switch baseOp(word) {
	case "eq", "ne", "gt", "ge", "lt", "le", "like", "notlike",
		"match", "notmatch", "contains", "notcontains", "in", "notin",
		"replace", "split", "join", "f", "band", "bor", "bxor", "shl", "shr",
		"as", "is", "isnot":
		return true
	}
	return false
}

func isUnaryOp(word string) bool {
	switch baseOp(word) {
	case "not", "bnot", "join", "split":
		return true
	}
	return false
}
