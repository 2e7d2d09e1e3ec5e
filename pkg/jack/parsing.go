package jack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	pc "github.com/prataprc/goparsec"

	"github.com/hmny-jack/toolchain/pkg/token"
)

// ----------------------------------------------------------------------------
// Parser Combinator(s)

// This section defines the Parser Combinator for every grammar production of the Jack language.
//
// Each parser combinator either manages a construct (class, subroutine, statement, expression, ...)
// or some piece of it (identifiers, literals, operators). Comments are stripped ahead of time by
// 'pkg/token.Lexer' (see FromSource below), so unlike the Vm and Asm grammars this one never needs
// to interleave a comment alternative between every pair of tokens.

// Top level object, will generate the traversable AST based on the input plus the PCs below.
var ast = pc.NewAST("jack_program", 0)

// Forward declarations breaking the mutual recursion between 'expr' <-> 'term' and between
// 'statements' <-> 'if_stmt'/'while_stmt'. Each 'xRef' trampoline just calls through to 'xFwd',
// which is only assigned its real value in init() once every combinator below has been built;
// by the time anything actually invokes 'xRef' (i.e. at parse time) 'xFwd' already holds it.
var (
	pExprFwd       pc.Parser
	pTermFwd       pc.Parser
	pStatementsFwd pc.Parser
)

func pExprRef(s pc.Scanner) (pc.ParsecNode, pc.Scanner)       { return pExprFwd(s) }
func pTermRef(s pc.Scanner) (pc.ParsecNode, pc.Scanner)       { return pTermFwd(s) }
func pStatementsRef(s pc.Scanner) (pc.ParsecNode, pc.Scanner) { return pStatementsFwd(s) }

func init() {
	pExprFwd = pExpr
	pTermFwd = pTerm
	pStatementsFwd = pStatements
}

var (
	// Generic identifier parser, used for class/subroutine/variable names alike.
	pIdent = pc.Token(`[A-Za-z_][0-9a-zA-Z_]*`, "IDENT")

	pDot       = pc.Atom(".", "DOT")
	pSemi      = pc.Atom(";", "SEMI")
	pComma     = pc.Atom(",", "COMMA")
	pEquals    = pc.Atom("=", "EQUALS")
	pLBrace    = pc.Atom("{", "LBRACE")
	pRBrace    = pc.Atom("}", "RBRACE")
	pLParen    = pc.Atom("(", "LPAREN")
	pRParen    = pc.Atom(")", "RPAREN")
	pLBracket  = pc.Atom("[", "LBRACKET")
	pRBracket  = pc.Atom("]", "RBRACKET")
)

var (
	pType = ast.OrdChoice("type", nil,
		pc.Atom("int", "INT"), pc.Atom("char", "CHAR"), pc.Atom("boolean", "BOOLEAN"), pIdent,
	)
	pReturnType = ast.OrdChoice("return_type", nil, pc.Atom("void", "VOID"), pType)

	pStaticOrField   = ast.OrdChoice("static_or_field", nil, pc.Atom("static", "STATIC"), pc.Atom("field", "FIELD"))
	pSubroutineKind  = ast.OrdChoice("subroutine_kind", nil,
		pc.Atom("constructor", "CONSTRUCTOR"), pc.Atom("function", "FUNCTION"), pc.Atom("method", "METHOD"),
	)
)

var (
	// class: 'class' className '{' classVarDec* subroutineDec* '}'
	pClassDecl = ast.And("class_decl", nil,
		pc.Atom("class", "CLASS"), pIdent, pLBrace,
		ast.Kleene("class_var_decs", nil, pClassVarDec),
		ast.Kleene("subroutine_decs", nil, pSubroutineDec),
		pRBrace,
	)

	// classVarDec: ('static'|'field') type varName (',' varName)* ';'
	pClassVarDec = ast.And("class_var_dec", nil,
		pStaticOrField, pType, pIdent, ast.Kleene("more_vars", nil, ast.And("more_var", nil, pComma, pIdent)), pSemi,
	)

	// subroutineDec: ('constructor'|'function'|'method') ('void'|type) subroutineName
	//                '(' parameterList ')' subroutineBody
	pSubroutineDec = ast.And("subroutine_dec", nil,
		pSubroutineKind, pReturnType, pIdent,
		pLParen, pParamList, pRParen,
		pSubroutineBody,
	)

	// parameterList: ((type varName) (',' type varName)*)?
	pParamList = ast.Kleene("param_list", nil, ast.And("param", nil, pType, pIdent), pComma)

	// subroutineBody: '{' varDec* statements '}'
	pSubroutineBody = ast.And("subroutine_body", nil,
		pLBrace, ast.Kleene("var_decs", nil, pVarDec), pStatementsRef, pRBrace,
	)

	// varDec: 'var' type varName (',' varName)* ';'
	pVarDec = ast.And("var_dec", nil,
		pc.Atom("var", "VAR"), pType, pIdent, ast.Kleene("more_vars", nil, ast.And("more_var", nil, pComma, pIdent)), pSemi,
	)
)

var (
	// statements: statement*
	pStatements = ast.Kleene("statements", nil, pStatement)

	// statement: letStatement | ifStatement | whileStatement | doStatement | returnStatement
	pStatement = ast.OrdChoice("statement", nil, pLetStmt, pIfStmt, pWhileStmt, pDoStmt, pReturnStmt)

	// letStatement: 'let' varName ('[' expression ']')? '=' expression ';'
	pLetStmt = ast.And("let_stmt", nil,
		pc.Atom("let", "LET"), pIdent,
		ast.Maybe("maybe_index", nil, ast.And("index", nil, pLBracket, pExprRef, pRBracket)),
		pEquals, pExprRef, pSemi,
	)

	// ifStatement: 'if' '(' expression ')' '{' statements '}' ('else' '{' statements '}')?
	pIfStmt = ast.And("if_stmt", nil,
		pc.Atom("if", "IF"), pLParen, pExprRef, pRParen, pLBrace, pStatementsRef, pRBrace,
		ast.Maybe("maybe_else", nil, ast.And("else_block", nil, pc.Atom("else", "ELSE"), pLBrace, pStatementsRef, pRBrace)),
	)

	// whileStatement: 'while' '(' expression ')' '{' statements '}'
	pWhileStmt = ast.And("while_stmt", nil,
		pc.Atom("while", "WHILE"), pLParen, pExprRef, pRParen, pLBrace, pStatementsRef, pRBrace,
	)

	// doStatement: 'do' subroutineCall ';'
	pDoStmt = ast.And("do_stmt", nil, pc.Atom("do", "DO"), pSubroutineCall, pSemi)

	// returnStatement: 'return' expression? ';'
	pReturnStmt = ast.And("return_stmt", nil, pc.Atom("return", "RETURN"), ast.Maybe("maybe_expr", nil, pExprRef), pSemi)

	// subroutineCall: subroutineName '(' expressionList ')' | (className|varName) '.' subroutineName '(' expressionList ')'
	pSubroutineCall = ast.OrdChoice("sub_call_choice", nil,
		ast.And("sub_call", nil, pIdent, pDot, pIdent, pLParen, pExprList, pRParen),
		ast.And("sub_call", nil, pIdent, pLParen, pExprList, pRParen),
	)

	// expressionList: (expression (',' expression)*)?
	pExprList = ast.Kleene("expr_list", nil, pExprRef, pComma)
)

var (
	// expression: term (op term)*
	pExpr = ast.And("expr", nil, pTermRef, ast.Kleene("expr_rest", nil, ast.And("bin_op_term", nil, pBinOp, pTermRef)))

	pBinOp = ast.OrdChoice("bin_op", nil,
		pc.Atom("+", "PLUS"), pc.Atom("-", "MINUS"), pc.Atom("*", "STAR"), pc.Atom("/", "SLASH"),
		pc.Atom("&", "AMP"), pc.Atom("|", "PIPE"), pc.Atom("<", "LESS"), pc.Atom(">", "GREATER"), pc.Atom("=", "EQ"),
	)

	// term: intConst | stringConst | keywordConst | subroutineCall | varName'['expr']' | varName |
	//       '(' expr ')' | unaryOp term
	//
	// Order matters: subroutineCall and array access must be tried before a bare varName, since a
	// bare identifier is always a (shorter) prefix match of either; keyword constants must be tried
	// before anything identifier-shaped since 'true'/'this'/... are themselves valid identifiers here.
	pTerm = ast.OrdChoice("term_choice", nil,
		pIntLit, pStringLit, pKeywordLit, pSubroutineCall, pArrayTerm, pVarTerm, pParenTerm, pUnaryTerm,
	)

	pIntLit    = ast.And("int_lit", nil, pc.Int())
	pStringLit = ast.And("string_lit", nil, pc.Token(`"(?:\\.|[^"\\])*"`, "STRING"))
	pKeywordLit = ast.And("keyword_lit", nil, ast.OrdChoice("kw", nil,
		pc.Atom("true", "TRUE"), pc.Atom("false", "FALSE"), pc.Atom("null", "NULL"), pc.Atom("this", "THIS"),
	))
	pArrayTerm = ast.And("array_term", nil, pIdent, pLBracket, pExprRef, pRBracket)
	pVarTerm   = ast.And("var_term", nil, pIdent)
	pParenTerm = ast.And("paren_term", nil, pLParen, pExprRef, pRParen)
	pUnaryTerm = ast.And("unary_term", nil, pUnaryOp, pTermRef)
	pUnaryOp   = ast.OrdChoice("unary_op", nil, pc.Atom("-", "NEG"), pc.Atom("~", "NOT"))
)

// ----------------------------------------------------------------------------
// Jack Parser

// This section defines the Parser for the nand2tetris Jack language.
//
// It uses parser combinators to obtain the AST from the source code (the latter can be provided)
// in multiple ways using a generic io.Reader, the library reads up the feature flags (as env vars):
// - PARSEC_DEBUG: Verbose logging to inspect which of the PCs gets triggered and match
// - EXPORT_AST:   Exports in the DEBUG_FOLDER a Graphviz representation of the AST
// - PRINT_AST:    Print on the stdout a textual representation of the AST
type Parser struct{ reader io.Reader }

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the argument io.Reader 'r' to be valid and usable.
func NewParser(r io.Reader) Parser {
	return Parser{reader: r}
}

// Parser entrypoint divides the 3 phases of the parsing pipeline
// Text --> Tokens: 'pkg/token.Lexer' strips comments and classifies every lexeme
// Tokens --> AST: goparsec re-tokenizes the reconstituted token stream into a traversable AST
// AST --> IR: the AST is walked and turned into a 'jack.Class'
func (p *Parser) Parse() (Class, error) {
	content, err := io.ReadAll(p.reader)
	if err != nil {
		return Class{}, fmt.Errorf("cannot read from 'io.Reader': %s", err)
	}

	tree, success := p.FromSource(content)
	if !success {
		return Class{}, fmt.Errorf("failed to parse AST from input content")
	}

	return p.FromAST(tree)
}

// FromSource tokenizes 'source' with 'pkg/token.Lexer' (stripping comments along the way), then
// reconstitutes a space-separated token stream and scans that into a traversable AST.
func (p *Parser) FromSource(source []byte) (pc.Queryable, bool) {
	lexer, err := token.NewLexer(bytes.NewReader(source))
	if err != nil {
		return nil, false
	}
	tokens, err := lexer.Lex()
	if err != nil {
		return nil, false
	}

	// Feature flag: Enable 'goparsec' library's debug logs
	if os.Getenv("PARSEC_DEBUG") != "" {
		ast.SetDebug()
	}

	root, _ := ast.Parsewith(pClassDecl, pc.NewScanner([]byte(reconstitute(tokens))))

	// Feature flag: Enables export of the AST as Dot file (debug.ast.dot)
	if os.Getenv("EXPORT_AST") != "" {
		file, _ := os.Create(fmt.Sprintf("%s/debug.ast.dot", os.Getenv("DEBUG_FOLDER")))
		defer file.Close()

		file.Write([]byte(ast.Dotstring("\"Jack AST\"")))
	}

	// Feature flag: Enables pretty printing of the AST on the console
	if os.Getenv("PRINT_AST") != "" {
		ast.Prettyprint()
	}

	return root, root != nil
}

// reconstitute joins a token stream back into source text goparsec can re-scan, re-quoting string
// constants (the Lexer strips their surrounding quotes, goparsec's STRING token expects them back).
func reconstitute(tokens []token.Token) string {
	var sb strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if tok.Kind == token.StringConst {
			sb.WriteByte('"')
			sb.WriteString(tok.Lexeme)
			sb.WriteByte('"')
		} else {
			sb.WriteString(tok.Lexeme)
		}
	}
	return sb.String()
}

// FromAST takes the root node of the raw parsed AST and walks it, building the in-memory,
// parser-library-independent 'jack.Class' representation.
func (p *Parser) FromAST(root pc.Queryable) (Class, error) {
	if root.GetName() != "class_decl" {
		return Class{}, fmt.Errorf("expected node 'class_decl', found %s", root.GetName())
	}

	children := root.GetChildren()
	class := Class{Name: children[1].GetValue()}

	for _, varDec := range children[3].GetChildren() {
		fields, err := classVarDecFromNode(varDec)
		if err != nil {
			return Class{}, err
		}
		class.Fields = append(class.Fields, fields...)
	}

	for _, subDec := range children[4].GetChildren() {
		sub, err := subroutineDecFromNode(subDec)
		if err != nil {
			return Class{}, err
		}
		class.Subroutines = append(class.Subroutines, sub)
	}

	return class, nil
}

func classVarDecFromNode(node pc.Queryable) ([]Variable, error) {
	if node.GetName() != "class_var_dec" {
		return nil, fmt.Errorf("expected node 'class_var_dec', found %s", node.GetName())
	}
	children := node.GetChildren()

	kind := VarKind(children[0].GetValue())
	dataType := dataTypeFromNode(children[1])

	names := []string{children[2].GetValue()}
	for _, more := range children[3].GetChildren() {
		names = append(names, more.GetChildren()[1].GetValue())
	}

	vars := make([]Variable, 0, len(names))
	for _, name := range names {
		vars = append(vars, Variable{Name: name, Kind: kind, Type: dataType})
	}
	return vars, nil
}

func subroutineDecFromNode(node pc.Queryable) (Subroutine, error) {
	if node.GetName() != "subroutine_dec" {
		return Subroutine{}, fmt.Errorf("expected node 'subroutine_dec', found %s", node.GetName())
	}
	children := node.GetChildren()

	sub := Subroutine{
		Kind:   SubroutineKind(children[0].GetValue()),
		Return: dataTypeFromNode(children[1]),
		Name:   children[2].GetValue(),
	}

	for _, param := range children[4].GetChildren() {
		pchildren := param.GetChildren()
		sub.Arguments = append(sub.Arguments, Variable{
			Type: dataTypeFromNode(pchildren[0]), Name: pchildren[1].GetValue(), Kind: Parameter,
		})
	}

	body := children[6]
	if body.GetName() != "subroutine_body" {
		return Subroutine{}, fmt.Errorf("expected node 'subroutine_body', found %s", body.GetName())
	}
	bodyChildren := body.GetChildren()

	for _, varDec := range bodyChildren[1].GetChildren() {
		locals, err := varDecFromNode(varDec)
		if err != nil {
			return Subroutine{}, err
		}
		sub.Locals = append(sub.Locals, locals...)
	}

	statements, err := statementsFromNode(bodyChildren[2])
	if err != nil {
		return Subroutine{}, err
	}
	sub.Statements = statements

	return sub, nil
}

func varDecFromNode(node pc.Queryable) ([]Variable, error) {
	if node.GetName() != "var_dec" {
		return nil, fmt.Errorf("expected node 'var_dec', found %s", node.GetName())
	}
	children := node.GetChildren()

	dataType := dataTypeFromNode(children[1])
	names := []string{children[2].GetValue()}
	for _, more := range children[3].GetChildren() {
		names = append(names, more.GetChildren()[1].GetValue())
	}

	vars := make([]Variable, 0, len(names))
	for _, name := range names {
		vars = append(vars, Variable{Name: name, Kind: Local, Type: dataType})
	}
	return vars, nil
}

func statementsFromNode(node pc.Queryable) ([]Statement, error) {
	if node.GetName() != "statements" {
		return nil, fmt.Errorf("expected node 'statements', found %s", node.GetName())
	}

	statements := make([]Statement, 0, len(node.GetChildren()))
	for _, child := range node.GetChildren() {
		stmt, err := statementFromNode(child)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func statementFromNode(node pc.Queryable) (Statement, error) {
	switch node.GetName() {
	case "let_stmt":
		return letStmtFromNode(node)
	case "if_stmt":
		return ifStmtFromNode(node)
	case "while_stmt":
		return whileStmtFromNode(node)
	case "do_stmt":
		return doStmtFromNode(node)
	case "return_stmt":
		return returnStmtFromNode(node)
	default:
		return nil, fmt.Errorf("unrecognized statement node '%s'", node.GetName())
	}
}

func letStmtFromNode(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	stmt := LetStmt{VarName: children[1].GetValue()}

	if maybeIndex := children[2]; maybeIndex.GetName() == "index" {
		idx, err := exprFromNode(maybeIndex.GetChildren()[1])
		if err != nil {
			return nil, err
		}
		stmt.Index = idx
	}

	value, err := exprFromNode(children[4])
	if err != nil {
		return nil, err
	}
	stmt.Value = value
	return stmt, nil
}

func ifStmtFromNode(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	cond, err := exprFromNode(children[2])
	if err != nil {
		return nil, err
	}
	then, err := statementsFromNode(children[5])
	if err != nil {
		return nil, err
	}

	stmt := IfStmt{Condition: cond, Then: then}
	if maybeElse := children[7]; maybeElse.GetName() == "else_block" {
		elseStmts, err := statementsFromNode(maybeElse.GetChildren()[2])
		if err != nil {
			return nil, err
		}
		stmt.Else = elseStmts
	}
	return stmt, nil
}

func whileStmtFromNode(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	cond, err := exprFromNode(children[2])
	if err != nil {
		return nil, err
	}
	body, err := statementsFromNode(children[5])
	if err != nil {
		return nil, err
	}
	return WhileStmt{Condition: cond, Body: body}, nil
}

func doStmtFromNode(node pc.Queryable) (Statement, error) {
	call, err := subCallFromNode(node.GetChildren()[1])
	if err != nil {
		return nil, err
	}
	return DoStmt{Call: call}, nil
}

func returnStmtFromNode(node pc.Queryable) (Statement, error) {
	maybeExpr := node.GetChildren()[1]
	if maybeExpr.GetName() != "expr" {
		return ReturnStmt{}, nil
	}

	value, err := exprFromNode(maybeExpr)
	if err != nil {
		return nil, err
	}
	return ReturnStmt{Value: value}, nil
}

func subCallFromNode(node pc.Queryable) (CallExpr, error) {
	if node.GetName() != "sub_call" {
		return CallExpr{}, fmt.Errorf("expected node 'sub_call', found %s", node.GetName())
	}
	children := node.GetChildren()

	var call CallExpr
	var exprListNode pc.Queryable

	if len(children) == 6 { // receiver '.' method '(' args ')'
		call = CallExpr{IsQualified: true, Receiver: children[0].GetValue(), Method: children[2].GetValue()}
		exprListNode = children[4]
	} else { // method '(' args ')'
		call = CallExpr{Method: children[0].GetValue()}
		exprListNode = children[2]
	}

	args, err := exprListFromNode(exprListNode)
	if err != nil {
		return CallExpr{}, err
	}
	call.Args = args
	return call, nil
}

func exprListFromNode(node pc.Queryable) ([]Expression, error) {
	if node.GetName() != "expr_list" {
		return nil, fmt.Errorf("expected node 'expr_list', found %s", node.GetName())
	}

	exprs := make([]Expression, 0, len(node.GetChildren()))
	for _, child := range node.GetChildren() {
		expr, err := exprFromNode(child)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func exprFromNode(node pc.Queryable) (Expression, error) {
	if node.GetName() != "expr" {
		return nil, fmt.Errorf("expected node 'expr', found %s", node.GetName())
	}
	children := node.GetChildren()

	left, err := termFromNode(children[0])
	if err != nil {
		return nil, err
	}

	for _, rest := range children[1].GetChildren() {
		restChildren := rest.GetChildren()
		op := restChildren[0].GetValue()[0]
		right, err := termFromNode(restChildren[1])
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func termFromNode(node pc.Queryable) (Expression, error) {
	switch node.GetName() {
	case "int_lit":
		value, err := strconv.ParseUint(node.GetChildren()[0].GetValue(), 10, 15) // 0..32767
		if err != nil {
			return nil, fmt.Errorf("integer constant out of range: %s", node.GetChildren()[0].GetValue())
		}
		return IntLiteral{Value: uint16(value)}, nil

	case "string_lit":
		raw := node.GetChildren()[0].GetValue()
		return StringLiteral{Value: strings.Trim(raw, `"`)}, nil

	case "keyword_lit":
		return KeywordLiteral{Keyword: node.GetChildren()[0].GetValue()}, nil

	case "sub_call":
		return subCallFromNode(node)

	case "array_term":
		children := node.GetChildren()
		idx, err := exprFromNode(children[2])
		if err != nil {
			return nil, err
		}
		return ArrayExpr{Name: children[0].GetValue(), Index: idx}, nil

	case "var_term":
		return VarExpr{Name: node.GetChildren()[0].GetValue()}, nil

	case "paren_term":
		return exprFromNode(node.GetChildren()[1])

	case "unary_term":
		children := node.GetChildren()
		operand, err := termFromNode(children[1])
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: children[0].GetValue()[0], Operand: operand}, nil

	default:
		return nil, fmt.Errorf("unrecognized term node '%s'", node.GetName())
	}
}

func dataTypeFromNode(node pc.Queryable) DataType {
	return dataTypeFromString(node.GetValue())
}

func dataTypeFromString(s string) DataType {
	switch s {
	case "int":
		return DataType{Base: IntType}
	case "char":
		return DataType{Base: CharType}
	case "boolean":
		return DataType{Base: BooleanType}
	case "void":
		return DataType{Base: VoidType}
	default:
		return DataType{Base: ObjectType, ClassName: s}
	}
}
