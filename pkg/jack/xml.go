package jack

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	pc "github.com/prataprc/goparsec"
)

// ----------------------------------------------------------------------------
// XML parse-tree dump

// DumpXML parses 'source' and writes a pretty-printed XML rendering of the raw
// parse tree to 'w': every leaf becomes '<tag> lexeme </tag>' with the lexeme
// XML-escaped, every other node becomes a wrapping element. This walks the
// parser's own AST (not the typed 'Class' produced by FromAST) so that every
// terminal survives the dump, brackets and separators included, which is what
// makes the result useful for round-tripping through an external grammar
// validator.
func DumpXML(source io.Reader, w io.Writer) error {
	content, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("cannot read source: %w", err)
	}

	parser := NewParser(nil)
	root, success := parser.FromSource(content)
	if !success {
		return fmt.Errorf("failed to parse AST from input content")
	}

	bw := bufio.NewWriter(w)
	writeNode(bw, root, 0)
	return bw.Flush()
}

// writeNode recurses depth-first over the parse tree. A node with no children
// is a terminal (its GetValue() holds the matched lexeme); any other node is a
// non-terminal wrapping whatever matched beneath it.
func writeNode(w *bufio.Writer, node pc.Queryable, depth int) {
	tag := xmlTag(node.GetName())
	indent := strings.Repeat("  ", depth)

	children := node.GetChildren()
	if len(children) == 0 {
		fmt.Fprintf(w, "%s<%s> %s </%s>\n", indent, tag, escapeXML(node.GetValue()), tag)
		return
	}

	fmt.Fprintf(w, "%s<%s>\n", indent, tag)
	for _, child := range children {
		writeNode(w, child, depth+1)
	}
	fmt.Fprintf(w, "%s</%s>\n", indent, tag)
}

// xmlTag renames the parser's internal node names to the vocabulary used by
// the grammar: most non-terminals line up one-to-one, a handful of 'term'
// alternatives (OrdChoice is transparent, so no single 'term' node ever
// materializes in the tree) are renamed to their own descriptive tag instead.
func xmlTag(name string) string {
	switch name {
	case "class_decl":
		return "class"
	case "class_var_dec":
		return "classVarDec"
	case "subroutine_dec":
		return "subroutineDec"
	case "param_list":
		return "parameterList"
	case "subroutine_body":
		return "subroutineBody"
	case "var_dec":
		return "varDec"
	case "let_stmt":
		return "letStatement"
	case "if_stmt":
		return "ifStatement"
	case "while_stmt":
		return "whileStatement"
	case "do_stmt":
		return "doStatement"
	case "return_stmt":
		return "returnStatement"
	case "expr":
		return "expression"
	case "expr_list":
		return "expressionList"
	case "sub_call":
		return "subroutineCall"
	case "int_lit":
		return "integerConstant"
	case "string_lit":
		return "stringConstant"
	case "keyword_lit":
		return "keywordConstant"
	case "var_term":
		return "identifier"
	default:
		return name
	}
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}
