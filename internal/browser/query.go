// internal/browser/query.go
package browser

import (
	"fmt"
	"strings"
)

// QueryKind tells the driver how to interpret a selector expression.
type QueryKind int

const (
	CSS QueryKind = iota
	XPath
)

func (k QueryKind) String() string {
	if k == XPath {
		return "xpath"
	}
	return "css"
}

// Query is a parsed selector ready to be handed to a Page.
type Query struct {
	Kind QueryKind
	Expr string
}

func (q Query) String() string {
	return q.Kind.String() + "=" + q.Expr
}

// ParseSelector turns a raw selector string into a Query.
//
// Supported forms:
//
//	css=<expr> or a bare expression   CSS selector
//	xpath=<expr> or //<expr>          XPath expression
//	text=<literal>                    visible element whose own text contains literal
func ParseSelector(raw string) (Query, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Query{}, fmt.Errorf("empty selector")
	}

	switch {
	case strings.HasPrefix(s, "xpath="):
		return nonEmpty(Query{Kind: XPath, Expr: strings.TrimSpace(strings.TrimPrefix(s, "xpath="))}, raw)
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//"):
		return Query{Kind: XPath, Expr: s}, nil
	case strings.HasPrefix(s, "text="):
		text := strings.TrimSpace(strings.TrimPrefix(s, "text="))
		if text == "" {
			return Query{}, fmt.Errorf("selector %q has an empty text literal", raw)
		}
		return TextQuery(text), nil
	case strings.HasPrefix(s, "css="):
		return nonEmpty(Query{Kind: CSS, Expr: strings.TrimSpace(strings.TrimPrefix(s, "css="))}, raw)
	default:
		return Query{Kind: CSS, Expr: s}, nil
	}
}

// MustParseSelector is ParseSelector for compile-time constants.
func MustParseSelector(raw string) Query {
	q, err := ParseSelector(raw)
	if err != nil {
		panic(err)
	}
	return q
}

// TextQuery matches any element, except script and style, whose own text
// nodes contain text after whitespace normalization.
func TextQuery(text string) Query {
	return Query{
		Kind: XPath,
		Expr: fmt.Sprintf("//*[not(self::script) and not(self::style)][text()[contains(normalize-space(.), %s)]]", xpathLiteral(text)),
	}
}

// Within scopes q to descendants of the element matched by scope. Only
// queries of the same kind can be combined.
func (q Query) Within(scope Query) (Query, bool) {
	if q.Kind != scope.Kind {
		return Query{}, false
	}
	if q.Kind == CSS {
		return Query{Kind: CSS, Expr: scope.Expr + " " + q.Expr}, true
	}
	expr := q.Expr
	if !strings.HasPrefix(expr, "/") {
		expr = "//" + expr
	}
	return Query{Kind: XPath, Expr: "(" + scope.Expr + ")[1]" + expr}, true
}

func nonEmpty(q Query, raw string) (Query, error) {
	if q.Expr == "" {
		return Query{}, fmt.Errorf("selector %q has an empty expression", raw)
	}
	return q, nil
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
