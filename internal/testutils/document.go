package testutils

import (
	"bytes"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

func LoadSchema(t TestingT, sdl string) *ast.Schema {
	t.Helper()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphqls", Input: sdl})
	if err != nil {
		t.Fatal(err)
	}
	return schema
}

// ParseQuery parses query without validating it.
func ParseQuery(t TestingT, query string) *ast.QueryDocument {
	t.Helper()

	doc, err := parser.ParseQuery(&ast.Source{Name: "query.graphql", Input: query})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func FormatDocument(doc *ast.QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// CheckDocument compares doc with expect after formatting both the same way.
func CheckDocument(t TestingT, expect string, doc *ast.QueryDocument) {
	t.Helper()

	CheckText(t, FormatDocument(ParseQuery(t, expect)), FormatDocument(doc))
}
