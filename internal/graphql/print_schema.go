package graphql

import (
	"bytes"
	"io"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// PrintSchema writes schema as SDL, built-ins left out. With sorted, every type,
// field, argument, enum value and directive is printed in lexicographic order so
// two schemas can be diffed. schema itself is not modified.
func PrintSchema(w io.Writer, schema *ast.Schema, sorted bool) error {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(schema)
	if !sorted {
		_, err := io.Copy(w, &buf)
		return err
	}

	doc, err := parser.ParseSchema(&ast.Source{Name: "schema.graphqls", Input: buf.String()})
	if err != nil {
		return err
	}
	LexicographicSortSchemaDocument(doc)
	formatter.NewFormatter(w).FormatSchemaDocument(doc)
	return nil
}

// LexicographicSortSchemaDocument sorts doc in place.
func LexicographicSortSchemaDocument(doc *ast.SchemaDocument) {
	sortArgumentList := func(args ast.ArgumentList) {
		sort.Slice(args, func(i, j int) bool {
			return args[i].Name < args[j].Name
		})
	}
	sortDirectiveList := func(directives ast.DirectiveList) {
		sort.SliceStable(directives, func(i, j int) bool {
			return directives[i].Name < directives[j].Name
		})

		for _, directive := range directives {
			sortArgumentList(directive.Arguments)
		}
	}
	sortArgumentDefinitionList := func(argDefs ast.ArgumentDefinitionList) {
		sort.Slice(argDefs, func(i, j int) bool {
			return argDefs[i].Name < argDefs[j].Name
		})

		for _, argDef := range argDefs {
			sortDirectiveList(argDef.Directives)
		}
	}
	sortFieldList := func(fields ast.FieldList) {
		sort.Slice(fields, func(i, j int) bool {
			return fields[i].Name < fields[j].Name
		})

		for _, field := range fields {
			sortArgumentDefinitionList(field.Arguments)
			sortDirectiveList(field.Directives)
		}
	}
	sortEnumValueList := func(enumValues ast.EnumValueList) {
		sort.Slice(enumValues, func(i, j int) bool {
			return enumValues[i].Name < enumValues[j].Name
		})

		for _, enumValue := range enumValues {
			sortDirectiveList(enumValue.Directives)
		}
	}
	sortDefinitionList := func(defs ast.DefinitionList) {
		sort.Slice(defs, func(i, j int) bool {
			return defs[i].Name < defs[j].Name
		})

		for _, def := range defs {
			sortDirectiveList(def.Directives)
			sort.Strings(def.Interfaces)
			sortFieldList(def.Fields)
			sort.Strings(def.Types)
			sortEnumValueList(def.EnumValues)
		}
	}

	sortDefinitionList(doc.Definitions)
	sortDefinitionList(doc.Extensions)
	sort.Slice(doc.Directives, func(i, j int) bool {
		return doc.Directives[i].Name < doc.Directives[j].Name
	})
	for _, directive := range doc.Directives {
		sortArgumentDefinitionList(directive.Arguments)
	}
}
