package stitch

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vvakame/stitchway/internal/delegate"
)

// TransformSchema returns schema as seen through the schema transforms among transforms,
// applied in declared order. schema itself is returned when none of them changes schemas.
func TransformSchema(schema *ast.Schema, transforms []delegate.Transform) (*ast.Schema, error) {
	var schemaTransformers []delegate.SchemaTransformer
	for _, transform := range transforms {
		if st, ok := transform.(delegate.SchemaTransformer); ok {
			schemaTransformers = append(schemaTransformers, st)
		}
	}
	if len(schemaTransformers) == 0 {
		return schema, nil
	}

	doc, err := schemaDocument(schema)
	if err != nil {
		return nil, err
	}
	for _, st := range schemaTransformers {
		doc, err = st.TransformSchema(doc)
		if err != nil {
			return nil, &delegate.TransformError{Transform: st.TransformName(), Err: err}
		}
	}

	return LoadSchemaDocument("view.graphqls", doc)
}

// MergeSchemas builds one schema out of the views of every subschema.
// Types are the union of all types, fields of the same type are the union of all
// fields. When subschemas disagree, the first one declared wins.
func MergeSchemas(views ...*ast.Schema) (*ast.Schema, error) {
	merged := &ast.SchemaDocument{}
	definitions := make(map[string]*ast.Definition)
	directives := make(map[string]bool)

	for _, view := range views {
		doc, err := schemaDocument(view)
		if err != nil {
			return nil, err
		}

		rootNames := make(map[string]string)
		for _, schemaDef := range doc.Schema {
			for _, operationType := range schemaDef.OperationTypes {
				rootNames[operationType.Type] = rootTypeName(operationType.Operation)
			}
		}

		for _, directive := range doc.Directives {
			if directives[directive.Name] {
				continue
			}
			directives[directive.Name] = true
			merged.Directives = append(merged.Directives, directive)
		}

		for _, def := range doc.Definitions {
			if rootName, ok := rootNames[def.Name]; ok {
				def.Name = rootName
			}

			existing, ok := definitions[def.Name]
			if !ok {
				definitions[def.Name] = def
				merged.Definitions = append(merged.Definitions, def)
				continue
			}
			if existing.Kind != def.Kind {
				return nil, fmt.Errorf("type %s is a %s and a %s", def.Name, existing.Kind, def.Kind)
			}
			mergeDefinition(existing, def)
		}
	}

	return LoadSchemaDocument("gateway.graphqls", merged)
}

func mergeDefinition(existing, def *ast.Definition) {
	for _, field := range def.Fields {
		if existing.Fields.ForName(field.Name) == nil {
			existing.Fields = append(existing.Fields, field)
		}
	}
	for _, value := range def.EnumValues {
		if existing.EnumValues.ForName(value.Name) == nil {
			existing.EnumValues = append(existing.EnumValues, value)
		}
	}
	existing.Types = appendMissingNames(existing.Types, def.Types)
	existing.Interfaces = appendMissingNames(existing.Interfaces, def.Interfaces)
	if existing.Description == "" {
		existing.Description = def.Description
	}
}

func appendMissingNames(names, others []string) []string {
	for _, other := range others {
		found := false
		for _, name := range names {
			if name == other {
				found = true
				break
			}
		}
		if !found {
			names = append(names, other)
		}
	}
	return names
}

func rootTypeName(operation ast.Operation) string {
	switch operation {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// schemaDocument prints schema without built-ins and parses it back.
// The root types are always named by a schema definition so that renaming them keeps them roots.
func schemaDocument(schema *ast.Schema) (*ast.SchemaDocument, error) {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(schema)
	doc, err := parser.ParseSchema(&ast.Source{Name: "schema.graphqls", Input: buf.String()})
	if err != nil {
		return nil, err
	}
	if len(doc.Schema) == 0 {
		schemaDef := &ast.SchemaDefinition{}
		for _, root := range []struct {
			operation ast.Operation
			def       *ast.Definition
		}{{ast.Query, schema.Query}, {ast.Mutation, schema.Mutation}, {ast.Subscription, schema.Subscription}} {
			if root.def != nil {
				schemaDef.OperationTypes = append(schemaDef.OperationTypes, &ast.OperationTypeDefinition{Operation: root.operation, Type: root.def.Name})
			}
		}
		doc.Schema = append(doc.Schema, schemaDef)
	}
	return doc, nil
}

// LoadSchemaDocument builds a schema out of doc, built-ins included.
func LoadSchemaDocument(name string, doc *ast.SchemaDocument) (*ast.Schema, error) {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: buf.String()})
	if err != nil {
		return nil, err
	}
	return schema, nil
}
