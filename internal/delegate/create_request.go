package delegate

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/utils"
)

// Options describe one delegation.
type Options struct {
	Subschema     *Subschema
	GatewaySchema *ast.Schema
	// Operation defaults to query.
	Operation ast.Operation
	FieldName string
	// FieldNodes are the caller's nodes of the delegated field. Their arguments and
	// selection sets are forwarded.
	FieldNodes []*ast.Field
	// Args are sent as variables and take precedence over arguments of FieldNodes.
	Args map[string]interface{}
	// Selection is used when FieldNodes is empty.
	Selection           ast.SelectionSet
	Fragments           ast.FragmentDefinitionList
	VariableDefinitions ast.VariableDefinitionList
	Variables           map[string]interface{}

	ReturnType  *ast.Type
	ResponseKey string
	// Path is where the delegated field lives in the caller's response.
	Path       ast.Path
	Transforms []Transform
	// SkipTypeMerging leaves the result untagged, merged type lookups then never start
	// from it. The gateway does not set it, callers of DelegateToSchema embedding the
	// package do.
	SkipTypeMerging bool
	// OnLocatedError rewrites errors located in the result before they are moved under
	// Path. Defaults to the one of the subschema.
	OnLocatedError merge.OnLocatedError

	// Request is sent as is instead of building one from the options above.
	Request *Request
}

// CreateRequest builds the request selecting the delegated field from the root type.
func CreateRequest(opts *Options) (*Request, error) {
	if opts.Request != nil {
		return opts.Request, nil
	}
	if opts.FieldName == "" {
		return nil, fmt.Errorf("field name is required")
	}

	operation := opts.Operation
	if operation == "" {
		operation = ast.Query
	}
	responseKey := opts.ResponseKey
	if responseKey == "" {
		responseKey = opts.FieldName
	}

	rootField := &ast.Field{
		Name: opts.FieldName,
	}
	if responseKey != opts.FieldName {
		rootField.Alias = responseKey
	}
	for _, fieldNode := range opts.FieldNodes {
		for _, arg := range fieldNode.Arguments {
			if rootField.Arguments.ForName(arg.Name) != nil {
				continue
			}
			rootField.Arguments = append(rootField.Arguments, &ast.Argument{
				Name:     arg.Name,
				Value:    CopyValue(arg.Value),
				Position: arg.Position,
			})
		}
		rootField.SelectionSet = append(rootField.SelectionSet, CopySelectionSet(fieldNode.SelectionSet)...)
	}
	if len(opts.FieldNodes) == 0 {
		rootField.SelectionSet = CopySelectionSet(opts.Selection)
	}

	variableDefinitions := CopyVariableDefinitions(opts.VariableDefinitions)
	variables := make(map[string]interface{}, len(opts.Variables)+len(opts.Args))
	for k, v := range opts.Variables {
		variables[k] = v
	}

	if len(opts.Args) != 0 {
		fieldDef := argumentSource(opts, operation)
		if fieldDef == nil {
			return nil, fmt.Errorf("field %s is not defined on the %s type", opts.FieldName, operation)
		}

		for _, argDef := range fieldDef.Arguments {
			value, ok := opts.Args[argDef.Name]
			if !ok {
				continue
			}

			varName := uniqueVariableName(variableDefinitions, argDef.Name)
			variableDefinitions = append(variableDefinitions, &ast.VariableDefinition{
				Variable: varName,
				Type:     CopyType(argDef.Type),
			})
			variables[varName] = value

			arg := &ast.Argument{
				Name:  argDef.Name,
				Value: &ast.Value{Kind: ast.Variable, Raw: varName},
			}
			replaced := false
			for i, existing := range rootField.Arguments {
				if existing.Name == argDef.Name {
					rootField.Arguments[i] = arg
					replaced = true
				}
			}
			if !replaced {
				rootField.Arguments = append(rootField.Arguments, arg)
			}
		}
		for name := range opts.Args {
			if fieldDef.Arguments.ForName(name) == nil {
				return nil, fmt.Errorf("field %s has no argument %s", opts.FieldName, name)
			}
		}
	}

	doc := &ast.QueryDocument{
		Operations: ast.OperationList{
			{
				Operation:           operation,
				VariableDefinitions: variableDefinitions,
				SelectionSet:        ast.SelectionSet{rootField},
			},
		},
		Fragments: opts.Fragments,
	}

	return &Request{
		Document:      doc,
		Variables:     variables,
		OperationType: operation,
	}, nil
}

// argumentSource is the definition argument types are read from. The subschema wins
// since entry point fields often exist only there.
func argumentSource(opts *Options, operation ast.Operation) *ast.FieldDefinition {
	for _, schema := range []*ast.Schema{opts.Subschema.Schema, opts.GatewaySchema} {
		if schema == nil {
			continue
		}
		rootType := utils.RootType(schema, operation)
		if rootType == nil {
			continue
		}
		if fieldDef := rootType.Fields.ForName(opts.FieldName); fieldDef != nil {
			return fieldDef
		}
	}
	return nil
}

func uniqueVariableName(defs ast.VariableDefinitionList, argName string) string {
	for i := 0; ; i++ {
		name := fmt.Sprintf("_v%d_%s", i, argName)
		if defs.ForName(name) == nil {
			return name
		}
	}
}
