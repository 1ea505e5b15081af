package delegate

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/utils"
)

// Finalize makes req valid and minimal for schema.
//
// Fields and arguments unknown to schema are dropped, as are fragments on types that can
// not apply. Composite fields and fragments whose selection became empty are removed,
// repeatedly up to the root. Abstract selections get __typename. Variable definitions
// and values nothing refers to any more are dropped.
// The returned bool is false when the root selection set became empty.
func Finalize(req *Request, schema *ast.Schema) (*Request, bool, error) {
	op := req.Operation()
	if op == nil {
		return nil, false, &TransformError{Transform: "finalize", Err: fmt.Errorf("operation %q not found", req.OperationName)}
	}

	if schema != nil {
		if utils.RootType(schema, op.Operation) == nil {
			return nil, false, &TransformError{Transform: "finalize", Err: fmt.Errorf("schema has no %s type", op.Operation)}
		}
		VisitSelectionSets(schema, op, func(parentType *ast.Definition, set ast.SelectionSet) ast.SelectionSet {
			return filterSelectionSet(schema, parentType, set)
		})
	}
	if len(op.SelectionSet) == 0 {
		return req, false, nil
	}

	used := make(map[string]bool)
	for _, name := range VariableUsages(op) {
		used[name] = true
	}
	var defs ast.VariableDefinitionList
	variables := make(map[string]interface{})
	for _, def := range op.VariableDefinitions {
		if !used[def.Variable] {
			continue
		}
		defs = append(defs, def)
		if value, ok := req.Variables[def.Variable]; ok {
			variables[def.Variable] = value
		}
	}
	op.VariableDefinitions = defs

	finalized := *req
	finalized.Variables = variables
	return &finalized, true, nil
}

func filterSelectionSet(schema *ast.Schema, parentType *ast.Definition, set ast.SelectionSet) ast.SelectionSet {
	result := make(ast.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			fieldDef := utils.FieldDefinition(parentType, sel.Name)
			if fieldDef == nil {
				continue
			}
			if utils.IsCompositeType(schema.Types[fieldDef.Type.Name()]) {
				if len(sel.SelectionSet) == 0 {
					continue
				}
			} else {
				sel.SelectionSet = nil
			}
			var args ast.ArgumentList
			for _, arg := range sel.Arguments {
				if fieldDef.Arguments.ForName(arg.Name) != nil {
					args = append(args, arg)
				}
			}
			sel.Arguments = args
			result = append(result, sel)

		case *ast.InlineFragment:
			if sel.TypeCondition != "" {
				fragmentType := schema.Types[sel.TypeCondition]
				if !utils.IsCompositeType(fragmentType) || !typesOverlap(schema, parentType, fragmentType) {
					continue
				}
			}
			if len(sel.SelectionSet) == 0 {
				continue
			}
			result = append(result, sel)

		default:
			result = append(result, sel)
		}
	}

	if len(result) != 0 && utils.IsAbstractType(parentType) && !selectsTypename(result) {
		result = append(result, &ast.Field{Name: "__typename"})
	}

	return result
}

func selectsTypename(set ast.SelectionSet) bool {
	for _, sel := range set {
		if field, ok := sel.(*ast.Field); ok && field.Name == "__typename" && field.Alias == "" {
			return true
		}
	}
	return false
}

func typesOverlap(schema *ast.Schema, a, b *ast.Definition) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Name == b.Name {
		return true
	}
	switch {
	case utils.IsAbstractType(a) && utils.IsAbstractType(b):
		for _, possible := range schema.GetPossibleTypes(a) {
			if utils.IsTypeDefSubTypeOf(schema, possible, b) {
				return true
			}
		}
		return false
	case utils.IsAbstractType(a):
		return utils.IsTypeDefSubTypeOf(schema, b, a)
	case utils.IsAbstractType(b):
		return utils.IsTypeDefSubTypeOf(schema, a, b)
	default:
		return false
	}
}
