package execute

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/utils"
)

// Fields keeps collected fields in selection order, a Go map alone would lose it.
type Fields struct {
	Names    []string
	FieldMap map[string][]*ast.Field
}

func (fs *Fields) get(name string) []*ast.Field {
	if fs.FieldMap == nil {
		return nil
	}
	return fs.FieldMap[name]
}

func (fs *Fields) set(name string, fields []*ast.Field) {
	if fs.FieldMap == nil {
		fs.FieldMap = make(map[string][]*ast.Field)
	}
	if _, ok := fs.FieldMap[name]; !ok {
		fs.Names = append(fs.Names, name)
	}
	fs.FieldMap[name] = fields
}

// all returns every field node, in order.
func (fs *Fields) all() []*ast.Field {
	var fields []*ast.Field
	for _, name := range fs.Names {
		fields = append(fields, fs.FieldMap[name]...)
	}
	return fields
}

func collectFields(ctx context.Context, exeContext *ExecutionContext, runtimeType *ast.Definition, selectionSet ast.SelectionSet) *Fields {
	return collectFieldsImpl(exeContext, runtimeType, selectionSet, &Fields{}, make(map[string]struct{}))
}

// fieldNodesKey identifies a list of field nodes. Lists with the same nodes in the
// same order get the same *fieldNodesKey within a memo.
type fieldNodesKey struct {
	prev  *fieldNodesKey
	field *ast.Field
}

func internFieldNodes(ctx context.Context, fieldNodes []*ast.Field) *fieldNodesKey {
	var key *fieldNodesKey
	for _, fieldNode := range fieldNodes {
		prev := key
		token := fieldNodesKey{prev: prev, field: fieldNode}
		key = delegate.Memoize(ctx, token, func() interface{} {
			return &fieldNodesKey{prev: prev, field: fieldNode}
		}).(*fieldNodesKey)
	}
	return key
}

type subfieldsKey struct {
	typeName   string
	fieldNodes *fieldNodesKey
}

// collectSubfields collects the selection of fieldNodes for returnType.
// Items of a list share one collection per operation.
func collectSubfields(ctx context.Context, exeContext *ExecutionContext, returnType *ast.Definition, fieldNodes []*ast.Field) *Fields {
	key := subfieldsKey{typeName: returnType.Name, fieldNodes: internFieldNodes(ctx, fieldNodes)}

	return delegate.Memoize(ctx, key, func() interface{} {
		subFields := &Fields{}
		visitedFragmentNames := make(map[string]struct{})
		for _, fieldNode := range fieldNodes {
			if len(fieldNode.SelectionSet) == 0 {
				continue
			}
			collectFieldsImpl(exeContext, returnType, fieldNode.SelectionSet, subFields, visitedFragmentNames)
		}
		return subFields
	}).(*Fields)
}

func collectFieldsImpl(exeContext *ExecutionContext, runtimeType *ast.Definition, selectionSet ast.SelectionSet, fields *Fields, visitedFragmentNames map[string]struct{}) *Fields {
	variableValues := exeContext.VariableValues
	for _, selection := range selectionSet {
		switch selection := selection.(type) {
		case *ast.Field:
			if !shouldIncludeNode(variableValues, selection.Directives) {
				continue
			}
			name := utils.ResponseKey(selection)
			fields.set(name, append(fields.get(name), selection))

		case *ast.InlineFragment:
			if !shouldIncludeNode(variableValues, selection.Directives) ||
				!utils.DoesTypeConditionMatch(exeContext.Schema, selection.TypeCondition, runtimeType) {
				continue
			}
			collectFieldsImpl(exeContext, runtimeType, selection.SelectionSet, fields, visitedFragmentNames)

		case *ast.FragmentSpread:
			fragName := selection.Name
			if _, ok := visitedFragmentNames[fragName]; ok || !shouldIncludeNode(variableValues, selection.Directives) {
				continue
			}
			visitedFragmentNames[fragName] = struct{}{}
			fragment := exeContext.Fragments.ForName(fragName)
			if fragment == nil ||
				!utils.DoesTypeConditionMatch(exeContext.Schema, fragment.TypeCondition, runtimeType) {
				continue
			}
			collectFieldsImpl(exeContext, runtimeType, fragment.SelectionSet, fields, visitedFragmentNames)
		}
	}

	return fields
}

// Determines if a field should be included based on the `@include` and `@skip`
// directives, where `@skip` has higher precedence than `@include`.
func shouldIncludeNode(variableValues map[string]interface{}, directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := skip.ArgumentMap(variableValues)["if"].(bool); ok && v {
			return false
		}
	}

	if include := directives.ForName("include"); include != nil {
		if v, ok := include.ArgumentMap(variableValues)["if"].(bool); ok && !v {
			return false
		}
	}

	return true
}
