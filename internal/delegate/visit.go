package delegate

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/utils"
)

// SelectionSetVisitor receives a selection set with the type it selects from and returns
// its replacement. It is called children first, so a visitor sees already rewritten children.
type SelectionSetVisitor func(parentType *ast.Definition, set ast.SelectionSet) ast.SelectionSet

// VisitSelectionSets rewrites every selection set of op in place using the types of schema.
// Fragment spreads must have been inlined. Selection sets under fields unknown to
// schema are left alone.
func VisitSelectionSets(schema *ast.Schema, op *ast.OperationDefinition, visitor SelectionSetVisitor) {
	rootType := utils.RootType(schema, op.Operation)
	if rootType == nil {
		return
	}
	op.SelectionSet = visitSelectionSet(schema, rootType, op.SelectionSet, visitor)
}

// VisitSelectionSetsOf is VisitSelectionSets for a selection set selected from parentType.
func VisitSelectionSetsOf(schema *ast.Schema, parentType *ast.Definition, set ast.SelectionSet, visitor SelectionSetVisitor) ast.SelectionSet {
	if parentType == nil {
		return set
	}
	return visitSelectionSet(schema, parentType, set, visitor)
}

func visitSelectionSet(schema *ast.Schema, parentType *ast.Definition, set ast.SelectionSet, visitor SelectionSetVisitor) ast.SelectionSet {
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			if len(sel.SelectionSet) == 0 {
				continue
			}
			fieldType := FieldType(schema, parentType, sel.Name)
			if fieldType == nil {
				continue
			}
			sel.SelectionSet = visitSelectionSet(schema, fieldType, sel.SelectionSet, visitor)
		case *ast.InlineFragment:
			fragmentType := parentType
			if sel.TypeCondition != "" {
				fragmentType = schema.Types[sel.TypeCondition]
			}
			if fragmentType == nil {
				continue
			}
			sel.SelectionSet = visitSelectionSet(schema, fragmentType, sel.SelectionSet, visitor)
		}
	}
	return visitor(parentType, set)
}

// FieldType returns the named type of fieldName on parentType.
func FieldType(schema *ast.Schema, parentType *ast.Definition, fieldName string) *ast.Definition {
	fieldDef := utils.FieldDefinition(parentType, fieldName)
	if fieldDef == nil {
		return nil
	}
	return schema.Types[fieldDef.Type.Name()]
}

// VariableUsages returns the names of variables referenced by op, in order of appearance.
func VariableUsages(op *ast.OperationDefinition) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	var walkValue func(value *ast.Value)
	walkValue = func(value *ast.Value) {
		if value == nil {
			return
		}
		if value.Kind == ast.Variable {
			add(value.Raw)
			return
		}
		for _, child := range value.Children {
			walkValue(child.Value)
		}
	}
	walkDirectives := func(directives ast.DirectiveList) {
		for _, directive := range directives {
			for _, arg := range directive.Arguments {
				walkValue(arg.Value)
			}
		}
	}
	var walkSelectionSet func(set ast.SelectionSet)
	walkSelectionSet = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				for _, arg := range sel.Arguments {
					walkValue(arg.Value)
				}
				walkDirectives(sel.Directives)
				walkSelectionSet(sel.SelectionSet)
			case *ast.InlineFragment:
				walkDirectives(sel.Directives)
				walkSelectionSet(sel.SelectionSet)
			case *ast.FragmentSpread:
				walkDirectives(sel.Directives)
			}
		}
	}

	walkDirectives(op.Directives)
	walkSelectionSet(op.SelectionSet)
	return names
}
