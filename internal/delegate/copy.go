package delegate

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// CopyDocument deep copies the parts of doc a delegation may rewrite.
// Schema definitions and positions are shared.
func CopyDocument(doc *ast.QueryDocument) *ast.QueryDocument {
	if doc == nil {
		return nil
	}
	copied := &ast.QueryDocument{
		Position: doc.Position,
	}
	for _, op := range doc.Operations {
		copied.Operations = append(copied.Operations, CopyOperation(op))
	}
	for _, fragment := range doc.Fragments {
		copied.Fragments = append(copied.Fragments, copyFragmentDefinition(fragment))
	}
	return copied
}

func CopyOperation(op *ast.OperationDefinition) *ast.OperationDefinition {
	if op == nil {
		return nil
	}
	copied := *op
	copied.VariableDefinitions = CopyVariableDefinitions(op.VariableDefinitions)
	copied.Directives = copyDirectives(op.Directives)
	copied.SelectionSet = CopySelectionSet(op.SelectionSet)
	return &copied
}

func CopyVariableDefinitions(defs ast.VariableDefinitionList) ast.VariableDefinitionList {
	if defs == nil {
		return nil
	}
	copied := make(ast.VariableDefinitionList, 0, len(defs))
	for _, def := range defs {
		c := *def
		c.Type = CopyType(def.Type)
		c.DefaultValue = CopyValue(def.DefaultValue)
		c.Directives = copyDirectives(def.Directives)
		copied = append(copied, &c)
	}
	return copied
}

func copyFragmentDefinition(def *ast.FragmentDefinition) *ast.FragmentDefinition {
	copied := *def
	copied.Directives = copyDirectives(def.Directives)
	copied.SelectionSet = CopySelectionSet(def.SelectionSet)
	return &copied
}

func CopySelectionSet(set ast.SelectionSet) ast.SelectionSet {
	if set == nil {
		return nil
	}
	copied := make(ast.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			copied = append(copied, CopyField(sel))
		case *ast.InlineFragment:
			c := *sel
			c.Directives = copyDirectives(sel.Directives)
			c.SelectionSet = CopySelectionSet(sel.SelectionSet)
			copied = append(copied, &c)
		case *ast.FragmentSpread:
			c := *sel
			c.Directives = copyDirectives(sel.Directives)
			copied = append(copied, &c)
		}
	}
	return copied
}

func CopyField(field *ast.Field) *ast.Field {
	copied := *field
	copied.Arguments = copyArguments(field.Arguments)
	copied.Directives = copyDirectives(field.Directives)
	copied.SelectionSet = CopySelectionSet(field.SelectionSet)
	return &copied
}

func copyArguments(args ast.ArgumentList) ast.ArgumentList {
	if args == nil {
		return nil
	}
	copied := make(ast.ArgumentList, 0, len(args))
	for _, arg := range args {
		c := *arg
		c.Value = CopyValue(arg.Value)
		copied = append(copied, &c)
	}
	return copied
}

func copyDirectives(directives ast.DirectiveList) ast.DirectiveList {
	if directives == nil {
		return nil
	}
	copied := make(ast.DirectiveList, 0, len(directives))
	for _, directive := range directives {
		c := *directive
		c.Arguments = copyArguments(directive.Arguments)
		copied = append(copied, &c)
	}
	return copied
}

func CopyValue(value *ast.Value) *ast.Value {
	if value == nil {
		return nil
	}
	copied := *value
	if value.Children != nil {
		copied.Children = make(ast.ChildValueList, 0, len(value.Children))
		for _, child := range value.Children {
			c := *child
			c.Value = CopyValue(child.Value)
			copied.Children = append(copied.Children, &c)
		}
	}
	return &copied
}

func CopyType(typ *ast.Type) *ast.Type {
	if typ == nil {
		return nil
	}
	copied := *typ
	copied.Elem = CopyType(typ.Elem)
	return &copied
}
