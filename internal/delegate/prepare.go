package delegate

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// Prepare returns a request owning a private copy of the document, reduced to the
// executed operation with every fragment spread inlined.
func Prepare(req *Request) (*Request, error) {
	if req == nil || req.Document == nil {
		return nil, fmt.Errorf("request has no document")
	}
	op := req.Operation()
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", req.OperationName)
	}

	fragments := make(map[string]*ast.FragmentDefinition, len(req.Document.Fragments))
	for _, fragment := range req.Document.Fragments {
		fragments[fragment.Name] = fragment
	}

	copied := CopyOperation(op)
	selectionSet, err := inlineFragments(copied.SelectionSet, fragments, nil)
	if err != nil {
		return nil, err
	}
	copied.SelectionSet = selectionSet

	variables := make(map[string]interface{}, len(req.Variables))
	for k, v := range req.Variables {
		variables[k] = v
	}

	prepared := *req
	prepared.Document = &ast.QueryDocument{
		Operations: ast.OperationList{copied},
		Position:   req.Document.Position,
	}
	prepared.Variables = variables
	prepared.OperationType = copied.Operation
	return &prepared, nil
}

func inlineFragments(set ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, visiting []string) (ast.SelectionSet, error) {
	if set == nil {
		return nil, nil
	}
	result := make(ast.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			selectionSet, err := inlineFragments(sel.SelectionSet, fragments, visiting)
			if err != nil {
				return nil, err
			}
			sel.SelectionSet = selectionSet
			result = append(result, sel)

		case *ast.InlineFragment:
			selectionSet, err := inlineFragments(sel.SelectionSet, fragments, visiting)
			if err != nil {
				return nil, err
			}
			sel.SelectionSet = selectionSet
			result = append(result, sel)

		case *ast.FragmentSpread:
			fragment := fragments[sel.Name]
			if fragment == nil {
				return nil, fmt.Errorf("unknown fragment %q", sel.Name)
			}
			for _, name := range visiting {
				if name == sel.Name {
					return nil, fmt.Errorf("fragment %q spreads itself", sel.Name)
				}
			}
			selectionSet, err := inlineFragments(CopySelectionSet(fragment.SelectionSet), fragments, append(visiting, sel.Name))
			if err != nil {
				return nil, err
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition:    fragment.TypeCondition,
				Directives:       sel.Directives,
				SelectionSet:     selectionSet,
				ObjectDefinition: fragment.Definition,
				Position:         sel.Position,
			})
		}
	}
	return result, nil
}
