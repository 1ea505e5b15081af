package stitch

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/utils"
)

var _ delegate.RequestTransformer = (*AddSelectionSets)(nil)

// AddSelectionSets adds to every selection of a merged type the fields other subschemas
// need to resolve it, and __typename. It works in gateway names so it runs before the
// transforms of the subschema.
// Finalize drops what the target subschema does not know.
type AddSelectionSets struct {
	schema *ast.Schema
	// keyed by type name.
	selectionSets map[string]ast.SelectionSet
}

func (a *AddSelectionSets) TransformName() string {
	return "AddSelectionSets"
}

func (a *AddSelectionSets) TransformRequest(ctx context.Context, req *delegate.Request, dctx *delegate.DelegationContext, scratch interface{}) (*delegate.Request, error) {
	op := req.Operation()
	if op == nil || len(a.selectionSets) == 0 {
		return req, nil
	}

	delegate.VisitSelectionSets(a.schema, op, func(parentType *ast.Definition, set ast.SelectionSet) ast.SelectionSet {
		return a.addTo(parentType, set)
	})

	return req, nil
}

func (a *AddSelectionSets) addTo(parentType *ast.Definition, set ast.SelectionSet) ast.SelectionSet {
	if parentType == nil || len(set) == 0 {
		return set
	}

	if !utils.IsAbstractType(parentType) {
		if extra, ok := a.selectionSets[parentType.Name]; ok {
			set = appendMissing(set, extra)
			set = appendMissing(set, ast.SelectionSet{&ast.Field{Name: "__typename"}})
		}
		return set
	}

	for _, possibleType := range a.schema.GetPossibleTypes(parentType) {
		extra, ok := a.selectionSets[possibleType.Name]
		if !ok {
			continue
		}
		set = append(set, &ast.InlineFragment{
			TypeCondition: possibleType.Name,
			SelectionSet:  delegate.CopySelectionSet(extra),
		})
	}
	return appendMissing(set, ast.SelectionSet{&ast.Field{Name: "__typename"}})
}

// appendMissing appends the fields of extra whose response key set does not hold yet.
func appendMissing(set ast.SelectionSet, extra ast.SelectionSet) ast.SelectionSet {
	present := make(map[string]*ast.Field)
	for _, sel := range set {
		if field, ok := sel.(*ast.Field); ok {
			present[utils.ResponseKey(field)] = field
		}
	}

	for _, field := range SelectionFields(extra) {
		existing, ok := present[field.Name]
		if !ok {
			copied := delegate.CopyField(field)
			set = append(set, copied)
			present[field.Name] = copied
			continue
		}
		if existing.Name == field.Name && len(field.SelectionSet) != 0 {
			existing.SelectionSet = appendMissing(existing.SelectionSet, field.SelectionSet)
		}
	}
	return set
}

// mergeSelectionSets joins the selection sets other subschemas need on each merged type.
func mergeSelectionSets(mergedTypes map[string][]*mergedType) map[string]ast.SelectionSet {
	result := make(map[string]ast.SelectionSet)
	for typeName, mts := range mergedTypes {
		var set ast.SelectionSet
		for _, mt := range mts {
			for _, ep := range mt.entryPoints {
				set = appendMissing(set, ep.selection)
			}
		}
		if len(set) != 0 {
			result[typeName] = set
		}
	}
	return result
}
