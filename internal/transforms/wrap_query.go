package transforms

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/utils"
)

var (
	_ delegate.RequestTransformer = (*WrapQuery)(nil)
	_ delegate.ResultTransformer  = (*WrapQuery)(nil)
	_ delegate.ScratchCreator     = (*WrapQuery)(nil)
)

// WrapQuery replaces the selection set of the field found at Path with what Wrapper
// returns and hands the value found there back through Extractor.
//
// Path is a list of field names starting at the root selection.
type WrapQuery struct {
	Path      []string
	Wrapper   func(set ast.SelectionSet) ast.SelectionSet
	Extractor func(value interface{}) interface{}
}

type wrapQueryScratch struct {
	// response keys of the fields matched by Path, nil when Path matched nothing.
	responseKeys []string
}

func (wq *WrapQuery) TransformName() string {
	return "WrapQuery"
}

func (wq *WrapQuery) NewScratch() interface{} {
	return &wrapQueryScratch{}
}

func (wq *WrapQuery) TransformRequest(ctx context.Context, req *delegate.Request, dctx *delegate.DelegationContext, scratch interface{}) (*delegate.Request, error) {
	s := scratch.(*wrapQueryScratch)

	op := req.Operation()
	if op == nil || len(wq.Path) == 0 {
		return req, nil
	}

	set := op.SelectionSet
	var responseKeys []string
	var target *ast.Field
	for i, name := range wq.Path {
		var found *ast.Field
		for _, sel := range set {
			if field, ok := sel.(*ast.Field); ok && field.Name == name {
				found = field
				break
			}
		}
		if found == nil {
			return req, nil
		}
		responseKeys = append(responseKeys, utils.ResponseKey(found))
		if i == len(wq.Path)-1 {
			target = found
		}
		set = found.SelectionSet
	}

	target.SelectionSet = wq.Wrapper(target.SelectionSet)
	s.responseKeys = responseKeys

	return req, nil
}

func (wq *WrapQuery) TransformResult(ctx context.Context, result *delegate.Result, dctx *delegate.DelegationContext, scratch interface{}) (*delegate.Result, error) {
	s := scratch.(*wrapQueryScratch)
	if len(s.responseKeys) == 0 || wq.Extractor == nil {
		return result, nil
	}

	var walk func(value interface{}, keys []string) interface{}
	walk = func(value interface{}, keys []string) interface{} {
		if len(keys) == 0 {
			return wq.Extractor(value)
		}
		switch value := value.(type) {
		case map[string]interface{}:
			child, ok := value[keys[0]]
			if !ok {
				return value
			}
			value[keys[0]] = walk(child, keys[1:])
			return value
		case []interface{}:
			for i, item := range value {
				value[i] = walk(item, keys)
			}
			return value
		default:
			return value
		}
	}
	result.Data = walk(result.Data, s.responseKeys)

	return result, nil
}
