package delegate

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
)

// Transform rewrites requests sent to a subschema and the results it returns.
// A transform implements RequestTransformer, ResultTransformer or both.
type Transform interface {
	TransformName() string
}

type RequestTransformer interface {
	Transform
	TransformRequest(ctx context.Context, req *Request, dctx *DelegationContext, scratch interface{}) (*Request, error)
}

type ResultTransformer interface {
	Transform
	TransformResult(ctx context.Context, result *Result, dctx *DelegationContext, scratch interface{}) (*Result, error)
}

// SchemaTransformer is implemented by transforms that change how the subschema looks
// from the gateway. It is applied when the gateway schema is built.
type SchemaTransformer interface {
	Transform
	TransformSchema(doc *ast.SchemaDocument) (*ast.SchemaDocument, error)
}

// ScratchCreator is implemented by transforms that carry state from the request
// phase to the result phase of the same call.
type ScratchCreator interface {
	NewScratch() interface{}
}

type transformation struct {
	transform Transform
	// nil unless transform implements ScratchCreator.
	scratch interface{}
}

// Transformer is the pipeline of one delegation call.
type Transformer struct {
	dctx *DelegationContext
	// reverse of the declared order.
	transformations []*transformation
}

func NewTransformer(dctx *DelegationContext) *Transformer {
	transformations := make([]*transformation, 0, len(dctx.Transforms))
	for i := len(dctx.Transforms) - 1; i >= 0; i-- {
		transform := dctx.Transforms[i]
		var scratch interface{}
		if creator, ok := transform.(ScratchCreator); ok {
			scratch = creator.NewScratch()
		}
		transformations = append(transformations, &transformation{
			transform: transform,
			scratch:   scratch,
		})
	}

	return &Transformer{
		dctx:            dctx,
		transformations: transformations,
	}
}

// TransformRequest prepares req, runs every request hook in reverse declared order and
// finalizes the outcome for the target schema.
// The returned bool is false when nothing is left to send.
func (t *Transformer) TransformRequest(ctx context.Context, req *Request) (*Request, bool, error) {
	req, err := Prepare(req)
	if err != nil {
		return nil, false, &TransformError{Transform: "prepare", Err: err}
	}

	for _, tr := range t.transformations {
		transformer, ok := tr.transform.(RequestTransformer)
		if !ok {
			continue
		}
		req, err = transformer.TransformRequest(ctx, req, t.dctx, tr.scratch)
		if err != nil {
			return nil, false, &TransformError{Transform: tr.transform.TransformName(), Err: err}
		}
		if req == nil {
			return nil, false, &TransformError{Transform: tr.transform.TransformName(), Err: errNilRequest}
		}
	}

	return Finalize(req, t.dctx.TargetSchema)
}

// TransformResult runs every result hook in declared order.
func (t *Transformer) TransformResult(ctx context.Context, result *Result) (*Result, error) {
	for i := len(t.transformations) - 1; i >= 0; i-- {
		tr := t.transformations[i]
		transformer, ok := tr.transform.(ResultTransformer)
		if !ok {
			continue
		}
		var err error
		result, err = transformer.TransformResult(ctx, result, t.dctx, tr.scratch)
		if err != nil {
			return nil, &TransformError{Transform: tr.transform.TransformName(), Err: err}
		}
		if result == nil {
			result = &Result{}
		}
	}

	return result, nil
}
