package delegate

import (
	"context"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
)

// Delegation is one call to a subschema, from request building to merging.
//
//	prepare -> transform request -> finalize -> execute -> transform result -> merge
type Delegation struct {
	dctx        *DelegationContext
	transformer *Transformer
	request     *Request
	// false when finalizing left nothing to ask.
	send bool
}

// NewDelegation builds the request for opts and runs the request side of the pipeline.
// A failing transform is returned as *TransformError, nothing is sent in that case.
func NewDelegation(ctx context.Context, opts *Options) (*Delegation, error) {
	if opts.Subschema == nil {
		return nil, errors.New("subschema is required")
	}
	if opts.Subschema.Executor == nil {
		return nil, fmt.Errorf("subschema %s has no executor", opts.Subschema.Name)
	}

	dctx := NewDelegationContext(ctx, opts)

	req, err := CreateRequest(opts)
	if err != nil {
		return nil, &TransformError{Transform: "createRequest", Err: err}
	}

	transformer := NewTransformer(dctx)
	req, send, err := transformer.TransformRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Delegation{
		dctx:        dctx,
		transformer: transformer,
		request:     req,
		send:        send,
	}, nil
}

func (d *Delegation) Context() *DelegationContext {
	return d.dctx
}

// Request is the finalized request, nil when nothing is sent.
func (d *Delegation) Request() *Request {
	if !d.send {
		return nil
	}
	return d.request
}

// Execute sends the request and runs the result side of the pipeline.
// A failing executor becomes an error in the result. If ctx is done once the call
// returns, ctx.Err() is returned and the response is dropped.
func (d *Delegation) Execute(ctx context.Context) (*Result, error) {
	ctx = d.dctx.WithLogger(ctx)
	logger := log.FromContext(ctx)

	if !d.send {
		logger.V(log.LevelDebug).Info("nothing left to delegate")
		return &Result{}, nil
	}

	logger.V(log.LevelDebug).Info("delegating")
	result, err := d.dctx.Executor.Execute(ctx, d.request)
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.V(log.LevelDebug).Info("delegation cancelled", "reason", ctxErr.Error())
		return nil, ctxErr
	}
	if err != nil {
		logger.Error(err, "subschema call failed")
		result = &Result{
			Errors: gqlerror.List{executorError(err, d.dctx.Subschema.Name)},
		}
	}
	if result == nil {
		result = &Result{}
	}

	return d.transformer.TransformResult(ctx, result)
}

// Merge places the response key of result at the delegation path.
// The value is an error when no data is left to carry the errors.
// Objects are tagged in the table of ctx, or the one of the delegation without one.
func (d *Delegation) Merge(ctx context.Context, result *Result) interface{} {
	table := merge.TableFromContext(ctx)
	if table == nil {
		table = d.dctx.Externals
	}

	var data interface{}
	if obj := result.DataObject(); obj != nil {
		data = obj[d.dctx.ResponseKey]
	}
	value, unpathed := merge.MergeDataAndErrors(data, result.Errors, d.dctx.Path, d.dctx.OnLocatedError, 1)
	return merge.ResolveExternalValue(table, value, unpathed, d.dctx.Subschema.Name, d.dctx.SkipTypeMerging)
}

// DelegateToSchema resolves one field with a subschema. The value may be an error
// located at opts.Path. Go errors are returned for broken transforms or a done ctx.
func DelegateToSchema(ctx context.Context, opts *Options) (interface{}, error) {
	d, err := NewDelegation(ctx, opts)
	if err != nil {
		return nil, err
	}
	result, err := d.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return d.Merge(ctx, result), nil
}

// DelegateRequest runs the pipeline and returns the transformed result without merging,
// the same shape the subschema answers with.
func DelegateRequest(ctx context.Context, opts *Options) (*Result, error) {
	d, err := NewDelegation(ctx, opts)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx)
}

// SubscriptionEvent is one streamed result. Its objects are tagged in a table of
// their own, dropping the event drops what is known about them.
type SubscriptionEvent struct {
	Value     interface{}
	Externals *merge.Table
}

// DelegateSubscription subscribes through the pipeline. Every streamed result is
// transformed and merged the way DelegateToSchema does.
// A failing subscribe call is returned as an error located at opts.Path.
func DelegateSubscription(ctx context.Context, opts *Options) (<-chan *SubscriptionEvent, error) {
	d, err := NewDelegation(ctx, opts)
	if err != nil {
		return nil, err
	}
	subscriber, ok := d.dctx.Executor.(Subscriber)
	if !ok {
		return nil, gqlerror.ErrorPathf(d.dctx.Path, "subschema %s does not support subscriptions", d.dctx.Subschema.Name)
	}
	if !d.send {
		return nil, gqlerror.ErrorPathf(d.dctx.Path, "nothing to subscribe to in subschema %s", d.dctx.Subschema.Name)
	}

	ctx = d.dctx.WithLogger(ctx)
	upstream, err := subscriber.Subscribe(ctx, d.request)
	if err != nil {
		gErr := executorError(err, d.dctx.Subschema.Name)
		gErr.Path = d.dctx.Path
		return nil, gErr
	}

	out := make(chan *SubscriptionEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case result, ok := <-upstream:
				if !ok {
					return
				}
				event := &SubscriptionEvent{Externals: merge.NewTable()}
				transformed, err := d.transformer.TransformResult(ctx, result)
				if err != nil {
					event.Value = ErrorValue(err, d.dctx.Path)
				} else {
					event.Value = d.Merge(merge.WithTable(ctx, event.Externals), transformed)
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
