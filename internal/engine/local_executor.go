package engine

import (
	"context"
	"encoding/json"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/executor"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/log"
)

var (
	_ delegate.Executor   = (*LocalExecutor)(nil)
	_ delegate.Subscriber = (*LocalExecutor)(nil)
)

// LocalExecutor runs requests against a gqlgen schema in the same process.
type LocalExecutor struct {
	exec *executor.Executor
}

func NewLocalExecutor(es graphql.ExecutableSchema) *LocalExecutor {
	return &LocalExecutor{
		exec: executor.New(es),
	}
}

func (le *LocalExecutor) operationContext(ctx context.Context, req *delegate.Request) (*graphql.OperationContext, *delegate.Result, error) {
	query, err := rawQuery(req)
	if err != nil {
		return nil, nil, err
	}

	params := &graphql.RawParams{
		Query:         query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Extensions:    req.Extensions,
		ReadTime: graphql.TraceTiming{
			Start: graphql.Now(),
			End:   graphql.Now(),
		},
	}

	oc, gErrs := le.exec.CreateOperationContext(ctx, params)
	if len(gErrs) != 0 {
		resp := le.exec.DispatchError(graphql.WithOperationContext(ctx, oc), gErrs)
		result, err := toResult(resp)
		return nil, result, err
	}

	return oc, nil, nil
}

func (le *LocalExecutor) Execute(ctx context.Context, req *delegate.Request) (*delegate.Result, error) {
	oc, result, err := le.operationContext(ctx, req)
	if err != nil || result != nil {
		return result, err
	}

	log.FromContext(ctx).V(log.LevelTrace).Info("executing local operation", "query", oc.RawQuery)

	handler, ctx := le.exec.DispatchOperation(ctx, oc)
	return toResult(handler(ctx))
}

// Subscribe streams every response of a subscription operation.
func (le *LocalExecutor) Subscribe(ctx context.Context, req *delegate.Request) (<-chan *delegate.Result, error) {
	oc, result, err := le.operationContext(ctx, req)
	if err != nil {
		return nil, err
	}
	if result != nil {
		ch := make(chan *delegate.Result, 1)
		ch <- result
		close(ch)
		return ch, nil
	}

	handler, ctx := le.exec.DispatchOperation(ctx, oc)

	ch := make(chan *delegate.Result)
	go func() {
		defer close(ch)
		for {
			resp := handler(ctx)
			if resp == nil {
				return
			}
			result, err := toResult(resp)
			if err != nil {
				log.FromContext(ctx).Error(err, "broken subscription response")
				return
			}
			select {
			case ch <- result:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func toResult(resp *graphql.Response) (*delegate.Result, error) {
	if resp == nil {
		return &delegate.Result{}, nil
	}
	var extensions map[string]interface{}
	if len(resp.Extensions) != 0 {
		extensions = resp.Extensions
	}
	return decodeResult(&response{
		Data:       json.RawMessage(resp.Data),
		Errors:     resp.Errors,
		Extensions: extensions,
	})
}
