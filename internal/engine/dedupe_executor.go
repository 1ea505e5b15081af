package engine

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/utils"
	"golang.org/x/sync/singleflight"
)

var (
	_ delegate.Executor   = (*DedupeExecutor)(nil)
	_ delegate.Subscriber = (*DedupeExecutor)(nil)
)

// DedupeExecutor lets identical query requests in flight at the same time share one call.
// Mutations and subscriptions always go through.
type DedupeExecutor struct {
	Next delegate.Executor

	group singleflight.Group
}

func NewDedupeExecutor(next delegate.Executor) *DedupeExecutor {
	return &DedupeExecutor{Next: next}
}

func (de *DedupeExecutor) Execute(ctx context.Context, req *delegate.Request) (*delegate.Result, error) {
	op := req.Operation()
	if op == nil || op.Operation != ast.Query {
		return de.Next.Execute(ctx, req)
	}

	key, err := requestKey(req)
	if err != nil {
		return de.Next.Execute(ctx, req)
	}

	v, err, shared := de.group.Do(key, func() (interface{}, error) {
		// a caller giving up must not fail the others.
		return de.Next.Execute(context.WithoutCancel(ctx), req)
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	result := v.(*delegate.Result)
	if !shared {
		return result, nil
	}

	log.FromContext(ctx).V(log.LevelTrace).Info("sharing in flight result", "key", key)

	// results are merged in place, so every caller gets its own.
	errs := make(gqlerror.List, 0, len(result.Errors))
	for _, gErr := range result.Errors {
		copied := *gErr
		errs = append(errs, &copied)
	}
	return &delegate.Result{
		Data:       utils.DeepCopy(result.Data),
		Errors:     errs,
		Extensions: result.Extensions,
	}, nil
}

// Subscribe is never shared.
func (de *DedupeExecutor) Subscribe(ctx context.Context, req *delegate.Request) (<-chan *delegate.Result, error) {
	subscriber, ok := de.Next.(delegate.Subscriber)
	if !ok {
		return nil, errSubscriptionUnsupported
	}
	return subscriber.Subscribe(ctx, req)
}

func requestKey(req *delegate.Request) (string, error) {
	query, err := rawQuery(req)
	if err != nil {
		return "", err
	}
	variables, err := json.Marshal(req.Variables)
	if err != nil {
		return "", err
	}

	digest := xxhash.New()
	_, _ = digest.WriteString(req.OperationName)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(query)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.Write(variables)

	return strconv.FormatUint(digest.Sum64(), 16), nil
}
