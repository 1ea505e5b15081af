package delegate

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/stitchway/internal/merge"
)

// Executor sends a request to one subschema.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

var _ Executor = ExecutorFunc(nil)

type ExecutorFunc func(ctx context.Context, req *Request) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

// Subscriber is implemented by executors able to stream results.
// The channel is closed when the stream ends or ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, req *Request) (<-chan *Result, error)
}

// Subschema is one backend participating in the gateway.
type Subschema struct {
	Name       string
	Schema     *ast.Schema
	Executor   Executor
	Transforms []Transform
	// OnLocatedError is used by delegations to the subschema that bring none.
	OnLocatedError merge.OnLocatedError
}
