package delegate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	testlogr "github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/testutils"
)

type recordingExecutor struct {
	mu       sync.Mutex
	requests []*Request
	respond  func(ctx context.Context, req *Request) (*Result, error)
}

func (e *recordingExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return e.respond(ctx, req)
}

func (e *recordingExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func firstField(t *testing.T, query string) *ast.Field {
	t.Helper()
	doc := testutils.ParseQuery(t, query)
	return doc.Operations[0].SelectionSet[0].(*ast.Field)
}

func TestDelegateToSchema(t *testing.T) {
	schema := testutils.LoadSchema(t, accountsSDL)

	t.Run("args become typed variables", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))

		executor := &recordingExecutor{
			respond: func(ctx context.Context, req *Request) (*Result, error) {
				return &Result{Data: map[string]interface{}{
					"user": map[string]interface{}{"id": "1", "name": "Ada"},
				}}, nil
			},
		}
		subschema := &Subschema{Name: "accounts", Schema: schema, Executor: executor}

		value, err := DelegateToSchema(ctx, &Options{
			Subschema:  subschema,
			FieldName:  "user",
			FieldNodes: []*ast.Field{firstField(t, `{ user { id name } }`)},
			Args:       map[string]interface{}{"id": "1"},
			Path:       ast.Path{ast.PathName("me")},
		})
		require.NoError(t, err)

		require.Equal(t, 1, executor.calls())
		req := executor.requests[0]
		testutils.CheckDocument(t, heredoc.Doc(`
			query ($_v0_id: ID!) {
				user(id: $_v0_id) { id name }
			}
		`), req.Document)
		if diff := cmp.Diff(map[string]interface{}{"_v0_id": "1"}, req.Variables); diff != "" {
			t.Errorf("variables mismatch (-want +got):\n%s", diff)
		}

		obj := value.(map[string]interface{})
		require.Equal(t, "Ada", obj["name"])
	})

	t.Run("errors are rebased on the caller path", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))
		table := merge.NewTable()
		ctx = merge.WithTable(ctx, table)

		executor := &recordingExecutor{
			respond: func(ctx context.Context, req *Request) (*Result, error) {
				return &Result{
					Data: map[string]interface{}{
						"order": map[string]interface{}{"id": "o1", "total": nil},
					},
					Errors: gqlerror.List{
						{Message: "no total", Path: ast.Path{ast.PathName("order"), ast.PathName("total")}},
					},
				}, nil
			},
		}

		value, err := DelegateToSchema(ctx, &Options{
			Subschema:  &Subschema{Name: "accounts", Schema: schema, Executor: executor},
			FieldName:  "order",
			FieldNodes: []*ast.Field{firstField(t, `{ order(id: "o1") { id total } }`)},
			Path:       ast.Path{ast.PathName("user"), ast.PathIndex(0), ast.PathName("order")},
		})
		require.NoError(t, err)

		obj := value.(map[string]interface{})
		totalErr, ok := merge.AsError(obj["total"])
		require.True(t, ok)
		require.Equal(t, "user[0].order.total", totalErr.Path.String())
		require.Equal(t, "accounts", table.SubschemaOf(obj, "id"))
	})

	t.Run("executor failure becomes one error node", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))

		executor := &recordingExecutor{
			respond: func(ctx context.Context, req *Request) (*Result, error) {
				return nil, errors.New("connection refused")
			},
		}

		value, err := DelegateToSchema(ctx, &Options{
			Subschema:  &Subschema{Name: "accounts", Schema: schema, Executor: executor},
			FieldName:  "user",
			FieldNodes: []*ast.Field{firstField(t, `{ user(id: "1") { id } }`)},
			Path:       ast.Path{ast.PathName("me")},
		})
		require.NoError(t, err)

		gErr, ok := merge.AsError(value)
		require.True(t, ok)
		require.Equal(t, "connection refused", gErr.Message)
		require.Equal(t, "me", gErr.Path.String())
		require.Equal(t, merge.CodeDownstreamServiceError, gErr.Extensions["code"])
		require.Equal(t, "accounts", gErr.Extensions["serviceName"])
	})

	t.Run("failing transform sends nothing", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))

		executor := &recordingExecutor{
			respond: func(ctx context.Context, req *Request) (*Result, error) {
				return &Result{}, nil
			},
		}

		_, err := DelegateToSchema(ctx, &Options{
			Subschema:  &Subschema{Name: "accounts", Schema: schema, Executor: executor},
			FieldName:  "user",
			FieldNodes: []*ast.Field{firstField(t, `{ user(id: "1") { id } }`)},
			Transforms: []Transform{&failingTransform{}},
		})

		var transformErr *TransformError
		require.ErrorAs(t, err, &transformErr)
		require.Equal(t, "failing", transformErr.Transform)
		require.Equal(t, 0, executor.calls())

		gErr := ErrorValue(err, ast.Path{ast.PathName("me")})
		require.Equal(t, merge.CodeTransformError, gErr.Extensions["code"])
	})

	t.Run("cancelled call is not merged", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		executor := &recordingExecutor{
			respond: func(ctx context.Context, req *Request) (*Result, error) {
				cancel()
				return &Result{Data: map[string]interface{}{"user": map[string]interface{}{"id": "1"}}}, nil
			},
		}

		value, err := DelegateToSchema(ctx, &Options{
			Subschema:  &Subschema{Name: "accounts", Schema: schema, Executor: executor},
			FieldName:  "user",
			FieldNodes: []*ast.Field{firstField(t, `{ user(id: "1") { id } }`)},
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, value)
	})

	t.Run("nothing valid to ask skips the call", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))

		executor := &recordingExecutor{
			respond: func(ctx context.Context, req *Request) (*Result, error) {
				return &Result{}, nil
			},
		}

		value, err := DelegateToSchema(ctx, &Options{
			Subschema:  &Subschema{Name: "accounts", Schema: schema, Executor: executor},
			FieldName:  "user",
			FieldNodes: []*ast.Field{firstField(t, `{ user(id: "1") { reviews { body } } }`)},
		})
		require.NoError(t, err)
		require.Nil(t, value)
		require.Equal(t, 0, executor.calls())
	})
}

type failingTransform struct{}

func (*failingTransform) TransformName() string { return "failing" }

func (*failingTransform) TransformRequest(ctx context.Context, req *Request, dctx *DelegationContext, scratch interface{}) (*Request, error) {
	return nil, errors.New("broken")
}

type orderScratch struct {
	seenOnRequest string
}

// recordingTransform appends its name on both sides and checks its scratch survives.
type recordingTransform struct {
	name string
	log  *[]string
}

func (tr *recordingTransform) TransformName() string { return tr.name }

func (tr *recordingTransform) NewScratch() interface{} { return &orderScratch{} }

func (tr *recordingTransform) TransformRequest(ctx context.Context, req *Request, dctx *DelegationContext, scratch interface{}) (*Request, error) {
	*tr.log = append(*tr.log, "request:"+tr.name)
	scratch.(*orderScratch).seenOnRequest = tr.name
	return req, nil
}

func (tr *recordingTransform) TransformResult(ctx context.Context, result *Result, dctx *DelegationContext, scratch interface{}) (*Result, error) {
	*tr.log = append(*tr.log, "result:"+tr.name+":"+scratch.(*orderScratch).seenOnRequest)
	return result, nil
}

func TestTransformer_Order(t *testing.T) {
	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	schema := testutils.LoadSchema(t, accountsSDL)

	var calls []string
	executor := ExecutorFunc(func(ctx context.Context, req *Request) (*Result, error) {
		calls = append(calls, "execute")
		return &Result{Data: map[string]interface{}{"user": nil}}, nil
	})

	_, err := DelegateToSchema(ctx, &Options{
		Subschema: &Subschema{
			Name:       "accounts",
			Schema:     schema,
			Executor:   executor,
			Transforms: []Transform{&recordingTransform{name: "A", log: &calls}},
		},
		FieldName:  "user",
		FieldNodes: []*ast.Field{firstField(t, `{ user(id: "1") { id } }`)},
		Transforms: []Transform{&recordingTransform{name: "B", log: &calls}},
	})
	require.NoError(t, err)

	want := []string{"request:B", "request:A", "execute", "result:A:A", "result:B:B"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoize(t *testing.T) {
	ctx := WithMemo(context.Background())

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := Memoize(ctx, "token", func() interface{} {
				atomic.AddInt32(&count, 1)
				return 42
			})
			if v != 42 {
				t.Errorf("unexpected value %v", v)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), count)

	// without a memo table every call runs
	Memoize(context.Background(), "token", func() interface{} {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.Equal(t, int32(2), count)
}

type streamingExecutor struct {
	ExecutorFunc
	results []*Result
}

func (e *streamingExecutor) Subscribe(ctx context.Context, req *Request) (<-chan *Result, error) {
	ch := make(chan *Result, len(e.results))
	for _, result := range e.results {
		ch <- result
	}
	close(ch)
	return ch, nil
}

func TestDelegateSubscription(t *testing.T) {
	schema := testutils.LoadSchema(t, accountsSDL+heredoc.Doc(`
		type Subscription {
			userCreated: User
		}
	`))
	options := func(executor Executor) *Options {
		return &Options{
			Subschema:   &Subschema{Name: "accounts", Schema: schema, Executor: executor},
			Operation:   ast.Subscription,
			FieldName:   "userCreated",
			ResponseKey: "created",
			FieldNodes:  []*ast.Field{firstField(t, `subscription { created: userCreated { id name } }`)},
			Path:        ast.Path{ast.PathName("created")},
		}
	}

	t.Run("every event has a table of its own", func(t *testing.T) {
		table := merge.NewTable()
		ctx := merge.WithTable(log.WithLogger(context.Background(), testlogr.New(t)), table)

		executor := &streamingExecutor{results: []*Result{
			{Data: map[string]interface{}{"created": map[string]interface{}{"id": "1", "name": "Ada"}}},
			{Data: map[string]interface{}{"created": map[string]interface{}{"id": "2", "name": "Grace"}}},
		}}
		events, err := DelegateSubscription(ctx, options(executor))
		require.NoError(t, err)

		var got []*SubscriptionEvent
		for event := range events {
			got = append(got, event)
		}
		require.Len(t, got, 2)
		require.NotSame(t, got[0].Externals, got[1].Externals)
		for i, name := range []string{"Ada", "Grace"} {
			obj := got[i].Value.(map[string]interface{})
			require.Equal(t, name, obj["name"])
			require.Equal(t, "accounts", got[i].Externals.SubschemaOf(obj, "name"))
		}
		require.Zero(t, table.Len())
	})

	t.Run("executors without subscriptions", func(t *testing.T) {
		ctx := log.WithLogger(context.Background(), testlogr.New(t))
		executor := ExecutorFunc(func(ctx context.Context, req *Request) (*Result, error) {
			return nil, errors.New("unreachable")
		})

		_, err := DelegateSubscription(ctx, options(executor))
		var gErr *gqlerror.Error
		require.ErrorAs(t, err, &gErr)
		require.Equal(t, "created", gErr.Path.String())
	})
}
