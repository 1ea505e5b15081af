package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	testlogr "github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/testutils"
	"github.com/vvakame/stitchway/internal/utils"
	"go.uber.org/goleak"
)

var usersSDL = heredoc.Doc(`
	type Query {
		usersByIds(ids: [ID!]!, obfuscateEmail: Boolean): [User]!
		user(id: ID!): User
	}

	type User {
		id: ID!
		email: String
	}
`)

type usersBackend struct {
	mu    sync.Mutex
	calls [][]interface{}
	flags []interface{}
	// failAt makes the email of the item at that index fail.
	failAt int
	down   bool
}

func (b *usersBackend) Execute(ctx context.Context, req *delegate.Request) (*delegate.Result, error) {
	if b.down {
		return nil, errors.New("service unavailable")
	}

	ids, _ := req.Variables["_v0_ids"].([]interface{})
	flag := req.Variables["_v0_obfuscateEmail"]

	b.mu.Lock()
	b.calls = append(b.calls, ids)
	b.flags = append(b.flags, flag)
	b.mu.Unlock()

	if id, ok := req.Variables["_v0_id"]; ok {
		return &delegate.Result{
			Data: map[string]interface{}{
				"user": map[string]interface{}{"id": id, "email": nil},
			},
			Errors: gqlerror.List{
				{Message: "email failed", Path: ast.Path{ast.PathName("user"), ast.PathName("email")}},
			},
		}, nil
	}

	var errs gqlerror.List
	users := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		var email interface{} = fmt.Sprintf("%s@example.com", id)
		if flag == true {
			email = "***"
		}
		if i == b.failAt {
			email = nil
			errs = append(errs, &gqlerror.Error{
				Message: "email failed",
				Path:    ast.Path{ast.PathName("usersByIds"), ast.PathIndex(i), ast.PathName("email")},
			})
		}
		users = append(users, map[string]interface{}{"id": id, "email": email})
	}

	return &delegate.Result{
		Data:   map[string]interface{}{"usersByIds": users},
		Errors: errs,
	}, nil
}

func (b *usersBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// waiting returns how many loads wait in pending groups.
func (s *Scheduler) waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, g := range s.groups {
		n += len(g.waiters)
	}
	return n
}

func newCall(t *testing.T, subschema *delegate.Subschema, key string, extraArgs map[string]interface{}, path ast.Path) *Call {
	return &Call{
		Subschema: subschema,
		FieldName: "usersByIds",
		Key:       key,
		ExtraArgs: extraArgs,
		ArgsFromKeys: func(keys []interface{}) map[string]interface{} {
			return map[string]interface{}{"ids": keys}
		},
		Options: &delegate.Options{
			Selection: testutils.ParseQuery(t, `{ id email }`).Operations[0].SelectionSet,
			Path:      path,
		},
	}
}

func userPath(i int) ast.Path {
	return ast.Path{ast.PathName("posts"), ast.PathIndex(i), ast.PathName("author")}
}

func TestScheduler_Grouping(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	backend := &usersBackend{failAt: -1}
	subschema := &delegate.Subschema{Name: "users", Schema: testutils.LoadSchema(t, usersSDL), Executor: backend}

	t.Run("same extra arguments share one call", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()
		keys := []string{"1", "2", "3", "4", "5"}
		values := make([]interface{}, len(keys))

		scheduler.Parallel(len(keys), func(i int) {
			value, err := scheduler.Load(ctx, newCall(t, subschema, keys[i], map[string]interface{}{"obfuscateEmail": false}, userPath(i)))
			if err != nil {
				t.Error(err)
				return
			}
			values[i] = value
		})

		require.Equal(t, 1, backend.callCount())
		got := make([]string, 0, len(backend.calls[0]))
		for _, id := range backend.calls[0] {
			got = append(got, id.(string))
		}
		sort.Strings(got)
		if diff := cmp.Diff(keys, got); diff != "" {
			t.Errorf("keys mismatch (-want +got):\n%s", diff)
		}
		for i, key := range keys {
			obj := values[i].(map[string]interface{})
			require.Equal(t, key, obj["id"])
			require.Equal(t, key+"@example.com", obj["email"])
		}
	})

	t.Run("different extra arguments never share a call", func(t *testing.T) {
		backend.calls = nil
		backend.flags = nil
		scheduler := NewScheduler()

		flags := []bool{true, false}
		results := make([]interface{}, len(flags))
		scheduler.Parallel(len(flags), func(i int) {
			value, err := scheduler.Load(ctx, newCall(t, subschema, "1", map[string]interface{}{"obfuscateEmail": flags[i]}, userPath(i)))
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = value
		})

		require.Equal(t, 2, backend.callCount())
		require.Equal(t, "***", results[0].(map[string]interface{})["email"])
		require.Equal(t, "1@example.com", results[1].(map[string]interface{})["email"])
	})

	t.Run("duplicate keys share a slot", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		results := make([]interface{}, 3)
		scheduler.Parallel(len(results), func(i int) {
			value, err := scheduler.Load(ctx, newCall(t, subschema, "7", nil, userPath(i)))
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = value
		})

		require.Equal(t, 1, backend.callCount())
		require.Equal(t, []interface{}{"7"}, backend.calls[0])
		for _, result := range results {
			require.Equal(t, "7", result.(map[string]interface{})["id"])
		}
		results[0].(map[string]interface{})["id"] = "changed"
		require.Equal(t, "7", results[1].(map[string]interface{})["id"], "every caller owns its value")
	})

	t.Run("values shared by several keys are copied", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		shared := map[string]interface{}{"id": "team", "email": "team@example.com"}
		results := make([]interface{}, 2)
		scheduler.Parallel(len(results), func(i int) {
			call := newCall(t, subschema, fmt.Sprint(i), nil, userPath(i))
			call.ValuesFromResults = func(results interface{}, keys []interface{}) []interface{} {
				values := make([]interface{}, len(keys))
				for i := range values {
					values[i] = shared
				}
				return values
			}
			value, err := scheduler.Load(ctx, call)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = value
		})

		require.Equal(t, 1, backend.callCount())
		a := results[0].(map[string]interface{})
		b := results[1].(map[string]interface{})
		require.False(t, utils.SameObject(a, b))
		a["id"] = "changed"
		require.Equal(t, "team", b["id"])
	})

	t.Run("max batch flushes early", func(t *testing.T) {
		backend.calls = nil
		small := NewScheduler(WithMaxBatch(2))

		keys := []string{"1", "2", "3"}
		small.Parallel(len(keys), func(i int) {
			_, err := small.Load(ctx, newCall(t, subschema, keys[i], nil, userPath(i)))
			if err != nil {
				t.Error(err)
			}
		})

		require.Equal(t, 2, backend.callCount())
		sizes := []int{len(backend.calls[0]), len(backend.calls[1])}
		sort.Ints(sizes)
		require.Equal(t, []int{1, 2}, sizes)
	})
}

func TestScheduler_Pass(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	backend := &usersBackend{failAt: -1}
	subschema := &delegate.Subschema{Name: "users", Schema: testutils.LoadSchema(t, usersSDL), Executor: backend}

	t.Run("a wide fan out is one call", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		const n = 2000
		values := make([]interface{}, n)
		scheduler.Parallel(n, func(i int) {
			value, err := scheduler.Load(ctx, newCall(t, subschema, fmt.Sprint(i), nil, userPath(i)))
			if err != nil {
				t.Error(err)
				return
			}
			values[i] = value
		})

		require.Equal(t, 1, backend.callCount())
		require.Len(t, backend.calls[0], n)
		for i, value := range values {
			require.Equal(t, fmt.Sprint(i), value.(map[string]interface{})["id"])
		}
	})

	t.Run("nested forks wait for every participant", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		// lists of lists, inner items start late and still join the pass.
		scheduler.Parallel(10, func(i int) {
			time.Sleep(time.Duration(i) * time.Millisecond)
			scheduler.Parallel(10, func(j int) {
				_, err := scheduler.Load(ctx, newCall(t, subschema, fmt.Sprintf("%d-%d", i, j), nil, userPath(i)))
				if err != nil {
					t.Error(err)
				}
			})
		})

		require.Equal(t, 1, backend.callCount())
		require.Len(t, backend.calls[0], 100)
	})

	t.Run("every pass is one call", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		scheduler.Parallel(20, func(i int) {
			for pass := 0; pass < 3; pass++ {
				_, err := scheduler.Load(ctx, newCall(t, subschema, fmt.Sprintf("%d-%d", pass, i), nil, userPath(i)))
				if err != nil {
					t.Error(err)
				}
			}
		})

		require.Equal(t, 3, backend.callCount())
		for _, keys := range backend.calls {
			require.Len(t, keys, 20)
		}
	})

	t.Run("wait caps a pass that does not end", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler(WithWait(5 * time.Millisecond))

		loaded := make(chan struct{})
		scheduler.Parallel(2, func(i int) {
			if i == 1 {
				// busy until the other participant got its value.
				select {
				case <-loaded:
				case <-time.After(5 * time.Second):
					t.Error("load was not flushed by the wait cap")
				}
				return
			}
			_, err := scheduler.Load(ctx, newCall(t, subschema, "1", nil, userPath(i)))
			if err != nil {
				t.Error(err)
			}
			close(loaded)
		})

		require.Equal(t, 1, backend.callCount())
	})

	t.Run("goroutines nobody forked still get their value", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := scheduler.Load(ctx, newCall(t, subschema, fmt.Sprint(i), nil, userPath(i)))
				if err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()

		require.NotZero(t, backend.callCount())
	})
}

func TestScheduler_ErrorIndexCorrection(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	ctx = merge.WithTable(ctx, merge.NewTable())
	backend := &usersBackend{failAt: 1}
	subschema := &delegate.Subschema{Name: "users", Schema: testutils.LoadSchema(t, usersSDL), Executor: backend}
	scheduler := NewScheduler()

	keys := []string{"a", "b", "c"}
	values := make([]interface{}, len(keys))
	scheduler.Parallel(len(keys), func(i int) {
		value, err := scheduler.Load(ctx, newCall(t, subschema, keys[i], nil, userPath(i)))
		if err != nil {
			t.Error(err)
			return
		}
		values[i] = value
	})
	require.Equal(t, 1, backend.callCount())

	// keys are sent in arrival order.
	require.Len(t, backend.calls[0], 3)
	failedKey := backend.calls[0][1].(string)
	failedIndex := map[string]int{"a": 0, "b": 1, "c": 2}[failedKey]

	batched, ok := merge.AsError(values[failedIndex].(map[string]interface{})["email"])
	require.True(t, ok)

	// the same field resolved without batching
	single, err := delegate.DelegateToSchema(ctx, &delegate.Options{
		Subschema: subschema,
		FieldName: "user",
		Args:      map[string]interface{}{"id": failedKey},
		Selection: testutils.ParseQuery(t, `{ id email }`).Operations[0].SelectionSet,
		Path:      userPath(failedIndex),
	})
	require.NoError(t, err)
	singleErr, ok := merge.AsError(single.(map[string]interface{})["email"])
	require.True(t, ok)

	require.Equal(t, singleErr.Path.String(), batched.Path.String())
	require.Equal(t, fmt.Sprintf("posts[%d].author.email", failedIndex), batched.Path.String())

	for i, value := range values {
		if i == failedIndex {
			continue
		}
		_, isErr := merge.AsError(value.(map[string]interface{})["email"])
		require.False(t, isErr)
	}
}

func TestScheduler_WholeCallFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	backend := &usersBackend{failAt: -1, down: true}
	subschema := &delegate.Subschema{Name: "users", Schema: testutils.LoadSchema(t, usersSDL), Executor: backend}
	scheduler := NewScheduler()

	values := make([]interface{}, 3)
	scheduler.Parallel(len(values), func(i int) {
		value, err := scheduler.Load(ctx, newCall(t, subschema, fmt.Sprint(i), nil, userPath(i)))
		if err != nil {
			t.Error(err)
			return
		}
		values[i] = value
	})

	var shared *BatchError
	for i, value := range values {
		gErr, ok := merge.AsError(value)
		require.True(t, ok)
		require.Equal(t, merge.CodeBatchError, gErr.Extensions["code"])
		require.Equal(t, userPath(i).String(), gErr.Path.String())
		require.Equal(t, "service unavailable", gErr.Message)

		var batchErr *BatchError
		require.True(t, errors.As(gErr.Err, &batchErr))
		if shared == nil {
			shared = batchErr
		}
		require.Same(t, shared, batchErr)
	}
}

func TestScheduler_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	backend := &usersBackend{failAt: -1}
	subschema := &delegate.Subschema{Name: "users", Schema: testutils.LoadSchema(t, usersSDL), Executor: backend}

	t.Run("abandoned slots are not requested", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		cancelled, cancel := context.WithCancel(ctx)
		var value interface{}
		scheduler.Parallel(2, func(i int) {
			if i == 0 {
				_, err := scheduler.Load(cancelled, newCall(t, subschema, "gone", nil, userPath(0)))
				if !errors.Is(err, context.Canceled) {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			// the other participant is waiting in its group before it goes away.
			deadline := time.Now().Add(5 * time.Second)
			for scheduler.waiting() != 1 {
				if time.Now().After(deadline) {
					t.Error("the cancelled load never joined its group")
					break
				}
				time.Sleep(time.Millisecond)
			}
			cancel()

			var err error
			value, err = scheduler.Load(ctx, newCall(t, subschema, "kept", nil, userPath(1)))
			if err != nil {
				t.Error(err)
			}
		})

		require.Equal(t, 1, backend.callCount())
		require.Equal(t, []interface{}{"kept"}, backend.calls[0])
		require.Equal(t, "kept", value.(map[string]interface{})["id"])
	})

	t.Run("no live caller means no call", func(t *testing.T) {
		backend.calls = nil
		scheduler := NewScheduler()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := scheduler.Load(cancelled, newCall(t, subschema, "1", nil, userPath(0)))
		require.ErrorIs(t, err, context.Canceled)

		time.Sleep(20 * time.Millisecond)
		require.Equal(t, 0, backend.callCount())
	})
}

func TestFingerprint(t *testing.T) {
	selection := testutils.ParseQuery(t, `{ id email }`).Operations[0].SelectionSet

	a, err := Fingerprint(map[string]interface{}{"x": 1, "y": map[string]interface{}{"b": true, "a": "s"}}, selection)
	require.NoError(t, err)
	b, err := Fingerprint(map[string]interface{}{"y": map[string]interface{}{"a": "s", "b": true}, "x": 1}, selection)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := Fingerprint(map[string]interface{}{"x": 1, "y": map[string]interface{}{"b": false, "a": "s"}}, selection)
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	other := testutils.ParseQuery(t, `{ id }`).Operations[0].SelectionSet
	d, err := Fingerprint(map[string]interface{}{"x": 1, "y": map[string]interface{}{"b": true, "a": "s"}}, other)
	require.NoError(t, err)
	require.NotEqual(t, a, d)
}
