package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/utils"
)

// Call is one key waiting to be loaded by a batched field.
type Call struct {
	Subschema *delegate.Subschema
	FieldName string
	Key       interface{}
	// ExtraArgs are the arguments every key of the batch shares.
	ExtraArgs map[string]interface{}
	// ArgsFromKeys builds the key arguments of the batched field, merged over ExtraArgs.
	ArgsFromKeys func(keys []interface{}) map[string]interface{}
	// ValuesFromResults maps the batched field value back to one value per key.
	// Without it the field must return a list matching keys position by position.
	ValuesFromResults func(results interface{}, keys []interface{}) []interface{}
	// Options carry the selection, transforms and the caller location.
	// Subschema, FieldName, Args and ResponseKey are set by the scheduler.
	Options *delegate.Options
}

type Option func(s *Scheduler)

// WithWait caps how long a group waits for the pass to end. 0 means no cap.
func WithWait(wait time.Duration) Option {
	return func(s *Scheduler) {
		s.wait = wait
	}
}

// WithMaxBatch flushes a group as soon as it holds n keys. 0 means no limit.
func WithMaxBatch(n int) Option {
	return func(s *Scheduler) {
		s.maxBatch = n
	}
}

// Scheduler coalesces calls to the same subschema field into one request.
// A scheduler serves one client operation.
//
// Pending groups are flushed once the pass ends: every goroutine taking part in the
// operation is either waiting in Load or gone. Goroutines take part through Fork,
// the goroutine creating the scheduler takes part from the start.
type Scheduler struct {
	wait     time.Duration
	maxBatch int

	mu     sync.Mutex
	active int
	groups map[groupKey]*group
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		active: 1,
		groups: make(map[groupKey]*group),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type schedulerKey struct{}

func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey{}, s)
}

// FromContext returns the scheduler of ctx, or nil.
func FromContext(ctx context.Context) *Scheduler {
	s, _ := ctx.Value(schedulerKey{}).(*Scheduler)
	return s
}

// Fork hands the participation of the caller to n goroutines it is about to start
// and wait for. Each of them calls the returned func once it is done, the last one
// hands the participation back. The caller must not call Load until then.
// A nil scheduler returns a no-op.
func (s *Scheduler) Fork(n int) func() {
	if s == nil || n <= 0 {
		return func() {}
	}

	s.mu.Lock()
	s.active += n - 1
	s.mu.Unlock()

	var remaining atomic.Int64
	remaining.Store(int64(n))
	return func() {
		if remaining.Add(-1) == 0 {
			return
		}
		s.leave()
	}
}

// Parallel runs fn(0) to fn(n-1) concurrently as participants of the pass and
// waits for them.
func (s *Scheduler) Parallel(n int, fn func(i int)) {
	join := s.Fork(n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			defer join()
			fn(i)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	s.active--
	groups := s.endOfPass()
	s.mu.Unlock()

	for _, g := range groups {
		go s.flush(g)
	}
}

// endOfPass takes every pending group once no participant is running.
// It is called with s.mu held.
func (s *Scheduler) endOfPass() []*group {
	// below zero when goroutines nobody forked call Load, flushing early keeps them going.
	if s.active > 0 || len(s.groups) == 0 {
		return nil
	}
	groups := make([]*group, 0, len(s.groups))
	for key, g := range s.groups {
		delete(s.groups, key)
		groups = append(groups, g)
	}
	return groups
}

// wake counts w as running again. It is called with s.mu held.
func (s *Scheduler) wake(w *waiter) {
	if w.woken {
		return
	}
	w.woken = true
	s.active++
}

type groupKey struct {
	subschema   string
	fieldName   string
	fingerprint uint64
}

type group struct {
	key   groupKey
	call  *Call
	keys  []interface{}
	slots map[string]int

	waiters []*waiter
	timer   *time.Timer
	flushed bool
}

type waiter struct {
	ctx            context.Context
	slot           int
	path           ast.Path
	onLocatedError merge.OnLocatedError
	result         chan outcome
	// guarded by Scheduler.mu.
	woken bool
}

type outcome struct {
	value interface{}
	err   error
}

// Load returns the value for call.Key once the group it joined is flushed.
// The value may be an error placed where the data would have gone.
func (s *Scheduler) Load(ctx context.Context, call *Call) (interface{}, error) {
	if call.ArgsFromKeys == nil {
		return nil, errors.New("ArgsFromKeys is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.Options == nil {
		call.Options = &delegate.Options{}
	}

	selection := call.Options.Selection
	for _, fieldNode := range call.Options.FieldNodes {
		selection = append(selection[:len(selection):len(selection)], fieldNode.SelectionSet...)
	}
	fingerprint, err := Fingerprint(call.ExtraArgs, selection)
	if err != nil {
		return nil, err
	}
	key := groupKey{
		subschema:   call.Subschema.Name,
		fieldName:   call.FieldName,
		fingerprint: fingerprint,
	}

	w := &waiter{
		ctx:            ctx,
		path:           call.Options.Path,
		onLocatedError: call.Options.OnLocatedError,
		result:         make(chan outcome, 1),
	}

	s.mu.Lock()
	g, ok := s.groups[key]
	if !ok {
		g = &group{
			key:   key,
			call:  call,
			slots: make(map[string]int),
		}
		s.groups[key] = g
		if s.wait > 0 {
			g.timer = time.AfterFunc(s.wait, func() {
				s.flush(g)
			})
		}
	}
	id := keyID(call.Key)
	slot, ok := g.slots[id]
	if !ok {
		slot = len(g.keys)
		g.slots[id] = slot
		g.keys = append(g.keys, call.Key)
	}
	w.slot = slot
	g.waiters = append(g.waiters, w)

	var ready []*group
	if s.maxBatch > 0 && len(g.keys) >= s.maxBatch {
		delete(s.groups, key)
		ready = append(ready, g)
	}
	s.active--
	ready = append(ready, s.endOfPass()...)
	s.mu.Unlock()

	for _, g := range ready {
		go s.flush(g)
	}

	select {
	case o := <-w.result:
		return o.value, o.err
	case <-ctx.Done():
		s.mu.Lock()
		s.wake(w)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (s *Scheduler) flush(g *group) {
	s.mu.Lock()
	if g.flushed {
		s.mu.Unlock()
		return
	}
	g.flushed = true
	if s.groups[g.key] == g {
		delete(s.groups, g.key)
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	waiters := g.waiters
	s.mu.Unlock()

	// waiters whose ctx is done abandoned their slot.
	var live []*waiter
	for _, w := range waiters {
		if w.ctx.Err() == nil {
			live = append(live, w)
		}
	}
	if len(live) == 0 {
		return
	}

	var keys []interface{}
	slots := make(map[int]int)
	for _, w := range live {
		slot, ok := slots[w.slot]
		if !ok {
			slot = len(keys)
			slots[w.slot] = slot
			keys = append(keys, g.keys[w.slot])
		}
		w.slot = slot
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(live[0].ctx))
	defer cancel()
	go func() {
		for _, w := range live {
			select {
			case <-w.ctx.Done():
			case <-ctx.Done():
				return
			}
		}
		cancel()
	}()

	log.FromContext(ctx).V(log.LevelTrace).Info(
		"flushing batch",
		"group", g.key.String(),
		"keys", len(keys),
		"callers", len(live),
	)

	values, err := s.run(ctx, g.call, keys, live)

	s.mu.Lock()
	for _, w := range live {
		s.wake(w)
	}
	s.mu.Unlock()

	for _, w := range live {
		if err != nil {
			w.result <- outcome{err: err}
			continue
		}
		w.result <- outcome{value: values[w]}
	}
}

func (s *Scheduler) run(ctx context.Context, call *Call, keys []interface{}, live []*waiter) (map[*waiter]interface{}, error) {
	args := make(map[string]interface{}, len(call.ExtraArgs))
	for k, v := range call.ExtraArgs {
		args[k] = v
	}
	for k, v := range call.ArgsFromKeys(keys) {
		args[k] = v
	}

	opts := *call.Options
	opts.Subschema = call.Subschema
	opts.FieldName = call.FieldName
	opts.ResponseKey = call.FieldName
	opts.Args = args
	opts.Path = nil
	opts.OnLocatedError = nil
	opts.ReturnType = nil

	d, err := delegate.NewDelegation(ctx, &opts)
	if err != nil {
		return nil, err
	}
	result, err := d.Execute(ctx)
	if err != nil {
		return nil, err
	}
	dctx := d.Context()

	var data interface{}
	if obj := result.DataObject(); obj != nil {
		data = obj[call.FieldName]
	}

	values, indexes, ok := demultiplex(call, data, keys)
	if !ok {
		batchErr := &BatchError{Errors: result.Errors}
		outcomes := make(map[*waiter]interface{}, len(live))
		for _, w := range live {
			outcomes[w] = batchErr.located(w.path)
		}
		return outcomes, nil
	}

	// errors located at [field, i, rest...] belong to item i as [field, rest...].
	itemErrs := make(map[int]gqlerror.List)
	var unindexed gqlerror.List
	for _, err := range result.Errors {
		if len(err.Path) >= 2 {
			if index, ok := err.Path[1].(ast.PathIndex); ok {
				corrected := *err
				corrected.Path = utils.AppendPath(err.Path[:1], err.Path[2:]...)
				itemErrs[int(index)] = append(itemErrs[int(index)], &corrected)
				continue
			}
		}
		unindexed = append(unindexed, err)
	}

	slotErrs := make([]gqlerror.List, len(keys))
	claimed := make(map[int]bool)
	for slot, index := range indexes {
		if index < 0 || claimed[index] {
			continue
		}
		claimed[index] = true
		slotErrs[slot] = itemErrs[index]
	}
	for index, errs := range itemErrs {
		if !claimed[index] {
			unindexed = append(unindexed, errs...)
		}
	}

	outcomes := make(map[*waiter]interface{}, len(live))
	handedOut := make(map[uintptr]bool)
	for i, w := range live {
		value := values[w.slot]
		// every caller owns its value, merging edits it in place.
		if id, ok := utils.Identity(value); ok {
			if handedOut[id] {
				value = utils.DeepCopy(value)
			} else {
				handedOut[id] = true
			}
		}

		errs := slotErrs[w.slot]
		if i == 0 {
			errs = append(errs[:len(errs):len(errs)], unindexed...)
		}
		outcomes[w] = dctx.ResolveValue(value, errs, w.path, w.onLocatedError)
	}

	return outcomes, nil
}

// demultiplex returns the value of every key and the index of the response list it came from,
// -1 when unknown.
func demultiplex(call *Call, data interface{}, keys []interface{}) ([]interface{}, []int, bool) {
	list, isList := data.([]interface{})

	if call.ValuesFromResults != nil {
		if data == nil {
			return nil, nil, false
		}
		values := call.ValuesFromResults(data, keys)
		if len(values) != len(keys) {
			return nil, nil, false
		}
		indexes := make([]int, len(values))
		for slot, value := range values {
			indexes[slot] = indexOf(list, value)
		}
		return values, indexes, true
	}

	if !isList {
		return nil, nil, false
	}
	values := make([]interface{}, len(keys))
	indexes := make([]int, len(keys))
	for slot := range keys {
		indexes[slot] = slot
		if slot < len(list) {
			values[slot] = list[slot]
		}
	}
	return values, indexes, true
}

func indexOf(list []interface{}, value interface{}) int {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return -1
	}
	for i, item := range list {
		if itemObj, ok := item.(map[string]interface{}); ok && utils.SameObject(itemObj, obj) {
			return i
		}
	}
	return -1
}

var _ error = (*BatchError)(nil)

// BatchError is delivered to every caller of a batch whose call failed as a whole.
type BatchError struct {
	Errors gqlerror.List
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 0 {
		return "batched call returned no usable data"
	}
	messages := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "\n")
}

func (e *BatchError) Unwrap() []error {
	return e.Errors.Unwrap()
}

func (e *BatchError) located(path ast.Path) *gqlerror.Error {
	return &gqlerror.Error{
		Err:     e,
		Message: e.Error(),
		Path:    path,
		Extensions: map[string]interface{}{
			"code": merge.CodeBatchError,
		},
	}
}

func (k groupKey) String() string {
	return fmt.Sprintf("%s.%s#%x", k.subschema, k.fieldName, k.fingerprint)
}
