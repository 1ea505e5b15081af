package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vvakame/stitchway/internal/delegate"
	"github.com/vvakame/stitchway/internal/engine"
	"github.com/vvakame/stitchway/internal/execute"
	igraphql "github.com/vvakame/stitchway/internal/graphql"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/merge"
	"github.com/vvakame/stitchway/internal/stitch"
	"golang.org/x/sync/errgroup"
)

var _ graphql.ExecutableSchema = (*Gateway)(nil)

type (
	// Executor sends a request to one subschema.
	Executor = delegate.Executor
	// Transform rewrites what is sent to and received from one subschema.
	Transform = delegate.Transform
	// MergedTypeConfig tells how a subschema fetches its fields of a merged type.
	MergedTypeConfig = stitch.MergedTypeConfig
)

type Config struct {
	Subschemas []*SubschemaConfig
	// GatewaySchema is served as is when given. Otherwise the schemas of every
	// subschema are merged, the first declared subschema wins on conflicts.
	GatewaySchema *ast.Schema

	// BatchWait caps how long a batched lookup waits for the other lookups of its
	// pass. 0 waits for the whole pass.
	BatchWait time.Duration
	// MaxBatch caps the keys of one batched call, 0 is unlimited.
	MaxBatch int
}

type SubschemaConfig struct {
	Name string
	// URL is where the subschema is posted to when Executor is nil.
	URL    string
	Header http.Header
	// Schema is asked to the subschema with { _service { sdl } } when nil.
	Schema   *ast.Schema
	Executor Executor

	Transforms []Transform
	// Merge is keyed by type names as the gateway sees them.
	Merge map[string]*MergedTypeConfig
	// Dedupe shares the result of identical queries in flight.
	Dedupe bool
	// ServiceNameInErrors adds extensions.serviceName to the errors the subschema reports.
	ServiceNameInErrors bool
}

// Gateway serves one schema stitched from several subschemas.
type Gateway struct {
	schema     *ast.Schema
	subschemas []*stitch.Subschema
	executor   *execute.Executor
}

func NewGateway(ctx context.Context, cfg *Config) (*Gateway, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// each goroutine owns its index.
	subschemas := make([]*stitch.Subschema, len(cfg.Subschemas))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, subschemaCfg := range cfg.Subschemas {
		i, subschemaCfg := i, subschemaCfg
		eg.Go(func() error {
			subschema, err := buildSubschema(egCtx, subschemaCfg)
			if err != nil {
				return fmt.Errorf("subschema %s: %w", subschemaCfg.Name, err)
			}
			subschemas[i] = subschema
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	schema := cfg.GatewaySchema
	if schema == nil {
		views := make([]*ast.Schema, 0, len(subschemas))
		for _, subschema := range subschemas {
			views = append(views, subschema.ViewSchema())
		}
		var err error
		schema, err = stitch.MergeSchemas(views...)
		if err != nil {
			return nil, err
		}
	}

	resolver, err := stitch.NewResolver(subschemas)
	if err != nil {
		return nil, err
	}

	log.FromContext(ctx).Info("gateway schema built", "subschemas", len(subschemas), "types", len(schema.Types))

	return &Gateway{
		schema:     schema,
		subschemas: subschemas,
		executor: execute.New(&execute.Config{
			Schema:     schema,
			Subschemas: subschemas,
			Resolver:   resolver,
			BatchWait:  cfg.BatchWait,
			MaxBatch:   cfg.MaxBatch,
		}),
	}, nil
}

func validate(cfg *Config) error {
	if cfg == nil || len(cfg.Subschemas) == 0 {
		return errors.New("subschemas are must required")
	}
	if cfg.BatchWait < 0 {
		return errors.New("batchWait must not be negative")
	}
	if cfg.MaxBatch < 0 {
		return errors.New("maxBatch must not be negative")
	}

	seen := make(map[string]bool)
	for i, subschemaCfg := range cfg.Subschemas {
		switch {
		case subschemaCfg == nil:
			return fmt.Errorf("subschemas[%d] is nil", i)
		case subschemaCfg.Name == "":
			return fmt.Errorf("subschemas[%d] has no name", i)
		case seen[subschemaCfg.Name]:
			return fmt.Errorf("subschema %s is declared twice", subschemaCfg.Name)
		case subschemaCfg.Executor == nil && subschemaCfg.URL == "":
			return fmt.Errorf("subschema %s needs an executor or an url", subschemaCfg.Name)
		}
		seen[subschemaCfg.Name] = true
	}

	return nil
}

func buildSubschema(ctx context.Context, cfg *SubschemaConfig) (*stitch.Subschema, error) {
	var executor delegate.Executor = cfg.Executor
	if executor == nil {
		executor = &engine.RemoteExecutor{
			URL:    cfg.URL,
			Header: cfg.Header,
		}
	}
	executor = engine.NewTracingExecutor(cfg.Name, executor)
	if cfg.Dedupe {
		executor = engine.NewDedupeExecutor(executor)
	}

	schema := cfg.Schema
	if schema == nil {
		sdl, err := engine.FetchSDL(ctx, executor)
		if err != nil {
			return nil, err
		}
		schema, err = loadSDL(cfg.Name, sdl)
		if err != nil {
			return nil, err
		}
	}

	view, err := stitch.TransformSchema(schema, cfg.Transforms)
	if err != nil {
		return nil, err
	}

	var onLocatedError merge.OnLocatedError
	if cfg.ServiceNameInErrors {
		onLocatedError = merge.WithServiceName(cfg.Name)
	}

	return &stitch.Subschema{
		Subschema: &delegate.Subschema{
			Name:           cfg.Name,
			Schema:         schema,
			Executor:       executor,
			Transforms:     cfg.Transforms,
			OnLocatedError: onLocatedError,
		},
		View:  view,
		Merge: cfg.Merge,
	}, nil
}

// loadSDL builds a schema from the SDL of a subschema. Federation directives some
// services print are not defined in their SDL, so unknown directives are dropped.
func loadSDL(name, sdl string) (*ast.Schema, error) {
	source := &ast.Source{Name: name + ".graphqls", Input: sdl}
	schema, gErr := gqlparser.LoadSchema(source)
	if gErr == nil {
		return schema, nil
	}

	doc, parseErr := parser.ParseSchema(source)
	if parseErr != nil {
		return nil, parseErr
	}
	known := make(map[string]bool)
	for _, directive := range doc.Directives {
		known[directive.Name] = true
	}
	strip := func(list ast.DirectiveList) ast.DirectiveList {
		var kept ast.DirectiveList
		for _, directive := range list {
			if known[directive.Name] || igraphql.IsSpecifiedDirective(directive.Name) {
				kept = append(kept, directive)
			}
		}
		return kept
	}
	for _, defs := range []ast.DefinitionList{doc.Definitions, doc.Extensions} {
		for _, def := range defs {
			def.Directives = strip(def.Directives)
			for _, field := range def.Fields {
				field.Directives = strip(field.Directives)
				for _, arg := range field.Arguments {
					arg.Directives = strip(arg.Directives)
				}
			}
			for _, value := range def.EnumValues {
				value.Directives = strip(value.Directives)
			}
		}
	}

	schema, err := stitch.LoadSchemaDocument(source.Name, doc)
	if err != nil {
		return nil, errors.Join(gErr, err)
	}
	return schema, nil
}

// Subschemas returns the names of the subschemas in declaration order.
func (g *Gateway) Subschemas() []string {
	names := make([]string, 0, len(g.subschemas))
	for _, subschema := range g.subschemas {
		names = append(names, subschema.Name)
	}
	return names
}

// Execute runs a query or a mutation given as text.
func (g *Gateway) Execute(ctx context.Context, query string, variables map[string]interface{}, operationName string) *graphql.Response {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return &graphql.Response{Errors: gqlerror.List{gqlerror.WrapIfUnwrapped(err)}}
	}
	return g.executor.Execute(ctx, &execute.ExecutionArgs{
		Document:       doc,
		VariableValues: variables,
		OperationName:  operationName,
	})
}

func (g *Gateway) Schema() *ast.Schema {
	return g.schema
}

func (g *Gateway) Complexity(typeName, fieldName string, childComplexity int, args map[string]interface{}) (int, bool) {
	// the cost lives in the subschemas, the gateway has no better guess than the default.
	return 0, false
}

func (g *Gateway) Exec(ctx context.Context) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)
	args := &execute.ExecutionArgs{
		Document:       oc.Doc,
		VariableValues: oc.Variables,
		OperationName:  oc.OperationName,
	}

	if oc.Operation == nil || oc.Operation.Operation != ast.Subscription {
		resp := g.executor.Execute(ctx, args)
		return func(ctx context.Context) *graphql.Response {
			return resp
		}
	}

	ch, err := g.executor.Subscribe(ctx, args)
	if err != nil {
		resp := &graphql.Response{Errors: gqlerror.List{gqlerror.Wrap(err)}}
		return func(ctx context.Context) *graphql.Response {
			r := resp
			resp = nil
			return r
		}
	}
	return func(ctx context.Context) *graphql.Response {
		select {
		case resp, ok := <-ch:
			if !ok {
				return nil
			}
			return resp
		case <-ctx.Done():
			return nil
		}
	}
}
