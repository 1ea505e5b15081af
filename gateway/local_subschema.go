package gateway

import (
	"github.com/99designs/gqlgen/graphql"
	"github.com/vvakame/stitchway/internal/engine"
)

// NewLocalSubschema runs a gqlgen schema in the same process as the gateway.
// Its schema is taken from es, no SDL is fetched.
func NewLocalSubschema(name string, es graphql.ExecutableSchema) *SubschemaConfig {
	return &SubschemaConfig{
		Name:     name,
		Schema:   es.Schema(),
		Executor: engine.NewLocalExecutor(es),
	}
}
