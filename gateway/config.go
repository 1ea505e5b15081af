package gateway

import (
	"context"
	"net/http"
	"os"

	"github.com/vvakame/stitchway/internal/config"
	"github.com/vvakame/stitchway/internal/log"
)

// NewFromConfigFile builds a gateway out of a YAML or TOML file.
func NewFromConfigFile(ctx context.Context, path string) (*Gateway, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewGateway(ctx, cfg)
}

// LoadConfig reads a YAML or TOML file into a Config. Schema files are loaded,
// subschemas without one are asked for their SDL by NewGateway.
func LoadConfig(path string) (*Config, error) {
	fileCfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BatchWait: fileCfg.BatchWait,
		MaxBatch:  fileCfg.MaxBatch,
	}
	for _, s := range fileCfg.Subschemas {
		subschemaCfg := NewRemoteSubschema(s.Name, s.URL)
		subschemaCfg.Dedupe = s.Dedupe
		subschemaCfg.ServiceNameInErrors = s.ServiceNameInErrors
		for k, v := range s.Headers {
			subschemaCfg.Header.Set(k, v)
		}

		if schemaPath := fileCfg.SchemaPath(s); schemaPath != "" {
			b, err := os.ReadFile(schemaPath)
			if err != nil {
				return nil, err
			}
			subschemaCfg.Schema, err = loadSDL(s.Name, string(b))
			if err != nil {
				return nil, err
			}
		}

		if s.TypePrefix != "" {
			subschemaCfg.Transforms = append(subschemaCfg.Transforms, PrefixTypes(s.TypePrefix))
		}
		if s.RootFieldPrefix != "" {
			subschemaCfg.Transforms = append(subschemaCfg.Transforms, PrefixRootFields(s.RootFieldPrefix))
		}

		if len(s.Merge) != 0 {
			subschemaCfg.Merge = make(map[string]*MergedTypeConfig, len(s.Merge))
			for typeName, mt := range s.Merge {
				subschemaCfg.Merge[typeName] = mt.MergedTypeConfig()
			}
		}

		cfg.Subschemas = append(cfg.Subschemas, subschemaCfg)
	}

	return cfg, nil
}

// WithLogger returns an http.Handler giving every request a context carrying the
// logger of ctx, the way the engine expects to find it.
func WithLogger(ctx context.Context, next http.Handler) http.Handler {
	logger := log.FromContext(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(log.WithLogger(r.Context(), logger))
		next.ServeHTTP(w, r)
	})
}
