package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/MakeNowJust/heredoc/v2"
	testlogr "github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vvakame/stitchway/internal/log"
	"github.com/vvakame/stitchway/internal/utils"
)

var accountsSDL = heredoc.Doc(`
	type Query {
		me: User
		usersByIds(ids: [ID!]!): [User]!
	}

	type User @key(fields: "id") {
		id: ID!
		name: String
	}
`)

var reviewsSDL = heredoc.Doc(`
	type Query {
		reviewsByUserIds(ids: [ID!]!): [User]!
	}

	type User {
		id: ID!
		reviews: [Review]
	}

	type Review {
		body: String
	}
`)

var userNames = map[string]string{"1": "Ada", "2": "Grace"}

// service is a GraphQL endpoint answering root fields by name.
type service struct {
	sdl     string
	resolve map[string]func(args map[string]interface{}) interface{}

	mu      sync.Mutex
	queries []string
}

func (s *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: params.Query})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := make(map[string]interface{})
	for _, sel := range doc.Operations.ForName(params.OperationName).SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if field.Name == "_service" {
			data[utils.ResponseKey(field)] = map[string]interface{}{"sdl": s.sdl}
			continue
		}

		s.mu.Lock()
		s.queries = append(s.queries, params.Query)
		s.mu.Unlock()

		args := make(map[string]interface{})
		for _, arg := range field.Arguments {
			value, err := arg.Value.Value(params.Variables)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			args[arg.Name] = value
		}
		data[utils.ResponseKey(field)] = s.resolve[field.Name](args)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func (s *service) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func newServices(t *testing.T) (accounts, reviews *service, accountsURL, reviewsURL string) {
	accounts = &service{sdl: accountsSDL, resolve: map[string]func(args map[string]interface{}) interface{}{
		"me": func(args map[string]interface{}) interface{} {
			return map[string]interface{}{"id": "1", "name": "Ada"}
		},
		"usersByIds": func(args map[string]interface{}) interface{} {
			var users []interface{}
			for _, id := range args["ids"].([]interface{}) {
				users = append(users, map[string]interface{}{"id": id, "name": userNames[id.(string)]})
			}
			return users
		},
	}}
	reviews = &service{sdl: reviewsSDL, resolve: map[string]func(args map[string]interface{}) interface{}{
		"reviewsByUserIds": func(args map[string]interface{}) interface{} {
			var users []interface{}
			for _, id := range args["ids"].([]interface{}) {
				users = append(users, map[string]interface{}{
					"id":      id,
					"reviews": []interface{}{map[string]interface{}{"body": "review of " + userNames[id.(string)]}},
				})
			}
			return users
		},
	}}

	accountsServer := httptest.NewServer(accounts)
	t.Cleanup(accountsServer.Close)
	reviewsServer := httptest.NewServer(reviews)
	t.Cleanup(reviewsServer.Close)

	return accounts, reviews, accountsServer.URL, reviewsServer.URL
}

func mergeByIds(fieldName string) map[string]*MergedTypeConfig {
	return map[string]*MergedTypeConfig{
		"User": {
			SelectionSet: `{ id }`,
			FieldName:    fieldName,
			Key: func(obj map[string]interface{}) interface{} {
				return obj["id"]
			},
			ArgsFromKeys: func(keys []interface{}) map[string]interface{} {
				return map[string]interface{}{"ids": keys}
			},
		},
	}
}

func TestNewGateway(t *testing.T) {
	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	accounts, reviews, accountsURL, reviewsURL := newServices(t)

	accountsCfg := NewRemoteSubschema("accounts", accountsURL)
	accountsCfg.Merge = mergeByIds("usersByIds")
	reviewsCfg := NewRemoteSubschema("reviews", reviewsURL)
	reviewsCfg.Merge = mergeByIds("reviewsByUserIds")
	reviewsCfg.Dedupe = true

	gw, err := NewGateway(ctx, &Config{Subschemas: []*SubschemaConfig{accountsCfg, reviewsCfg}})
	require.NoError(t, err)
	require.Equal(t, []string{"accounts", "reviews"}, gw.Subschemas())

	user := gw.Schema().Types["User"]
	require.NotNil(t, user)
	require.NotNil(t, user.Fields.ForName("name"))
	require.NotNil(t, user.Fields.ForName("reviews"))
	require.NotNil(t, gw.Schema().Types["Review"])

	resp := gw.Execute(ctx, `query Me { me { name reviews { body } } }`, nil, "Me")
	require.Empty(t, resp.Errors)
	require.Equal(t, `{"me":{"name":"Ada","reviews":[{"body":"review of Ada"}]}}`, string(resp.Data))
	require.Equal(t, 1, accounts.calls())
	require.Equal(t, 1, reviews.calls())

	resp = gw.Execute(ctx, `{ me {`, nil, "")
	require.Len(t, resp.Errors, 1)
}

func TestNewGateway_Invalid(t *testing.T) {
	ctx := context.Background()

	_, err := NewGateway(ctx, &Config{})
	require.EqualError(t, err, "subschemas are must required")

	_, err = NewGateway(ctx, &Config{Subschemas: []*SubschemaConfig{{Name: "a"}}})
	require.EqualError(t, err, "subschema a needs an executor or an url")

	_, err = NewGateway(ctx, &Config{Subschemas: []*SubschemaConfig{
		NewRemoteSubschema("a", "http://localhost"),
		NewRemoteSubschema("a", "http://localhost"),
	}})
	require.EqualError(t, err, "subschema a is declared twice")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	_, err = NewGateway(ctx, &Config{Subschemas: []*SubschemaConfig{NewRemoteSubschema("broken", server.URL)}})
	require.ErrorContains(t, err, "subschema broken: ")
}

func TestGateway_Exec(t *testing.T) {
	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	_, _, accountsURL, reviewsURL := newServices(t)

	accountsCfg := NewRemoteSubschema("accounts", accountsURL)
	accountsCfg.Merge = mergeByIds("usersByIds")
	reviewsCfg := NewRemoteSubschema("reviews", reviewsURL)
	reviewsCfg.Merge = mergeByIds("reviewsByUserIds")

	gw, err := NewGateway(ctx, &Config{Subschemas: []*SubschemaConfig{accountsCfg, reviewsCfg}})
	require.NoError(t, err)

	server := httptest.NewServer(WithLogger(ctx, handler.NewDefaultServer(gw)))
	t.Cleanup(server.Close)

	body := `{"query":"query ($ids: [ID!]!) { usersByIds(ids: $ids) { id name reviews { body } } }","variables":{"ids":["1","2"]}}`
	resp, err := http.Post(server.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data   json.RawMessage `json:"data"`
		Errors []interface{}   `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Empty(t, result.Errors)
	require.JSONEq(t, `{"usersByIds":[
		{"id":"1","name":"Ada","reviews":[{"body":"review of Ada"}]},
		{"id":"2","name":"Grace","reviews":[{"body":"review of Grace"}]}
	]}`, string(result.Data))
}

func TestNewFromConfigFile(t *testing.T) {
	ctx := log.WithLogger(context.Background(), testlogr.New(t))
	_, reviews, accountsURL, reviewsURL := newServices(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "accounts.graphqls"), []byte(accountsSDL), 0644))
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(heredoc.Docf(`
		batchWait: 1ms
		subschemas:
		  - name: accounts
		    url: %s
		    schemaFile: accounts.graphqls
		    merge:
		      User:
		        fieldName: usersByIds
		        keyFields: [id]
		        keysArg: ids
		  - name: reviews
		    url: %s
		    rootFieldPrefix: rev_
		    serviceNameInErrors: true
		    headers:
		      X-Gateway: stitchway
		    merge:
		      User:
		        selectionSet: "{ id }"
		        fieldName: rev_reviewsByUserIds
		        keysArg: ids
	`, accountsURL, reviewsURL)), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Subschemas[0].Schema)
	require.Nil(t, cfg.Subschemas[1].Schema)
	require.Equal(t, "stitchway", cfg.Subschemas[1].Header.Get("X-Gateway"))
	require.False(t, cfg.Subschemas[0].ServiceNameInErrors)
	require.True(t, cfg.Subschemas[1].ServiceNameInErrors)

	gw, err := NewFromConfigFile(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, gw.Schema().Query.Fields.ForName("rev_reviewsByUserIds"))
	require.Nil(t, gw.Schema().Query.Fields.ForName("reviewsByUserIds"))

	resp := gw.Execute(ctx, `{ me { name reviews { body } } }`, nil, "")
	require.Empty(t, resp.Errors)
	require.Equal(t, `{"me":{"name":"Ada","reviews":[{"body":"review of Ada"}]}}`, string(resp.Data))
	require.Equal(t, 1, reviews.calls())
}
