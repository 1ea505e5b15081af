package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/require"
	"github.com/vvakame/stitchway/internal/testutils"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"accounts.graphqls": heredoc.Doc(`
			type Query {
				usersByIds(ids: [ID!]!): [User]!
				me: User
			}
			type User {
				name: String
				id: ID!
			}
		`),
		"reviews.graphqls": heredoc.Doc(`
			type Query {
				reviewsByUserIds(ids: [ID!]!): [User]!
			}
			type User {
				id: ID!
				reviews: [String]
			}
		`),
		"gateway.toml": heredoc.Doc(`
			[[subschemas]]
			name = "accounts"
			url = "http://localhost:4001/graphql"
			schemaFile = "accounts.graphqls"

			[subschemas.merge.User]
			fieldName = "usersByIds"
			keyFields = ["id"]
			keysArg = "ids"

			[[subschemas]]
			name = "reviews"
			url = "http://localhost:4002/graphql"
			schemaFile = "reviews.graphqls"

			[subschemas.merge.User]
			fieldName = "reviewsByUserIds"
			keyFields = ["id"]
			keysArg = "ids"
		`),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--sorted", "--config", filepath.Join(dir, "gateway.toml")})
	require.NoError(t, rootCmd.Execute())

	testutils.CheckGoldenFile(t, out.Bytes(), "testdata/validate.graphqls")
}
