package batch

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// Fingerprint identifies the part of a batched call that is shared by every key:
// the non-key arguments and the selection. Map ordering never changes the outcome.
func Fingerprint(extraArgs map[string]interface{}, selection ast.SelectionSet) (uint64, error) {
	digest := xxhash.New()

	// json.Marshal sorts map keys at every level.
	b, err := json.Marshal(extraArgs)
	if err != nil {
		return 0, fmt.Errorf("fingerprint arguments: %w", err)
	}
	_, _ = digest.Write(b)
	_, _ = digest.Write([]byte{0})

	if len(selection) != 0 {
		doc := &ast.QueryDocument{
			Operations: ast.OperationList{
				{Operation: ast.Query, SelectionSet: selection},
			},
		}
		formatter.NewFormatter(digest).FormatQueryDocument(doc)
	}

	return digest.Sum64(), nil
}

// keyID is used to find duplicate keys in one window.
func keyID(key interface{}) string {
	b, err := json.Marshal(key)
	if err != nil {
		return fmt.Sprintf("%#v", key)
	}
	return string(b)
}
