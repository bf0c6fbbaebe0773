package recorder

import (
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// OpenDB opens the session database under stateDir, creating it unless readOnly.
func OpenDB(stateDir string, readOnly bool) (*pebble.DB, error) {
	if !readOnly {
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := pebble.Open(stateDir, &pebble.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return db, nil
}
