package testutil

import (
	"testing"

	"github.com/nhle/mailsync/internal/index"
)

// NewTestStore creates an in-memory index store with all migrations
// applied. It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *index.SQLiteStore {
	t.Helper()

	s, err := index.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
