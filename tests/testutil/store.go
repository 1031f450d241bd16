package testutil

import (
	"testing"

	"github.com/871311823/chatgpt-on-wechat-panghu/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations
// applied, closed automatically when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
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
