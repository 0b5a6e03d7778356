// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/headline-goat/funnel-engine/internal/store"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// RecordEvents stores events for organization 1 unless they name another.
func RecordEvents(t *testing.T, s store.Store, events ...*store.Event) {
	t.Helper()

	for _, e := range events {
		if e.OrganizationID == 0 {
			e.OrganizationID = 1
		}
		if _, err := s.RecordEvent(context.Background(), e); err != nil {
			t.Fatalf("failed to record %s event: %v", e.Type, err)
		}
	}
}
