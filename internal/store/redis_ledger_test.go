package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/funnel-engine/internal/store"
)

func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("FNL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FNL_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	l, err := store.NewRedisLedger(ctx, addr, time.Minute)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer l.Close()

	session := uuid.NewString()

	_, found, err := l.GetAssignment(ctx, session, 1)
	if err != nil {
		t.Fatalf("failed to get assignment: %v", err)
	}
	if found {
		t.Fatal("expected no assignment for a fresh session")
	}

	created, err := l.CreateAssignmentIfAbsent(ctx, session, 1, 11)
	if err != nil || !created {
		t.Fatalf("got (%v, %v), want (true, nil)", created, err)
	}
	created, err = l.CreateAssignmentIfAbsent(ctx, session, 1, 22)
	if err != nil || created {
		t.Fatalf("got (%v, %v), want (false, nil)", created, err)
	}

	variantID, found, err := l.GetAssignment(ctx, session, 1)
	if err != nil {
		t.Fatalf("failed to get assignment: %v", err)
	}
	if !found || variantID != 11 {
		t.Errorf("got (%d, %v), want (11, true)", variantID, found)
	}
}
