package store

import (
	"errors"
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect dialect
		in      string
		want    string
	}{
		{dialectSQLite, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = ? AND b = ?"},
		{dialectPostgres, "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = $1 AND b = $2"},
		{dialectPostgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		s := &SQLStore{dialect: tt.dialect}
		if got := s.rebind(tt.in); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.dialect, got, tt.want)
		}
	}
}

func TestBuildWhere(t *testing.T) {
	step := int64(4)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args := buildWhere(Filter{OrganizationID: 1, Types: []string{"a", "b"}, FunnelStepID: &step, Since: since})
	want := " WHERE organization_id = ? AND type IN (?,?) AND funnel_step_id = ? AND occurred_at >= ?"
	if where != want {
		t.Errorf("got %q, want %q", where, want)
	}
	if len(args) != 5 {
		t.Fatalf("got %d args, want 5", len(args))
	}
	if args[4] != since.UnixMilli() {
		t.Errorf("got since arg %v, want %d", args[4], since.UnixMilli())
	}

	where, args = buildWhere(Filter{})
	if where != "" || args != nil {
		t.Errorf("empty filter: got %q %v, want no clause", where, args)
	}
}

func TestConfigError(t *testing.T) {
	err := error(&ConfigError{Subject: "metric", ID: 3, Reason: "cyclic reference"})
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected ConfigError to unwrap to ErrConfiguration")
	}
	if err.Error() != "metric 3: cyclic reference" {
		t.Errorf("got %q", err.Error())
	}
}
