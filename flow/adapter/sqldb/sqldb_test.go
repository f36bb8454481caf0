package sqldb

import (
	"context"
	"errors"
	"testing"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		query string
		ok    bool
	}{
		{"SELECT * FROM users", true},
		{"  select id from t  ", true},
		{"WITH cte AS (SELECT 1) SELECT * FROM cte", true},
		{"SELECT 1;", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET x = 1", false},
		{"DELETE FROM t", false},
		{"DROP TABLE t", false},
		{"SELECT 1; DELETE FROM t", false},
	}
	for _, tc := range tests {
		err := checkReadOnly(tc.query)
		if tc.ok && err != nil {
			t.Errorf("checkReadOnly(%q) = %v, want nil", tc.query, err)
		}
		if !tc.ok && !errors.Is(err, adapter.ErrInvalidOperation) {
			t.Errorf("checkReadOnly(%q) = %v, want ErrInvalidOperation", tc.query, err)
		}
	}
}

func TestQuery_RejectsWriteBeforeConnecting(t *testing.T) {
	d := NewDB()
	defer d.Close()

	// No dsn_env configured: a write must fail on the contract check,
	// not on credentials.
	_, err := d.Query(context.Background(), map[string]any{}, "DELETE FROM t", nil, 0)
	if !errors.Is(err, adapter.ErrInvalidOperation) {
		t.Errorf("err = %v, want ErrInvalidOperation", err)
	}
}

func TestQuery_MissingDSNEnv(t *testing.T) {
	d := NewDB()
	defer d.Close()

	_, err := d.Query(context.Background(), map[string]any{"driver": "sqlite"}, "SELECT 1", nil, 0)
	if !errors.Is(err, adapter.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestQuery_SQLiteInMemory(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_DSN", ":memory:")

	d := NewDB()
	defer d.Close()

	config := map[string]any{"driver": "sqlite", "dsn_env": "AGENTFLOW_TEST_DSN"}
	rows, err := d.Query(context.Background(), config, "SELECT 1 AS one, 'a' AS name", nil, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want 1", rows)
	}
	if rows[0]["name"] != "a" {
		t.Errorf("row = %v", rows[0])
	}
}

func TestQuery_LimitCapsRows(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_DSN", ":memory:")

	d := NewDB()
	defer d.Close()

	config := map[string]any{"driver": "sqlite", "dsn_env": "AGENTFLOW_TEST_DSN"}
	query := "WITH nums(n) AS (VALUES (1),(2),(3),(4)) SELECT n FROM nums"
	rows, err := d.Query(context.Background(), config, query, nil, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want limit 2 honored", len(rows))
	}
}
