// Package sqldb provides the read-only database query adapter over
// database/sql, with MySQL and SQLite drivers registered.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// DB implements adapter.DB. Connections are pooled per DSN so repeated
// node invocations against the same source share a pool. The adapter
// contract is read-only: any statement that is not a SELECT (or a WITH
// ... SELECT) is rejected with ErrInvalidOperation before touching the
// database.
type DB struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewDB creates a SQL query adapter.
func NewDB() *DB {
	return &DB{pools: make(map[string]*sql.DB)}
}

// Query implements adapter.DB.
//
// The driver name comes from config.driver ("mysql" or "sqlite"); the
// DSN is resolved lazily from the environment variable named by
// config.dsn_env. limit > 0 caps the returned rows.
func (d *DB) Query(ctx context.Context, config map[string]any, query string, params []any, limit int) ([]adapter.Row, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}

	driver, _ := config["driver"].(string)
	if driver == "" {
		driver = "sqlite"
	}
	dsn, err := adapter.SecretFromEnv(configString(config, "dsn_env"))
	if err != nil {
		return nil, err
	}

	pool, err := d.pool(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}

	rows, err := pool.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}

	var out []adapter.Row
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
		}
		row := make(adapter.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}
	return out, nil
}

// Close releases every pooled connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for key, pool := range d.pools {
		if err := pool.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.pools, key)
	}
	return first
}

func (d *DB) pool(driver, dsn string) (*sql.DB, error) {
	key := driver + "\x00" + dsn
	d.mu.Lock()
	defer d.mu.Unlock()
	if pool, ok := d.pools[key]; ok {
		return pool, nil
	}
	pool, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	d.pools[key] = pool
	return pool, nil
}

// checkReadOnly rejects anything but SELECT and WITH ... SELECT
// statements, including multi-statement strings. A WITH statement that
// contains the word INSERT, UPDATE, DELETE or REPLACE is rejected.
func checkReadOnly(query string) error {
	stmt := strings.TrimSpace(query)
	if i := strings.Index(stmt, ";"); i >= 0 && strings.TrimSpace(stmt[i+1:]) != "" {
		return fmt.Errorf("%w: multi-statement queries are not allowed", adapter.ErrInvalidOperation)
	}
	stmt = strings.TrimSuffix(stmt, ";")
	upper := strings.ToUpper(stmt)
	if strings.HasPrefix(upper, "SELECT") {
		return nil
	}
	if strings.HasPrefix(upper, "WITH") {
		words := strings.FieldsFunc(upper, func(r rune) bool {
			return !(r == '_' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
		})
		for _, w := range words {
			if w == "INSERT" || w == "UPDATE" || w == "DELETE" || w == "REPLACE" {
				return fmt.Errorf("%w: only SELECT statements are allowed", adapter.ErrInvalidOperation)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: only SELECT statements are allowed", adapter.ErrInvalidOperation)
}

func configString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}
