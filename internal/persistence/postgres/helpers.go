// Package postgres implements the persistence interfaces on PostgreSQL via
// sqlx. Repos hold an sqlx.ExtContext so the same code runs against the pool
// or a transaction.
package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/dealbrain/dealbrain/internal/apperr"
)

// mapErr classifies driver errors onto apperr kinds: unique violations are
// CONFLICT, class-42 errors DB_SCHEMA_ERROR, connection/resource classes
// DB_UNAVAILABLE. Everything else is wrapped unchanged.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return apperr.Wrap(apperr.KindConflict, err, "%s: duplicate key", op)
		case pqErr.Code.Class() == "42":
			return apperr.Wrap(apperr.KindDBSchema, err, "%s: schema error", op)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
			return apperr.Wrap(apperr.KindDBUnavailable, err, "%s: database unavailable", op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return apperr.Wrap(apperr.KindDBUnavailable, err, "%s: database unavailable", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// marshalMap renders a metadata map as JSONB bytes; empty maps become NULL.
func marshalMap(op string, m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal metadata: %w", op, err)
	}
	return b, nil
}

// unmarshalMap parses JSONB bytes into a metadata map; NULL becomes nil.
func unmarshalMap(op string, b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%s: unmarshal metadata: %w", op, err)
	}
	return m, nil
}

// requireAffected converts a zero-rows-affected result into NOT_FOUND.
func requireAffected(op string, res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(op, err)
	}
	if n == 0 {
		return apperr.NotFound("%s: no matching row", op)
	}
	return nil
}
