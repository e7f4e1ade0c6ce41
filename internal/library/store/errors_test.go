package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"libsync/pkg/platform/sentinel"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, sentinel.ErrNotFound},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, sentinel.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, sentinel.ErrConflict},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, sentinel.ErrConflict},
		{"unique violation", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"}), sentinel.ErrConflict},
		{"connection exception", &pgconn.PgError{Code: "08006"}, sentinel.ErrUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, sentinel.ErrUnavailable},
		{"bad connection", driver.ErrBadConn, sentinel.ErrUnavailable},
		{"connection done", sql.ErrConnDone, sentinel.ErrUnavailable},
		{"network error", &net.OpError{Op: "dial", Err: errors.New("refused")}, sentinel.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, sentinel.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify("op", nil))
	})

	t.Run("unknown postgres error carries no sentinel", func(t *testing.T) {
		err := classify("op", &pgconn.PgError{Code: "42601"})
		assert.False(t, errors.Is(err, sentinel.ErrConflict))
		assert.False(t, sentinel.IsFatal(err))
	})
}
