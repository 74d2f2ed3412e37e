package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// Querier is implemented by both *sqlx.DB and *sqlx.Tx so repository
// methods can run inside or outside a transaction.
type Querier interface {
	sqlx.ExtContext
}

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a postgres unique constraint error
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
