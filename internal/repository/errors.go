package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = pgx.ErrNoRows

// ErrDuplicateMessage is returned when a message with the same Message-ID is
// already stored.
var ErrDuplicateMessage = errors.New("message id already stored")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsNotFound reports whether err means "no such row".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// threadForms returns the bare and bracketed forms of a Message-ID token so
// lookups match values stored either way.
func threadForms(token string) (string, string) {
	return token, "<" + token + ">"
}
