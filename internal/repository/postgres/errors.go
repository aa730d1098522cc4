package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL error codes mapped to campaign sentinels.
const (
	pgInvalidTextRepresentation = "22P02"
	pgForeignKeyViolation       = "23503"
	pgUniqueViolation           = "23505"
)

// isMissing reports whether err means the addressed row cannot exist: no
// row, or an id that is not valid UUID text.
func isMissing(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || hasCode(err, pgInvalidTextRepresentation)
}

func hasCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}
