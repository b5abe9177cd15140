// errors.go holds error helpers shared by the repositories.
package repositories

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. Callers use it to translate duplicate inserts into domain
// errors like "email already registered".
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
