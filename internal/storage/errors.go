package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Sentinel errors returned by the write store. Callers classify outcomes
// with errors.Is against these.
var (
	// ErrOrderNotFound indicates no order row matched the lookup key.
	ErrOrderNotFound = errors.New("order not found")

	// ErrExecutionNotFound indicates no execution row matched the lookup key.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDuplicateOrder indicates the (session_id, cl_ord_id) natural key
	// already exists.
	ErrDuplicateOrder = errors.New("duplicate order: session_id and cl_ord_id already exist")

	// ErrDuplicateExecution indicates the exec_id already exists.
	ErrDuplicateExecution = errors.New("duplicate execution: exec_id already exists")

	// ErrConcurrentModification indicates an optimistic lock failure: the
	// persisted tx_nr no longer matches the version the caller loaded.
	ErrConcurrentModification = errors.New("concurrent modification: tx_nr mismatch")

	// ErrDataIntegrity indicates a schema constraint breach other than the
	// natural-key and exec_id uniqueness rules.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrConnection indicates the database was unreachable or the
	// connection was lost mid-operation.
	ErrConnection = errors.New("database connection failure")
)

// ConcurrentModificationError reports an optimistic lock failure on one
// order, carrying the version the caller loaded and the version found.
// It wraps ErrConcurrentModification.
type ConcurrentModificationError struct {
	OrderID      string
	ExpectedTxNr int64
	ActualTxNr   int64
}

// Error implements the error interface.
func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of order %s: expected tx_nr %d, found %d",
		e.OrderID, e.ExpectedTxNr, e.ActualTxNr)
}

// Unwrap returns ErrConcurrentModification.
func (e *ConcurrentModificationError) Unwrap() error {
	return ErrConcurrentModification
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation,
// optionally scoped to one named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if pqErr.Code != "23505" { // unique_violation
		return false
	}

	return constraint == "" || pqErr.Constraint == constraint
}

// isIntegrityViolation checks for PostgreSQL integrity constraint
// violations other than unique_violation (Class 23: NOT NULL, FK, CHECK).
func isIntegrityViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return strings.HasPrefix(string(pqErr.Code), "23") && pqErr.Code != "23505"
}

// isSerializationFailure checks for a PostgreSQL serialization failure,
// surfaced to callers as a retryable concurrency conflict.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == "40001" // serialization_failure
}

// isDatabaseConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08) and standard database/sql errors for robust detection.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// Check PostgreSQL error codes (Class 08 = Connection Exception)
	// Per PostgreSQL documentation, all 08xxx errors are connection-related:
	//   08000 - connection_exception
	//   08003 - connection_does_not_exist
	//   08006 - connection_failure
	//   08001 - sqlclient_unable_to_establish_sqlconnection
	//   08004 - sqlserver_rejected_establishment_of_sqlconnection
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	// Check standard database/sql connection errors
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// classifyError maps a raw database error onto the store's sentinel set.
// Unique violations are handled at call sites where the constraint name
// decides between replay and duplicate semantics.
func classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case isDatabaseConnectionError(err):
		return fmt.Errorf("%w: %s", ErrConnection, err.Error())
	case isSerializationFailure(err):
		return fmt.Errorf("%w: %s", ErrConcurrentModification, err.Error())
	case isIntegrityViolation(err):
		return fmt.Errorf("%w: %s", ErrDataIntegrity, err.Error())
	default:
		return err
	}
}
