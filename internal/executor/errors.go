package executor

import (
	"errors"
	"fmt"
)

var ErrStatementNotAllowed = errors.New("statement not allowed in read-only mode")

// ConnectionError reports a failure to establish or reach the database.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// QueryError reports a statement that failed and was rolled back.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// TransactionStateError describes an aborted transaction found by the probe.
// It is logged after the rollback and never returned to callers.
type TransactionStateError struct {
	Err error
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("connection was in an aborted transaction: %v", e.Err)
}

func (e *TransactionStateError) Unwrap() error {
	return e.Err
}
