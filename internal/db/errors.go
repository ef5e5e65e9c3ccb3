package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrKeyExists     = errors.New("db: key already exists")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrIndexExists   = errors.New("db: index already exists")
	ErrGroupExists   = errors.New("db: consumer group already exists")
)

// Op constants map to Redis command names for error context.
const (
	OpCreateIndex = "FT.CREATE"
	OpDropIndex   = "FT.DROPINDEX"
	OpIndexInfo   = "FT.INFO"
	OpSearch      = "FT.SEARCH"
	OpDel         = "DEL"
	OpHGet        = "HGET"
	OpHGetAll     = "HGETALL"
	OpHSet        = "HSET"
	OpExists      = "EXISTS"
	OpGet         = "GET"
	OpSet         = "SET"
	OpSAdd        = "SADD"
	OpSMembers    = "SMEMBERS"
	OpXAdd        = "XADD"
	OpXGroup      = "XGROUP"
	OpXReadGroup  = "XREADGROUP"
	OpXAutoClaim  = "XAUTOCLAIM"
	OpXAck        = "XACK"
	OpXRange      = "XRANGE"
	OpXLen        = "XLEN"
	OpEval        = "EVAL"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// IsUnavailable reports whether err came from the storage layer itself rather than
// from a missing key or a validation problem.
func IsUnavailable(err error) bool {
	var dbErr *Error
	return errors.As(err, &dbErr)
}
