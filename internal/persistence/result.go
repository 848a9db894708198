package persistence

import "fmt"

// Code classifies the outcome of an engine operation. Expected domain
// conditions (a lost claim race, an unknown id) are codes, not errors; the
// error return of an operation is reserved for store failures.
type Code int

const (
	// CodeOK is a successful state change.
	CodeOK Code = iota
	// CodeAlreadyDone is an idempotent success: the requested state already
	// holds and nothing was changed.
	CodeAlreadyDone
	// CodeConflict is a rejected operation: ownership or state gating failed.
	CodeConflict
	// CodeNotFound means the referenced entity does not exist.
	CodeNotFound
	// CodeInvalid is a malformed request (bad message type, empty subject).
	CodeInvalid
)

// Result is the outcome of one engine operation. Info carries the
// human-readable reason on failure, or an informational note on idempotent
// success ("already done").
type Result struct {
	Code   Code
	Info   string
	TaskID int64
}

// OK reports whether the operation succeeded. Idempotent repeats count as
// success.
func (r Result) OK() bool {
	return r.Code == CodeOK || r.Code == CodeAlreadyDone
}

func ok() Result {
	return Result{Code: CodeOK}
}

func okTask(id int64) Result {
	return Result{Code: CodeOK, TaskID: id}
}

func alreadyDone(info string) Result {
	return Result{Code: CodeAlreadyDone, Info: info}
}

func conflict(format string, args ...any) Result {
	return Result{Code: CodeConflict, Info: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) Result {
	return Result{Code: CodeNotFound, Info: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) Result {
	return Result{Code: CodeInvalid, Info: fmt.Sprintf(format, args...)}
}
