package table

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Errors returned by Store operations.
var (
	ErrTableMissing   = errors.New("table not found")
	ErrCorrupt        = errors.New("corrupt table data")
	ErrDuplicateID    = errors.New("duplicate message id")
	ErrRecordNotFound = errors.New("record not found")
)

// IsTransient reports whether err is a lock or permission condition that
// may clear up, e.g. while a spreadsheet application holds the file open.
func IsTransient(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN)
}

// CorruptError describes content that cannot be coerced into the schema.
type CorruptError struct {
	Line   int
	Column string
	Reason string
}

func (e *CorruptError) Error() string {
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("corrupt table data at line %d, column %q: %s", e.Line, e.Column, e.Reason)
	case e.Line > 0:
		return fmt.Sprintf("corrupt table data at line %d: %s", e.Line, e.Reason)
	default:
		return fmt.Sprintf("corrupt table data: %s", e.Reason)
	}
}

// Is makes every CorruptError match ErrCorrupt.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}
