package prop

import (
	"errors"
	"fmt"
	"strings"
)

var ErrPropertyNotFound = errors.New("property not found")

// NotFoundError reports a path that cannot be resolved. Path is always the
// path as requested by the caller, before canonicalization.
type NotFoundError struct {
	Path   string
	Detail string
}

func notFoundf(path string, format string, args ...any) error {
	return &NotFoundError{Path: path, Detail: fmt.Sprintf(format, args...)}
}

func segmentNotFound(path, seg string) error {
	return notFoundf(path, "segment %s cannot be resolved", seg)
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return "property not found: " + e.Path
	}
	return "property not found: " + e.Path + ": " + e.Detail
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrPropertyNotFound
}

// TypeMismatchError reports a write whose value does not fit the declared
// type. The tree is left untouched.
type TypeMismatchError struct {
	Path   string
	Type   string
	Value  any
	Detail string
}

func (e *TypeMismatchError) Error() string {
	var buf strings.Builder
	buf.WriteString("type mismatch at ")
	buf.WriteString(e.Path)
	buf.WriteString(": ")
	if e.Detail != "" {
		buf.WriteString(e.Detail)
	} else {
		fmt.Fprintf(&buf, "cannot assign %T to %s", e.Value, e.Type)
	}
	return buf.String()
}

// LoadError reports stored data that cannot be materialized.
type LoadError struct {
	DocID  string
	Schema string
	Path   string
	Err    error
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s %s:%s: %v", e.DocID, e.Schema, e.Path, e.Err)
}
