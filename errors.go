package docprops

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/docprops/prop"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnknownDocType   = errors.New("unknown document type")
	ErrClosed           = errors.New("session closed")

	// ErrPropertyNotFound matches every PropertyNotFoundError via errors.Is.
	ErrPropertyNotFound = prop.ErrPropertyNotFound
)

type (
	PropertyNotFoundError = prop.NotFoundError
	TypeMismatchError     = prop.TypeMismatchError
	StaleSchemaError      = prop.StaleSchemaError
)

// DataError reports a stored record that cannot be decoded. Off is the
// position where decoding stopped, or -1 when the record as a whole is bad.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// dataErrorExcerpt bounds how much of a record an error message quotes.
const dataErrorExcerpt = 48

func (e *DataError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	n := len(e.Data)
	if e.Off >= 0 {
		fmt.Fprintf(&buf, " at offset %d", e.Off)
	}
	fmt.Fprintf(&buf, " (%d)", n)

	// quote the bytes around the failure, or the head of the record
	start := 0
	if e.Off > dataErrorExcerpt/2 {
		start = min(e.Off-dataErrorExcerpt/2, n)
	}
	end := min(start+dataErrorExcerpt, n)
	buf.WriteByte(' ')
	if start > 0 {
		buf.WriteString("...")
	}
	fmt.Fprintf(&buf, "%x", e.Data[start:end])
	if end < n {
		buf.WriteString("...")
	}
	return buf.String()
}

// DocumentError attributes a failure to one document, and to one schema part
// of it when Schema is set.
type DocumentError struct {
	DocID  string
	Schema string
	Msg    string
	Err    error
}

func docErrf(docID, schemaName string, err error, format string, args ...any) error {
	return &DocumentError{docID, schemaName, fmt.Sprintf(format, args...), err}
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

func (e *DocumentError) Error() string {
	s := e.DocID
	if e.Schema != "" {
		s += "/" + e.Schema
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
