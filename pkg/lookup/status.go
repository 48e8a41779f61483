package lookup

import (
	"errors"
	"fmt"
)

// Status is the outcome code carried by a Reply.
//
// Codes are errno-compatible so that back-end specific statuses can travel
// through the engine unchanged and keep a stable wire value.
type Status int32

const (
	StatusOK           Status = 0
	StatusNotFound     Status = 2  // ENOENT
	StatusIO           Status = 5  // EIO
	StatusAccess       Status = 13 // EACCES
	StatusBusy         Status = 16 // EBUSY
	StatusExists       Status = 17 // EEXIST
	StatusNotDirectory Status = 20 // ENOTDIR
	StatusIsDirectory  Status = 21 // EISDIR
	StatusInvalid      Status = 22 // EINVAL
	StatusNoSpace      Status = 28 // ENOSPC
	StatusNameTooLong  Status = 36 // ENAMETOOLONG
	StatusNotEmpty     Status = 39 // ENOTEMPTY
	StatusNotSupported Status = 95 // ENOTSUP
)

var statusNames = map[Status]string{
	StatusOK:           "OK",
	StatusNotFound:     "NotFound",
	StatusIO:           "IOError",
	StatusAccess:       "AccessDenied",
	StatusBusy:         "Busy",
	StatusExists:       "AlreadyExists",
	StatusNotDirectory: "NotADirectory",
	StatusIsDirectory:  "IsADirectory",
	StatusInvalid:      "Invalid",
	StatusNoSpace:      "OutOfSpace",
	StatusNameTooLong:  "NameTooLong",
	StatusNotEmpty:     "NotEmpty",
	StatusNotSupported: "NotSupported",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Err returns nil for StatusOK and an *Error carrying s otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return &Error{Code: s}
}

// Error is a domain error reported by a back-end or the engine.
//
// Back-ends return *Error from Ops.Link so the engine can propagate the exact
// status to the caller.
type Error struct {
	// Code is the status reported to the caller.
	Code Status

	// Message is an optional human-readable description.
	Message string

	// Name is the path component involved, if any.
	Name string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Name != "" {
		return msg + ": " + e.Name
	}
	return msg
}

// Is matches another *Error with the same Code, so errors.Is(err,
// &Error{Code: StatusExists}) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds an *Error with a formatted message.
func NewError(code Status, name string, format string, args ...any) *Error {
	return &Error{Code: code, Name: name, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the status carried by err. A nil error is StatusOK;
// errors that carry no status (or carry StatusOK) map to StatusIO.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if errors.As(err, &e) && e.Code != StatusOK {
		return e.Code
	}
	return StatusIO
}
