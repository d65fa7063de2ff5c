package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors, one per RemoteError kind.
var (
	// ErrNotFound is returned for an unknown instrument or path.
	ErrNotFound = errors.New("protocol: not found")

	// ErrInstrumentClass is returned when a class identifier cannot be resolved.
	ErrInstrumentClass = errors.New("protocol: unknown instrument class")

	// ErrDuplicateName is returned when a name is already registered to a different instrument.
	ErrDuplicateName = errors.New("protocol: duplicate instrument name")

	// ErrArgument is returned for wrong arity or types at call time.
	ErrArgument = errors.New("protocol: argument error")

	// ErrNotCallable is returned when the target of a call cannot be invoked.
	ErrNotCallable = errors.New("protocol: not callable")

	// ErrRemoteExecution is returned when the underlying driver call failed.
	ErrRemoteExecution = errors.New("protocol: remote execution failed")

	// ErrBatch is returned when some entries of a batch operation failed.
	ErrBatch = errors.New("protocol: batch partially failed")

	// ErrProtocol is returned for malformed frames or instructions.
	ErrProtocol = errors.New("protocol: malformed message")
)

// ErrorKind names a RemoteError variant on the wire.
type ErrorKind string

// Remote error kinds.
const (
	KindNotFound        ErrorKind = "NotFoundError"
	KindInstrumentClass ErrorKind = "InstrumentClassError"
	KindDuplicateName   ErrorKind = "DuplicateNameError"
	KindArgument        ErrorKind = "ArgumentError"
	KindNotCallable     ErrorKind = "NotCallableError"
	KindRemoteExecution ErrorKind = "RemoteExecutionError"
	KindBatch           ErrorKind = "BatchError"
	KindProtocol        ErrorKind = "ProtocolError"
)

var sentinels = map[ErrorKind]error{
	KindNotFound:        ErrNotFound,
	KindInstrumentClass: ErrInstrumentClass,
	KindDuplicateName:   ErrDuplicateName,
	KindArgument:        ErrArgument,
	KindNotCallable:     ErrNotCallable,
	KindRemoteExecution: ErrRemoteExecution,
	KindBatch:           ErrBatch,
	KindProtocol:        ErrProtocol,
}

// RemoteError is the error descriptor carried in a Response.
type RemoteError struct {
	Kind     ErrorKind         `json:"kind"`
	Path     string            `json:"path,omitempty"`
	ClassID  string            `json:"class_id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Detail   string            `json:"detail,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Error implements error.
func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case e.Path != "":
		fmt.Fprintf(&b, " %s", e.Path)
	case e.ClassID != "":
		fmt.Fprintf(&b, " %s", e.ClassID)
	case e.Name != "":
		fmt.Fprintf(&b, " %s", e.Name)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if len(e.Failures) > 0 {
		paths := make([]string, 0, len(e.Failures))
		for p := range e.Failures {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for i, p := range paths {
			sep := "; "
			if i == 0 {
				sep = ": "
			}
			fmt.Fprintf(&b, "%s%s: %s", sep, p, e.Failures[p])
		}
	}
	return b.String()
}

// Unwrap returns the sentinel for the error's kind.
func (e *RemoteError) Unwrap() error {
	if s, ok := sentinels[e.Kind]; ok {
		return s
	}
	return ErrProtocol
}

// NotFound reports an unknown instrument or path.
func NotFound(path string) *RemoteError {
	return &RemoteError{Kind: KindNotFound, Path: path}
}

// InstrumentClass reports an unresolvable class identifier.
func InstrumentClass(classID string) *RemoteError {
	return &RemoteError{Kind: KindInstrumentClass, ClassID: classID}
}

// DuplicateName reports a name already bound to a different instrument.
func DuplicateName(name string) *RemoteError {
	return &RemoteError{Kind: KindDuplicateName, Name: name}
}

// Argument reports a bad argument list.
func Argument(detail string) *RemoteError {
	return &RemoteError{Kind: KindArgument, Detail: detail}
}

// NotCallable reports a call on something that cannot be invoked.
func NotCallable(path string) *RemoteError {
	return &RemoteError{Kind: KindNotCallable, Path: path}
}

// RemoteExecution wraps a failure raised by the driver itself.
func RemoteExecution(path, detail string) *RemoteError {
	return &RemoteError{Kind: KindRemoteExecution, Path: path, Detail: detail}
}

// Batch reports the failed entries of a batch operation.
func Batch(failures map[string]string) *RemoteError {
	return &RemoteError{Kind: KindBatch, Failures: failures}
}

// Protocol reports a malformed message.
func Protocol(detail string) *RemoteError {
	return &RemoteError{Kind: KindProtocol, Detail: detail}
}

// AsRemoteError returns err as a *RemoteError. Errors that are not already
// descriptors become ProtocolError when they wrap ErrProtocol and
// RemoteExecutionError otherwise.
func AsRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, ErrProtocol) {
		return Protocol(err.Error())
	}
	return RemoteExecution("", err.Error())
}
