package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"
	"reflect"
	"strings"
	"unicode"
)

// Typed is implemented by errors that name their own type for classification.
type Typed interface {
	ErrorType() string
}

// Reported is a failure known only by its type name and message, such as one
// reported by another process over HTTP.
type Reported struct {
	Type    string
	Message string
}

func (e *Reported) Error() string { return e.Message }

// ErrorType implements Typed. An empty type reads as "Error".
func (e *Reported) ErrorType() string {
	if e.Type == "" {
		return "Error"
	}
	return e.Type
}

// TypeName returns the error type name recorded for err. Well known Go
// failures are reported with the conventional names the recovery patterns
// match on; anything else falls back to the dynamic type name.
func TypeName(err error) string {
	if err == nil {
		return ""
	}

	var typed Typed
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return "TimeoutError"
	case errors.Is(err, fs.ErrPermission):
		return "PermissionError"
	case errors.Is(err, fs.ErrNotExist):
		return "FileNotFoundError"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "TimeoutError"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "ConnectionError"
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return "IOError"
	}
	var syntaxErr *json.SyntaxError
	var unmarshalErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &unmarshalErr) {
		return "ValueError"
	}

	return dynamicName(err)
}

// dynamicName turns "*net.DNSError" into "DNSError". Unexported types such
// as *errors.errorString become "Error".
func dynamicName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return "Error"
	}
	return name
}
