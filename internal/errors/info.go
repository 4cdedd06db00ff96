package errors

import "errors"

// ErrorInfo is the flattened view of an error handed to the host editor.
type ErrorInfo struct {
	Code    string
	Message string
	Fatal   bool
}

var codes = []struct {
	target error
	code   string
}{
	// ErrTimeout must win over ErrDiff and ErrOperation; ErrDiff over ErrOperation.
	{ErrTimeout, "timeout"},
	{ErrConfig, "config"},
	{ErrConnect, "connect"},
	{ErrDiff, "diff"},
	{ErrOperation, "operation"},
	{ErrDisconnect, "disconnect"},
	{ErrIO, "io"},
	{ErrInvalidState, "invalid_state"},
}

// Info maps err to an ErrorInfo. A nil error yields the zero value.
func Info(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	info := ErrorInfo{Code: "unknown", Message: err.Error()}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			info.Code = c.code
			break
		}
	}
	return info
}

// Fatal returns the ErrorInfo for err marked as fatal to the adapter.
func Fatal(err error) ErrorInfo {
	info := Info(err)
	if err != nil {
		info.Fatal = true
	}
	return info
}
