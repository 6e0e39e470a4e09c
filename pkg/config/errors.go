package config

import "fmt"

// LoadError describes a configuration that could not be read or is invalid.
type LoadError struct {
	File    string
	Field   string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func invalid(field, format string, args ...any) *LoadError {
	return &LoadError{Field: field, Message: fmt.Sprintf(format, args...)}
}
