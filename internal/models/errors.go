package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a data load failure
type ErrorKind string

const (
	// KindNetwork means the payload could not be fetched
	KindNetwork ErrorKind = "network"
	// KindDecode means the payload was fetched but is malformed
	KindDecode ErrorKind = "decode"
	// KindEmptyDataset means the payload decoded to zero usable entries
	KindEmptyDataset ErrorKind = "empty_dataset"
)

// DataLoadError represents a failed load of one data source
type DataLoadError struct {
	Kind   ErrorKind
	Source string
	Cause  error
}

func (e *DataLoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s error loading %s: %v", e.Kind, e.Source, e.Cause)
}

func (e *DataLoadError) Unwrap() error {
	return e.Cause
}

// IsTransient returns true only for network failures
func (e *DataLoadError) IsTransient() bool {
	return e.Kind == KindNetwork
}

// NetworkError wraps a fetch failure
func NetworkError(cause error) error {
	return &DataLoadError{Kind: KindNetwork, Cause: cause}
}

// DecodeError wraps a malformed payload failure
func DecodeError(cause error) error {
	return &DataLoadError{Kind: KindDecode, Cause: cause}
}

// EmptyDatasetError reports a payload with no usable entries
func EmptyDatasetError(format string, args ...interface{}) error {
	return &DataLoadError{Kind: KindEmptyDataset, Cause: fmt.Errorf(format, args...)}
}

// WithSource attaches the source name to a DataLoadError.
// Errors of any other type are classified as decode errors.
func WithSource(err error, source string) error {
	if err == nil {
		return nil
	}
	var loadErr *DataLoadError
	if errors.As(err, &loadErr) {
		return &DataLoadError{Kind: loadErr.Kind, Source: source, Cause: loadErr.Cause}
	}
	return &DataLoadError{Kind: KindDecode, Source: source, Cause: err}
}

// IsKind reports whether err is a DataLoadError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var loadErr *DataLoadError
	if errors.As(err, &loadErr) {
		return loadErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of a DataLoadError, or "" for other errors
func KindOf(err error) ErrorKind {
	var loadErr *DataLoadError
	if errors.As(err, &loadErr) {
		return loadErr.Kind
	}
	return ""
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
