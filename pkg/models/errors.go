package models

import (
	"errors"
	"fmt"
)

// Error kinds as reported to API callers.
const (
	KindConfiguration = "configuration_error"
	KindProvider      = "provider_error"
	KindExtraction    = "extraction_error"
	KindValidation    = "validation_error"
)

// ConfigurationError reports an unusable agent configuration: a missing
// stage, an unsupported provider/model pair, an unreadable prompt or a
// missing credential. It is fatal at startup.
type ConfigurationError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration"
	if e.Stage != "" {
		msg += " [" + e.Stage + "]"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ProviderError reports a failed remote model call.
type ProviderError struct {
	Stage      string
	Provider   ProviderKind
	Model      string
	StatusCode int // 0 when the failure happened before a response arrived
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s/%s", e.Provider, e.Model)
	if e.Stage != "" {
		msg += " [" + e.Stage + "]"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ExtractionError reports teacher output that could not be mapped to a
// TutorResponse.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return "extraction: " + e.Reason + ": " + e.Err.Error()
	}
	return "extraction: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ValidationError reports an inbound request the pipeline refuses to run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return "invalid request: " + e.Field + ": " + e.Reason
}

// ErrorKind maps err onto one of the Kind* constants, or "" for unknown errors.
func ErrorKind(err error) string {
	var (
		cfgErr  *ConfigurationError
		provErr *ProviderError
		extErr  *ExtractionError
		valErr  *ValidationError
	)
	switch {
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &extErr):
		return KindExtraction
	case errors.As(err, &provErr):
		return KindProvider
	case errors.As(err, &cfgErr):
		return KindConfiguration
	}
	return ""
}
