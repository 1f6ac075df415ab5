package oslow

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid value supplied at construction
// time: an unrecognized method name, inconsistent feature/block counts,
// and so on. It is fatal and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
	Valid  []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("oslow: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("oslow: invalid %s: %s (valid: %s)", e.Field, e.Reason, strings.Join(e.Valid, ", "))
}

func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DataContractError reports an external data source violating its
// contract, e.g. a noise source returning the wrong number of samples or
// a parent value consumed before it was computed.
type DataContractError struct {
	Source string
	Reason string
}

func (e *DataContractError) Error() string {
	return fmt.Sprintf("oslow: data contract violated by %s: %s", e.Source, e.Reason)
}

func NewDataContractError(source, format string, args ...any) *DataContractError {
	return &DataContractError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
