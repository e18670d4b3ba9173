package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrJobActive is the reason reported when a trigger finds a job already running.
	ErrJobActive = errors.New("job already active")
	// ErrNotActive is returned by Cancel when the job is not the active one.
	ErrNotActive = errors.New("job is not active")
)

// ValidationError collects invalid scheduler settings fields.
type ValidationError struct {
	Errors []error `json:"errors"`
}

// Add records one invalid field.
func (v *ValidationError) Add(err error) {
	v.Errors = append(v.Errors, err)
}

// HasError reports whether any field was rejected.
func (v *ValidationError) HasError() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("invalid settings: %v", errors.Join(v.Errors...))
}
