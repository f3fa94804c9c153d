package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnrecoverable marks failures where the job's input or state makes
	// success impossible; the worker escalates these to a terminal error
	// immediately, regardless of retry count.
	ErrUnrecoverable = errors.New("unrecoverable failure")
	// ErrValidation marks rejected inputs. Validation failures are
	// unrecoverable: retrying the same payload cannot succeed.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing upstream resource.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an expired deadline on an outbound call.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures worth retrying with backoff.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes capability context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, capability, operation, message string, err error) error {
	detail := buildDetail(capability, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsUnrecoverable reports whether an error should bypass the workflow's
// failure edge and terminate the job.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable) || errors.Is(err, ErrValidation)
}

func buildDetail(capability, operation, message string) string {
	parts := make([]string, 0, 3)
	if capability = strings.TrimSpace(capability); capability != "" {
		parts = append(parts, capability)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
