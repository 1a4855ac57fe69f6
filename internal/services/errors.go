package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
	// ErrInfrastructure marks ledger or record store failures. These are never
	// converted into per-record state; they halt dispatch.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Infrastructure is shorthand for Wrap(ErrInfrastructure, ...).
func Infrastructure(component, operation string, err error) error {
	return Wrap(ErrInfrastructure, component, operation, "", err)
}

// IsInfrastructure reports whether err halts the pipeline.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
