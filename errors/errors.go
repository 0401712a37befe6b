/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors
var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a write violates a unique index
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout is returned when a lock could not be acquired within its bound
	ErrTimeout = errors.New("timed out")

	// ErrRetriesExhausted is returned when every transaction attempt failed transiently
	ErrRetriesExhausted = errors.New("transaction retries exhausted")

	// ErrNonTransient is returned when a transaction attempt failed with an error that is not safe to retry
	ErrNonTransient = errors.New("non-transient transaction failure")

	// ErrUnmappedType is returned when resolution is requested for a type that was never registered
	ErrUnmappedType = errors.New("no mapping registered for type")

	// ErrRegistryFrozen is returned by build-phase calls issued after Build
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrRegistryNotReady is returned by query-phase calls issued before Build
	ErrRegistryNotReady = errors.New("registry is not built")

	// ErrAlreadyBuilt is returned when Build is invoked a second time
	ErrAlreadyBuilt = errors.New("registry already built")

	// ErrTenantRequired is returned when a per-tenant database is resolved without a tenant
	ErrTenantRequired = errors.New("tenant required")

	// ErrTenantMismatch is returned when a fixed database is resolved with a tenant
	ErrTenantMismatch = errors.New("tenant given for a database that is not per-tenant")

	// ErrDuplicateMapping is returned when a type is mapped more than once
	ErrDuplicateMapping = errors.New("duplicate mapping")
)

// NotFoundError represents an error when an entity is not found
type NotFoundError struct {
	Type string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q not found", e.Type, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AlreadyExistsError represents an error when an entity already exists
type AlreadyExistsError struct {
	Type string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with key %q already exists", e.Type, e.Key)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TimeoutError is returned by a blocking lock acquisition whose bound elapsed
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Operation, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RetriesExhaustedError carries the last transient failure after every attempt failed
type RetriesExhaustedError struct {
	LastErr  error
	Attempts int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("transaction failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.LastErr
}

// NonTransientError wraps a failure that aborted a transaction without retry
type NonTransientError struct {
	Err      error
	Attempts int
}

func (e *NonTransientError) Error() string {
	return fmt.Sprintf("transaction aborted on attempt %d: %v", e.Attempts, e.Err)
}

func (e *NonTransientError) Is(target error) bool {
	return target == ErrNonTransient
}

func (e *NonTransientError) Unwrap() error {
	return e.Err
}

// UnmappedTypeError names the type that has no registered mapping
type UnmappedTypeError struct {
	Type string
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("no mapping registered for type %s", e.Type)
}

func (e *UnmappedTypeError) Is(target error) bool {
	return target == ErrUnmappedType
}

// TenantMismatchError is returned when a tenant is supplied for a fixed database
type TenantMismatchError struct {
	Type     string
	Database string
	Tenant   string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("type %s maps to fixed database %q, tenant %q not allowed", e.Type, e.Database, e.Tenant)
}

func (e *TenantMismatchError) Is(target error) bool {
	return target == ErrTenantMismatch
}

// DuplicateMappingError is returned by Build when a type or discriminator is declared twice
type DuplicateMappingError struct {
	Type   string
	First  string
	Second string
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("%s is mapped twice: %s and %s", e.Type, e.First, e.Second)
}

func (e *DuplicateMappingError) Is(target error) bool {
	return target == ErrDuplicateMapping
}

// Helper functions for creating errors

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entityType, key string) error {
	return &NotFoundError{Type: entityType, Key: key}
}

// NewAlreadyExistsError creates a new AlreadyExistsError
func NewAlreadyExistsError(entityType, key string) error {
	return &AlreadyExistsError{Type: entityType, Key: key}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation string, timeout time.Duration) error {
	return &TimeoutError{Operation: operation, Timeout: timeout}
}

// NewUnmappedTypeError creates a new UnmappedTypeError
func NewUnmappedTypeError(typeName string) error {
	return &UnmappedTypeError{Type: typeName}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsTimeout checks if an error is a lock timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRetriesExhausted checks if an error reports exhausted transaction retries
func IsRetriesExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}

// IsNonTransient checks if an error reports a transaction aborted without retry
func IsNonTransient(err error) bool {
	return errors.Is(err, ErrNonTransient)
}

// IsUnmappedType checks if an error reports a type without mapping
func IsUnmappedType(err error) bool {
	return errors.Is(err, ErrUnmappedType)
}
