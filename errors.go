package strata

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("strata: entity not found")

	// ErrHookDeclined is returned when a lifecycle hook vetoes an operation.
	ErrHookDeclined = errors.New("strata: operation declined by hook")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("strata: cannot start a transaction within a transaction")

	// ErrTxNotStarted is returned when committing or rolling back a session
	// that has no open transaction.
	ErrTxNotStarted = errors.New("strata: no transaction in progress")
)

// UnknownAttributeError is returned when a field or relation path references
// a name the schema does not declare.
type UnknownAttributeError struct {
	schema string
	attr   string
}

// Error returns the error string.
func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("strata: %s has no attribute %q", e.schema, e.attr)
}

// Schema returns the name of the schema the lookup was performed against.
func (e *UnknownAttributeError) Schema() string {
	return e.schema
}

// Attr returns the attribute name that failed to resolve.
func (e *UnknownAttributeError) Attr() string {
	return e.attr
}

// NewUnknownAttributeError returns a new UnknownAttributeError.
func NewUnknownAttributeError(schema, attr string) *UnknownAttributeError {
	return &UnknownAttributeError{schema: schema, attr: attr}
}

// IsUnknownAttribute returns true if the error is an UnknownAttributeError.
func IsUnknownAttribute(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownAttributeError
	return errors.As(err, &e)
}

// UnsupportedOperatorError is returned when a filter key names a comparison
// operator the compiler does not implement.
type UnsupportedOperatorError struct {
	operator string
	field    string
}

// Error returns the error string.
func (e *UnsupportedOperatorError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("strata: unsupported operator %q on field %q", e.operator, e.field)
	}
	return fmt.Sprintf("strata: unsupported operator %q", e.operator)
}

// Operator returns the rejected operator suffix.
func (e *UnsupportedOperatorError) Operator() string {
	return e.operator
}

// NewUnsupportedOperatorError returns a new UnsupportedOperatorError.
func NewUnsupportedOperatorError(operator, field string) *UnsupportedOperatorError {
	return &UnsupportedOperatorError{operator: operator, field: field}
}

// IsUnsupportedOperator returns true if the error is an UnsupportedOperatorError.
func IsUnsupportedOperator(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedOperatorError
	return errors.As(err, &e)
}

// InvalidOperandError is returned when a filter operand has the wrong shape
// for its operator, such as a scalar passed to an "in" comparison.
type InvalidOperandError struct {
	field    string
	operator string
	msg      string
}

// Error returns the error string.
func (e *InvalidOperandError) Error() string {
	return fmt.Sprintf("strata: invalid operand for %s__%s: %s", e.field, e.operator, e.msg)
}

// NewInvalidOperandError returns a new InvalidOperandError.
func NewInvalidOperandError(field, operator, msg string) *InvalidOperandError {
	return &InvalidOperandError{field: field, operator: operator, msg: msg}
}

// IsInvalidOperand returns true if the error is an InvalidOperandError.
func IsInvalidOperand(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidOperandError
	return errors.As(err, &e)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("strata: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("strata: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// HookDeclinedError is returned when a before or after hook halts an entity
// operation without an accompanying failure.
type HookDeclinedError struct {
	label string
	hook  string
}

// Error returns the error string.
func (e *HookDeclinedError) Error() string {
	return fmt.Sprintf("strata: %s declined by %s hook", e.label, e.hook)
}

// Is reports whether the target error matches HookDeclinedError.
func (e *HookDeclinedError) Is(err error) bool {
	return err == ErrHookDeclined
}

// Hook returns the name of the hook that declined.
func (e *HookDeclinedError) Hook() string {
	return e.hook
}

// NewHookDeclinedError returns a new HookDeclinedError.
func NewHookDeclinedError(label, hook string) *HookDeclinedError {
	return &HookDeclinedError{label: label, hook: hook}
}

// IsHookDeclined returns true if the error is a HookDeclinedError.
func IsHookDeclined(err error) bool {
	if err == nil {
		return false
	}
	var e *HookDeclinedError
	return errors.As(err, &e) || errors.Is(err, ErrHookDeclined)
}

// NotLoadedError represents an error when attempting to access a relation
// that was not eager-loaded.
type NotLoadedError struct {
	relation string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("strata: relation %q was not loaded", e.relation)
}

// NewNotLoadedError returns a new NotLoadedError for the given relation name.
func NewNotLoadedError(relation string) *NotLoadedError {
	return &NotLoadedError{relation: relation}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("strata: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// ValidationError represents a validation error for field values.
type ValidationError struct {
	Name string // Field or entity name
	Err  error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("strata: validator failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConfigurationError is returned when a component is constructed or invoked
// without its required collaborators, such as a lifecycle with no session.
type ConfigurationError struct {
	msg string
}

// Error returns the error string.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("strata: configuration: %s", e.msg)
}

// NewConfigurationError returns a new ConfigurationError.
func NewConfigurationError(msg string) *ConfigurationError {
	return &ConfigurationError{msg: msg}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigurationError
	return errors.As(err, &e)
}

// StoreError wraps a failure reported by the underlying database driver
// while flushing or querying.
type StoreError struct {
	Op  string // Operation (e.g. "insert", "update", "query")
	Err error  // Underlying driver error
}

// Error returns the error string.
func (e *StoreError) Error() string {
	return fmt.Sprintf("strata: store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError returns a new StoreError.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError returns true if the error is a StoreError or ConstraintError.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	var e *StoreError
	return errors.As(err, &e) || IsConstraintError(err)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("strata: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}
