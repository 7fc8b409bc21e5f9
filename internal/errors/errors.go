// Package errors defines the dispatcher's error taxonomy.
//
// Every error a caller can observe belongs to one [Kind]:
//   - KindInvalidArgument: malformed or empty task descriptor ([ValidationError])
//   - KindNotFound: unknown task id ([NotFoundError])
//   - KindExecution: provider call or policy failure ([ExecutionError])
//   - KindTimeout: task exceeded its deadline ([TimeoutError])
//   - KindPoolExhausted: submission rejected by the queue depth cap ([PoolExhaustedError])
//
// Anything else classifies as KindInternal. Task records store the kind
// next to the error text so callers can branch on it without parsing.
//
//	err := errors.NewExecutionError("rate limited", cause).WithProvider("anthropic")
//	if errors.KindOf(err) == errors.KindExecution { ... }
//	if errors.Is(err, errors.ErrExecutionFailed) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard library helpers, so callers need a single errors import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind is a taxonomy bucket.
type Kind string

const (
	KindNone            Kind = ""
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindExecution       Kind = "execution_error"
	KindTimeout         Kind = "timeout"
	KindPoolExhausted   Kind = "pool_exhausted"
	KindInternal        Kind = "internal"
)

func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether resubmitting a task that failed with this kind
// may succeed. The dispatcher never retries on its own.
func (k Kind) Retryable() bool {
	switch k {
	case KindExecution, KindTimeout, KindPoolExhausted:
		return true
	}
	return false
}

// Sentinels. Each typed error below matches its kind's sentinel with Is, so
// code that wraps a plain sentinel and code that returns a typed error
// classify the same way.
var (
	ErrInvalidInput      = New("invalid input")
	ErrTaskNotFound      = New("task not found")
	ErrExecutionFailed   = New("execution failed")
	ErrTimeout           = New("operation timed out")
	ErrPoolExhausted     = New("pool exhausted")
	ErrInvalidTransition = New("invalid status transition")
	ErrSchedulerStopped  = New("scheduler stopped")
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidInput, KindInvalidArgument},
	{ErrTaskNotFound, KindNotFound},
	{ErrExecutionFailed, KindExecution},
	{ErrTimeout, KindTimeout},
	{ErrPoolExhausted, KindPoolExhausted},
}

// kinded is implemented by every typed error in this package.
type kinded interface {
	error
	Kind() Kind
}

// typed carries what all typed errors share: a kind, its sentinel, an
// optional cause and the message.
type typed struct {
	kind     Kind
	sentinel error
	msg      string
	cause    error
}

func (t *typed) Kind() Kind    { return t.kind }
func (t *typed) Unwrap() error { return t.cause }

func (t *typed) Is(target error) bool {
	return target == t.sentinel
}

// format renders "label [k=v, ...]: msg: cause", omitting empty parts.
func (t *typed) format(label string, ctx ...string) string {
	var sb strings.Builder
	sb.WriteString(label)
	var kv []string
	for i := 0; i+1 < len(ctx); i += 2 {
		if ctx[i+1] != "" {
			kv = append(kv, ctx[i]+"="+ctx[i+1])
		}
	}
	if len(kv) > 0 {
		sb.WriteString(" [" + strings.Join(kv, ", ") + "]")
	}
	if t.msg != "" {
		sb.WriteString(": " + t.msg)
	}
	if t.cause != nil {
		sb.WriteString(": " + t.cause.Error())
	}
	return sb.String()
}

// NotFoundError reports an unknown resource, usually a task id.
type NotFoundError struct {
	typed
	ResourceType string
	ResourceID   string
}

// NewNotFoundError builds a NotFoundError. Only task lookups match
// ErrTaskNotFound.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	var sentinel error
	if resourceType == "task" {
		sentinel = ErrTaskNotFound
	}
	return &NotFoundError{
		typed:        typed{kind: KindNotFound, sentinel: sentinel},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	s := fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

// ValidationError reports invalid input, optionally naming the field.
type ValidationError struct {
	typed
	Field string
	Value any
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{typed: typed{kind: KindInvalidArgument, sentinel: ErrInvalidInput, msg: message}}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Error() string {
	value := ""
	if e.Value != nil {
		value = fmt.Sprint(e.Value)
		if value == "" {
			value = `""`
		}
	}
	return e.format("invalid argument", "field", e.Field, "value", value)
}

// ExecutionError reports a failed provider call or provider selection.
type ExecutionError struct {
	typed
	Provider string
	Model    string
}

func NewExecutionError(message string, cause error) *ExecutionError {
	return &ExecutionError{typed: typed{kind: KindExecution, sentinel: ErrExecutionFailed, msg: message, cause: cause}}
}

func (e *ExecutionError) WithProvider(provider string) *ExecutionError {
	e.Provider = provider
	return e
}

func (e *ExecutionError) WithModel(model string) *ExecutionError {
	e.Model = model
	return e
}

func (e *ExecutionError) Error() string {
	return e.format("execution error", "provider", e.Provider, "model", e.Model)
}

// TimeoutError reports an operation abandoned at its deadline.
type TimeoutError struct {
	typed
	Operation string
	Duration  time.Duration
}

func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{
		typed:     typed{kind: KindTimeout, sentinel: ErrTimeout},
		Operation: operation,
		Duration:  d,
	}
}

func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	s := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

// PoolExhaustedError rejects a submission once the queue holds Limit tasks.
type PoolExhaustedError struct {
	typed
	Depth int
	Limit int
}

func NewPoolExhaustedError(depth, limit int) *PoolExhaustedError {
	return &PoolExhaustedError{
		typed: typed{kind: KindPoolExhausted, sentinel: ErrPoolExhausted},
		Depth: depth,
		Limit: limit,
	}
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("pool exhausted: queue depth %d reached limit %d", e.Depth, e.Limit)
}

// KindOf classifies err. Typed errors report their own kind; wrapped
// sentinels map to theirs; anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var k kinded
	if As(err, &k) {
		return k.Kind()
	}
	for _, sk := range sentinelKinds {
		if Is(err, sk.err) {
			return sk.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err's kind is retryable.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// Wrap prefixes err with message. It returns nil for a nil err.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
