// Package exception provides the error types and classification utilities used
// by the Accord provisioning engine. It standardizes errors raised while
// talking to connectors, running mapping scripts, or enforcing engine
// invariants, so retry policies can classify them uniformly.
package exception

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Sentinel errors forming the engine's error taxonomy. Callers classify with
// errors.Is; ProvisioningError wraps one of these (or a connector-native
// cause) and carries the retryable flag.
var (
	// ErrConfiguration marks a broken mapping or engine configuration
	// (e.g. zero or multiple UID attributes in a resolved mapping).
	// Fatal, surfaced to the operator, never retried automatically.
	ErrConfiguration = errors.New("configuration error")

	// ErrScript marks a failed eligibility or transformation script.
	ErrScript = errors.New("script error")

	// ErrConnectorIO marks a transient connector failure (timeout, network).
	// Retried per batch backoff up to the attempt limit.
	ErrConnectorIO = errors.New("connector i/o error")

	// ErrConnectorRejected marks a permanent connector rejection
	// (validation failure, duplicate key). Not retried blindly.
	ErrConnectorRejected = errors.New("connector rejected request")

	// ErrDuplicateKey marks a duplicate-key rejection on CREATE. The
	// executor runs a re-link check before failing the operation.
	ErrDuplicateKey = fmt.Errorf("%w: duplicate key", ErrConnectorRejected)

	// ErrConcurrencyViolation marks an attempt to execute two operations of
	// the same batch simultaneously. Must be impossible by construction;
	// logged as a critical bug if ever observed.
	ErrConcurrencyViolation = errors.New("concurrent execution within one batch")

	// ErrAuthorization marks a virtual-system realize/cancel attempted by a
	// caller who is not a configured implementer.
	ErrAuthorization = errors.New("caller is not an implementer")
)

// errorRegistry maps error names referenced in configuration to concrete
// error prototypes, compared with errors.Is.
var errorRegistry = map[string]error{
	"ErrConfiguration":        ErrConfiguration,
	"ErrScript":               ErrScript,
	"ErrConnectorIO":          ErrConnectorIO,
	"ErrConnectorRejected":    ErrConnectorRejected,
	"ErrDuplicateKey":         ErrDuplicateKey,
	"ErrConcurrencyViolation": ErrConcurrencyViolation,
	"ErrAuthorization":        ErrAuthorization,
}

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error prototype under a name so it can be
// referenced from retry/skip configuration. Panics on empty name or nil
// prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorOfType reports whether err matches the registered prototype with the
// given name.
func IsErrorOfType(err error, name string) bool {
	registryMutex.RLock()
	prototype, ok := errorRegistry[name]
	registryMutex.RUnlock()
	if !ok {
		return false
	}
	return errors.Is(err, prototype)
}

// ProvisioningError is the error type raised inside the provisioning engine.
// It holds the module where the error occurred, a message, the wrapped
// original error, and a flag indicating whether the failure is retryable.
type ProvisioningError struct {
	// Module indicates where the error occurred (e.g. "executor", "resolver").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether a later attempt may succeed.
	isRetryable bool
	// StackTrace is the stack trace at the time of the error.
	StackTrace string
}

// NewProvisioningError creates a new ProvisioningError instance.
func NewProvisioningError(module, message string, originalErr error, isRetryable bool) *ProvisioningError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &ProvisioningError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		StackTrace:  string(buf[:n]),
	}
}

// NewConnectorIOError wraps a transient connector failure as a retryable
// ProvisioningError chained to ErrConnectorIO.
func NewConnectorIOError(module, message string, cause error) *ProvisioningError {
	return NewProvisioningError(module, message, join(ErrConnectorIO, cause), true)
}

// NewConnectorRejectedError wraps a permanent connector rejection as a
// non-retryable ProvisioningError chained to ErrConnectorRejected.
func NewConnectorRejectedError(module, message string, cause error) *ProvisioningError {
	return NewProvisioningError(module, message, join(ErrConnectorRejected, cause), false)
}

// NewConfigurationError wraps a configuration failure. Never retryable.
func NewConfigurationError(module, message string) *ProvisioningError {
	return NewProvisioningError(module, message, ErrConfiguration, false)
}

// NewScriptError wraps a script host failure. Never retryable; callers decide
// skip-vs-abort per attribute.
func NewScriptError(module, message string, cause error) *ProvisioningError {
	return NewProvisioningError(module, message, join(ErrScript, cause), false)
}

func join(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *ProvisioningError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *ProvisioningError) IsRetryable() bool {
	return e.isRetryable
}

// IsRetryable classifies an arbitrary error for the batch manager's retry
// decision. A ProvisioningError answers for itself; bare sentinels fall back
// to the taxonomy (only connector I/O errors are transient).
func IsRetryable(err error) bool {
	var pe *ProvisioningError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return errors.Is(err, ErrConnectorIO)
}
