package exception

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable_Classification(t *testing.T) {
	assert.True(t, IsRetryable(NewConnectorIOError("executor", "timeout", nil)))
	assert.False(t, IsRetryable(NewConnectorRejectedError("executor", "schema violation", nil)))
	assert.False(t, IsRetryable(NewConfigurationError("resolver", "no uid attribute")))
	assert.False(t, IsRetryable(NewScriptError("script", "boom", errors.New("nil deref"))))

	// Bare sentinels fall back to the taxonomy.
	assert.True(t, IsRetryable(ErrConnectorIO))
	assert.True(t, IsRetryable(fmt.Errorf("call failed: %w", ErrConnectorIO)))
	assert.False(t, IsRetryable(ErrConfiguration))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestSentinelChains(t *testing.T) {
	assert.ErrorIs(t, ErrDuplicateKey, ErrConnectorRejected)

	err := NewConnectorIOError("executor", "timeout", errors.New("dial tcp: i/o timeout"))
	assert.ErrorIs(t, err, ErrConnectorIO)

	rejected := NewConnectorRejectedError("executor", "duplicate", ErrDuplicateKey)
	assert.ErrorIs(t, rejected, ErrDuplicateKey)
	assert.ErrorIs(t, rejected, ErrConnectorRejected)
}

func TestErrorFormatting(t *testing.T) {
	err := NewProvisioningError("executor", "create failed", errors.New("boom"), true)
	assert.Contains(t, err.Error(), "[executor]")
	assert.Contains(t, err.Error(), "create failed")
	assert.Contains(t, err.Error(), "boom")

	bare := NewConfigurationError("resolver", "two uid attributes")
	assert.Contains(t, bare.Error(), "[resolver]")
	assert.NotEmpty(t, bare.StackTrace)
}

func TestIsErrorOfType_Registry(t *testing.T) {
	assert.True(t, IsErrorOfType(fmt.Errorf("x: %w", ErrScript), "ErrScript"))
	assert.False(t, IsErrorOfType(ErrScript, "ErrConnectorIO"))
	assert.False(t, IsErrorOfType(ErrScript, "NoSuchName"))

	custom := errors.New("quota exceeded")
	RegisterErrorType("ErrQuotaExceeded", custom)
	assert.True(t, IsErrorOfType(fmt.Errorf("wrap: %w", custom), "ErrQuotaExceeded"))
}

func TestRegisterErrorType_RejectsBadInput(t *testing.T) {
	assert.Panics(t, func() { RegisterErrorType("", errors.New("x")) })
	assert.Panics(t, func() { RegisterErrorType("ErrNil", nil) })
}
