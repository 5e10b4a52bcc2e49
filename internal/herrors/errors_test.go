package herrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_FormatsWithAndWithoutSymbol(t *testing.T) {
	withSymbol := New(ClassValidation, "poi", "BTCUSDT", false, errors.New("boom"))
	assert.Equal(t, "validation[poi/BTCUSDT]: boom", withSymbol.Error())

	withoutSymbol := New(ClassFatal, "cvd", "", false, errors.New("boom"))
	assert.Equal(t, "fatal[cvd]: boom", withoutSymbol.Error())
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := New(ClassExternalTransient, "adapter", "ETHUSDT", true, cause)

	assert.ErrorIs(t, wrapped, cause)
}

func TestConstructors_SetExpectedClassAndRetryable(t *testing.T) {
	cause := errors.New("x")

	assert.Equal(t, ClassExternalTransient, Transient("a", "s", cause).Class)
	assert.True(t, Transient("a", "s", cause).Retryable)

	assert.Equal(t, ClassExternalPersistent, Persistent("a", "s", cause).Class)
	assert.False(t, Persistent("a", "s", cause).Retryable)

	assert.Equal(t, ClassFatal, Fatal("a", "s", cause).Class)
	assert.Equal(t, ClassSafetyTrip, SafetyTrip("a", "s", cause).Class)
	assert.Equal(t, ClassStateViolation, StateViolation("a", "s", cause).Class)

	v := Validation("a", cause)
	assert.Equal(t, ClassValidation, v.Class)
	assert.Empty(t, v.Symbol)
}

func TestIsRetryable(t *testing.T) {
	cause := errors.New("x")
	assert.True(t, IsRetryable(Transient("a", "s", cause)))
	assert.False(t, IsRetryable(Persistent("a", "s", cause)))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}
