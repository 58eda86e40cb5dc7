package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewInstantiationError("factory failed", cause)

	assert.Equal(t, ErrorTypeInstantiation, err.Type)
	assert.Equal(t, "factory failed", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		error    *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			error:    NewNotFoundError("unit not found", nil),
			expected: "not_found: unit not found",
		},
		{
			name:     "error with cause",
			error:    NewLifecycleError("failed to start unit", errors.New("boom")),
			expected: "lifecycle: failed to start unit: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.error.Error())
		})
	}
}

func TestDomainError_TypeChecking(t *testing.T) {
	notFound := NewNotFoundError("missing", nil).WithContext("unit_id", "cleanup_queue")
	lifecycle := NewLifecycleError("start failed", nil)

	assert.True(t, IsNotFoundError(notFound))
	assert.False(t, IsNotFoundError(lifecycle))
	assert.True(t, IsLifecycleError(lifecycle))
	assert.Equal(t, "cleanup_queue", notFound.Context["unit_id"])

	wrapped := fmt.Errorf("restart: %w", notFound)
	assert.True(t, IsNotFoundError(wrapped))
	assert.False(t, IsNetworkError(errors.New("plain")))

	unwrapped := errors.Unwrap(NewTimeoutError("stop timed out", errors.New("deadline")))
	require.NotNil(t, unwrapped)
	assert.Equal(t, "deadline", unwrapped.Error())
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.Nil(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(NewLifecycleError("a failed", nil))
	assert.Equal(t, "lifecycle: a failed", collection.Error())

	collection.Add(NewLifecycleError("b failed", nil))
	require.Error(t, collection.ToError())
	assert.Equal(t, "2 errors occurred: lifecycle: a failed", collection.Error())
	assert.True(t, IsLifecycleError(collection.ToError()))
	assert.False(t, IsNotFoundError(collection.ToError()))
}

func TestErrorCollection_MixedTypes(t *testing.T) {
	collection := NewErrorCollection()
	collection.Add(NewLifecycleError("unit failed", nil))
	collection.Add(fmt.Errorf("endpoints: %w", NewNetworkError("address in use", nil)))

	err := collection.ToError()

	assert.True(t, IsLifecycleError(err))
	assert.True(t, IsNetworkError(err))
	assert.False(t, IsTimeoutError(err))

	// a typed cause does not change the type of its wrapper
	wrapped := NewNetworkError("endpoint failed", NewTimeoutError("bind timed out", nil))
	assert.True(t, IsNetworkError(wrapped))
	assert.False(t, IsTimeoutError(wrapped))
}
