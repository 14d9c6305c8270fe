package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/storewave/flash-sale-service/model"
)

func TestSimulator_AlwaysApprove(t *testing.T) {
	// Arrange
	simulator := NewSimulator(1.0)

	// Act & Assert
	for i := 0; i < 50; i++ {
		approved, err := simulator.Authorize(context.Background(), model.OrderMessage{})
		assert.NoError(t, err)
		assert.True(t, approved)
	}
}

func TestSimulator_AlwaysDecline(t *testing.T) {
	// Arrange
	simulator := NewSimulator(0.0)

	// Act & Assert
	for i := 0; i < 50; i++ {
		approved, err := simulator.Authorize(context.Background(), model.OrderMessage{})
		assert.NoError(t, err)
		assert.False(t, approved)
	}
}

func TestHTTPAuthorizer_Approved(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/authorize", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved": true}`))
	}))
	defer server.Close()

	authorizer := NewHTTPAuthorizer(server.URL, time.Second)

	// Act
	approved, err := authorizer.Authorize(context.Background(), model.OrderMessage{UserID: 7, ProductID: 42})

	// Assert
	assert.NoError(t, err)
	assert.True(t, approved)
}

func TestHTTPAuthorizer_Declined(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved": false}`))
	}))
	defer server.Close()

	authorizer := NewHTTPAuthorizer(server.URL, time.Second)

	// Act
	approved, err := authorizer.Authorize(context.Background(), model.OrderMessage{})

	// Assert: a decline is a business outcome, not an error
	assert.NoError(t, err)
	assert.False(t, approved)
}

func TestHTTPAuthorizer_ServerErrorIsRetryable(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	authorizer := NewHTTPAuthorizer(server.URL, time.Second)

	// Act
	approved, err := authorizer.Authorize(context.Background(), model.OrderMessage{})

	// Assert
	assert.Error(t, err)
	assert.False(t, approved)
}

func TestHTTPAuthorizer_Unreachable(t *testing.T) {
	// Arrange: nothing listening here
	authorizer := NewHTTPAuthorizer("http://127.0.0.1:1", 200*time.Millisecond)

	// Act
	_, err := authorizer.Authorize(context.Background(), model.OrderMessage{})

	// Assert
	assert.Error(t, err)
}
