package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/snehjoshi/replq/internal/broker"
	"github.com/snehjoshi/replq/internal/queue"
	"github.com/snehjoshi/replq/internal/registry"
	"github.com/snehjoshi/replq/internal/replication"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{registry.ErrNotFound, http.StatusNotFound},
		{queue.ErrEmptyQueue, http.StatusNotFound},
		{queue.ErrOutOfRange, http.StatusBadRequest},
		{queue.ErrInvalidConfiguration, http.StatusBadRequest},
		{broker.ErrNotMaster, http.StatusBadRequest},
		{queue.ErrUnsupportedOperation, http.StatusConflict},
		{registry.ErrExists, http.StatusConflict},
		{replication.ErrReplicationTimeout, http.StatusGatewayTimeout},
		{replication.ErrDeliveryFailed, http.StatusBadGateway},
		{replication.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		wrapped := fmt.Errorf("broker: push to q: %w", tc.err)
		if got := statusFor(wrapped); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
