package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusCreated, StatusWindowConfirmed},
		{StatusCreated, StatusInTransit}, // negotiable orders skip window_confirmed
		{StatusWindowConfirmed, StatusInTransit},
		{StatusInTransit, StatusDelivered},
		{StatusDelivered, StatusCompleted},
		{StatusDelivered, StatusDisputed},
	}
	for _, tt := range legal {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s should be legal", tt.from, tt.to)
	}

	illegal := []struct{ from, to Status }{
		{StatusCreated, StatusDelivered},
		{StatusCreated, StatusCompleted},
		{StatusWindowConfirmed, StatusDelivered},
		{StatusInTransit, StatusCompleted},
		{StatusInTransit, StatusDisputed},
		{StatusCompleted, StatusDisputed},
		{StatusCompleted, StatusDelivered},
		{StatusDisputed, StatusCompleted},
		{StatusDelivered, StatusInTransit}, // no going backwards
	}
	for _, tt := range illegal {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s should be illegal", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusDisputed.Terminal())
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusWindowConfirmed.Terminal())
	assert.False(t, StatusInTransit.Terminal())
	assert.False(t, StatusDelivered.Terminal())

	// Terminal states reject everything, including self-loops.
	for _, terminal := range []Status{StatusCompleted, StatusDisputed} {
		for _, to := range []Status{StatusCreated, StatusWindowConfirmed, StatusInTransit, StatusDelivered, StatusCompleted, StatusDisputed} {
			assert.False(t, CanTransition(terminal, to))
		}
	}
}

func TestConfirmationDeadline(t *testing.T) {
	var o Order
	_, ok := o.ConfirmationDeadline()
	assert.False(t, ok, "no deadline before delivery")

	deliveredAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	o.DeliveredAt = &deliveredAt

	deadline, ok := o.ConfirmationDeadline()
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), deadline)
}
