package booking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_EdgeTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusApproved}:   true,
		{StatusPending, StatusCancelled}:  true,
		{StatusPending, StatusRejected}:   true,
		{StatusApproved, StatusPaid}:      true,
		{StatusApproved, StatusCancelled}: true,
		{StatusPaid, StatusCompleted}:     true,
		{StatusPaid, StatusCancelled}:     true,
	}

	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := allowed[[2]Status{from, to}]
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_TerminalAndUnknown(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusRejected} {
		assert.True(t, terminal.IsTerminal())
		assert.Empty(t, AllowedTransitions(terminal))
		for _, to := range Statuses() {
			assert.False(t, CanTransition(terminal, to))
		}
	}

	assert.False(t, CanTransition("archived", StatusPending))
	assert.False(t, CanTransition(StatusPending, "archived"))
	assert.False(t, CanTransition("", ""))
	assert.False(t, Status("archived").IsTerminal())
}

func TestAllowedTransitions_ReturnsCopy(t *testing.T) {
	next := AllowedTransitions(StatusPending)
	require.Len(t, next, 3)
	next[0] = StatusCompleted
	assert.True(t, CanTransition(StatusPending, StatusApproved))
}

func TestCheckoutTarget(t *testing.T) {
	target, ok := CheckoutTarget(StatusPending)
	assert.True(t, ok)
	assert.Equal(t, StatusApproved, target)

	target, ok = CheckoutTarget(StatusApproved)
	assert.True(t, ok)
	assert.Equal(t, StatusPaid, target)

	_, ok = CheckoutTarget(StatusPaid)
	assert.False(t, ok)
}

func TestLabelAndTone(t *testing.T) {
	cases := []struct {
		status Status
		label  string
		tone   Tone
	}{
		{StatusPending, "Pending", ToneWarning},
		{StatusApproved, "Approved", ToneInfo},
		{StatusPaid, "Paid", ToneSuccess},
		{StatusCompleted, "Completed", ToneNeutral},
		{StatusCancelled, "Cancelled", ToneDanger},
		{StatusRejected, "Rejected", ToneDanger},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.label, Label(tc.status))
		assert.Equal(t, tc.tone, ToneOf(tc.status))
	}
	assert.Equal(t, "", Label(""))
	assert.Equal(t, ToneNeutral, ToneOf("archived"))
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("  Approved ")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, status)

	_, err = ParseStatus("archived")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}
