package domain

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{StatusCreated, StatusProcessing, true},
		{StatusCreated, StatusCompleted, true},
		{StatusCreated, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCreated, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCreated, false},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	if StatusCreated.Terminal() || StatusProcessing.Terminal() {
		t.Error("Expected CREATED and PROCESSING to be non-terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("Expected COMPLETED and FAILED to be terminal")
	}
}
