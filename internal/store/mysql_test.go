package store

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

func TestPlaceholders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "?"},
		{2, "?, ?"},
		{4, "?, ?, ?, ?"},
	}
	for _, tt := range tests {
		if got := placeholders(tt.n); got != tt.want {
			t.Errorf("placeholders(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTransitionStatementGuardsOnSourceStatuses(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		to   domain.PaymentStatus
		from []string
	}{
		{"processing", domain.StatusProcessing, []string{"CREATED"}},
		{"completed", domain.StatusCompleted, []string{"CREATED", "PROCESSING"}},
		{"failed", domain.StatusFailed, []string{"CREATED", "PROCESSING"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			query, args, err := transitionStatement(id, tt.to, "payment-service", at)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !strings.Contains(query, "WHERE id = ? AND status IN ("+placeholders(len(tt.from))+")") {
				t.Errorf("Query does not guard on %d source statuses: %s", len(tt.from), query)
			}
			if got, want := strings.Count(query, "?"), len(args); got != want {
				t.Fatalf("Query has %d placeholders for %d args", got, want)
			}

			want := []any{string(tt.to), at, "payment-service", id.String()}
			for _, s := range tt.from {
				want = append(want, s)
			}
			if len(args) != len(want) {
				t.Fatalf("Got %d args, want %d", len(args), len(want))
			}
			for i := range want {
				if args[i] != want[i] {
					t.Errorf("Arg %d = %v, want %v", i, args[i], want[i])
				}
			}
		})
	}
}

func TestTransitionStatementRejectsUnreachableStatus(t *testing.T) {
	t.Parallel()
	if _, _, err := transitionStatement(uuid.New(), domain.StatusCreated, "x", time.Now()); err == nil {
		t.Error("Expected an error for a status nothing transitions into")
	}
}
