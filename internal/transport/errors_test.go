package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAsDeliveryError(t *testing.T) {
	t.Parallel()

	if AsDeliveryError(nil, 1) != nil {
		t.Fatal("nil error should stay nil")
	}

	typed := &DeliveryError{ChatID: 7, Kind: DeliveryBlocked, Err: errors.New("forbidden")}
	if got := AsDeliveryError(fmt.Errorf("wrapped: %w", typed), 99); got != typed {
		t.Fatalf("expected the wrapped DeliveryError back, got %#v", got)
	}

	got := AsDeliveryError(context.DeadlineExceeded, 5)
	if got.Kind != DeliveryTimeout || got.ChatID != 5 {
		t.Fatalf("deadline: got kind=%s chat=%d", got.Kind, got.ChatID)
	}
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatal("DeliveryError must unwrap to the cause")
	}

	if k := AsDeliveryError(errors.New("boom"), 5).Kind; k != DeliveryUnknown {
		t.Fatalf("plain error kind = %s, want unknown", k)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		first, last, want string
	}{
		{"Ada", "Lovelace", "Ada Lovelace"},
		{"Ada", "", "Ada"},
		{"", "Lovelace", "Lovelace"},
	}
	for _, tt := range tests {
		m := &Message{FromFirstName: tt.first, FromLastName: tt.last}
		if got := m.DisplayName(); got != tt.want {
			t.Fatalf("DisplayName(%q,%q) = %q, want %q", tt.first, tt.last, got, tt.want)
		}
	}
}
