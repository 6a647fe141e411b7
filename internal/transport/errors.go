package transport

import (
	"context"
	"errors"
	"fmt"
)

// DeliveryKind classifies why a send to one recipient failed.
type DeliveryKind string

const (
	DeliveryUnreachable DeliveryKind = "unreachable" // chat not found / bot not a member
	DeliveryBlocked     DeliveryKind = "blocked"     // recipient blocked the bot
	DeliveryDeactivated DeliveryKind = "deactivated" // recipient account deleted
	DeliveryRateLimited DeliveryKind = "rate_limited"
	DeliveryMalformed   DeliveryKind = "malformed" // empty or otherwise rejected text
	DeliveryTimeout     DeliveryKind = "timeout"
	DeliveryUnknown     DeliveryKind = "unknown"
)

// DeliveryError is returned by Sender.SendText for a failed send.
type DeliveryError struct {
	ChatID int64
	Kind   DeliveryKind
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("deliver to %d: %s", e.ChatID, e.Kind)
	}
	return fmt.Sprintf("deliver to %d: %s: %v", e.ChatID, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AsDeliveryError returns err as a *DeliveryError, wrapping plain errors so
// call sites can always log a kind. Context errors map to DeliveryTimeout.
func AsDeliveryError(err error, chatID int64) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	kind := DeliveryUnknown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = DeliveryTimeout
	}
	return &DeliveryError{ChatID: chatID, Kind: kind, Err: err}
}
