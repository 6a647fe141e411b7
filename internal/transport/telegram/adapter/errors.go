package adapter

import (
	"context"
	"errors"
	"net"
	"strings"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
)

// classify maps a telebot or network error onto a delivery kind.
func classify(err error) transport.DeliveryKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transport.DeliveryTimeout
	}
	// telebot returns FloodError by value.
	var flood tele.FloodError
	var floodPtr *tele.FloodError
	if errors.As(err, &flood) || errors.As(err, &floodPtr) {
		return transport.DeliveryRateLimited
	}
	var te *tele.Error
	if errors.As(err, &te) {
		desc := strings.ToLower(te.Description)
		switch {
		case te.Code == 429:
			return transport.DeliveryRateLimited
		case strings.Contains(desc, "blocked by the user"):
			return transport.DeliveryBlocked
		case strings.Contains(desc, "deactivated"):
			return transport.DeliveryDeactivated
		case te.Code == 403,
			strings.Contains(desc, "chat not found"),
			strings.Contains(desc, "user not found"):
			return transport.DeliveryUnreachable
		case te.Code == 400:
			return transport.DeliveryMalformed
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return transport.DeliveryTimeout
	}
	return transport.DeliveryUnknown
}
