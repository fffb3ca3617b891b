package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds.
const (
	KindAuth   = "auth"
	KindSend   = "send"
	KindLogout = "logout"
	KindFetch  = "fetch"
)

// ErrTimeout reports that the gateway did not answer in time. It is distinct
// from a rejection, which is reported as *Error.
var ErrTimeout = errors.New("gateway: request timeout")

// Error is a non-success answer from the gateway. Message is the upstream
// text, surfaced to operators verbatim.
type Error struct {
	Kind    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s failed (%d): %s", e.Kind, e.Status, e.Message)
}

// asTransportError wraps timeouts in ErrTimeout and everything else as a
// plain transport failure.
func asTransportError(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
