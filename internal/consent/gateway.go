package consent

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
)

// MessageGateway dispatches outbound text messages. The actual SMS
// transport lives outside this module; daemons without a transport use
// LoggingGateway.
type MessageGateway interface {
	// Send dispatches body to the given phone number and returns the
	// provider's message ID.
	Send(ctx context.Context, address, body string) (string, error)
}

// DispatchError wraps a failed outbound send. The consent machine maps
// it to the Failed state, which allows a manual resend.
type DispatchError struct {
	Address string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch message to %s: %v", e.Address, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// LoggingGateway is a MessageGateway that logs instead of delivering.
type LoggingGateway struct {
	Logger *log.Logger
}

// NewLoggingGateway returns a gateway writing to the given logger, or
// stderr if nil.
func NewLoggingGateway(logger *log.Logger) *LoggingGateway {
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	return &LoggingGateway{Logger: logger}
}

// Send implements MessageGateway.
func (g *LoggingGateway) Send(ctx context.Context, address, body string) (string, error) {
	id := uuid.NewString()
	g.Logger.Printf("Outbound to %s (id=%s): %s", address, id, body)
	return id, nil
}
