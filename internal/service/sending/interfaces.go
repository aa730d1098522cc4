// Package sending defines the interfaces for handing a rendered message to an
// outbound transport.
//
// The dispatcher depends only on Connector and Sender. A Connector establishes
// an authenticated session for a campaign owner before any recipient is
// touched; the resulting Sender delivers one message at a time.
package sending

import (
	"context"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Sender sends a single email through a transport. Failures should be
// returned as *Error so the dispatcher can classify them.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// Connector resolves an authenticated Sender for a campaign owner.
type Connector interface {
	// HasCredentials reports whether outbound credentials exist for the owner.
	// It must not perform a network handshake.
	HasCredentials(ctx context.Context, ownerID string) (bool, error)

	// Connect validates the owner's credentials against the transport and
	// returns a ready Sender. Authentication failures must satisfy
	// errors.Is(err, ErrAuth).
	Connect(ctx context.Context, ownerID string) (Sender, error)
}
