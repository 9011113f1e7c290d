package settle

import (
	"context"

	"github.com/altgrid/sweeper/internal/chain"
)

// DialerClients adapts the concrete chain dialer to the ChainClients
// interface so tests can substitute fakes.
type DialerClients struct {
	Dialer *chain.Dialer
}

func (d DialerClients) HasEndpoint(chainID int64) bool {
	return d.Dialer.HasEndpoint(chainID)
}

func (d DialerClients) Client(ctx context.Context, chainID int64) (ChainClient, error) {
	return d.Dialer.Client(ctx, chainID)
}
