// Package host defines the narrow interface the engine needs from the
// host Lightning node. The plugin handshake, RPC transport, and the
// on-disk gossip snapshot format are the host's concern (spec.md §1
// Out-of-scope); this package only names the operations the engine
// calls, grounded on the teacher's direct use of lnrpc.LightningClient
// and routerrpc.RouterClient in main.go/routes.go.
package host

import (
	"context"
	"time"

	"github.com/daywalker90/sling/internal/bolt4"
	"github.com/daywalker90/sling/internal/model"
)

// ChannelInfo is the host's view of one of our own channels, including
// the live spendable balance the graph snapshot does not carry.
type ChannelInfo struct {
	Scid            model.Scid
	PeerNode        model.NodeID
	CapacityMsat    model.Msat
	LocalBalanceMsat model.Msat
	Active          bool
	Private         bool
}

// Invoice is a self-payment invoice created for one rebalance attempt.
type Invoice struct {
	PaymentHash  string
	PaymentAddr  string
	BoltEncoded  string
	AmountMsat   model.Msat
}

// Outcome is the terminal result of one payment attempt, classified
// per spec.md §4.6.
type Outcome struct {
	Success    bool
	Timeout    bool
	FeeMsat    model.Msat
	FailHop    int // 0-indexed hop where the failure was reported
	FailCode   bolt4.Code
	// HtlcMinHint/HtlcMaxHint carry host-provided updated bounds on
	// amount_below_minimum/amount_above_maximum failures.
	HtlcMinHint model.Msat
	HtlcMaxHint model.Msat
	// UpdatedFeeBaseMsat/UpdatedFeePPM/UpdatedCltvDelta carry the failing
	// hop's current policy from a BOLT-4 channel_update, used to retry
	// fee_insufficient/incorrect_cltv_expiry/expiry_too_soon immediately
	// with the same route per spec.md §4.6. Zero means no update was
	// attached to the failure.
	UpdatedFeeBaseMsat model.Msat
	UpdatedFeePPM      uint32
	UpdatedCltvDelta   uint16
}

// Node is the full set of host operations the engine depends on.
type Node struct {
	Graph   GraphSource
	Channel ChannelSource
	Payer   Payer
}

// GraphSource supplies the raw gossip/private-channel data C1 merges
// into a snapshot.
type GraphSource interface {
	// DescribeGraph returns every publicly gossiped directed edge.
	DescribeGraph(ctx context.Context) ([]model.DirectedChannel, error)
	// ListPrivateChannels returns our own non-public channels, visible
	// to us as an endpoint even though they're absent from gossip.
	ListPrivateChannels(ctx context.Context) ([]model.DirectedChannel, error)
	// LocalPubkey returns our own node id.
	LocalPubkey(ctx context.Context) (model.NodeID, error)
	// NodeAlias resolves a node id to its advertised alias.
	NodeAlias(ctx context.Context, node model.NodeID) (string, error)
	// CurrentHeight returns the chain tip height, used for
	// candidates-min-age.
	CurrentHeight(ctx context.Context) (uint32, error)
}

// ChannelSource supplies live state for our own channels.
type ChannelSource interface {
	ListOwnChannels(ctx context.Context) ([]ChannelInfo, error)
}

// Payer drives one payment attempt.
type Payer interface {
	CreateSelfInvoice(ctx context.Context, amt model.Msat, label string, expiry time.Duration) (Invoice, error)
	// SendToRoute submits a pre-built route and blocks until a terminal
	// outcome or ctx's deadline, mirroring routerrpc's SendToRouteV2,
	// which the teacher uses indirectly through QueryRoutes/SendToRoute.
	SendToRoute(ctx context.Context, route []model.DirectedChannel, inv Invoice) (Outcome, error)
	CancelInvoice(ctx context.Context, inv Invoice) error
}
