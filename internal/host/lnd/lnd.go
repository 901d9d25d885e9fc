// Package lnd is the concrete host.Node adapter talking to lnd over
// lndclient/lnrpc/routerrpc.
//
// Grounded directly on the teacher's connection bootstrap in main.go
// (lndclient.NewBasicConn + lnrpc.NewLightningClient/routerrpc.NewRouterClient)
// and on routes.go's getChanInfo/getNodeInfo helpers, generalized from
// one-off calls into the narrow host.GraphSource/ChannelSource/Payer
// interfaces the engine depends on. The plugin handshake, gossip
// snapshot wire format, and RPC transport itself are out of scope
// (spec.md §1); this package is the thin glue spec.md calls for.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"

	"github.com/daywalker90/sling/internal/bolt4"
	"github.com/daywalker90/sling/internal/host"
	"github.com/daywalker90/sling/internal/model"
)

// Client implements host.GraphSource, host.ChannelSource and host.Payer
// against a connected lnd node.
type Client struct {
	ln     lnrpc.LightningClient
	router routerrpc.RouterClient
}

// Dial mirrors the teacher's lndclient.NewBasicConn + client
// construction in main.go's main().
func Dial(connect, tlsCert, macaroonDir, network, macaroonFilename string) (*Client, error) {
	conn, err := lndclient.NewBasicConn(connect, tlsCert, macaroonDir, network,
		lndclient.MacFilename(macaroonFilename))
	if err != nil {
		return nil, err
	}
	return &Client{
		ln:     lnrpc.NewLightningClient(conn),
		router: routerrpc.NewRouterClient(conn),
	}, nil
}

// Node builds the host.Node bundle the engine wires everything else to.
func (c *Client) Node() host.Node {
	return host.Node{Graph: c, Channel: c, Payer: c}
}

// DescribeGraph pulls every publicly gossiped edge, generalizing the
// teacher's per-scid getChanInfo (routes.go) into a single bulk fetch
// since C1 needs the whole graph, not one channel at a time.
func (c *Client) DescribeGraph(ctx context.Context) ([]model.DirectedChannel, error) {
	g, err := c.ln.DescribeGraph(ctx, &lnrpc.ChannelGraphRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]model.DirectedChannel, 0, len(g.Edges)*2)
	for _, e := range g.Edges {
		if dc, ok := policyToEdge(e, e.Node1Pub, e.Node2Pub, e.Node1Policy, false); ok {
			out = append(out, dc)
		}
		if dc, ok := policyToEdge(e, e.Node2Pub, e.Node1Pub, e.Node2Policy, false); ok {
			out = append(out, dc)
		}
	}
	return out, nil
}

func policyToEdge(e *lnrpc.ChannelEdge, from, to string, p *lnrpc.RoutingPolicy, private bool) (model.DirectedChannel, bool) {
	if p == nil || p.Disabled {
		return model.DirectedChannel{}, false
	}
	scid := model.Scid(e.ChannelId)
	return model.DirectedChannel{
		Scid:            scid,
		FromNode:        model.NodeID(from),
		ToNode:          model.NodeID(to),
		CapacityMsat:    model.Msat(uint64(e.Capacity) * 1000),
		FeeBaseMsat:     model.Msat(p.FeeBaseMsat),
		FeePPM:          uint32(p.FeeRateMilliMsat),
		HtlcMinMsat:     model.Msat(p.MinHtlc),
		HtlcMaxMsat:     model.Msat(p.MaxHtlcMsat),
		CltvDelta:       uint16(p.TimeLockDelta),
		Active:          true,
		Private:         private,
		AnnouncedHeight: uint32(scid >> 40),
	}, true
}

// ListPrivateChannels returns our own non-gossiped channels, each
// endpoint-visible direction built from our local channel view since a
// private channel's remote-side policy is never gossiped.
func (c *Client) ListPrivateChannels(ctx context.Context) ([]model.DirectedChannel, error) {
	resp, err := c.ln.ListChannels(ctx, &lnrpc.ListChannelsRequest{ActiveOnly: true, PrivateOnly: true})
	if err != nil {
		return nil, err
	}
	self, err := c.LocalPubkey(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DirectedChannel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, model.DirectedChannel{
			Scid:         model.Scid(ch.ChanId),
			FromNode:     self,
			ToNode:       model.NodeID(ch.RemotePubkey),
			CapacityMsat: model.Msat(uint64(ch.Capacity) * 1000),
			FeeBaseMsat:  0,
			FeePPM:       0,
			HtlcMinMsat:  1,
			HtlcMaxMsat:  model.Msat(uint64(ch.Capacity) * 1000),
			CltvDelta:    40,
			Active:       ch.Active,
			Private:      true,
		})
	}
	return out, nil
}

func (c *Client) LocalPubkey(ctx context.Context) (model.NodeID, error) {
	info, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return "", err
	}
	return model.NodeID(info.IdentityPubkey), nil
}

func (c *Client) CurrentHeight(ctx context.Context) (uint32, error) {
	info, err := c.ln.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return 0, err
	}
	return info.BlockHeight, nil
}

// NodeAlias mirrors the teacher's getNodeInfo in routes.go.
func (c *Client) NodeAlias(ctx context.Context, node model.NodeID) (string, error) {
	info, err := c.ln.GetNodeInfo(ctx, &lnrpc.NodeInfoRequest{PubKey: string(node)})
	if err != nil {
		return "", err
	}
	if info.Node == nil {
		return "", nil
	}
	return info.Node.Alias, nil
}

// ListOwnChannels reports our own channels' live spendable balance.
func (c *Client) ListOwnChannels(ctx context.Context) ([]host.ChannelInfo, error) {
	resp, err := c.ln.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]host.ChannelInfo, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, host.ChannelInfo{
			Scid:             model.Scid(ch.ChanId),
			PeerNode:         model.NodeID(ch.RemotePubkey),
			CapacityMsat:     model.Msat(uint64(ch.Capacity) * 1000),
			LocalBalanceMsat: model.Msat(uint64(ch.LocalBalance) * 1000),
			Active:           ch.Active,
			Private:          ch.Private,
		})
	}
	return out, nil
}

// CreateSelfInvoice mints a random-label, long-expiry self-payment
// invoice, per spec.md §4.6 #1 and the teacher's invoiceCache entries.
func (c *Client) CreateSelfInvoice(ctx context.Context, amt model.Msat, label string, expiry time.Duration) (host.Invoice, error) {
	resp, err := c.ln.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:   fmt.Sprintf("sling-%s", label),
		ValueMsat: int64(amt),
		Expiry: int64(expiry.Seconds()),
	})
	if err != nil {
		return host.Invoice{}, err
	}
	return host.Invoice{
		PaymentHash: hex.EncodeToString(resp.RHash),
		BoltEncoded: resp.PaymentRequest,
		AmountMsat:  amt,
	}, nil
}

// SendToRoute submits a pre-built route via routerrpc.SendToRouteV2 and
// waits for a terminal HTLC attempt, per spec.md §4.6 #2.
func (c *Client) SendToRoute(ctx context.Context, edges []model.DirectedChannel, inv host.Invoice) (host.Outcome, error) {
	hops := make([]*lnrpc.Hop, len(edges))
	amt := inv.AmountMsat
	for i := len(edges) - 1; i >= 0; i-- {
		hops[i] = &lnrpc.Hop{
			ChanId:           uint64(edges[i].Scid),
			AmtToForwardMsat: int64(amt),
			Expiry:           uint32(edges[i].CltvDelta),
		}
		amt += edges[i].Fee(amt)
	}

	paymentHash, err := hex.DecodeString(inv.PaymentHash)
	if err != nil {
		return host.Outcome{}, err
	}

	attempt, err := c.router.SendToRouteV2(ctx, &routerrpc.SendToRouteRequest{
		PaymentHash: paymentHash,
		Route:       &lnrpc.Route{Hops: hops, TotalAmtMsat: int64(amt)},
	})
	if err != nil {
		return host.Outcome{}, err
	}

	switch attempt.Status {
	case lnrpc.HTLCAttempt_SUCCEEDED:
		return host.Outcome{Success: true, FeeMsat: routeFeeMsat(attempt.Route)}, nil
	case lnrpc.HTLCAttempt_FAILED:
		return outcomeFromFailure(attempt.Failure), nil
	default:
		return host.Outcome{Timeout: true}, nil
	}
}

func routeFeeMsat(r *lnrpc.Route) model.Msat {
	if r == nil {
		return 0
	}
	return model.Msat(uint64(r.TotalFeesMsat))
}

// outcomeFromFailure classifies a failed HTLC attempt and, when the
// reporting hop attached a BOLT-4 channel_update, carries its corrected
// fee/cltv/htlc-bound policy through as hints so pay.Executor can retry
// the same route immediately per spec.md §4.6.
func outcomeFromFailure(f *lnrpc.Failure) host.Outcome {
	if f == nil {
		return host.Outcome{FailHop: 0, FailCode: bolt4.TemporaryChannelFailure}
	}
	o := host.Outcome{
		FailHop:  int(f.FailureSourceIndex),
		FailCode: failureCode(f.Code),
	}
	if cu := f.ChannelUpdate; cu != nil {
		o.UpdatedFeeBaseMsat = model.Msat(cu.BaseFee)
		o.UpdatedFeePPM = cu.FeeRate
		o.UpdatedCltvDelta = uint16(cu.TimeLockDelta)
		o.HtlcMinHint = model.Msat(cu.HtlcMinimumMsat)
		o.HtlcMaxHint = model.Msat(cu.HtlcMaximumMsat)
	}
	return o
}

func failureCode(code lnrpc.Failure_FailureCode) bolt4.Code {
	switch code {
	case lnrpc.Failure_TEMPORARY_CHANNEL_FAILURE:
		return bolt4.TemporaryChannelFailure
	case lnrpc.Failure_UNKNOWN_NEXT_PEER:
		return bolt4.UnknownNextPeer
	case lnrpc.Failure_FEE_INSUFFICIENT:
		return bolt4.FeeInsufficient
	case lnrpc.Failure_INCORRECT_CLTV_EXPIRY:
		return bolt4.IncorrectCltvExpiry
	case lnrpc.Failure_EXPIRY_TOO_SOON:
		return bolt4.ExpiryTooSoon
	case lnrpc.Failure_AMOUNT_BELOW_MINIMUM:
		return bolt4.AmountBelowMinimum
	case lnrpc.Failure_FINAL_INCORRECT_CLTV_EXPIRY:
		return bolt4.FinalIncorrectCltvExpiry
	case lnrpc.Failure_FINAL_INCORRECT_HTLC_AMOUNT:
		return bolt4.FinalIncorrectHtlcAmount
	case lnrpc.Failure_PERMANENT_CHANNEL_FAILURE:
		return bolt4.PermanentChannelFailure
	case lnrpc.Failure_PERMANENT_NODE_FAILURE:
		return bolt4.PermanentNodeFailure
	case lnrpc.Failure_UNKNOWN_PAYMENT_HASH:
		return bolt4.UnknownPaymentHash
	default:
		return bolt4.TemporaryChannelFailure
	}
}

// CancelInvoice is a best-effort hint to the host; lnd doesn't expose a
// dedicated cancel-by-hash RPC on the lightning/router clients the
// teacher imports, so an unpaid self-invoice simply expires. Kept as a
// named operation so the payment executor's timeout path has somewhere
// to call.
func (c *Client) CancelInvoice(ctx context.Context, inv host.Invoice) error {
	return nil
}
