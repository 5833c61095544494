package voipcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voipstack/corevoip/sip"
)

func uriFor(t *testing.T, raw string) sip.Uri {
	t.Helper()
	var u sip.Uri
	require.NoError(t, sip.ParseUri(raw, &u))
	return u
}

func userHost(u sip.Uri) string {
	return u.User + "@" + u.Host
}

func recordRouteChain(t *testing.T, raws ...string) *sip.RecordRouteHeader {
	t.Helper()
	var head, tail *sip.RecordRouteHeader
	for _, raw := range raws {
		hop := &sip.RecordRouteHeader{Address: uriFor(t, raw)}
		if head == nil {
			head = hop
			tail = hop
		} else {
			tail.Next = hop
			tail = hop
		}
	}
	return head
}

func TestBuildRouteSetUACReversesOrder(t *testing.T) {
	res := &sip.Response{}
	res.AppendHeader(recordRouteChain(t, "sip:proxy1@example.com;lr", "sip:proxy2@example.com;lr"))

	rs := BuildRouteSetUAC(res)
	require.False(t, rs.Empty())
	require.Equal(t, "proxy2@example.com", userHost(rs.hops[0]))
}

func TestBuildRouteSetUASPreservesOrder(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, uriFor(t, "sip:bob@example.com"))
	req.AppendHeader(recordRouteChain(t, "sip:proxy1@example.com;lr", "sip:proxy2@example.com;lr"))

	rs := BuildRouteSetUAS(req)
	require.False(t, rs.Empty())
	require.Equal(t, "proxy1@example.com", userHost(rs.hops[0]))
}

func TestRouteSetEmptyWhenNoRecordRoute(t *testing.T) {
	res := &sip.Response{}
	rs := BuildRouteSetUAC(res)
	require.True(t, rs.Empty())
}

func TestRouteSetLooseRoutingAppliesFullSet(t *testing.T) {
	res := &sip.Response{}
	res.AppendHeader(recordRouteChain(t, "sip:proxy1@example.com;lr"))
	rs := BuildRouteSetUAC(res)
	require.False(t, rs.IsStrict())

	req := sip.NewRequest(sip.BYE, uriFor(t, "sip:placeholder@example.com"))
	target := uriFor(t, "sip:bob@example.com")
	rs.Apply(req, target)

	require.Equal(t, "bob@example.com", userHost(req.Recipient))
	require.NotNil(t, req.Route())
}

func TestRouteSetStrictRoutingPromotesFirstHop(t *testing.T) {
	res := &sip.Response{}
	res.AppendHeader(recordRouteChain(t, "sip:proxy1@example.com"))
	rs := BuildRouteSetUAC(res)
	require.True(t, rs.IsStrict())

	req := sip.NewRequest(sip.BYE, uriFor(t, "sip:placeholder@example.com"))
	target := uriFor(t, "sip:bob@example.com")
	rs.Apply(req, target)

	require.Equal(t, "proxy1@example.com", userHost(req.Recipient))
}
