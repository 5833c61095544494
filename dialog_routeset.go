package voipcore

import (
	"github.com/voipstack/corevoip/sip"
)

// RouteSet is the ordered list of proxies an in-dialog request must be
// routed through, built once from the initial transaction's Record-Route
// headers (RFC 3261 §12.1.1/§12.1.2) and then reused for every subsequent
// request in the dialog.
type RouteSet struct {
	hops   []sip.Uri
	strict bool
}

// BuildRouteSetUAC constructs the route set a UAC uses for subsequent
// requests from the Record-Route headers of the response that established
// the dialog. RFC 3261 §12.1.2: the UAC's route set takes the Record-Route
// header field values in the order received, reversed (since a proxy's
// closest Record-Route to the UAS is listed first in the response it
// relayed downstream, but is the last hop the UAC should visit on its way
// back through the same proxy chain).
func BuildRouteSetUAC(res *sip.Response) *RouteSet {
	hops := collectRoute(res.RecordRoute())
	reverse(hops)
	return newRouteSet(hops)
}

// BuildRouteSetUAS constructs the route set a UAS uses for subsequent
// requests from the Record-Route headers of the request that established
// the dialog. RFC 3261 §12.1.1: the UAS's route set is the Record-Route
// header field values in the order received, NOT reversed, since the UAS
// sees the same chain in the direction the original request traveled.
func BuildRouteSetUAS(req *sip.Request) *RouteSet {
	hops := collectRoute(req.RecordRoute())
	return newRouteSet(hops)
}

func newRouteSet(hops []sip.Uri) *RouteSet {
	rs := &RouteSet{hops: hops}
	if len(hops) > 0 {
		_, rs.strict = hops[0].UriParams.Get("lr")
		rs.strict = !rs.strict // top Route carries ;lr for loose routing
	}
	return rs
}

func collectRoute(rr *sip.RecordRouteHeader) []sip.Uri {
	var hops []sip.Uri
	for hop := rr; hop != nil; hop = hop.Next {
		hops = append(hops, hop.Address)
	}
	return hops
}

func reverse(hops []sip.Uri) {
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
}

// Empty reports whether no Record-Route headers were recorded, meaning
// in-dialog requests should be sent directly to the remote target URI.
func (rs *RouteSet) Empty() bool {
	return rs == nil || len(rs.hops) == 0
}

// IsStrict reports whether the route set's first hop lacks the ;lr
// parameter (RFC 3261 §16.4), meaning that hop is a strict router and the
// request-URI/Route rewriting for strict routing must be applied.
func (rs *RouteSet) IsStrict() bool {
	return rs != nil && rs.strict
}

// Apply rewrites req's Request-URI and Route headers per RFC 3261 §12.2.1.1:
// loose routing (the common case) sets Route headers to the full route set
// in order and leaves the Request-URI as the remote target; strict routing
// pushes the remote target onto the end of the route set and promotes the
// first hop to the Request-URI.
func (rs *RouteSet) Apply(req *sip.Request, remoteTarget sip.Uri) {
	if rs.Empty() {
		req.Recipient = remoteTarget
		return
	}

	hops := rs.hops
	if rs.strict {
		req.Recipient = hops[0]
		rest := append(append([]sip.Uri{}, hops[1:]...), remoteTarget)
		req.RemoveHeader("Route")
		appendRouteHeaders(req, rest)
		return
	}

	req.Recipient = remoteTarget
	req.RemoveHeader("Route")
	appendRouteHeaders(req, hops)
}

func appendRouteHeaders(req *sip.Request, hops []sip.Uri) {
	if len(hops) == 0 {
		return
	}
	var head *sip.RouteHeader
	var tail *sip.RouteHeader
	for _, uri := range hops {
		hop := &sip.RouteHeader{Address: uri}
		if head == nil {
			head = hop
			tail = hop
		} else {
			tail.Next = hop
			tail = hop
		}
	}
	req.AppendHeader(head)
}
