package voipcore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voipstack/corevoip/eventbus"
	"github.com/voipstack/corevoip/media"
	"github.com/voipstack/corevoip/sdpneg"
	"github.com/voipstack/corevoip/sip"
)

// ListenAddress is one entry of the listen_addresses configuration option
// (spec §6): a transport kind ("udp", "tcp", "tls", "ws", "wss") and the
// local address to bind it on.
type ListenAddress struct {
	Network string
	Addr    string
}

// Config gathers every configuration option spec §6 names, composed into
// the Engine that wires together the user agent, dialog coordinator,
// media controller, and event bus. The zero value is not usable; fields
// without an explicit default below must be set by the caller.
type Config struct {
	// ListenAddresses are bound by Engine.ListenAndServe.
	ListenAddresses []ListenAddress

	// UserAgentName is placed in the From/Contact user part and the
	// User-Agent-style identity of outbound requests (user_agent_identity).
	UserAgentName string
	// UserAgentHostname overrides the host placed in the From URI; falls
	// back to the routing IP/host when empty.
	UserAgentHostname string

	// SIPTimerT1 is the base RFC 3261 retransmission interval
	// (sip_timer_t1_ms). Zero uses the transaction package's default.
	SIPTimerT1 time.Duration

	// RTPPortMin/RTPPortMax bound the even-port RTP/RTCP allocator range
	// (rtp_port_range). Zero uses media's default 10000-20000.
	RTPPortMin int
	RTPPortMax int

	// CodecPreferences is the ordered codec list used to build offers and
	// select answers (codec_preferences). Required: at least one entry.
	CodecPreferences []sdpneg.CodecCapability

	// MaxConcurrentCalls bounds simultaneously admitted dialogs
	// (max_concurrent_calls). Zero/negative means unlimited.
	MaxConcurrentCalls int

	// JitterBufferInitial/MaxDelay tune the adaptive playout delay
	// (jitter_buffer_initial_ms/jitter_buffer_max_ms). Zero uses rtp
	// package defaults.
	JitterBufferInitial time.Duration
	JitterBufferMax     time.Duration

	// RTCPInterval is the average SR/RR scheduling interval
	// (rtcp_interval_ms). The Engine does not apply this value: media legs
	// use rtp.Session's default 5s base interval, jittered ±50% per report.
	RTCPInterval time.Duration

	// StrictParsing selects parser.ModeStrict for inbound SIP messages.
	StrictParsing bool

	// TLSConfig is used for TLS/WSS listeners and outbound connections.
	TLSConfig *tls.Config

	Logger zerolog.Logger
}

// Engine is the top-level handle implementing spec §6's public operation
// surface (StartCall/AnswerCall/Hangup/SubscribeEvents/GetCallMediaInfo),
// composing the UserAgent/Client/Server transport-and-transaction stack,
// the DialogUA coordinator, admission control, the media controller, and
// the event bus.
type Engine struct {
	cfg Config
	log zerolog.Logger

	ua     *UserAgent
	client *Client
	server *Server
	dua    *DialogUA

	admission *AdmissionControl
	portPool  *media.PortPool
	mediaCtl  *media.Controller
	sdpAlloc  *media.SDPAllocator
	bus       *eventbus.Bus

	// dialogs indexes every live CallHandle by its RFC 3261 dialog ID
	// (Call-ID + both tags), the same key both DialogIDFromRequestUAS and
	// DialogIDFromResponse compute, so an inbound in-dialog ACK/BYE can be
	// routed back to its CallHandle regardless of which side originated
	// the call. DialogUA's own DialogServer/DialogClient deliberately
	// don't cache dialogs (see dialog_ua.go's asDialogServer), so this
	// cache is the Engine's responsibility.
	mu      sync.Mutex
	dialogs map[string]*CallHandle

	// onIncoming is invoked for every inbound INVITE that passes admission
	// control and Max-Forwards, on its own goroutine. Registered via
	// OnIncomingCall; nil means incoming calls are rejected with 503.
	onIncoming func(*CallHandle)
}

// NewEngine builds an Engine from cfg: a UserAgent/Client/Server triple
// (the teacher's own composition), a DialogUA bound to that client and a
// generated Contact, an AdmissionControl sized from MaxConcurrentCalls,
// and a media.Controller bound to a PortPool over RTPPortMin/RTPPortMax.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.CodecPreferences) == 0 {
		return nil, errors.New("voipcore: Config.CodecPreferences must list at least one codec")
	}

	log := cfg.Logger

	uaOpts := []UserAgentOption{WithUserAgent(cfg.UserAgentName)}
	if cfg.UserAgentHostname != "" {
		uaOpts = append(uaOpts, WithUserAgentHostname(cfg.UserAgentHostname))
	}
	if cfg.SIPTimerT1 > 0 {
		uaOpts = append(uaOpts, WithSIPTimerT1(cfg.SIPTimerT1))
	}
	if cfg.TLSConfig != nil {
		uaOpts = append(uaOpts, WithUserAgenTLSConfig(cfg.TLSConfig))
	}

	ua, err := NewUA(uaOpts...)
	if err != nil {
		return nil, fmt.Errorf("voipcore: creating user agent: %w", err)
	}

	client, err := NewClient(ua, WithClientHostname(ua.host))
	if err != nil {
		return nil, fmt.Errorf("voipcore: creating client: %w", err)
	}

	server, err := NewServer(ua, WithServerLogger(log.With().Str("caller", "Server").Logger()))
	if err != nil {
		return nil, fmt.Errorf("voipcore: creating server: %w", err)
	}

	contactHDR := sip.ContactHeader{
		Address: sip.Uri{
			User: cfg.UserAgentName,
			Host: ua.host,
		},
	}

	dua := &DialogUA{Client: client, ContactHDR: contactHDR}

	portPool := media.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax)
	var mediaOpts []media.ControllerOption
	if cfg.JitterBufferInitial > 0 || cfg.JitterBufferMax > 0 {
		mediaOpts = append(mediaOpts, media.WithJitterBounds(cfg.JitterBufferInitial, cfg.JitterBufferMax))
	}

	e := &Engine{
		cfg:       cfg,
		log:       log.With().Str("caller", "Engine").Logger(),
		ua:        ua,
		client:    client,
		server:    server,
		dua:       dua,
		admission: NewAdmissionControl(cfg.MaxConcurrentCalls),
		portPool:  portPool,
		mediaCtl:  media.NewController(portPool, log, mediaOpts...),
		sdpAlloc:  media.NewSDPAllocator(portPool, ua.host),
		bus:       eventbus.New(),
		dialogs:   make(map[string]*CallHandle),
	}

	server.OnInvite(e.handleInvite)
	server.OnAck(e.handleAck)
	server.OnBye(e.handleBye)

	return e, nil
}

// ListenAndServe binds every configured listen address and blocks serving
// them until ctx is canceled or one listener returns a non-nil error.
func (e *Engine) ListenAndServe(ctx context.Context) error {
	if len(e.cfg.ListenAddresses) == 0 {
		return errors.New("voipcore: no ListenAddresses configured")
	}

	errCh := make(chan error, len(e.cfg.ListenAddresses))
	for _, la := range e.cfg.ListenAddresses {
		la := la
		go func() {
			var err error
			switch la.Network {
			case "tls", "wss":
				err = e.server.ListenAndServeTLS(ctx, la.Network, la.Addr, e.cfg.TLSConfig)
			default:
				err = e.server.ListenAndServe(ctx, la.Network, la.Addr)
			}
			errCh <- err
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnIncomingCall registers the handler invoked for every inbound INVITE
// that is admitted and passes Max-Forwards validation. The handler is
// expected to eventually call AnswerCall (accept or reject) on the
// CallHandle it is given.
func (e *Engine) OnIncomingCall(f func(*CallHandle)) {
	e.onIncoming = f
}

// SubscribeEvents implements spec §6's subscribe_events: topicFilter names
// an eventbus topic. The Engine publishes "call.ringing",
// "call.established", "call.ended", "call.rejected" and "media.started";
// it publishes nothing on "media.stats" or "call.cancelled". The returned
// channel carries Event values until unsubscribe is called.
func (e *Engine) SubscribeEvents(topicFilter string) (<-chan any, func()) {
	return e.bus.Subscribe(topicFilter)
}

// Event is the value published on every eventbus topic this Engine drives.
type Event struct {
	Topic  string
	CallID string
	Data   any
}

func (e *Engine) publish(topic, callID string, data any) {
	e.bus.Publish(topic, Event{Topic: topic, CallID: callID, Data: data})
}

// CallHandle is spec §6's CallHandle: the caller's single reference to one
// in-progress or established call, whichever side originated it.
type CallHandle struct {
	ID string

	engine *Engine

	mu            sync.Mutex
	clientSession *DialogClientSession
	serverSession *DialogServerSession
	mediaSession  *MediaSession

	// dialogKey is the key this CallHandle is registered under in
	// Engine.dialogs, once its SIP dialog ID is known (immediately for an
	// inbound call, only after a successful WaitAnswer for one this
	// Engine originated). Empty until then.
	dialogKey string

	inviteReq *sip.Request
}

// dialog returns the embedded Dialog for either side of a CallHandle.
func (ch *CallHandle) dialog() *Dialog {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.clientSession != nil {
		return &ch.clientSession.Dialog
	}
	return &ch.serverSession.Dialog
}

// State returns the call's current RFC 3261 dialog state.
func (ch *CallHandle) State() sip.DialogState {
	return ch.dialog().LoadState()
}

// StartCall implements spec §6's start_call: originates an INVITE to
// targetURI offering localMediaCaps (falling back to the Engine's
// configured CodecPreferences when nil), and returns a CallHandle the
// caller then waits on (via SubscribeEvents, or WaitAnswer below) for the
// remote party's answer.
func (e *Engine) StartCall(ctx context.Context, targetURI sip.Uri, localMediaCaps []sdpneg.CodecCapability) (*CallHandle, error) {
	if !e.admission.TryAdmit() {
		return nil, errors.New("voipcore: max_concurrent_calls reached")
	}

	caps := localMediaCaps
	if len(caps) == 0 {
		caps = e.cfg.CodecPreferences
	}

	callID := uuid.NewString()
	ms := NewMediaSession(e.mediaCtl, callID, caps, e.sdpAlloc, e.ua.host, caps[0].ClockRate)

	offerSDP, err := ms.BuildLocalOfferSDP()
	if err != nil {
		e.admission.Release()
		return nil, fmt.Errorf("voipcore: building SDP offer: %w", err)
	}

	clientSession, err := e.dua.Invite(ctx, targetURI, offerSDP)
	if err != nil {
		e.admission.Release()
		ms.Close()
		return nil, fmt.Errorf("voipcore: sending invite: %w", err)
	}

	ch := &CallHandle{
		ID:            callID,
		engine:        e,
		clientSession: clientSession,
		mediaSession:  ms,
		inviteReq:     clientSession.InviteRequest,
	}
	ms.OnMediaStarted(func(string) { e.publish("media.started", callID, nil) })
	clientSession.OnState(func(s sip.DialogState) { e.onDialogState(ch, s) })

	return ch, nil
}

// WaitAnswer blocks until the callee answers or rejects the call this
// handle originated (a CallHandle returned by StartCall), applying the SDP
// answer to this call's media session on success. Canceling ctx sends
// CANCEL, per the dialog layer's own cancellation semantics.
func (ch *CallHandle) WaitAnswer(ctx context.Context, auth AnswerOptions) error {
	ch.mu.Lock()
	cs := ch.clientSession
	ms := ch.mediaSession
	ch.mu.Unlock()
	if cs == nil {
		return errors.New("voipcore: WaitAnswer is only valid on a call started with StartCall")
	}

	if err := cs.WaitAnswer(ctx, auth); err != nil {
		ch.engine.admission.Release()
		ms.Close()
		return err
	}

	// cs.ID is only set once a final response arrives (sip.DialogIDFromResponse),
	// so the dialog is registered here rather than in StartCall: this is the
	// first point an inbound in-dialog BYE/re-INVITE can be matched to ch.
	ch.mu.Lock()
	ch.dialogKey = cs.ID
	ch.mu.Unlock()
	ch.engine.mu.Lock()
	ch.engine.dialogs[cs.ID] = ch
	ch.engine.mu.Unlock()

	if _, err := ms.ApplyRemoteAnswerSDP(cs.InviteResponse.Body()); err != nil {
		return fmt.Errorf("voipcore: applying SDP answer: %w", err)
	}

	return cs.Ack(ctx)
}

// handleInvite is the Server's INVITE handler: enforces Max-Forwards, then
// either routes an in-dialog re-INVITE to handleReinvite or admits a new
// call to the registered OnIncomingCall handler. server.OnInvite has a
// single registration point for both cases (RFC 3261 doesn't distinguish
// INVITE from re-INVITE at the transport/transaction level), so this is the
// one place that tells them apart.
func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if err := CheckMaxForwards(req); err != nil {
		res := sip.NewResponseFromRequest(req, sip.StatusTooManyHops, "Too Many Hops", nil)
		tx.Respond(res)
		return
	}

	if ch, err := e.lookupDialog(req); err == nil {
		e.handleReinvite(ch, req, tx)
		return
	}

	if !e.admission.TryAdmit() {
		res := sip.NewResponseFromRequest(req, sip.StatusBusyHere, "Busy Here", nil)
		tx.Respond(res)
		return
	}

	serverSession, err := e.dua.ReadInvite(req, tx)
	if err != nil {
		e.admission.Release()
		e.log.Error().Err(err).Msg("reading inbound invite")
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Bad Request", nil)
		tx.Respond(res)
		return
	}

	caps := e.cfg.CodecPreferences
	ms := NewMediaSession(e.mediaCtl, serverSession.ID, caps, e.sdpAlloc, e.ua.host, caps[0].ClockRate)

	ch := &CallHandle{
		ID:            serverSession.ID,
		engine:        e,
		serverSession: serverSession,
		mediaSession:  ms,
		dialogKey:     serverSession.ID,
		inviteReq:     req,
	}
	ms.OnMediaStarted(func(string) { e.publish("media.started", ch.ID, nil) })
	serverSession.OnState(func(s sip.DialogState) { e.onDialogState(ch, s) })

	e.mu.Lock()
	e.dialogs[ch.dialogKey] = ch
	e.mu.Unlock()

	e.publish("call.ringing", ch.ID, nil)

	if e.onIncoming == nil {
		e.admission.Release()
		serverSession.Respond(sip.StatusServiceUnavailable, "Service Unavailable", nil)
		return
	}

	go e.onIncoming(ch)
}

// handleReinvite renegotiates media for an in-dialog INVITE recognized by
// handleInvite via lookupDialog, bypassing admission control and dialog
// creation entirely: the existing call's MediaSession picks up the new
// offer and its OfferAnswer machine takes the renegotiate_remote path
// (dialog_oa.go) rather than treating this as a fresh call.
func (e *Engine) handleReinvite(ch *CallHandle, req *sip.Request, tx sip.ServerTransaction) {
	d := ch.dialog()
	if req.CSeq().SeqNo <= d.RemoteCSEQ() {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Cseq is incorrect", nil)
		tx.Respond(res)
		return
	}

	ch.mu.Lock()
	ms := ch.mediaSession
	ch.mu.Unlock()
	if ms == nil {
		res := sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "No Media Session", nil)
		tx.Respond(res)
		return
	}

	answerSDP, _, err := ms.NegotiateRemoteOfferSDP(req.Body())
	if err != nil {
		e.log.Error().Err(err).Msg("renegotiating re-invite offer")
		res := sip.NewResponseFromRequest(req, sip.StatusNotAcceptableHere, "Not Acceptable Here", nil)
		tx.Respond(res)
		return
	}

	res := sip.NewSDPResponseFromRequest(req, answerSDP)
	if err := tx.Respond(res); err != nil {
		e.log.Error().Err(err).Msg("responding to re-invite")
		return
	}
	d.SetRemoteCSEQ(req.CSeq().SeqNo)
}

// lookupDialog resolves req to the CallHandle tracking its dialog. DialogUA
// itself doesn't cache sessions by ID (see asDialogServer's doc comment), so
// in-dialog requests are matched against the Engine's own dialogs map
// instead of DialogServer/DialogClient's built-in (and, via DialogUA,
// unused) sync.Map.
func (e *Engine) lookupDialog(req *sip.Request) (*CallHandle, error) {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	ch, ok := e.dialogs[id]
	e.mu.Unlock()
	if !ok {
		return nil, ErrDialogDoesNotExists
	}
	return ch, nil
}

func (e *Engine) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	ch, err := e.lookupDialog(req)
	if err != nil {
		e.log.Debug().Err(err).Msg("unmatched ACK")
		return
	}
	ch.dialog().setState(sip.DialogStateConfirmed)
}

func (e *Engine) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	ch, err := e.lookupDialog(req)
	if err != nil {
		e.log.Debug().Err(err).Msg("unmatched BYE")
		res := sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		tx.Respond(res)
		return
	}

	d := ch.dialog()
	if req.CSeq().SeqNo <= d.RemoteCSEQ() {
		res := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Cseq is incorrect", nil)
		tx.Respond(res)
		return
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		e.log.Error().Err(err).Msg("responding to BYE")
		return
	}

	ch.mu.Lock()
	ss := ch.serverSession
	ch.mu.Unlock()
	if ss != nil {
		ss.Close()
	}

	d.setState(sip.DialogStateEnded)
}

func (e *Engine) onDialogState(ch *CallHandle, s sip.DialogState) {
	switch s {
	case sip.DialogStateEstablished:
		e.publish("call.established", ch.ID, nil)
	case sip.DialogStateEnded:
		ch.mu.Lock()
		key := ch.dialogKey
		ms := ch.mediaSession
		ch.mu.Unlock()
		if key != "" {
			e.mu.Lock()
			delete(e.dialogs, key)
			e.mu.Unlock()
		}
		if ms != nil {
			ms.Close()
		}
		e.admission.Release()
		e.publish("call.ended", ch.ID, nil)
	}
}

// AnswerCall implements spec §6's answer_call: accept negotiates
// localMediaCaps (falling back to the Engine's CodecPreferences) against
// the caller's offer and responds 200 OK with the resulting SDP answer;
// reject responds with statusCode/reason and tears down the call's media
// reservation. Only valid on a CallHandle produced by an inbound INVITE
// (one passed to an OnIncomingCall handler).
func (ch *CallHandle) AnswerCall(accept bool, statusCode sip.StatusCode, reason string, localMediaCaps []sdpneg.CodecCapability) error {
	ch.mu.Lock()
	ss := ch.serverSession
	ms := ch.mediaSession
	offer := ch.inviteReq.Body()
	ch.mu.Unlock()
	if ss == nil {
		return errors.New("voipcore: AnswerCall is only valid on an inbound call")
	}

	if !accept {
		defer func() {
			ch.engine.admission.Release()
			ms.Close()
			ch.engine.publish("call.rejected", ch.ID, nil)
		}()
		if statusCode == 0 {
			statusCode, reason = sip.StatusDecline, "Decline"
		}
		return ss.Respond(statusCode, reason, nil)
	}

	if len(localMediaCaps) > 0 {
		ch.mu.Lock()
		ch.mediaSession = NewMediaSession(ch.engine.mediaCtl, ch.ID, localMediaCaps, ch.engine.sdpAlloc, ch.engine.ua.host, localMediaCaps[0].ClockRate)
		ms = ch.mediaSession
		ch.mu.Unlock()
	}

	answerSDP, _, err := ms.NegotiateRemoteOfferSDP(offer)
	if err != nil {
		ch.engine.admission.Release()
		ms.Close()
		ss.Respond(sip.StatusNotAcceptableHere, "Not Acceptable Here", nil)
		return fmt.Errorf("voipcore: negotiating SDP offer: %w", err)
	}

	return ss.RespondSDP(answerSDP)
}

// Hangup implements spec §6's hangup: ends the call from whichever side
// originated it, idempotent with an already-ended call.
func (ch *CallHandle) Hangup(ctx context.Context) error {
	ch.mu.Lock()
	cs := ch.clientSession
	ss := ch.serverSession
	ch.mu.Unlock()

	if cs != nil {
		return cs.Bye(ctx)
	}
	return ss.Bye(ctx)
}

// CallMediaInfo is spec §6's get_call_media_info result.
type CallMediaInfo struct {
	LocalRTP    string
	RemoteRTP   string
	ChosenCodec int
	Stats       media.Stats
	HasMedia    bool
}

// GetCallMediaInfo implements spec §6's get_call_media_info.
func (ch *CallHandle) GetCallMediaInfo() CallMediaInfo {
	ch.mu.Lock()
	ms := ch.mediaSession
	ch.mu.Unlock()
	if ms == nil {
		return CallMediaInfo{}
	}

	negotiated := ms.oa.Negotiated()
	if len(negotiated) == 0 {
		return CallMediaInfo{}
	}
	n := negotiated[0]

	info := CallMediaInfo{
		LocalRTP:    fmt.Sprintf("%s:%d", n.LocalAddr, n.LocalPort),
		RemoteRTP:   fmt.Sprintf("%s:%d", n.RemoteAddr, n.RemotePort),
		ChosenCodec: n.PayloadType,
		HasMedia:    true,
	}

	if leg, ok := ms.Leg(); ok {
		info.Stats = ch.engine.mediaCtl.SnapshotStats(leg)
	}
	return info
}
