package voipcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/voipstack/corevoip/sip"
)

var (
	ErrDialogOutsideDialog   = errors.New("Call/Transaction Outside Dialog")
	ErrDialogDoesNotExists   = errors.New("Call/Transaction Does Not Exist")
	ErrDialogInviteNoContact = errors.New("No Contact header")
	ErrDialogCanceled        = errors.New("Dialog canceled")
	ErrDialogInvalidCseq     = errors.New("Invalid CSEQ number")
)

type ErrDialogResponse struct {
	Res *sip.Response
}

func (e ErrDialogResponse) Error() string {
	return fmt.Sprintf("Invite failed with response: %s", e.Res.StartLine())
}

type DialogStateFn func(s sip.DialogState)
type Dialog struct {
	ID string

	// InviteRequest is set when dialog is created. It is not thread safe!
	// Use it only as read only and use methods to change headers
	InviteRequest *sip.Request

	// lastCSeqNo is the CSeq this side used for the last request it sent
	// within the dialog. It seeds new in-dialog requests built locally.
	lastCSeqNo atomic.Uint32

	// remoteCSeqNo is the CSeq of the last request received from the
	// remote party within the dialog. It is a distinct counter from
	// lastCSeqNo: CSeq ordering in RFC 3261 is per direction, and
	// conflating the two breaks CSeq validation for any dialog that both
	// receives and sends in-dialog requests (e.g. UAS sending a re-INVITE
	// then receiving a BYE).
	remoteCSeqNo atomic.Uint32

	// InviteResponse is last response received or sent. It is not thread safe!
	// Use it only as read only and do not change values
	InviteResponse *sip.Response

	state atomic.Int32

	// terminateErr holds the cause when the dialog ends abnormally
	// (transaction canceled/terminated before a final response).
	terminateErr atomic.Pointer[error]

	ctx    context.Context
	cancel context.CancelFunc

	onStatePointer atomic.Pointer[DialogStateFn]

	// store user values
	values sync.Map
}

// Init setups dialog state
func (d *Dialog) Init() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.state = atomic.Int32{}
	d.lastCSeqNo = atomic.Uint32{}
	d.remoteCSeqNo = atomic.Uint32{}

	cseq := d.InviteRequest.CSeq().SeqNo
	d.lastCSeqNo.Store(cseq)
	d.remoteCSeqNo.Store(cseq)
	d.onStatePointer = atomic.Pointer[DialogStateFn]{}
}

func (d *Dialog) OnState(f DialogStateFn) {
	for current := d.onStatePointer.Load(); current != nil; current = d.onStatePointer.Load() {
		cb := *current
		newCb := func(s sip.DialogState) {
			f(s)
			cb(s)
		}
		newCBState := DialogStateFn(newCb)
		if d.onStatePointer.CompareAndSwap(current, &newCBState) {
			return
		}
	}
	d.onStatePointer.Store(&f)
}

func (d *Dialog) InitWithState(s sip.DialogState) {
	d.Init()
	d.state.Store(int32(s))
}

func (d *Dialog) setState(s sip.DialogState) {
	old := d.state.Swap(int32(s))
	if old == int32(s) {
		// Safety
		return
	}

	if s == sip.DialogStateEnded {
		d.cancel()
	}

	if f := d.onStatePointer.Load(); f != nil {
		cb := *f
		cb(s)
	}
}

func (d *Dialog) LoadState() sip.DialogState {
	return sip.DialogState(d.state.Load())
}

func (d *Dialog) StateRead() <-chan sip.DialogState {
	ch := make(chan sip.DialogState, 5)
	d.OnState(func(s sip.DialogState) {
		select {
		case ch <- s:
		default:
		}
	})

	return ch
}

func (d *Dialog) CSEQ() uint32 {
	return d.lastCSeqNo.Load()
}

// SetCSEQ overrides the local send CSeq, used when resuming a dialog
// from externally persisted session params instead of a fresh INVITE.
func (d *Dialog) SetCSEQ(seq uint32) {
	d.lastCSeqNo.Store(seq)
}

// RemoteCSEQ returns the CSeq of the last in-dialog request received
// from the remote party.
func (d *Dialog) RemoteCSEQ() uint32 {
	return d.remoteCSeqNo.Load()
}

// SetRemoteCSEQ records the CSeq of an accepted in-dialog request from the
// remote party (e.g. a re-INVITE), so a later request's CSeq can be
// validated against it rather than the stale value from dialog creation.
func (d *Dialog) SetRemoteCSEQ(seq uint32) {
	d.remoteCSeqNo.Store(seq)
}

// endWithCause terminates the dialog recording cause as the reason, readable
// back via err(). A nil cause still ends the dialog without setting a cause.
func (d *Dialog) endWithCause(cause error) {
	if cause != nil {
		d.terminateErr.Store(&cause)
	}
	d.setState(sip.DialogStateEnded)
}

// err returns the cause set by endWithCause, if any.
func (d *Dialog) err() error {
	if p := d.terminateErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Dialog) Context() context.Context {
	return d.ctx
}

func (d *Dialog) Store(key string, value any) {
	d.values.Store(key, value)
}

func (d *Dialog) Load(key string) (any, bool) {
	return d.values.Load(key)
}

func (d *Dialog) Delete(key string) {
	d.values.Delete(key)
}
