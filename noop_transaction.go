package voipcore

import "github.com/voipstack/corevoip/sip"

type NoOpTransaction struct {
	respCh <-chan *sip.Response
	doneCh <-chan struct{}
}

func (t *NoOpTransaction) Terminate() {}

func (t *NoOpTransaction) Done() <-chan struct{} {
	if t.doneCh != nil {
		return t.doneCh
	}
	doneCh := make(chan struct{})
	close(doneCh)
	return doneCh
}

func (t *NoOpTransaction) Err() error {
	return nil
}

// OnTerminate implements sip.Transaction. A NoOpTransaction never runs, so it
// is already terminated: the hook fires immediately.
func (t *NoOpTransaction) OnTerminate(f sip.FnTxTerminate) bool {
	f("", nil)
	return false
}

// Responses implements sip.ClientTransaction interface.
func (t *NoOpTransaction) Responses() <-chan *sip.Response {
	if t.respCh != nil {
		return t.respCh
	}
	respCh := make(chan *sip.Response)
	close(respCh)
	return respCh
}

// OnRetransmission implements sip.ClientTransaction. Never fires.
func (t *NoOpTransaction) OnRetransmission(f sip.FnTxResponse) bool {
	return false
}

// setResponses sets the response channel for this transaction
func (t *NoOpTransaction) setResponses(ch <-chan *sip.Response) {
	t.respCh = ch
}

// setDone sets the done channel for this transaction
func (t *NoOpTransaction) setDone(ch <-chan struct{}) {
	t.doneCh = ch
}

type NoOpServerTransaction struct {
	NoOpTransaction
}

func (t *NoOpServerTransaction) Respond(_ *sip.Response) error {
	return nil
}

func (t *NoOpServerTransaction) Acks() <-chan *sip.Request {
	reqCh := make(chan *sip.Request)
	close(reqCh)
	return reqCh
}

// OnCancel implements sip.ServerTransaction. Never fires.
func (t *NoOpServerTransaction) OnCancel(f sip.FnTxCancel) bool {
	return false
}

// NoOpClientTransaction is a sip.ClientTransaction stand-in for a
// DialogClientSession reconstructed via NewClientSession, where the real
// INVITE transaction has already completed and only Terminate/Done need to
// behave sanely.
type NoOpClientTransaction struct {
	NoOpTransaction
}
