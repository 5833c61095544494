package voipcore

import (
	"fmt"

	"github.com/voipstack/corevoip/sip"
)

const defaultMaxForwards = 70

// AdmissionControl bounds the number of concurrently established dialogs
// (spec §4.4's max_concurrent_calls) with a counting semaphore: inbound
// INVITEs beyond the limit are rejected with 486 Busy Here rather than
// silently queued, so a caller sees an immediate, RFC-correct response
// instead of a hung transaction.
type AdmissionControl struct {
	slots chan struct{}
}

// NewAdmissionControl creates an AdmissionControl allowing up to maxCalls
// concurrently admitted dialogs. maxCalls <= 0 means unlimited.
func NewAdmissionControl(maxCalls int) *AdmissionControl {
	if maxCalls <= 0 {
		return &AdmissionControl{}
	}
	return &AdmissionControl{slots: make(chan struct{}, maxCalls)}
}

// TryAdmit attempts to reserve one call slot, returning false immediately
// (never blocking) if the limit is already reached.
func (ac *AdmissionControl) TryAdmit() bool {
	if ac.slots == nil {
		return true
	}
	select {
	case ac.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously admitted call's slot to the pool. Calling
// Release without a matching successful TryAdmit is a programming error and
// panics, the same way releasing an unheld sync.Mutex would.
func (ac *AdmissionControl) Release() {
	if ac.slots == nil {
		return
	}
	select {
	case <-ac.slots:
	default:
		panic("voipcore: AdmissionControl.Release called without a held slot")
	}
}

// InUse returns the number of currently admitted calls.
func (ac *AdmissionControl) InUse() int {
	if ac.slots == nil {
		return 0
	}
	return len(ac.slots)
}

// CheckMaxForwards enforces RFC 3261 §16.6 rule 3: a request whose
// Max-Forwards has reached zero must be rejected with 483 Too Many Hops
// rather than forwarded or processed, guarding against routing loops.
func CheckMaxForwards(req *sip.Request) error {
	mf := req.MaxForwards()
	if mf == nil {
		return nil
	}
	if uint32(*mf) == 0 {
		return fmt.Errorf("voipcore: Max-Forwards reached zero")
	}
	return nil
}

// DecrementMaxForwards lowers a forwarded request's Max-Forwards by one.
// If the header is absent it is added as the default of 70 (RFC 3261
// §8.1.1.6) already lowered by one, i.e. 69.
func DecrementMaxForwards(req *sip.Request) {
	mf := req.MaxForwards()
	if mf == nil {
		h := sip.MaxForwardsHeader(defaultMaxForwards - 1)
		req.AppendHeader(&h)
		return
	}
	*mf = *mf - 1
}
