package voipcore

import (
	"fmt"

	"github.com/icholy/digest"

	"github.com/voipstack/corevoip/sip"
)

// ErrAuthRequired is the §7 AuthRequired error kind: a request needs a
// digest challenge answered before it can proceed. Callers that receive it
// already had a 401 with Challenge written to the wire by authDigest;
// the error exists so application code can distinguish "call rejected
// pending auth" from a hard failure.
type ErrAuthRequired struct {
	Challenge digest.Challenge
}

func (e *ErrAuthRequired) Error() string {
	return fmt.Sprintf("voipcore: authentication required (realm=%q)", e.Challenge.Realm)
}

// authDigest validates the Authorization header on s.InviteRequest against
// chal/auth, challenging with 401 Unauthorized (writing chal onto the
// WWW-Authenticate header) when no credentials are present yet or they
// don't check out. Grounded on the digest verification shape in
// example/register/server/main.go's REGISTER handler, adapted to the
// dialog layer's Respond path instead of a bare tx.Respond.
//
// Returns nil once a valid Authorization header matching chal/auth is
// found; otherwise returns *ErrAuthRequired after writing the challenge
// response, or a plain error if the Authorization header is malformed.
func (s *DialogServerSession) authDigest(chal *digest.Challenge, auth digest.Options) error {
	req := s.InviteRequest

	h := req.GetHeader("Authorization")
	if h == nil {
		if err := s.challenge(chal); err != nil {
			return err
		}
		return &ErrAuthRequired{Challenge: *chal}
	}

	cred, err := digest.ParseCredentials(h.Value())
	if err != nil {
		return fmt.Errorf("voipcore: parsing Authorization header: %w", err)
	}

	want, err := digest.Digest(chal, digest.Options{
		Method:   auth.Method,
		URI:      cred.URI,
		Username: cred.Username,
		Password: auth.Password,
	})
	if err != nil {
		return fmt.Errorf("voipcore: computing digest response: %w", err)
	}

	if cred.Username != auth.Username || cred.Response != want.Response {
		if err := s.challenge(chal); err != nil {
			return err
		}
		return &ErrAuthRequired{Challenge: *chal}
	}

	return nil
}

// challenge writes a 401 Unauthorized response carrying chal as
// WWW-Authenticate directly to the transaction, bypassing the usual
// dialog-establishing Respond path since a challenge never creates a
// dialog.
func (s *DialogServerSession) challenge(chal *digest.Challenge) error {
	res := sip.NewResponseFromRequest(s.InviteRequest, sip.StatusUnauthorized, "Unauthorized", nil)
	res.AppendHeader(sip.NewHeader("WWW-Authenticate", chal.String()))
	return s.inviteTx.Respond(res)
}
