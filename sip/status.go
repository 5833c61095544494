package sip

// Status codes used directly by the core (RFC 3261 §21 and the extensions
// it references). Not exhaustive: codes the core never constructs itself
// (redirects, most 5xx/6xx) are left to callers to build with a raw
// StatusCode value and reason phrase.
const (
	StatusTrying               StatusCode = 100
	StatusRinging              StatusCode = 180
	StatusCallIsBeingForwarded StatusCode = 181
	StatusQueued               StatusCode = 182
	StatusSessionProgress      StatusCode = 183

	StatusOK StatusCode = 200

	StatusBadRequest                   StatusCode = 400
	StatusUnauthorized                 StatusCode = 401
	StatusForbidden                    StatusCode = 403
	StatusNotFound                     StatusCode = 404
	StatusRequestTimeout                StatusCode = 408
	StatusProxyAuthRequired             StatusCode = 407
	StatusCallTransactionDoesNotExists  StatusCode = 481
	StatusLoopDetected                  StatusCode = 482
	StatusTooManyHops                   StatusCode = 483
	StatusBusyHere                      StatusCode = 486
	StatusRequestTerminated             StatusCode = 487
	StatusNotAcceptableHere             StatusCode = 488

	StatusInternalServerError StatusCode = 500
	StatusNotImplemented      StatusCode = 501
	StatusServiceUnavailable  StatusCode = 503

	StatusBusyEverywhere StatusCode = 600
	StatusDecline        StatusCode = 603
)
