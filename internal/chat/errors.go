package chat

import (
	"errors"

	"github.com/gorilla/websocket"
)

var (
	// ErrAdmissionDenied covers a missing or invalid credential and non-members.
	ErrAdmissionDenied = errors.New("admission denied")
	// ErrAbuseRejected is returned when the abuse filter rejects a message.
	ErrAbuseRejected = errors.New("abuse rejected")
	// ErrPersistence wraps a failed message write. The session survives it.
	ErrPersistence = errors.New("persistence failure")
	// ErrBus wraps publish and subscribe failures. The session does not survive it.
	ErrBus = errors.New("broadcast bus failure")
	// ErrPresence wraps presence store failures. They are logged and ignored.
	ErrPresence = errors.New("presence store failure")
)

// Close reasons sent to peers.
const (
	ReasonNotAuthenticated = "Not authenticated"
	ReasonInvalidSession   = "Invalid session"
	ReasonNotMember        = "User not a member of this room"
	ReasonMembershipFailed = "Membership check failed"
	ReasonSpam             = "Spam detected"
	ReasonBusUnavailable   = "Broadcast unavailable"
	ReasonSlowConsumer     = "Send buffer full"
	ReasonShutdown         = "Server shutting down"
)

// CloseError ends a session with a specific close frame.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *CloseError) Unwrap() error { return e.Err }

func policyViolation(reason string, err error) *CloseError {
	return &CloseError{Code: websocket.ClosePolicyViolation, Reason: reason, Err: err}
}

func busFailure(err error) *CloseError {
	return &CloseError{Code: websocket.CloseInternalServerErr, Reason: ReasonBusUnavailable, Err: errors.Join(ErrBus, err)}
}
