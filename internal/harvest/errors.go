package harvest

import (
	"errors"
)

// AuthError wraps a failed session handshake or token acquisition. It is
// fatal to the owning source's collection: a broken handshake means no key
// can be fetched, so the collector aborts instead of burning through keys.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError wraps err as an authentication failure.
func NewAuthError(err error) *AuthError {
	return &AuthError{Err: err}
}

// TransportError wraps a network-level failure (timeout, connection reset,
// DNS) for one fetch. The affected key is abandoned for this run and the
// collector moves on.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a transport failure.
func NewTransportError(err error) *TransportError {
	return &TransportError{Err: err}
}

// ProtocolError wraps a remote-reported failure: a non-success HTTP status or
// an envelope whose status field signals an error. Body retains the response
// payload because remote error detail is usually embedded there.
type ProtocolError struct {
	Status     string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ProtocolError) Error() string { return e.Err.Error() }

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError wraps err as a remote-reported failure with the response
// payload attached.
func NewProtocolError(err error, status string, statusCode int, body []byte) *ProtocolError {
	return &ProtocolError{Status: status, StatusCode: statusCode, Body: body, Err: err}
}

// DataShapeError wraps a response that cannot be parsed into the expected
// structure (malformed JSON, missing markup element, unusable archive).
type DataShapeError struct {
	Err error
}

func (e *DataShapeError) Error() string { return e.Err.Error() }

func (e *DataShapeError) Unwrap() error { return e.Err }

// NewDataShapeError wraps err as a data-shape failure.
func NewDataShapeError(err error) *DataShapeError {
	return &DataShapeError{Err: err}
}

// RejectError marks one record as dropped during normalization (unparsable or
// out-of-range coordinates, wrong geometry). Never fatal: the caller counts
// the rejection and continues.
type RejectError struct {
	Err error
}

func (e *RejectError) Error() string { return e.Err.Error() }

func (e *RejectError) Unwrap() error { return e.Err }

// NewRejectError wraps err as a record-level rejection.
func NewRejectError(err error) *RejectError {
	return &RejectError{Err: err}
}

// IsAuth reports whether the chain contains an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransport reports whether the chain contains a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether the chain contains a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsDataShape reports whether the chain contains a DataShapeError.
func IsDataShape(err error) bool {
	var de *DataShapeError
	return errors.As(err, &de)
}

// IsReject reports whether the chain contains a RejectError.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

// ResponseBody extracts the retained payload from a ProtocolError in the
// chain, for diagnostic logging.
func ResponseBody(err error) []byte {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Body
	}
	return nil
}
