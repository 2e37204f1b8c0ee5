package enroll

import "net/http"

// FlowError is a registration failure with a user-facing message. The API
// layer renders it on the HTML error page with the carried status code.
type FlowError struct {
	Status  int
	Message string
}

func (e *FlowError) Error() string { return e.Message }

// The failure modes of the two flow legs.
var (
	ErrMissingTicket  = &FlowError{http.StatusBadRequest, "Missing ticket information"}
	ErrInvalidTicket  = &FlowError{http.StatusBadRequest, "Invalid ticket information"}
	ErrTicketLookup   = &FlowError{http.StatusServiceUnavailable, "Failed to retrieve ticket information"}
	ErrTicketNotValid = &FlowError{http.StatusUnauthorized, "Ticket is not valid"}
	ErrInvalidState   = &FlowError{http.StatusBadRequest, "Registration is in invalid state"}
	ErrStateExpired   = &FlowError{http.StatusBadRequest, "Registration has expired"}
	ErrGuildJoin      = &FlowError{http.StatusServiceUnavailable, "Discord registration request failed"}
	ErrInternal       = &FlowError{http.StatusInternalServerError, "An internal error occurred"}
)
