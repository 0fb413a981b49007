package errs

import "net/http"

// errorMap holds the template CustomError for every known code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx
	ErrMalformedEvent:       {Code: ErrMalformedEvent, Message: "Malformed event: %s."},
	ErrTargetUnreachable:    {Code: ErrTargetUnreachable, Message: "Recipient is not connected."},
	ErrAlreadyConnected:     {Code: ErrAlreadyConnected, Message: "This account is already connected elsewhere."},
	ErrTransportFailure:     {Code: ErrTransportFailure, Message: "Connection failure."},
	ErrOverflowBackpressure: {Code: ErrOverflowBackpressure, Message: "Connection is too slow to keep up."},
	ErrNotJoined:            {Code: ErrNotJoined, Message: "Join before sending events."},
	ErrAlreadyJoined:        {Code: ErrAlreadyJoined, Message: "Connection is already joined as another user."},
	ErrContentTooLong:       {Code: ErrContentTooLong, Message: "Content is too long (max %d bytes)."},
	ErrEventRateLimited:     {Code: ErrEventRateLimited, Message: "Too many events. Slow down."},

	// 3xxx
	ErrIdentityMismatch: {Code: ErrIdentityMismatch, Message: "Announced identity does not match credentials."},
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 5xxx
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
