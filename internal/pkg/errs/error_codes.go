/*
Package errs provides custom error types and application-level error code constants.

The codes identify request, realtime-routing and identity failures both inside the server
and in `error` frames and JSON responses sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Realtime Routing Errors
const (
	// ErrMalformedEvent indicates an unparseable frame or an unknown event kind.
	ErrMalformedEvent = 2001

	// ErrTargetUnreachable indicates the resolved recipient has no live connection.
	// It is recorded internally and never sent to the sender.
	ErrTargetUnreachable = 2002

	// ErrAlreadyConnected indicates a second join for an identity under the reject session policy.
	ErrAlreadyConnected = 2003

	// ErrTransportFailure indicates a read or write error on the underlying connection.
	ErrTransportFailure = 2004

	// ErrOverflowBackpressure indicates a full outbound queue.
	ErrOverflowBackpressure = 2005

	// ErrNotJoined indicates an event that requires a completed join.
	ErrNotJoined = 2006

	// ErrAlreadyJoined indicates a join for a different identity on an already joined connection.
	ErrAlreadyJoined = 2007

	// ErrContentTooLong indicates message content above the configured limit.
	ErrContentTooLong = 2008

	// ErrEventRateLimited indicates the connection exceeded its inbound event rate.
	ErrEventRateLimited = 2009
)

// 3xxx: Identity Errors
const (
	// ErrIdentityMismatch indicates the announced user id differs from the verified token identity.
	ErrIdentityMismatch = 3001

	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
