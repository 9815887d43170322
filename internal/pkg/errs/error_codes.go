/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific gateway or system errors both internally within
the server and in frames and HTTP responses sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request or event parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body or frame is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates that a client frame named an event the gateway does not handle.
	ErrUnsupportedEvent = 1008
)

// 2xxx: Room and Content Errors
const (
	// ErrNotAMember indicates a room action by a user who does not belong to the room,
	// or a send/typing event for a room the connection has not joined.
	ErrNotAMember = 2105

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageContentEmpty indicates that the message content was empty.
	ErrMessageContentEmpty = 2202
)

// 3xxx: Authentication Errors
const (
	// ErrAuthenticationRequired indicates that no credential was presented.
	ErrAuthenticationRequired = 3005

	// ErrInvalidToken indicates a credential that failed verification.
	ErrInvalidToken = 3006

	// ErrForbidden indicates a verified identity lacking the role an endpoint requires.
	ErrForbidden = 3007
)

// 4xxx: Delivery and Persistence Outcomes
const (
	// ErrDeliveryDeferred indicates a notification whose target had no live connection.
	// It is a routing outcome, not a failure.
	ErrDeliveryDeferred = 4001

	// ErrPersistenceFailure indicates that a call into the persistence store failed.
	ErrPersistenceFailure = 4002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
