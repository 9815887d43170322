/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, negative acknowledgements and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Malformed JSON.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnsupportedEvent:     {Code: ErrUnsupportedEvent, Message: "Unsupported event %q."},

	// 2xxx: Room and Content Errors
	ErrNotAMember:            {Code: ErrNotAMember, Message: "You are not a member of this room."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageContentEmpty:   {Code: ErrMessageContentEmpty, Message: "Message is empty."},

	// 3xxx: Authentication Errors
	ErrAuthenticationRequired: {Code: ErrAuthenticationRequired, Message: "Authentication required.", Status: http.StatusUnauthorized},
	ErrInvalidToken:           {Code: ErrInvalidToken, Message: "Invalid or expired token.", Status: http.StatusUnauthorized},
	ErrForbidden:              {Code: ErrForbidden, Message: "You are not allowed to do that.", Status: http.StatusForbidden},

	// 4xxx: Delivery and Persistence Outcomes
	ErrDeliveryDeferred:   {Code: ErrDeliveryDeferred, Message: "Recipient is offline; delivery deferred.", Status: http.StatusAccepted},
	ErrPersistenceFailure: {Code: ErrPersistenceFailure, Message: "Storage is temporarily unavailable.", Status: http.StatusServiceUnavailable},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
