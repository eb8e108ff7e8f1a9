/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:       {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrMissingConversation: {Code: ErrMissingConversation, Message: "A conversation is required.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:   {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 3xxx: Session and Security Errors
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrOriginNotAllowed: {Code: ErrOriginNotAllowed, Message: "Origin not allowed.", Status: http.StatusForbidden},

	// 5xxx: Internal System Errors
	ErrUnknown:                 {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrSessionStoreUnavailable: {Code: ErrSessionStoreUnavailable, Message: "Service temporarily unavailable.", Status: http.StatusServiceUnavailable},
}
