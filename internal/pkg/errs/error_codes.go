/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific request, session or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrMissingConversation indicates that a signaling upgrade did not name a conversation.
	ErrMissingConversation = 1002

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 3xxx: Session and Security Errors
const (
	// ErrUnauthorized indicates a missing, invalid or expired session token.
	ErrUnauthorized = 3001

	// ErrOriginNotAllowed indicates that the WebSocket Origin header is not in the allow list.
	ErrOriginNotAllowed = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrSessionStoreUnavailable indicates that the session store could not be queried.
	ErrSessionStoreUnavailable = 5003
)
