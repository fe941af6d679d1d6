/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both inside the server and
in the HTTP and WebSocket envelopes sent to clients.
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

// 2xxx: Tour lifecycle errors
const (
	// ErrTourAlreadyActive indicates the caller already owns an active tour.
	ErrTourAlreadyActive = 2101

	// ErrTourNotFound indicates there is no active tour for the identity.
	ErrTourNotFound = 2102

	// ErrAmbulanceNotFound indicates no ambulance is bound to the caller.
	ErrAmbulanceNotFound = 2103

	// ErrInvalidStatusTransition indicates a status change that is not the next step.
	ErrInvalidStatusTransition = 2104

	// ErrNotConnected indicates the push target has no live channel.
	ErrNotConnected = 2105

	// ErrHospitalNotFound indicates no hospital could be matched to the tour.
	ErrHospitalNotFound = 2106
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthenticated indicates a missing, malformed, expired or revoked credential.
	ErrUnauthenticated = 3001

	// ErrPermissionDenied indicates the user lacks the capability for the operation.
	ErrPermissionDenied = 3002

	// ErrSessionKicked indicates that the live channel was replaced by a newer one.
	ErrSessionKicked = 3004

	// ErrInvalidCredentials indicates a login with an unknown email or wrong password.
	ErrInvalidCredentials = 3101

	// ErrUserAlreadyExists indicates the username or email is already registered.
	ErrUserAlreadyExists = 3102

	// ErrInvalidRegisterCode indicates a missing, expired or mismatched sign-up code.
	ErrInvalidRegisterCode = 3103
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates an I/O failure of the tour or user store.
	ErrStoreUnavailable = 5001

	// ErrPlaceSearchFailed indicates the place-search provider could not be reached.
	ErrPlaceSearchFailed = 5002
)
