/*
Package errs provides custom error types and application-level error code constants.

This file maps every error code to its CustomError template, used to standardize HTTP
and WebSocket error responses.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Tour lifecycle errors
	ErrTourAlreadyActive:       {Code: ErrTourAlreadyActive, Message: "An emergency call is already in progress.", Status: http.StatusConflict},
	ErrTourNotFound:            {Code: ErrTourNotFound, Message: "No active emergency call.", Status: http.StatusNotFound},
	ErrAmbulanceNotFound:       {Code: ErrAmbulanceNotFound, Message: "No ambulance is registered for this account.", Status: http.StatusNotFound},
	ErrInvalidStatusTransition: {Code: ErrInvalidStatusTransition, Message: "Status cannot change from %s to %s.", Status: http.StatusConflict},
	ErrNotConnected:            {Code: ErrNotConnected, Message: "The client is not connected.", Status: http.StatusNotFound},
	ErrHospitalNotFound:        {Code: ErrHospitalNotFound, Message: "No emergency room found nearby.", Status: http.StatusNotFound},

	// 3xxx: User, Session, and Security Errors
	ErrUnauthenticated:     {Code: ErrUnauthenticated, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrPermissionDenied:    {Code: ErrPermissionDenied, Message: "Permission denied.", Status: http.StatusForbidden},
	ErrSessionKicked:       {Code: ErrSessionKicked, Message: "You were connected from another device."},
	ErrInvalidCredentials:  {Code: ErrInvalidCredentials, Message: "Incorrect email or password.", Status: http.StatusBadRequest},
	ErrUserAlreadyExists:   {Code: ErrUserAlreadyExists, Message: "Username or email is already taken.", Status: http.StatusConflict},
	ErrInvalidRegisterCode: {Code: ErrInvalidRegisterCode, Message: "Invalid register code.", Status: http.StatusBadRequest},

	// 5xxx: Internal System Errors
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStoreUnavailable:  {Code: ErrStoreUnavailable, Message: "Service temporarily unavailable. Please try again.", Status: http.StatusServiceUnavailable},
	ErrPlaceSearchFailed: {Code: ErrPlaceSearchFailed, Message: "Hospital search is unavailable. Please try again.", Status: http.StatusBadGateway},
}
