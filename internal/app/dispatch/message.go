/*
Package dispatch contains the core logic of the real-time tour tracking: the live channel
hub, the per-connection pumps and the tour lifecycle service that ties the tour store,
the guard and the hub together.

This file defines the wire envelope exchanged over a live channel.
*/
package dispatch

import (
	"encoding/json"

	"ultramedic/internal/app/tour"
	"ultramedic/internal/pkg/errs"
)

// Op is the operation code of an envelope.
type Op string

const (
	// OpHello is the liveness handshake, accepted and echoed in both directions.
	OpHello Op = "HELLO"

	// OpUpdateData carries the full tour snapshot (server to client).
	OpUpdateData Op = "UPDATE_DATA"

	// OpUpdateLocation is a position report (client to server).
	OpUpdateLocation Op = "UPDATE_LOCATION"

	// OpUpdateStatus announces a status transition (server to client).
	OpUpdateStatus Op = "UPDATE_STATUS"

	// OpError reports a failed client request (server to client).
	OpError Op = "ERROR"

	// OpTourClosed is sent to every observer before a deleted tour detaches them.
	OpTourClosed Op = "TOUR_CLOSED"

	// OpNotice carries an operator announcement to every live channel.
	OpNotice Op = "NOTICE"

	// OpSubscribe starts following another tour on the same channel (client to server).
	OpSubscribe Op = "SUBSCRIBE"

	// OpUnsubscribe stops following a tour (client to server).
	OpUnsubscribe Op = "UNSUBSCRIBE"
)

// Message is the envelope written to clients. Tour names the owner of the tour
// a push belongs to, so a channel following several tours can tell them apart.
type Message struct {
	Op   Op     `json:"op"`
	Tour string `json:"tour,omitempty"`
	Data any    `json:"data"`
}

// inboundMessage is the envelope read from clients; data is decoded per op.
type inboundMessage struct {
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"data"`
}

// LocationPayload is the data of UPDATE_LOCATION. Clients may use either key
// for the position; current_location wins when both are present.
type LocationPayload struct {
	CurrentLocation *string `json:"current_location"`
	Location        *string `json:"location"`
	RemainDistance  *int    `json:"remain_distance"`
}

func (p LocationPayload) position() (string, bool) {
	if p.CurrentLocation != nil {
		return *p.CurrentLocation, true
	}
	if p.Location != nil {
		return *p.Location, true
	}
	return "", false
}

// SubscriptionPayload is the data of SUBSCRIBE and UNSUBSCRIBE.
type SubscriptionPayload struct {
	UserID string `json:"user_id"`
}

// StatusPayload is the data of UPDATE_STATUS.
type StatusPayload struct {
	Status tour.Status `json:"status"`
}

// ErrorPayload is the data of ERROR.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClosedPayload is the data of TOUR_CLOSED.
type ClosedPayload struct {
	Reason string `json:"reason"`
}

// NoticePayload is the data of NOTICE.
type NoticePayload struct {
	Message string `json:"message"`
}

// Encode marshals an envelope.
func Encode(op Op, data any) ([]byte, error) {
	return json.Marshal(Message{Op: op, Data: data})
}

// EncodeFor marshals an envelope pushed on behalf of the tour of tourKey.
func EncodeFor(tourKey string, op Op, data any) ([]byte, error) {
	return json.Marshal(Message{Op: op, Tour: tourKey, Data: data})
}

func encodeError(e *errs.CustomError) ([]byte, error) {
	return Encode(OpError, ErrorPayload{Code: e.Code, Message: e.Message})
}
