/*
Package dispatch contains the core logic of the real-time tour tracking.

This file defines the Hub, the single owner of every live channel. It keeps one channel
per user identity, replaces (and kicks) older channels on reconnect, and tracks which
channels observe which tour so pushes reach only the interested subscribers.
*/
package dispatch

import (
	"errors"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ultramedic/internal/pkg/logx"
	"ultramedic/internal/pkg/metrics"
)

// Custom close codes (4000-4999) sent to live channel clients.
const (
	// CloseSessionReplaced tells the client a newer channel took over its identity.
	CloseSessionReplaced = 4001

	// CloseUnauthenticated rejects a channel with a bad or missing credential.
	CloseUnauthenticated = 4401

	// ClosePermissionDenied rejects a channel whose user lacks the capability.
	ClosePermissionDenied = 4403

	// CloseNoActiveTour rejects a channel when there is no tour to follow.
	CloseNoActiveTour = 4404
)

var (
	// ErrNotConnected is returned when the target identity has no live channel.
	ErrNotConnected = errors.New("not connected")

	// ErrNotSubscribed is returned when a channel no longer observes the tour.
	ErrNotSubscribed = errors.New("not subscribed")
)

// Peer is a live channel as seen by the hub.
type Peer interface {
	// Enqueue queues msg without blocking and fails when the queue is full or closed.
	Enqueue(msg []byte) error

	// Close ends the channel with the given close code. It must be idempotent.
	Close(code int, reason string)
}

type closing struct {
	peer   Peer
	code   int
	reason string
}

// Hub is the mutex-guarded registry of live channels.
type Hub struct {
	mu sync.Mutex

	// peers maps a user id to its live channel.
	peers map[string]Peer

	// subscribers maps a tour key to the user ids observing it.
	subscribers map[string]map[string]struct{}

	// subscriptions maps a user id to the tour keys it observes.
	subscriptions map[string]map[string]struct{}

	// revisions counts the pushes published to each observed tour.
	revisions map[string]uint64

	logger zerolog.Logger
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		peers:         make(map[string]Peer),
		subscribers:   make(map[string]map[string]struct{}),
		subscriptions: make(map[string]map[string]struct{}),
		revisions:     make(map[string]uint64),
		logger:        logx.Component("Hub"),
	}
}

// Connect registers p for userID. A previous channel of the same identity is
// kicked with CloseSessionReplaced and loses its subscriptions.
func (h *Hub) Connect(userID string, p Peer) {
	h.mu.Lock()
	old, exists := h.peers[userID]
	if exists {
		h.removeLocked(userID)
	}
	h.peers[userID] = p
	h.updateGaugeLocked()
	h.mu.Unlock()

	if exists && old != p {
		h.logger.Warn().
			Str("user_id", userID).
			Msg("User already connected. Closing old channel for replacement.")
		old.Close(CloseSessionReplaced, "Session replaced by new connection.")
	}

	h.logger.Info().Str("user_id", userID).Msg("Live channel registered.")
}

// Disconnect closes and removes the channel of userID. It is a no-op when the
// identity has no channel.
func (h *Hub) Disconnect(userID string) {
	h.mu.Lock()
	p, ok := h.peers[userID]
	if ok {
		h.removeLocked(userID)
		h.updateGaugeLocked()
	}
	h.mu.Unlock()

	if ok {
		p.Close(websocket.CloseNormalClosure, "")
		h.logger.Info().Str("user_id", userID).Msg("Live channel disconnected.")
	}
}

// Release removes the entry of userID only if it still belongs to p. It is
// used by a terminating channel so that a stale channel never unregisters its
// replacement. It reports whether the entry was removed.
func (h *Hub) Release(userID string, p Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.peers[userID]
	if !ok {
		return false
	}
	if current != p {
		h.logger.Info().Str("user_id", userID).Msg("Ignoring release for stale channel.")
		return false
	}

	h.removeLocked(userID)
	h.updateGaugeLocked()
	h.logger.Info().Str("user_id", userID).Msg("Live channel released.")
	return true
}

// SendTo queues msg for userID. A channel that cannot take the message is
// reclaimed.
func (h *Hub) SendTo(userID string, msg []byte) error {
	return h.send(userID, nil, msg)
}

// send is SendTo restricted to a specific channel when expect is not nil, so a
// replaced channel never answers through its successor.
func (h *Hub) send(userID string, expect Peer, msg []byte) error {
	h.mu.Lock()
	p, ok := h.peers[userID]
	if !ok || (expect != nil && p != expect) {
		h.mu.Unlock()
		return ErrNotConnected
	}

	err := h.enqueueLocked(userID, p, msg)
	h.mu.Unlock()

	if err != nil {
		p.Close(websocket.CloseTryAgainLater, "Client too slow.")
		return err
	}
	return nil
}

// Revision returns how many pushes have been published to tourKey while it had
// observers.
func (h *Hub) Revision(tourKey string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.revisions[tourKey]
}

// sendIfCurrent queues msg for the channel of userID only while it still
// observes tourKey and no push was published to tourKey since rev. It reports
// false without queueing when the revision moved on.
func (h *Hub) sendIfCurrent(tourKey, userID string, expect Peer, rev uint64, msg []byte) (bool, error) {
	h.mu.Lock()
	p, ok := h.peers[userID]
	if !ok || (expect != nil && p != expect) {
		h.mu.Unlock()
		return false, ErrNotConnected
	}
	if _, subscribed := h.subscribers[tourKey][userID]; !subscribed {
		h.mu.Unlock()
		return false, ErrNotSubscribed
	}
	if h.revisions[tourKey] != rev {
		h.mu.Unlock()
		return false, nil
	}

	err := h.enqueueLocked(userID, p, msg)
	h.mu.Unlock()

	if err != nil {
		p.Close(websocket.CloseTryAgainLater, "Client too slow.")
		return false, err
	}
	return true, nil
}

// Broadcast queues msg for every live channel and returns how many accepted it.
// Failing channels are reclaimed; the others still receive the message.
func (h *Hub) Broadcast(msg []byte) int {
	h.mu.Lock()
	targets := make([]string, 0, len(h.peers))
	for userID := range h.peers {
		targets = append(targets, userID)
	}
	delivered, failed := h.deliverLocked(targets, msg)
	h.mu.Unlock()

	h.closeAll(failed)
	return delivered
}

// Subscribe adds userID to the observers of tourKey. The user must be connected.
// A channel may observe several tours.
func (h *Hub) Subscribe(tourKey, userID string) error {
	return h.subscribe(tourKey, userID, nil)
}

// subscribe is Subscribe restricted to a specific channel when expect is not nil.
func (h *Hub) subscribe(tourKey, userID string, expect Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[userID]
	if !ok || (expect != nil && p != expect) {
		return ErrNotConnected
	}

	if h.subscribers[tourKey] == nil {
		h.subscribers[tourKey] = make(map[string]struct{})
	}
	h.subscribers[tourKey][userID] = struct{}{}

	if h.subscriptions[userID] == nil {
		h.subscriptions[userID] = make(map[string]struct{})
	}
	h.subscriptions[userID][tourKey] = struct{}{}
	return nil
}

// Unsubscribe removes userID from the observers of tourKey.
func (h *Hub) Unsubscribe(tourKey, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unsubscribeLocked(tourKey, userID)
}

// Publish queues msg for the observers of tourKey and returns how many accepted it.
func (h *Hub) Publish(tourKey string, msg []byte) int {
	h.mu.Lock()
	targets := make([]string, 0, len(h.subscribers[tourKey]))
	for userID := range h.subscribers[tourKey] {
		targets = append(targets, userID)
	}
	if len(targets) > 0 {
		h.revisions[tourKey]++
	}
	delivered, failed := h.deliverLocked(targets, msg)
	h.mu.Unlock()

	h.closeAll(failed)
	return delivered
}

// Detach unsubscribes every observer of tourKey and returns their sorted ids.
// Channels left without any subscription are removed and closed with code;
// channels still following other tours stay open. Queued messages are flushed
// before the close frame.
func (h *Hub) Detach(tourKey string, code int, reason string) []string {
	h.mu.Lock()
	var detached []string
	for userID := range h.subscribers[tourKey] {
		detached = append(detached, userID)
	}

	var toClose []closing
	for _, userID := range detached {
		h.unsubscribeLocked(tourKey, userID)
		if len(h.subscriptions[userID]) > 0 {
			continue
		}
		if p, ok := h.peers[userID]; ok {
			toClose = append(toClose, closing{peer: p, code: code, reason: reason})
			h.removeLocked(userID)
		}
	}
	delete(h.subscribers, tourKey)
	delete(h.revisions, tourKey)
	h.updateGaugeLocked()
	h.mu.Unlock()

	h.closeAll(toClose)
	sort.Strings(detached)
	return detached
}

// Subscribers returns the sorted user ids observing tourKey.
func (h *Hub) Subscribers(tourKey string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.subscribers[tourKey]))
	for userID := range h.subscribers[tourKey] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether userID has a live channel.
func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.peers[userID]
	return ok
}

// Len returns the number of live channels.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.peers)
}

// Shutdown closes every live channel with CloseGoingAway.
func (h *Hub) Shutdown() {
	h.logger.Info().Msg("Shutting down hub...")

	h.mu.Lock()
	toClose := make([]closing, 0, len(h.peers))
	for _, p := range h.peers {
		toClose = append(toClose, closing{peer: p, code: websocket.CloseGoingAway, reason: "Server shutting down."})
	}
	h.peers = make(map[string]Peer)
	h.subscribers = make(map[string]map[string]struct{})
	h.subscriptions = make(map[string]map[string]struct{})
	h.revisions = make(map[string]uint64)
	h.updateGaugeLocked()
	h.mu.Unlock()

	h.closeAll(toClose)
	h.logger.Info().Int("closed", len(toClose)).Msg("Hub shutdown complete.")
}

func (h *Hub) deliverLocked(targets []string, msg []byte) (int, []closing) {
	delivered := 0
	var failed []closing
	for _, userID := range targets {
		p, ok := h.peers[userID]
		if !ok {
			continue
		}
		if err := h.enqueueLocked(userID, p, msg); err != nil {
			failed = append(failed, closing{peer: p, code: websocket.CloseTryAgainLater, reason: "Client too slow."})
			continue
		}
		delivered++
	}
	return delivered, failed
}

// enqueueLocked queues msg on p and reclaims the entry of userID when p cannot
// take it. The caller closes p after releasing the lock.
func (h *Hub) enqueueLocked(userID string, p Peer, msg []byte) error {
	if err := p.Enqueue(msg); err != nil {
		h.removeLocked(userID)
		h.updateGaugeLocked()
		h.reclaimed(userID, p, err)
		return err
	}
	return nil
}

func (h *Hub) reclaimed(userID string, p Peer, err error) {
	metrics.DroppedPushesTotal.Inc()
	h.logger.Warn().
		Err(err).
		Str("user_id", userID).
		Msg("Client send channel full or closed, reclaiming.")
}

func (h *Hub) closeAll(list []closing) {
	for _, c := range list {
		c.peer.Close(c.code, c.reason)
	}
}

func (h *Hub) removeLocked(userID string) {
	delete(h.peers, userID)
	for tourKey := range h.subscriptions[userID] {
		h.unsubscribeLocked(tourKey, userID)
	}
	delete(h.subscriptions, userID)
}

func (h *Hub) unsubscribeLocked(tourKey, userID string) {
	if subs, ok := h.subscribers[tourKey]; ok {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(h.subscribers, tourKey)
			delete(h.revisions, tourKey)
		}
	}
	if keys, ok := h.subscriptions[userID]; ok {
		delete(keys, tourKey)
		if len(keys) == 0 {
			delete(h.subscriptions, userID)
		}
	}
}

func (h *Hub) updateGaugeLocked() {
	metrics.LiveConnections.Set(float64(len(h.peers)))
}
