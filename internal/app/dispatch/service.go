/*
Package dispatch contains the core logic of the real-time tour tracking.

This file defines the Service, the tour lifecycle: every entry point authorizes the caller
for exactly one capability before it touches the tour store or the hub.
*/
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ultramedic/internal/app/places"
	"ultramedic/internal/app/tour"
	"ultramedic/internal/app/user"
	"ultramedic/internal/pkg/capability"
	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/logx"
	"ultramedic/internal/pkg/metrics"
)

// messageTimeout bounds the store work done for one inbound message.
const messageTimeout = 5 * time.Second

// Close reasons recorded on TOUR_CLOSED and in metrics.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
)

// TourStore is the ephemeral tour state.
type TourStore interface {
	Create(ctx context.Context, userID string, t *tour.Tour) error
	Get(ctx context.Context, userID string) (*tour.Tour, error)
	Exists(ctx context.Context, userID string) (bool, error)
	Update(ctx context.Context, userID string, fn func(*tour.Tour) error) (*tour.Tour, error)
	Delete(ctx context.Context, userID string) (bool, error)
	List(ctx context.Context) (map[string]*tour.Tour, map[string]error, error)
}

// HospitalFinder searches the nearest emergency room around a point.
type HospitalFinder interface {
	Nearest(ctx context.Context, x, y string) (*places.Hospital, error)
}

// Authorizer is the subset of the guard used by the service.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (*user.User, *errs.CustomError)
	Authorize(u *user.User, required capability.Capability) *errs.CustomError
}

// CreateTourRequest is the input of CreateTour.
type CreateTourRequest struct {
	Name      string `json:"name" validate:"required,max=64"`
	Symptom   string `json:"symptom" validate:"required,max=500"`
	LocationX string `json:"location_x" validate:"required,longitude"`
	LocationY string `json:"location_y" validate:"required,latitude"`
}

// Admission is an authenticated, authorized request to open a live channel.
type Admission struct {
	User    *user.User
	TourKey string
	Role    Role
}

// ServiceDeps groups the collaborators of a Service.
type ServiceDeps struct {
	Store       TourStore
	Hub         *Hub
	Guard       Authorizer
	Repo        user.Repository
	Places      HospitalFinder
	IdleTimeout time.Duration
}

// Service implements the tour lifecycle.
type Service struct {
	store       TourStore
	hub         *Hub
	guard       Authorizer
	repo        user.Repository
	places      HospitalFinder
	idleTimeout time.Duration
	logger      zerolog.Logger
}

// NewService builds a Service.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		store:       deps.Store,
		hub:         deps.Hub,
		guard:       deps.Guard,
		repo:        deps.Repo,
		places:      deps.Places,
		idleTimeout: deps.IdleTimeout,
		logger:      logx.Component("Dispatch"),
	}
}

// Hub returns the live channel registry.
func (s *Service) Hub() *Hub {
	return s.hub
}

// storeError maps a tour store failure to a client error without leaking it.
func (s *Service) storeError(op string, err error) *errs.CustomError {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	if errors.Is(err, tour.ErrTourNotFound) {
		if errors.Is(err, tour.ErrTourCorrupt) {
			s.logger.Error().Err(err).Str("op", op).Msg("Corrupt tour payload")
		}
		return errs.NewError(errs.ErrTourNotFound)
	}

	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	return errs.NewError(errs.ErrStoreUnavailable, err)
}

// CreateTour starts a READY tour for u, bound to u's ambulance.
func (s *Service) CreateTour(ctx context.Context, u *user.User, in CreateTourRequest) (*tour.Tour, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.UseEmergencyCall); err != nil {
		return nil, err
	}

	exists, err := s.store.Exists(ctx, u.ID)
	if err != nil {
		return nil, s.storeError("exists", err)
	}
	if exists {
		return nil, errs.NewError(errs.ErrTourAlreadyActive)
	}

	ambulance, err := s.repo.GetAmbulanceByUserID(ctx, u.ID)
	if err != nil {
		if errors.Is(err, user.ErrAmbulanceNotFound) {
			return nil, errs.NewError(errs.ErrAmbulanceNotFound)
		}
		return nil, errs.NewError(errs.ErrStoreUnavailable, err)
	}

	t := tour.New(in.Name, in.Symptom, ambulance.LicensePlate, in.LocationX, in.LocationY)
	if err := s.store.Create(ctx, u.ID, t); err != nil {
		if errors.Is(err, tour.ErrTourExists) {
			return nil, errs.NewError(errs.ErrTourAlreadyActive)
		}
		return nil, s.storeError("create", err)
	}

	metrics.ToursCreatedTotal.Inc()
	s.logger.Info().Str("user_id", u.ID).Str("license_number", t.LicenseNumber).Msg("Tour created.")
	return t, nil
}

// GetTour returns the tour owned by u.
func (s *Service) GetTour(ctx context.Context, u *user.User) (*tour.Tour, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.UseEmergencyCall); err != nil {
		return nil, err
	}

	t, err := s.store.Get(ctx, u.ID)
	if err != nil {
		return nil, s.storeError("get", err)
	}
	return t, nil
}

// ListTours returns every active tour keyed by its owner.
func (s *Service) ListTours(ctx context.Context, u *user.User) (map[string]*tour.Tour, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.ViewEmergencyCall); err != nil {
		return nil, err
	}

	tours, corrupt, err := s.store.List(ctx)
	if err != nil {
		return nil, s.storeError("list", err)
	}
	for ownerID, cause := range corrupt {
		s.logger.Error().Err(cause).Str("owner_id", ownerID).Msg("Skipping corrupt tour in list")
	}
	return tours, nil
}

// AdvanceStatus moves the tour of u exactly one step forward and pushes
// UPDATE_STATUS to its observers.
func (s *Service) AdvanceStatus(ctx context.Context, u *user.User, next tour.Status) (*tour.Tour, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.UseEmergencyCall); err != nil {
		return nil, err
	}

	t, err := s.store.Update(ctx, u.ID, func(t *tour.Tour) error {
		if !t.Status.CanAdvanceTo(next) {
			return errs.NewError(errs.ErrInvalidStatusTransition, t.Status, next)
		}
		t.Status = next
		return nil
	})
	if err != nil {
		return nil, s.storeError("update", err)
	}

	s.publish(u.ID, OpUpdateStatus, StatusPayload{Status: t.Status})
	s.logger.Info().Str("user_id", u.ID).Str("status", string(t.Status)).Msg("Tour status advanced.")
	return t, nil
}

// AssignNearestHospital searches the nearest emergency room around the tour
// origin, stores it with its distance and pushes UPDATE_DATA.
func (s *Service) AssignNearestHospital(ctx context.Context, u *user.User) (*tour.Tour, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.UseEmergencyCall); err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, u.ID)
	if err != nil {
		return nil, s.storeError("get", err)
	}

	found, err := s.places.Nearest(ctx, current.LocationX, current.LocationY)
	if err != nil {
		if errors.Is(err, places.ErrNoHospital) {
			return nil, errs.NewError(errs.ErrHospitalNotFound)
		}
		s.logger.Error().Err(err).Str("user_id", u.ID).Msg("Hospital search failed")
		return nil, errs.NewError(errs.ErrPlaceSearchFailed)
	}

	t, err := s.store.Update(ctx, u.ID, func(t *tour.Tour) error {
		t.Hospital = &tour.Hospital{Name: found.Name, Address: found.Address}
		if found.Distance >= 0 {
			d := found.Distance
			t.RemainDistance = &d
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError("update", err)
	}

	s.publish(u.ID, OpUpdateData, t)
	return t, nil
}

// TakeCall binds the hospital of u to the tour owned by ownerID.
func (s *Service) TakeCall(ctx context.Context, u *user.User, ownerID string) (*tour.Tour, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.TakeEmergencyCall); err != nil {
		return nil, err
	}

	hospital, err := s.repo.GetHospitalByUserID(ctx, u.ID)
	if err != nil {
		if errors.Is(err, user.ErrHospitalNotFound) {
			return nil, errs.NewError(errs.ErrHospitalNotFound)
		}
		return nil, errs.NewError(errs.ErrStoreUnavailable, err)
	}

	t, err := s.store.Update(ctx, ownerID, func(t *tour.Tour) error {
		t.Hospital = &tour.Hospital{Name: hospital.Name, Address: hospital.Address}
		return nil
	})
	if err != nil {
		return nil, s.storeError("update", err)
	}

	s.publish(ownerID, OpUpdateData, t)
	s.logger.Info().Str("owner_id", ownerID).Str("hospital_user_id", u.ID).Msg("Call taken by hospital.")
	return t, nil
}

// CloseTour deletes the tour of ownerID, sends TOUR_CLOSED to its observers and
// detaches them. The owner needs UseEmergencyCall; anyone else ManageEmergencyCall.
func (s *Service) CloseTour(ctx context.Context, u *user.User, ownerID, reason string) *errs.CustomError {
	required := capability.UseEmergencyCall
	if ownerID != u.ID {
		required = capability.ManageEmergencyCall
	}
	if err := s.guard.Authorize(u, required); err != nil {
		return err
	}

	removed, err := s.store.Delete(ctx, ownerID)
	if err != nil {
		return s.storeError("delete", err)
	}
	if !removed {
		return errs.NewError(errs.ErrTourNotFound)
	}

	metrics.ToursClosedTotal.WithLabelValues(reason).Inc()
	s.publish(ownerID, OpTourClosed, ClosedPayload{Reason: reason})
	detached := s.hub.Detach(ownerID, websocket.CloseNormalClosure, "Tour closed.")

	s.logger.Info().
		Str("owner_id", ownerID).
		Str("closed_by", u.ID).
		Str("reason", reason).
		Int("detached", len(detached)).
		Msg("Tour closed.")
	return nil
}

// Announce sends NOTICE to the live channel of targetID, or to every live
// channel when targetID is empty. It returns how many channels accepted it.
func (s *Service) Announce(u *user.User, targetID, message string) (int, *errs.CustomError) {
	if err := s.guard.Authorize(u, capability.ManageEmergencyCall); err != nil {
		return 0, err
	}

	msg, err := Encode(OpNotice, NoticePayload{Message: message})
	if err != nil {
		return 0, errs.NewError(errs.ErrUnknown, err)
	}

	if targetID == "" {
		return s.hub.Broadcast(msg), nil
	}

	if err := s.hub.SendTo(targetID, msg); err != nil {
		s.logger.Info().Err(err).Str("target_id", targetID).Msg("Notice not delivered")
		return 0, errs.NewError(errs.ErrNotConnected)
	}
	return 1, nil
}

// Admit authenticates token and decides which tour the channel follows. An
// empty ownerID (or the caller's own id) opens the owner channel, which needs
// UseEmergencyCall; following another user's tour needs ViewEmergencyCall.
// The hub is never touched here.
func (s *Service) Admit(ctx context.Context, token, ownerID string) (*Admission, *errs.CustomError) {
	u, authErr := s.guard.Authenticate(ctx, token)
	if authErr != nil {
		return nil, authErr
	}

	adm := &Admission{User: u, TourKey: u.ID, Role: RoleOwner}
	required := capability.UseEmergencyCall
	if ownerID != "" && ownerID != u.ID {
		adm.TourKey = ownerID
		adm.Role = RoleObserver
		required = capability.ViewEmergencyCall
	}

	if err := s.guard.Authorize(u, required); err != nil {
		return nil, err
	}

	exists, err := s.store.Exists(ctx, adm.TourKey)
	if err != nil {
		return nil, s.storeError("exists", err)
	}
	if !exists {
		return nil, errs.NewError(errs.ErrTourNotFound)
	}

	return adm, nil
}

// CloseCodeFor maps an admission error to the close code of the rejection frame.
func CloseCodeFor(e *errs.CustomError) int {
	switch e.Code {
	case errs.ErrUnauthenticated:
		return CloseUnauthenticated
	case errs.ErrPermissionDenied:
		return ClosePermissionDenied
	case errs.ErrTourNotFound:
		return CloseNoActiveTour
	default:
		return websocket.CloseInternalServerErr
	}
}

// ServeLive registers an admitted connection, subscribes it to its tour and
// runs its pumps. It blocks until the channel ends; the hub entry is released
// on every exit path while the tour itself is kept.
func (s *Service) ServeLive(conn *websocket.Conn, adm *Admission) {
	c := newClient(conn, adm, s.idleTimeout)

	s.hub.Connect(adm.User.ID, c)
	defer func() {
		s.hub.Release(adm.User.ID, c)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	if err := s.hub.subscribe(adm.TourKey, adm.User.ID, c); err != nil {
		c.logger.Warn().Err(err).Msg("Channel replaced before subscribing")
	}

	go c.writePump()

	s.sendSnapshot(c, adm.TourKey)

	c.readPump(s.handleMessage)
}

// sendSnapshot queues the current UPDATE_DATA of tourKey for c, which must
// already observe it. A snapshot read while a push was being published is
// discarded and read again, so it never lands behind a newer push.
func (s *Service) sendSnapshot(c *Client, tourKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	for {
		rev := s.hub.Revision(tourKey)

		t, err := s.store.Get(ctx, tourKey)
		if err != nil {
			e := s.storeError("get", err)
			if e.Code != errs.ErrTourNotFound {
				s.sendError(c, e)
				return
			}
			if tourKey == c.tourKey {
				c.Close(CloseNoActiveTour, e.Message)
				return
			}
			s.hub.Unsubscribe(tourKey, c.user.ID)
			s.sendError(c, e)
			return
		}

		msg, err := EncodeFor(tourKey, OpUpdateData, t)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to encode snapshot")
			return
		}

		sent, err := s.hub.sendIfCurrent(tourKey, c.user.ID, c, rev, msg)
		if err != nil {
			c.logger.Debug().Err(err).Str("tour_key", tourKey).Msg("Snapshot dropped")
			return
		}
		if sent {
			return
		}
		c.logger.Debug().Str("tour_key", tourKey).Msg("Tour changed while loading snapshot, reloading")
	}
}

// handleMessage dispatches one inbound envelope. Bad JSON and unknown ops are
// logged and ignored.
func (s *Service) handleMessage(c *Client, raw []byte) {
	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		metrics.InboundMessagesTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn().Err(err).Int("size", len(raw)).Msg("Client sent invalid JSON")
		return
	}

	switch in.Op {
	case OpHello:
		metrics.InboundMessagesTotal.WithLabelValues(string(in.Op)).Inc()
		s.enqueue(c, OpHello, nil)

	case OpUpdateLocation:
		metrics.InboundMessagesTotal.WithLabelValues(string(in.Op)).Inc()
		s.updateLocation(c, in.Data)

	case OpSubscribe:
		metrics.InboundMessagesTotal.WithLabelValues(string(in.Op)).Inc()
		s.subscribe(c, in.Data)

	case OpUnsubscribe:
		metrics.InboundMessagesTotal.WithLabelValues(string(in.Op)).Inc()
		s.unsubscribe(c, in.Data)

	default:
		metrics.InboundMessagesTotal.WithLabelValues("unknown").Inc()
		c.logger.Warn().Str("op", string(in.Op)).Msg("Client sent unsupported op")
	}
}

func (s *Service) updateLocation(c *Client, data json.RawMessage) {
	if c.role != RoleOwner {
		c.logger.Debug().Msg("Ignoring location report from observer")
		return
	}

	var payload LocationPayload
	if len(data) == 0 || json.Unmarshal(data, &payload) != nil {
		s.sendError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	position, ok := payload.position()
	if !ok || (payload.RemainDistance != nil && *payload.RemainDistance < 0) {
		s.sendError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	t, err := s.store.Update(ctx, c.tourKey, func(t *tour.Tour) error {
		t.SetLocation(position, payload.RemainDistance)
		return nil
	})
	if err != nil {
		s.sendError(c, s.storeError("update", err))
		return
	}

	s.publish(c.tourKey, OpUpdateData, t)
}

func parseSubscription(data json.RawMessage) (string, bool) {
	var payload SubscriptionPayload
	if len(data) == 0 || json.Unmarshal(data, &payload) != nil || payload.UserID == "" {
		return "", false
	}
	return payload.UserID, true
}

// subscribe lets a channel follow one more tour. It needs ViewEmergencyCall
// and answers with the tour's snapshot.
func (s *Service) subscribe(c *Client, data json.RawMessage) {
	if authErr := s.guard.Authorize(c.user, capability.ViewEmergencyCall); authErr != nil {
		s.sendError(c, authErr)
		return
	}

	tourKey, ok := parseSubscription(data)
	if !ok {
		s.sendError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	exists, err := s.store.Exists(ctx, tourKey)
	if err != nil {
		s.sendError(c, s.storeError("exists", err))
		return
	}
	if !exists {
		s.sendError(c, errs.NewError(errs.ErrTourNotFound))
		return
	}

	if err := s.hub.subscribe(tourKey, c.user.ID, c); err != nil {
		c.logger.Debug().Err(err).Msg("Channel replaced before subscribing")
		return
	}

	c.logger.Info().Str("tour_key", tourKey).Msg("Channel subscribed to tour.")
	s.sendSnapshot(c, tourKey)
}

// unsubscribe stops following a tour added with SUBSCRIBE. The tour the
// channel was opened for cannot be dropped.
func (s *Service) unsubscribe(c *Client, data json.RawMessage) {
	tourKey, ok := parseSubscription(data)
	if !ok || tourKey == c.tourKey {
		s.sendError(c, errs.NewError(errs.ErrInvalidParams))
		return
	}

	s.hub.Unsubscribe(tourKey, c.user.ID)
	c.logger.Info().Str("tour_key", tourKey).Msg("Channel unsubscribed from tour.")
}

func (s *Service) publish(tourKey string, op Op, data any) {
	msg, err := EncodeFor(tourKey, op, data)
	if err != nil {
		s.logger.Error().Err(err).Str("op", string(op)).Msg("Failed to encode push")
		return
	}

	delivered := s.hub.Publish(tourKey, msg)
	s.logger.Debug().Str("tour_key", tourKey).Str("op", string(op)).Int("delivered", delivered).Msg("Pushed to observers")
}

func (s *Service) enqueue(c *Client, op Op, data any) {
	msg, err := Encode(op, data)
	if err != nil {
		c.logger.Error().Err(err).Str("op", string(op)).Msg("Failed to encode message")
		return
	}

	if err := s.hub.send(c.user.ID, c, msg); err != nil {
		c.logger.Warn().Err(err).Str("op", string(op)).Msg("Failed to queue message")
	}
}

func (s *Service) sendError(c *Client, e *errs.CustomError) {
	msg, err := encodeError(e)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode error message")
		return
	}

	if err := s.hub.send(c.user.ID, c, msg); err != nil {
		c.logger.Warn().Err(err).Int("code", e.Code).Msg("Failed to queue error message")
	}
}
