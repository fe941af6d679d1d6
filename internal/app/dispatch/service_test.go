package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ultramedic/internal/app/places"
	"ultramedic/internal/app/tour"
	"ultramedic/internal/app/user"
	"ultramedic/internal/app/user/usertest"
	"ultramedic/internal/pkg/auth/jwt"
	"ultramedic/internal/pkg/capability"
	"ultramedic/internal/pkg/errs"
)

const testSecret = "dispatch-test-secret"

type fakePlaces struct {
	hospital *places.Hospital
	err      error
}

func (f *fakePlaces) Nearest(context.Context, string, string) (*places.Hospital, error) {
	return f.hospital, f.err
}

type testEnv struct {
	svc    *Service
	store  *tour.Store
	repo   *usertest.Repo
	hub    *Hub
	places *fakePlaces
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T, idle time.Duration) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:  tour.NewStore(client),
		repo:   usertest.NewRepo(),
		hub:    NewHub(),
		places: &fakePlaces{},
		mr:     mr,
	}
	env.svc = NewService(ServiceDeps{
		Store:       env.store,
		Hub:         env.hub,
		Guard:       user.NewGuard(env.repo, nil, testSecret),
		Repo:        env.repo,
		Places:      env.places,
		IdleTimeout: idle,
	})
	t.Cleanup(env.hub.Shutdown)
	return env
}

func (e *testEnv) addUser(caps ...capability.Capability) *user.User {
	return e.repo.AddUser(user.User{Username: "user", Flags: capability.Of(caps...).Encode()})
}

func (e *testEnv) addAmbulance(plate string) *user.User {
	u := e.addUser(capability.UseEmergencyCall)
	e.repo.AddAmbulance(user.Ambulance{UserID: u.ID, LicensePlate: plate, Driver: "lee"})
	return u
}

func (e *testEnv) token(t *testing.T, u *user.User) string {
	t.Helper()
	tok, _, err := jwt.GenerateToken(u.ID, u.Username, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func sampleRequest() CreateTourRequest {
	return CreateTourRequest{Name: "J", Symptom: "chest pain", LocationX: "127.0", LocationY: "37.5"}
}

// attach registers a pump-less client and subscribes it to tourKey.
func (e *testEnv) attach(t *testing.T, u *user.User, tourKey string, role Role) *Client {
	t.Helper()
	c := newClient(nil, &Admission{User: u, TourKey: tourKey, Role: role}, time.Minute)
	e.hub.Connect(u.ID, c)
	require.NoError(t, e.hub.Subscribe(tourKey, u.ID))
	return c
}

func nextQueued(t *testing.T, c *Client) inboundMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg inboundMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return inboundMessage{}
	}
}

func requireCode(t *testing.T, code int, err *errs.CustomError) {
	t.Helper()
	require.NotNil(t, err)
	require.Equal(t, code, err.Code)
}

func TestCreateTour(t *testing.T) {
	env := newTestEnv(t, 0)
	amb := env.addAmbulance("12가3456")

	got, err := env.svc.CreateTour(context.Background(), amb, sampleRequest())
	require.Nil(t, err)
	require.Equal(t, tour.StatusReady, got.Status)
	require.Equal(t, "12가3456", got.LicenseNumber)
	require.Nil(t, got.Hospital)

	stored, storeErr := env.store.Get(context.Background(), amb.ID)
	require.NoError(t, storeErr)
	require.Equal(t, tour.StatusReady, stored.Status)
	require.Equal(t, "J", stored.PatientName)
}

func TestCreateTourTwiceFails(t *testing.T) {
	env := newTestEnv(t, 0)
	amb := env.addAmbulance("12가3456")

	_, err := env.svc.CreateTour(context.Background(), amb, sampleRequest())
	require.Nil(t, err)

	_, err = env.svc.CreateTour(context.Background(), amb, sampleRequest())
	requireCode(t, errs.ErrTourAlreadyActive, err)
}

func TestCreateTourConcurrentHasOneWinner(t *testing.T) {
	env := newTestEnv(t, 0)
	amb := env.addAmbulance("12가3456")

	var wg sync.WaitGroup
	results := make(chan *errs.CustomError, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateTour(context.Background(), amb, sampleRequest())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.Equal(t, errs.ErrTourAlreadyActive, err.Code)
	}
	require.Equal(t, 1, wins)
}

func TestCreateTourRequiresCapability(t *testing.T) {
	env := newTestEnv(t, 0)
	viewer := env.addUser(capability.ViewEmergencyCall)
	env.repo.AddAmbulance(user.Ambulance{UserID: viewer.ID, LicensePlate: "x"})

	_, err := env.svc.CreateTour(context.Background(), viewer, sampleRequest())
	requireCode(t, errs.ErrPermissionDenied, err)

	exists, storeErr := env.store.Exists(context.Background(), viewer.ID)
	require.NoError(t, storeErr)
	require.False(t, exists)
}

func TestCreateTourWithoutAmbulance(t *testing.T) {
	env := newTestEnv(t, 0)
	u := env.addUser(capability.UseEmergencyCall)

	_, err := env.svc.CreateTour(context.Background(), u, sampleRequest())
	requireCode(t, errs.ErrAmbulanceNotFound, err)
}

func TestCreateTourStoreDown(t *testing.T) {
	env := newTestEnv(t, 0)
	amb := env.addAmbulance("x")
	env.mr.Close()

	_, err := env.svc.CreateTour(context.Background(), amb, sampleRequest())
	requireCode(t, errs.ErrStoreUnavailable, err)
	require.NotContains(t, err.Message, "127.0.0.1")
}

func TestAdvanceStatus(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	watcher := env.attach(t, env.addUser(capability.ViewEmergencyCall), amb.ID, RoleObserver)

	_, err = env.svc.AdvanceStatus(ctx, amb, tour.StatusArrive)
	requireCode(t, errs.ErrInvalidStatusTransition, err)

	got, err := env.svc.AdvanceStatus(ctx, amb, tour.StatusRide)
	require.Nil(t, err)
	require.Equal(t, tour.StatusRide, got.Status)

	msg := nextQueued(t, watcher)
	require.Equal(t, OpUpdateStatus, msg.Op)
	require.JSONEq(t, `{"status":"RIDE"}`, string(msg.Data))

	_, err = env.svc.AdvanceStatus(ctx, amb, tour.StatusRide)
	requireCode(t, errs.ErrInvalidStatusTransition, err)
}

func TestAdvanceStatusWithoutTour(t *testing.T) {
	env := newTestEnv(t, 0)
	amb := env.addAmbulance("x")

	_, err := env.svc.AdvanceStatus(context.Background(), amb, tour.StatusRide)
	requireCode(t, errs.ErrTourNotFound, err)
}

func TestAssignNearestHospital(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	env.places.hospital = &places.Hospital{Name: "Severance", Address: "Seoul", Distance: 1200}
	got, err := env.svc.AssignNearestHospital(ctx, amb)
	require.Nil(t, err)
	require.Equal(t, "Severance", got.Hospital.Name)
	require.Equal(t, 1200, *got.RemainDistance)

	env.places.hospital, env.places.err = nil, places.ErrNoHospital
	_, err = env.svc.AssignNearestHospital(ctx, amb)
	requireCode(t, errs.ErrHospitalNotFound, err)

	env.places.err = errors.New("dial tcp: timeout")
	_, err = env.svc.AssignNearestHospital(ctx, amb)
	requireCode(t, errs.ErrPlaceSearchFailed, err)
}

func TestTakeCall(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	owner := env.attach(t, amb, amb.ID, RoleOwner)

	hospitalUser := env.addUser(capability.TakeEmergencyCall)
	_, err = env.svc.TakeCall(ctx, hospitalUser, amb.ID)
	requireCode(t, errs.ErrHospitalNotFound, err)

	env.repo.AddHospital(user.Hospital{UserID: hospitalUser.ID, Name: "Asan", Address: "Songpa"})
	got, err := env.svc.TakeCall(ctx, hospitalUser, amb.ID)
	require.Nil(t, err)
	require.Equal(t, &tour.Hospital{Name: "Asan", Address: "Songpa"}, got.Hospital)

	msg := nextQueued(t, owner)
	require.Equal(t, OpUpdateData, msg.Op)

	_, err = env.svc.TakeCall(ctx, amb, amb.ID)
	requireCode(t, errs.ErrPermissionDenied, err)
}

func TestCloseTour(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	watcher := env.attach(t, env.addUser(capability.ViewEmergencyCall), amb.ID, RoleObserver)

	stranger := env.addUser(capability.UseEmergencyCall)
	requireCode(t, errs.ErrPermissionDenied, env.svc.CloseTour(ctx, stranger, amb.ID, ReasonCancelled))

	require.Nil(t, env.svc.CloseTour(ctx, amb, amb.ID, ReasonCompleted))

	msg := nextQueued(t, watcher)
	require.Equal(t, OpTourClosed, msg.Op)
	require.JSONEq(t, `{"reason":"completed"}`, string(msg.Data))
	require.Empty(t, env.hub.Subscribers(amb.ID))
	require.False(t, env.hub.Connected(watcher.user.ID))

	select {
	case <-watcher.done:
	default:
		t.Fatal("observer was not closed")
	}

	requireCode(t, errs.ErrTourNotFound, env.svc.CloseTour(ctx, amb, amb.ID, ReasonCompleted))
}

func TestCloseTourByManager(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	manager := env.addUser(capability.ManageEmergencyCall)
	require.Nil(t, env.svc.CloseTour(ctx, manager, amb.ID, ReasonCancelled))

	exists, storeErr := env.store.Exists(ctx, amb.ID)
	require.NoError(t, storeErr)
	require.False(t, exists)
}

func TestListTours(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	a, b := env.addAmbulance("a"), env.addAmbulance("b")
	_, err := env.svc.CreateTour(ctx, a, sampleRequest())
	require.Nil(t, err)
	_, err = env.svc.CreateTour(ctx, b, sampleRequest())
	require.Nil(t, err)

	_, err = env.svc.ListTours(ctx, a)
	requireCode(t, errs.ErrPermissionDenied, err)

	tours, err := env.svc.ListTours(ctx, env.addUser(capability.ViewEmergencyCall))
	require.Nil(t, err)
	require.Len(t, tours, 2)
	require.Equal(t, "b", tours[b.ID].LicenseNumber)
}

func TestAdmit(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")

	_, err := env.svc.Admit(ctx, "garbage", "")
	requireCode(t, errs.ErrUnauthenticated, err)

	_, err = env.svc.Admit(ctx, env.token(t, amb), "")
	requireCode(t, errs.ErrTourNotFound, err)
	require.Equal(t, 0, env.hub.Len())

	_, err = env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	adm, err := env.svc.Admit(ctx, env.token(t, amb), "")
	require.Nil(t, err)
	require.Equal(t, RoleOwner, adm.Role)
	require.Equal(t, amb.ID, adm.TourKey)

	other := env.addAmbulance("y")
	_, err = env.svc.Admit(ctx, env.token(t, other), amb.ID)
	requireCode(t, errs.ErrPermissionDenied, err)

	viewer := env.addUser(capability.ViewEmergencyCall)
	adm, err = env.svc.Admit(ctx, env.token(t, viewer), amb.ID)
	require.Nil(t, err)
	require.Equal(t, RoleObserver, adm.Role)
	require.Equal(t, amb.ID, adm.TourKey)
}

func TestCloseCodeFor(t *testing.T) {
	require.Equal(t, CloseUnauthenticated, CloseCodeFor(errs.NewError(errs.ErrUnauthenticated)))
	require.Equal(t, ClosePermissionDenied, CloseCodeFor(errs.NewError(errs.ErrPermissionDenied)))
	require.Equal(t, CloseNoActiveTour, CloseCodeFor(errs.NewError(errs.ErrTourNotFound)))
}

func TestHandleHello(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)
	c := env.attach(t, amb, amb.ID, RoleOwner)

	env.svc.handleMessage(c, []byte(`{"op":"HELLO","data":null}`))

	msg := nextQueued(t, c)
	require.Equal(t, OpHello, msg.Op)
	require.Empty(t, c.send)

	stored, storeErr := env.store.Get(ctx, amb.ID)
	require.NoError(t, storeErr)
	require.Nil(t, stored.CurrentLocation)
}

func TestHandleUpdateLocation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	owner := env.attach(t, amb, amb.ID, RoleOwner)
	watcher := env.attach(t, env.addUser(capability.ViewEmergencyCall), amb.ID, RoleObserver)

	env.svc.handleMessage(owner, []byte(`{"op":"UPDATE_LOCATION","data":{"location":"X","remain_distance":500}}`))

	stored, storeErr := env.store.Get(ctx, amb.ID)
	require.NoError(t, storeErr)
	require.Equal(t, "X", *stored.CurrentLocation)
	require.Equal(t, 500, *stored.RemainDistance)

	msg := nextQueued(t, watcher)
	require.Equal(t, OpUpdateData, msg.Op)
	var snapshot tour.Tour
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	require.Equal(t, "X", *snapshot.CurrentLocation)

	require.Equal(t, OpUpdateData, nextQueued(t, owner).Op)
}

func TestHandleUpdateLocationFromObserverIgnored(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	watcher := env.attach(t, env.addUser(capability.ViewEmergencyCall), amb.ID, RoleObserver)
	env.svc.handleMessage(watcher, []byte(`{"op":"UPDATE_LOCATION","data":{"current_location":"X"}}`))

	require.Empty(t, watcher.send)
	stored, storeErr := env.store.Get(ctx, amb.ID)
	require.NoError(t, storeErr)
	require.Nil(t, stored.CurrentLocation)
}

func TestHandleUpdateLocationErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)
	owner := env.attach(t, amb, amb.ID, RoleOwner)

	env.svc.handleMessage(owner, []byte(`{"op":"UPDATE_LOCATION","data":{"remain_distance":5}}`))
	msg := nextQueued(t, owner)
	require.Equal(t, OpError, msg.Op)
	require.JSONEq(t, `{"code":1001,"message":"Invalid request parameters."}`, string(msg.Data))

	env.mr.Close()
	env.svc.handleMessage(owner, []byte(`{"op":"UPDATE_LOCATION","data":{"current_location":"Y"}}`))
	msg = nextQueued(t, owner)
	require.Equal(t, OpError, msg.Op)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	require.Equal(t, errs.ErrStoreUnavailable, payload.Code)
	require.Empty(t, owner.send)
}

func TestHandleIgnoresUnknownAndInvalid(t *testing.T) {
	env := newTestEnv(t, 0)
	amb := env.addAmbulance("x")
	c := env.attach(t, amb, amb.ID, RoleOwner)

	env.svc.handleMessage(c, []byte(`{"op":"UPDATE_STATUS","data":{"status":"ARRIVE"}}`))
	env.svc.handleMessage(c, []byte(`{"op":"DANCE"}`))
	env.svc.handleMessage(c, []byte(`not json`))

	require.Empty(t, c.send)
	require.True(t, env.hub.Connected(amb.ID))
}

func TestAnnounce(t *testing.T) {
	env := newTestEnv(t, 0)
	a := env.attach(t, env.addUser(), "t1", RoleObserver)
	b := env.attach(t, env.addUser(), "t2", RoleObserver)
	manager := env.addUser(capability.ManageEmergencyCall)

	_, err := env.svc.Announce(a.user, "", "hi")
	requireCode(t, errs.ErrPermissionDenied, err)

	n, err := env.svc.Announce(manager, "", "road closed")
	require.Nil(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, OpNotice, nextQueued(t, a).Op)
	require.Equal(t, OpNotice, nextQueued(t, b).Op)

	n, err = env.svc.Announce(manager, b.user.ID, "only you")
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, a.send)

	_, err = env.svc.Announce(manager, "ghost", "hello?")
	requireCode(t, errs.ErrNotConnected, err)
}

type push struct {
	Op   Op              `json:"op"`
	Tour string          `json:"tour"`
	Data json.RawMessage `json:"data"`
}

func nextPush(t *testing.T, c *Client) push {
	t.Helper()
	select {
	case raw := <-c.send:
		var p push
		require.NoError(t, json.Unmarshal(raw, &p))
		return p
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return push{}
	}
}

// racingStore runs during once, right after the first Get has read the tour.
type racingStore struct {
	*tour.Store
	once   sync.Once
	during func()
}

func (r *racingStore) Get(ctx context.Context, userID string) (*tour.Tour, error) {
	t, err := r.Store.Get(ctx, userID)
	r.once.Do(r.during)
	return t, err
}

func TestSnapshotReloadedWhenPushLandsDuringRead(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, createErr := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, createErr)

	racing := &racingStore{Store: env.store}
	svc := NewService(ServiceDeps{
		Store:  racing,
		Hub:    env.hub,
		Guard:  user.NewGuard(env.repo, nil, testSecret),
		Repo:   env.repo,
		Places: env.places,
	})
	racing.during = func() {
		updated, err := env.store.Update(ctx, amb.ID, func(tr *tour.Tour) error {
			tr.SetLocation("newer", nil)
			return nil
		})
		require.NoError(t, err)
		svc.publish(amb.ID, OpUpdateData, updated)
	}

	watcher := env.attach(t, env.addUser(capability.ViewEmergencyCall), amb.ID, RoleObserver)
	svc.sendSnapshot(watcher, amb.ID)

	for range 2 {
		msg := nextPush(t, watcher)
		require.Equal(t, OpUpdateData, msg.Op)
		require.Equal(t, amb.ID, msg.Tour)
		var snapshot tour.Tour
		require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
		require.NotNil(t, snapshot.CurrentLocation)
		require.Equal(t, "newer", *snapshot.CurrentLocation)
	}
	require.Empty(t, watcher.send)
}

func TestSubscribeFollowsSeveralTours(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	first := env.addAmbulance("a")
	second := env.addAmbulance("b")
	for _, amb := range []*user.User{first, second} {
		_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
		require.Nil(t, err)
	}

	dash := env.attach(t, env.addUser(capability.ViewEmergencyCall), first.ID, RoleObserver)
	secondOwner := env.attach(t, second, second.ID, RoleOwner)

	env.svc.handleMessage(dash, []byte(`{"op":"SUBSCRIBE","data":{"user_id":"`+second.ID+`"}}`))
	msg := nextPush(t, dash)
	require.Equal(t, OpUpdateData, msg.Op)
	require.Equal(t, second.ID, msg.Tour)
	require.Contains(t, env.hub.Subscribers(second.ID), dash.user.ID)

	env.svc.handleMessage(secondOwner, []byte(`{"op":"UPDATE_LOCATION","data":{"current_location":"Z"}}`))
	msg = nextPush(t, dash)
	require.Equal(t, OpUpdateData, msg.Op)
	require.Equal(t, second.ID, msg.Tour)
	require.Equal(t, OpUpdateData, nextPush(t, secondOwner).Op)

	env.svc.handleMessage(dash, []byte(`{"op":"UNSUBSCRIBE","data":{"user_id":"`+second.ID+`"}}`))
	require.NotContains(t, env.hub.Subscribers(second.ID), dash.user.ID)
	require.Contains(t, env.hub.Subscribers(first.ID), dash.user.ID)

	env.svc.handleMessage(dash, []byte(`{"op":"UNSUBSCRIBE","data":{"user_id":"`+first.ID+`"}}`))
	msg = nextPush(t, dash)
	require.Equal(t, OpError, msg.Op)
	require.Contains(t, env.hub.Subscribers(first.ID), dash.user.ID)
}

func TestSubscribeErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	amb := env.addAmbulance("x")
	_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
	require.Nil(t, err)

	owner := env.attach(t, amb, amb.ID, RoleOwner)
	env.svc.handleMessage(owner, []byte(`{"op":"SUBSCRIBE","data":{"user_id":"someone"}}`))
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(nextPush(t, owner).Data, &payload))
	require.Equal(t, errs.ErrPermissionDenied, payload.Code)

	dash := env.attach(t, env.addUser(capability.ViewEmergencyCall), amb.ID, RoleObserver)
	env.svc.handleMessage(dash, []byte(`{"op":"SUBSCRIBE","data":{}}`))
	require.NoError(t, json.Unmarshal(nextPush(t, dash).Data, &payload))
	require.Equal(t, errs.ErrInvalidParams, payload.Code)

	env.svc.handleMessage(dash, []byte(`{"op":"SUBSCRIBE","data":{"user_id":"no-tour"}}`))
	require.NoError(t, json.Unmarshal(nextPush(t, dash).Data, &payload))
	require.Equal(t, errs.ErrTourNotFound, payload.Code)
	require.Empty(t, env.hub.Subscribers("no-tour"))
}

func TestCloseTourKeepsDashboardFollowingOtherTours(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	first := env.addAmbulance("a")
	second := env.addAmbulance("b")
	for _, amb := range []*user.User{first, second} {
		_, err := env.svc.CreateTour(ctx, amb, sampleRequest())
		require.Nil(t, err)
	}

	dashUser := env.addUser(capability.ViewEmergencyCall)
	dash := env.attach(t, dashUser, first.ID, RoleObserver)
	require.NoError(t, env.hub.Subscribe(second.ID, dashUser.ID))

	require.Nil(t, env.svc.CloseTour(ctx, second, second.ID, ReasonCompleted))

	msg := nextPush(t, dash)
	require.Equal(t, OpTourClosed, msg.Op)
	require.Equal(t, second.ID, msg.Tour)
	require.True(t, env.hub.Connected(dashUser.ID))
	require.Equal(t, []string{dashUser.ID}, env.hub.Subscribers(first.ID))
}
