// Package usertest provides an in-memory user.Repository for tests.
package usertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ultramedic/internal/app/user"
)

// Repo is a concurrency-safe in-memory user.Repository.
type Repo struct {
	mu            sync.Mutex
	users         map[string]user.User
	ambulances    map[string]user.Ambulance
	hospitals     map[string]user.Hospital
	registerCodes map[string]user.RegisterCode

	// Err, when set, is returned by every lookup.
	Err error
}

// NewRepo returns an empty repository.
func NewRepo() *Repo {
	return &Repo{
		users:         make(map[string]user.User),
		ambulances:    make(map[string]user.Ambulance),
		hospitals:     make(map[string]user.Hospital),
		registerCodes: make(map[string]user.RegisterCode),
	}
}

// AddUser stores u, assigning an id when empty, and returns the stored copy.
func (r *Repo) AddUser(u user.User) *user.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	r.users[u.ID] = u
	return &u
}

// AddAmbulance binds an ambulance to a user.
func (r *Repo) AddAmbulance(a user.Ambulance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ambulances[a.UserID] = a
}

// AddHospital binds a hospital to a user.
func (r *Repo) AddHospital(h user.Hospital) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hospitals[h.UserID] = h
}

// DeleteUser removes the account with id.
func (r *Repo) DeleteUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

func (r *Repo) GetUserByID(_ context.Context, id string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &u, nil
}

func (r *Repo) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (r *Repo) CreateUser(_ context.Context, params user.NewUserParams) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.users {
		if u.Username == params.Username || strings.EqualFold(u.Email, params.Email) {
			return nil, user.ErrUserExists
		}
	}
	u := user.User{
		ID:           uuid.NewString(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		Flags:        params.Flags,
		CreatedAt:    time.Now(),
	}
	r.users[u.ID] = u
	return &u, nil
}

func (r *Repo) GetAmbulanceByUserID(_ context.Context, userID string) (*user.Ambulance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	a, ok := r.ambulances[userID]
	if !ok {
		return nil, user.ErrAmbulanceNotFound
	}
	return &a, nil
}

func (r *Repo) GetHospitalByUserID(_ context.Context, userID string) (*user.Hospital, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	h, ok := r.hospitals[userID]
	if !ok {
		return nil, user.ErrHospitalNotFound
	}
	return &h, nil
}

func (r *Repo) CreateRegisterCode(_ context.Context, email, code string, expiredAt time.Time) (*user.RegisterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	if _, exists := r.registerCodes[code]; exists {
		return nil, user.ErrRegisterCodeExists
	}
	rc := user.RegisterCode{
		ID:        uuid.NewString(),
		Email:     email,
		Code:      code,
		CreatedAt: time.Now(),
		ExpiredAt: expiredAt,
	}
	r.registerCodes[code] = rc
	return &rc, nil
}

func (r *Repo) GetRegisterCode(_ context.Context, code string) (*user.RegisterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	rc, ok := r.registerCodes[code]
	if !ok || time.Now().After(rc.ExpiredAt) {
		return nil, user.ErrRegisterCodeNotFound
	}
	return &rc, nil
}

func (r *Repo) DeleteRegisterCode(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, rc := range r.registerCodes {
		if rc.ID == id {
			delete(r.registerCodes, code)
		}
	}
	return nil
}
