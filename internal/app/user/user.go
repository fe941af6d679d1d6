/*
Package user contains the account model and the authentication and authorization guard.

Accounts, ambulances and hospitals live in the durable store (see package db); this
package only reads them through the Repository interface.
*/
package user

import (
	"context"
	"errors"
	"time"

	"ultramedic/internal/pkg/capability"
)

var (
	// ErrUserNotFound is returned when no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrAmbulanceNotFound is returned when no ambulance is bound to the user.
	ErrAmbulanceNotFound = errors.New("ambulance not found")

	// ErrHospitalNotFound is returned when no hospital is bound to the user.
	ErrHospitalNotFound = errors.New("hospital not found")

	// ErrRegisterCodeNotFound is returned for unknown or expired register codes.
	ErrRegisterCodeNotFound = errors.New("register code not found")

	// ErrUserExists is returned when the username or email is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrRegisterCodeExists is returned when a generated code collides.
	ErrRegisterCodeExists = errors.New("register code already exists")
)

// User is a registered account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Flags        int64
	CreatedAt    time.Time
}

// Capabilities decodes the stored flags.
func (u *User) Capabilities() capability.Set {
	return capability.Decode(u.Flags)
}

// Ambulance binds a field user to its vehicle.
type Ambulance struct {
	UserID       string
	LicensePlate string
	Driver       string
}

// Hospital binds a hospital user to its facility.
type Hospital struct {
	UserID  string
	Name    string
	Address string
}

// RegisterCode is a one-time sign-up code bound to an email address.
type RegisterCode struct {
	ID        string
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiredAt time.Time
}

// NewUserParams holds the fields of a new account.
type NewUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	Flags        int64
}

// Repository is the durable store as seen by the dispatch server.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, params NewUserParams) (*User, error)
	GetAmbulanceByUserID(ctx context.Context, userID string) (*Ambulance, error)
	GetHospitalByUserID(ctx context.Context, userID string) (*Hospital, error)
	CreateRegisterCode(ctx context.Context, email, code string, expiredAt time.Time) (*RegisterCode, error)
	GetRegisterCode(ctx context.Context, code string) (*RegisterCode, error)
	DeleteRegisterCode(ctx context.Context, id string) error
}
