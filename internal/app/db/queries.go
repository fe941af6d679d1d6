package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ultramedic/internal/app/user"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements user.Repository on PostgreSQL.
type Queries struct {
	db DBTX
}

var _ user.Repository = (*Queries)(nil)

// New wraps db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const selectUser = `SELECT id::text, username, email, password_hash, flags, created_at FROM users`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Flags, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// notFound maps "no rows" and malformed ids to target.
func notFound(err error, target error) error {
	if errors.Is(err, pgx.ErrNoRows) || IsInvalidText(err) {
		return target
	}
	return err
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (*user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, user.ErrUserNotFound
	}

	u, err := scanUser(q.db.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, user.ErrUserNotFound)
	}
	return u, nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, selectUser+` WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, notFound(err, user.ErrUserNotFound)
	}
	return u, nil
}

func (q *Queries) CreateUser(ctx context.Context, params user.NewUserParams) (*user.User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, flags)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, username, email, password_hash, flags, created_at`,
		uuid.NewString(), params.Username, params.Email, params.PasswordHash, params.Flags,
	)

	u, err := scanUser(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, user.ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (q *Queries) GetAmbulanceByUserID(ctx context.Context, userID string) (*user.Ambulance, error) {
	var a user.Ambulance
	err := q.db.QueryRow(ctx,
		`SELECT user_id::text, license_plate, driver FROM ambulances WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &a.LicensePlate, &a.Driver)
	if err != nil {
		return nil, notFound(err, user.ErrAmbulanceNotFound)
	}
	return &a, nil
}

func (q *Queries) GetHospitalByUserID(ctx context.Context, userID string) (*user.Hospital, error) {
	var h user.Hospital
	err := q.db.QueryRow(ctx,
		`SELECT user_id::text, name, address FROM hospitals WHERE user_id = $1`, userID,
	).Scan(&h.UserID, &h.Name, &h.Address)
	if err != nil {
		return nil, notFound(err, user.ErrHospitalNotFound)
	}
	return &h, nil
}

func (q *Queries) CreateRegisterCode(ctx context.Context, email, code string, expiredAt time.Time) (*user.RegisterCode, error) {
	var rc user.RegisterCode
	err := q.db.QueryRow(ctx, `
		INSERT INTO user_register_codes (id, email, code, expired_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, email, code, created_at, expired_at`,
		uuid.NewString(), email, code, expiredAt,
	).Scan(&rc.ID, &rc.Email, &rc.Code, &rc.CreatedAt, &rc.ExpiredAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, user.ErrRegisterCodeExists
		}
		return nil, fmt.Errorf("create register code: %w", err)
	}
	return &rc, nil
}

func (q *Queries) GetRegisterCode(ctx context.Context, code string) (*user.RegisterCode, error) {
	var rc user.RegisterCode
	err := q.db.QueryRow(ctx, `
		SELECT id::text, email, code, created_at, expired_at
		FROM user_register_codes
		WHERE code = $1 AND expired_at > now()`, code,
	).Scan(&rc.ID, &rc.Email, &rc.Code, &rc.CreatedAt, &rc.ExpiredAt)
	if err != nil {
		return nil, notFound(err, user.ErrRegisterCodeNotFound)
	}
	return &rc, nil
}

func (q *Queries) DeleteRegisterCode(ctx context.Context, id string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM user_register_codes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete register code: %w", err)
	}
	return nil
}
