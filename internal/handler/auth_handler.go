/*
Package handler provides HTTP handler functions for user authentication and management.
*/
package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ultramedic/internal/app/user"
	"ultramedic/internal/pkg/auth/jwt"
	"ultramedic/internal/pkg/capability"
	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/logx"
	"ultramedic/internal/pkg/randx"
	"ultramedic/internal/pkg/req"
	"ultramedic/internal/pkg/resp"
)

const (
	// RegisterCodeLifetime is how long a sign-up code stays valid.
	RegisterCodeLifetime = 2 * 24 * time.Hour

	registerCodeAttempts = 5
)

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// HandleLogin verifies user credentials and issues a JWT token. Ambulance
// accounts get a long-lived token; every token is registered as a session.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		dbUser, err := deps.Users.GetUserByEmail(r.Context(), input.Email)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				logx.Warn("login: unknown email")
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable, err))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(dbUser.PasswordHash), []byte(input.Password)); err != nil {
			logx.Warn("login: password mismatch", "user_id", dbUser.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		lifetime := jwt.UserIdentityExpiration
		if dbUser.Capabilities().Has(capability.UseEmergencyCall) {
			lifetime = jwt.FieldClientExpiration
		}

		tokenString, expiresAt, err := jwt.GenerateToken(dbUser.ID, dbUser.Username, deps.Config.JWTSecret, lifetime)
		if err != nil {
			logx.Error(err, "failed to generate token on login")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		if err := deps.Sessions.Register(r.Context(), tokenString, dbUser.ID, expiresAt); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable, err))
			return
		}

		logx.Info("login succeeded", "user_id", dbUser.ID)
		resp.RespondSuccess(w, r, map[string]any{
			"token":      tokenString,
			"expires_at": expiresAt.Format(time.RFC3339),
		})
	}
}

// HandleLogout revokes the session of the presented token.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		if err := deps.Sessions.Revoke(r.Context(), jwt.TokenFromRequest(r)); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable, err))
			return
		}

		logx.Info("logout succeeded", "user_id", u.ID)
		resp.RespondSuccess(w, r, nil)
	}
}

type RegisterCodeInput struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleCreateRegisterCode issues a one-time sign-up code bound to an email.
func HandleCreateRegisterCode(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		if authErr := deps.Guard.Authorize(u, capability.CreateRegisterCode); authErr != nil {
			resp.RespondError(w, r, authErr)
			return
		}

		var input RegisterCodeInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		expiresAt := time.Now().Add(RegisterCodeLifetime)
		for range registerCodeAttempts {
			code, err := randx.RegisterCode()
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
				return
			}

			rc, err := deps.Users.CreateRegisterCode(r.Context(), strings.ToLower(input.Email), code, expiresAt)
			if errors.Is(err, user.ErrRegisterCodeExists) {
				continue
			}
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable, err))
				return
			}

			logx.Info("register code issued", "issued_by", u.ID)
			resp.RespondSuccess(w, r, map[string]any{
				"register_code": rc.Code,
				"expires_at":    rc.ExpiredAt.Format(time.RFC3339),
			})
			return
		}

		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, errors.New("register code space exhausted")))
	}
}

type RegisterInput struct {
	Username     string `json:"username" validate:"required,alphanum,min=4,max=20"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	RegisterCode string `json:"register_code" validate:"required,len=6,alphanum"`
}

// HandleRegister creates an account from a valid sign-up code. New accounts
// hold no capabilities until an operator grants them.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input RegisterInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		email := strings.ToLower(input.Email)

		rc, err := deps.Users.GetRegisterCode(r.Context(), input.RegisterCode)
		if err != nil {
			if errors.Is(err, user.ErrRegisterCodeNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidRegisterCode))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable, err))
			return
		}

		if rc.Email != email {
			logx.Warn("register: code used with another email")
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidRegisterCode))
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		created, err := deps.Users.CreateUser(r.Context(), user.NewUserParams{
			Username:     input.Username,
			Email:        email,
			PasswordHash: string(hashedPassword),
		})
		if err != nil {
			if errors.Is(err, user.ErrUserExists) {
				logx.Warn("registration conflict: username or email already exists", "username", input.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable, err))
			return
		}

		if err := deps.Users.DeleteRegisterCode(r.Context(), rc.ID); err != nil {
			logx.Error(err, "register: failed to consume register code", "user_id", created.ID)
		}

		logx.Info("registration succeeded", "user_id", created.ID)
		resp.RespondSuccess(w, r, map[string]any{"user_id": created.ID})
	}
}
