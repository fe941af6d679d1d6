/*
Package handler provides HTTP handler functions for the emergency call (tour) lifecycle.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ultramedic/internal/app/dispatch"
	"ultramedic/internal/app/tour"
	"ultramedic/internal/pkg/errs"
	"ultramedic/internal/pkg/req"
	"ultramedic/internal/pkg/resp"
)

// HandleCreateCall starts a tour for the calling ambulance.
func HandleCreateCall(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		var input dispatch.CreateTourRequest
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		t, createErr := deps.Dispatch.CreateTour(r.Context(), u, input)
		if createErr != nil {
			resp.RespondError(w, r, createErr)
			return
		}

		resp.RespondSuccess(w, r, t)
	}
}

// HandleGetCall returns the caller's own tour.
func HandleGetCall(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		t, getErr := deps.Dispatch.GetTour(r.Context(), u)
		if getErr != nil {
			resp.RespondError(w, r, getErr)
			return
		}

		resp.RespondSuccess(w, r, t)
	}
}

// HandleListCalls returns every active tour keyed by owner id.
func HandleListCalls(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		tours, listErr := deps.Dispatch.ListTours(r.Context(), u)
		if listErr != nil {
			resp.RespondError(w, r, listErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"calls": tours})
	}
}

// HandleFindHospital matches the nearest emergency room to the caller's tour.
func HandleFindHospital(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		t, findErr := deps.Dispatch.AssignNearestHospital(r.Context(), u)
		if findErr != nil {
			resp.RespondError(w, r, findErr)
			return
		}

		resp.RespondSuccess(w, r, t)
	}
}

type StatusInput struct {
	Status string `json:"status" validate:"required,oneof=READY RIDE ARRIVE"`
}

// HandleAdvanceStatus moves the caller's tour to the next status.
func HandleAdvanceStatus(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		var input StatusInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		next, err := tour.ParseStatus(input.Status)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		t, advanceErr := deps.Dispatch.AdvanceStatus(r.Context(), u, next)
		if advanceErr != nil {
			resp.RespondError(w, r, advanceErr)
			return
		}

		resp.RespondSuccess(w, r, t)
	}
}

// HandleTakeCall binds the calling hospital to the tour of {userID}.
func HandleTakeCall(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		t, takeErr := deps.Dispatch.TakeCall(r.Context(), u, chi.URLParam(r, "userID"))
		if takeErr != nil {
			resp.RespondError(w, r, takeErr)
			return
		}

		resp.RespondSuccess(w, r, t)
	}
}

// HandleCompleteCall ends the caller's own tour.
func HandleCompleteCall(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		if closeErr := deps.Dispatch.CloseTour(r.Context(), u, u.ID, dispatch.ReasonCompleted); closeErr != nil {
			resp.RespondError(w, r, closeErr)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}

// HandleCancelCall ends the tour of {userID} on behalf of an operator.
func HandleCancelCall(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		if closeErr := deps.Dispatch.CloseTour(r.Context(), u, chi.URLParam(r, "userID"), dispatch.ReasonCancelled); closeErr != nil {
			resp.RespondError(w, r, closeErr)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}

type NoticeInput struct {
	Message string `json:"message" validate:"required,max=500"`
	UserID  string `json:"user_id,omitempty"`
}

// HandleNotice pushes an operator notice to one live channel or to all of them.
func HandleNotice(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(w, r)
		if u == nil {
			return
		}

		var input NoticeInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		delivered, noticeErr := deps.Dispatch.Announce(u, input.UserID, input.Message)
		if noticeErr != nil {
			resp.RespondError(w, r, noticeErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"delivered": delivered})
	}
}
