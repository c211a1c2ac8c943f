package handlers

import (
	"context"
	"net/http"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// RequestHandler serves HTTP endpoints for dispatch requests.
type RequestHandler struct {
	uc     requestUsecase
	logger logx.Logger
}

// NewRequestHandler wires the dispatch engine into request endpoints.
func NewRequestHandler(uc requestUsecase, logger logx.Logger) *RequestHandler {
	return &RequestHandler{uc: uc, logger: loggerOrNop(logger)}
}

// Submit handles POST /requests.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	if req.Pickup == nil || req.Dropoff == nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "pickup and dropoff are required")
		return
	}
	res, err := h.uc.Submit(r.Context(), domain.Request{
		ID:         req.ID,
		CustomerID: req.CustomerID,
		Pickup:     req.Pickup.toModel(),
		Dropoff:    req.Dropoff.toModel(),
		Fare:       req.Fare,
	})
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	w.Header().Set("Location", "/requests/"+res.ID)
	writeJSON(h.logger, w, r, http.StatusCreated, toRequest(res))
}

// Get handles GET /requests/{id}.
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	res, err := h.uc.Get(r.Context(), id)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toRequest(res))
}

// Broadcast handles POST /requests/{id}/broadcast and returns the offers made.
func (h *RequestHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	offers, err := h.uc.Broadcast(r.Context(), id)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toOffers(offers))
}

// Accept handles POST /requests/{id}/accept.
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.driverAction(w, r, h.uc.AcceptOffer)
}

// Reject handles POST /requests/{id}/reject.
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.driverAction(w, r, h.uc.RejectOffer)
}

// Advance handles POST /requests/{id}/advance.
func (h *RequestHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	next, valid := domain.ParseRequestStatus(req.Status)
	if !valid {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid status")
		return
	}
	driverID := req.DriverID
	if driverID == "" {
		driverID = actorID(r)
	}
	res, err := h.uc.Advance(r.Context(), id, next, driverID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toRequest(res))
}

// Cancel handles POST /requests/{id}/cancel.
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if ok := decodeJSON(h.logger, w, r, &req); !ok {
			return
		}
	}
	actor := req.ActorID
	if actor == "" {
		actor = actorID(r)
	}
	res, err := h.uc.Cancel(r.Context(), id, actor)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toRequest(res))
}

// ETA handles GET /requests/{id}/eta.
func (h *RequestHandler) ETA(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	est, err := h.uc.ETA(r.Context(), id)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toETA(est))
}

// Rate handles POST /requests/{id}/rating.
func (h *RequestHandler) Rate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req ratingRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	trip, err := h.uc.Rate(r.Context(), id, req.Stars)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toTrip(trip))
}

type driverActionFunc func(ctx context.Context, requestID, driverID string) (domain.Request, error)

func (h *RequestHandler) driverAction(w http.ResponseWriter, r *http.Request, fn driverActionFunc) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req driverActionRequest
	if r.ContentLength != 0 {
		if ok := decodeJSON(h.logger, w, r, &req); !ok {
			return
		}
	}
	driverID := req.DriverID
	if driverID == "" {
		driverID = actorID(r)
	}
	if driverID == "" {
		writeError(h.logger, w, r, http.StatusBadRequest, "driver_id is required")
		return
	}
	res, err := fn(r.Context(), id, driverID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toRequest(res))
}

func (h *RequestHandler) id(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := idFromURL(r, "id")
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}
