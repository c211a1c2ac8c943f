package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"service-dispatch/internal/domain"
	"service-dispatch/internal/logx"
)

// DriverHandler serves HTTP endpoints for driver resources.
type DriverHandler struct {
	uc     driverUsecase
	stats  statsUsecase
	logger logx.Logger
}

// NewDriverHandler wires the dispatch engine into driver endpoints.
func NewDriverHandler(uc driverUsecase, stats statsUsecase, logger logx.Logger) *DriverHandler {
	return &DriverHandler{uc: uc, stats: stats, logger: loggerOrNop(logger)}
}

// Register handles POST /drivers.
func (h *DriverHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	d, err := h.uc.RegisterDriver(r.Context(), req.ID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	w.Header().Set("Location", "/drivers/"+d.ID)
	writeJSON(h.logger, w, r, http.StatusCreated, toDriver(d))
}

// Get handles GET /drivers/{id}.
func (h *DriverHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	d, err := h.uc.Driver(r.Context(), id)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toDriver(d))
}

// SetOnline handles POST /drivers/{id}/online.
func (h *DriverHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req onlineRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	if req.Online == nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "online is required")
		return
	}
	d, err := h.uc.SetOnline(r.Context(), id, *req.Online)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toDriver(d))
}

// SetAvailability handles POST /drivers/{id}/availability.
func (h *DriverHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	if req.Available == nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "available is required")
		return
	}
	d, err := h.uc.SetAvailability(r.Context(), id, *req.Available)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toDriver(d))
}

// UpdateLocation handles POST /drivers/{id}/location.
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req locationDTO
	if ok := decodeJSON(h.logger, w, r, &req); !ok {
		return
	}
	d, err := h.uc.UpdateLocation(r.Context(), id, req.toModel())
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toDriver(d))
}

// Release handles POST /drivers/{id}/release, the operator path that fails
// the driver's current request.
func (h *DriverHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if r.ContentLength != 0 {
		if ok := decodeJSON(h.logger, w, r, &req); !ok {
			return
		}
	}
	operator := req.OperatorID
	if operator == "" {
		operator = actorID(r)
	}
	res, err := h.uc.ForceRelease(r.Context(), id, operator)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toRequest(res))
}

// Offers handles GET /drivers/{id}/offers.
func (h *DriverHandler) Offers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	offers, err := h.uc.ActiveOffers(r.Context(), id)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toOffers(offers))
}

// Stats handles GET /drivers/{id}/stats.
func (h *DriverHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	s, err := h.stats.DriverStats(r.Context(), id)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toStats(s))
}

// Nearby handles GET /drivers/nearby?lat=&lng=&radius_km=.
func (h *DriverHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(q.Get("lat")), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(q.Get("lng")), 64)
	if errLat != nil || errLng != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "lat and lng are required")
		return
	}
	var radius float64
	if s := strings.TrimSpace(q.Get("radius_km")); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			writeError(h.logger, w, r, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = v
	}
	list, err := h.uc.Nearby(r.Context(), domain.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(h.logger, w, r, http.StatusOK, toNearby(list))
}

func (h *DriverHandler) id(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := idFromURL(r, "id")
	if err != nil {
		writeError(h.logger, w, r, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}
