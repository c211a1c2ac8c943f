package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/logx"
)

func reqID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return "-"
}

func writeJSON(logger logx.Logger, w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		loggerOrNop(logger).Warn("json encode error",
			logx.String("req_id", reqID(r.Context())),
			logx.Err(err),
		)
	}
}

type errResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(logger logx.Logger, w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeErrorKind(logger, w, r, status, msg, "")
}

func writeErrorKind(logger logx.Logger, w http.ResponseWriter, r *http.Request, status int, msg string, kind apperr.Kind) {
	loggerOrNop(logger).Info("http error",
		logx.String("req_id", reqID(r.Context())),
		logx.Int("status", status),
		logx.String("kind", string(kind)),
		logx.String("msg", msg),
	)
	writeJSON(logger, w, r, status, errResponse{Error: msg, Kind: string(kind)})
}

// writeAppError maps a dispatch error to its HTTP status.
func writeAppError(logger logx.Logger, w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerOrNop(logger).Error("internal error",
			logx.String("req_id", reqID(r.Context())),
			logx.String("path", r.URL.Path),
			logx.Err(err),
		)
		msg = "internal error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status, msg = http.StatusGatewayTimeout, "timeout"
	}
	writeErrorKind(logger, w, r, status, msg, kind)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflictActiveRequest, apperr.KindAlreadyClaimed, apperr.KindAlreadyCancelled:
		return http.StatusConflict
	case apperr.KindPreconditionFailed, apperr.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case apperr.KindOfferExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

const (
	bodyLimit = 1 << 20
)

func decodeJSON[T any](logger logx.Logger, w http.ResponseWriter, r *http.Request, dst *T) bool {
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeErrorKind(logger, w, r, http.StatusBadRequest, "invalid json", apperr.KindInvalid)
		return false
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		writeErrorKind(logger, w, r, http.StatusBadRequest, "invalid json: trailing data", apperr.KindInvalid)
		return false
	}
	return true
}

func idFromURL(r *http.Request, name string) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		return "", errors.New("invalid id")
	}
	return id, nil
}

// actorID returns the caller identity from the X-Actor-ID header.
func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-ID"))
}

func loggerOrNop(l logx.Logger) logx.Logger {
	if l == nil {
		return logx.Nop()
	}
	return l
}
