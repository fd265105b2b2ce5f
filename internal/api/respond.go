package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/model"
)

// maxBody bounds request bodies. Asset payloads carry document and image
// URLs, never file contents.
const maxBody = 1 << 20

// Envelope is the response body for every JSON endpoint. Status is "ok",
// "accepted" (the relational write stuck but the ledger mirror is pending,
// Error says why) or "error".
type Envelope struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// APIError is the error part of an Envelope. Code is the apperr kind, or
// INTERNAL.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Status: "ok", Data: data})
}

// accepted reports data that was stored while err (a ledger failure) left
// the mirror for reconciliation.
func accepted(w http.ResponseWriter, data any, err error) {
	writeJSON(w, http.StatusAccepted, Envelope{Status: "accepted", Data: data, Error: toAPIError(err)})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, Envelope{Status: "error", Error: toAPIError(err)})
}

func toAPIError(err error) *APIError {
	code := string(apperr.KindOf(err))
	if code == "" {
		code = "INTERNAL"
	}
	return &APIError{Code: code, Message: err.Error()}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyExists, apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindLedgerTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v, rejecting unknown fields and trailing
// data.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindInvalid, "api.decode", "", fmt.Errorf("request body: %w", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.New(apperr.KindInvalid, "api.decode", "", "request body must hold a single JSON value")
	}
	return nil
}

// decodeValid decodes a struct body and checks its validate tags.
func decodeValid(r *http.Request, v any) error {
	if err := decode(r, v); err != nil {
		return err
	}
	return model.Validate(v)
}
