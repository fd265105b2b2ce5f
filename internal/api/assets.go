package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/registry"
)

type listingRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (s *Server) createAsset(w http.ResponseWriter, r *http.Request) {
	var in registry.AssetInput
	if err := decodeValid(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.reg.CreateAsset(r.Context(), in)
	switch {
	case err == nil:
		ok(w, http.StatusCreated, a)
	case a.UUID != "" && apperr.Retryable(err):
		accepted(w, a, err)
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.reg.All(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, assets)
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.reg.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, a)
}

func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request) {
	var in registry.UpdateInput
	if err := decodeValid(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.reg.UpdateAsset(r.Context(), chi.URLParam(r, "uuid"), in)
	switch {
	case err == nil:
		ok(w, http.StatusOK, a)
	case a.UUID != "" && apperr.Retryable(err):
		accepted(w, a, err)
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) deleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.DeleteAsset(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAsset(w http.ResponseWriter, r *http.Request) {
	var in listingRequest
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.reg.ListAsset(r.Context(), chi.URLParam(r, "uuid"), in.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, a)
}

func (s *Server) delistAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.reg.DelistAsset(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, a)
}

func (s *Server) assetsByOwner(w http.ResponseWriter, r *http.Request) {
	assets, err := s.reg.ByOwner(r.Context(), chi.URLParam(r, "ownerUUID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, assets)
}

func (s *Server) marketplace(w http.ResponseWriter, r *http.Request) {
	assets, err := s.reg.Listed(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, assets)
}
