package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/titlechain/internal/citizen"
)

func (s *Server) registerCitizen(w http.ResponseWriter, r *http.Request) {
	var in citizen.RegisterInput
	if err := decodeValid(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.citizens.Register(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusCreated, c)
}

func (s *Server) listCitizens(w http.ResponseWriter, r *http.Request) {
	all, err := s.citizens.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, all)
}

func (s *Server) getCitizen(w http.ResponseWriter, r *http.Request) {
	c, err := s.citizens.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, c)
}
