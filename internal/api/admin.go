package api

import (
	"net/http"
	"strconv"

	"github.com/roach88/titlechain/internal/apperr"
)

// reconcile runs one sweep. ?dry_run=true only reports.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		var err error
		if dryRun, err = strconv.ParseBool(v); err != nil {
			s.fail(w, r, apperr.Wrap(apperr.KindInvalid, "api.reconcile", "dry_run", err))
			return
		}
	}

	run := s.recon.Sweep
	if dryRun {
		run = s.recon.DryRun
	}
	rep, err := run(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, rep)
}
