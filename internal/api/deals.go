package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/model"
)

type stageRequest struct {
	Stage    model.StageName   `json:"stage" validate:"required"`
	Metadata map[string]string `json:"metadata"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) openDeal(w http.ResponseWriter, r *http.Request) {
	var in deal.OpenInput
	if err := decodeValid(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.deals.Open(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusCreated, d)
}

// listDeals serves ?party=<uuid> (deals the party buys or sells) and
// ?stage=COMPLETED.
func (s *Server) listDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		deals []model.Deal
		err   error
	)
	switch {
	case q.Get("party") != "":
		deals, err = s.deals.ListForParty(r.Context(), q.Get("party"))
	case model.StageName(q.Get("stage")) == model.StageCompleted:
		deals, err = s.deals.ListCompleted(r.Context())
	default:
		err = apperr.New(apperr.KindInvalid, "api.listDeals", "", "query needs party=<uuid> or stage=COMPLETED")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, deals)
}

func (s *Server) getDeal(w http.ResponseWriter, r *http.Request) {
	d, err := s.deals.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, d)
}

// advanceDeal appends a stage. COMPLETED goes through the transfer
// coordinator so ownership moves with it.
func (s *Server) advanceDeal(w http.ResponseWriter, r *http.Request) {
	var in stageRequest
	if err := decodeValid(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	dealUUID := chi.URLParam(r, "uuid")

	if in.Stage == model.StageCompleted {
		out, err := s.coord.Complete(r.Context(), dealUUID, in.Metadata)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, out)
		return
	}

	d, err := s.deals.Advance(r.Context(), dealUUID, in.Stage, in.Metadata)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, d)
}

func (s *Server) accrue(w http.ResponseWriter, r *http.Request) {
	var in paymentRequest
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.deals.Accrue(r.Context(), chi.URLParam(r, "uuid"), in.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, d)
}

// appendMessages takes a JSON array of messages.
func (s *Server) appendMessages(w http.ResponseWriter, r *http.Request) {
	var in []deal.MessageInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.deals.AppendMessages(r.Context(), chi.URLParam(r, "uuid"), in...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]int{"added": n})
}

func (s *Server) attachDocument(w http.ResponseWriter, r *http.Request) {
	var doc model.Document
	if err := decodeValid(r, &doc); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.deals.AttachDocument(r.Context(), chi.URLParam(r, "uuid"), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) setContract(w http.ResponseWriter, r *http.Request) {
	var doc model.Document
	if err := decodeValid(r, &doc); err != nil {
		s.fail(w, r, err)
		return
	}
	kind := model.ContractKind(chi.URLParam(r, "kind"))
	d, err := s.deals.SetContract(r.Context(), chi.URLParam(r, "uuid"), kind, doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, d)
}
