package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/clock"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/model"
	"github.com/roach88/titlechain/internal/observability"
	"github.com/roach88/titlechain/internal/registry"
	"github.com/roach88/titlechain/internal/store"
)

// Action kinds recorded in a Report.
const (
	ActionResubmit      = "resubmit_transfer"
	ActionForwardApply  = "forward_apply"
	ActionResume        = "resume_transfer"
	ActionMirrorCreate  = "mirror_create"
	ActionMirrorUpdate  = "mirror_update"
	ActionAdoptOwner    = "adopt_ledger_owner"
	ActionDeleteOrphan  = "delete_orphan"
	ActionCorruptRecord = "corrupt_record"
)

// Action is one repair the sweep made, or would make in a dry run.
type Action struct {
	Kind   string `json:"kind"`
	Key    string `json:"key"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Divergence is an asset whose registry owner disagrees with the ledger
// without a pending transfer to explain it.
type Divergence struct {
	AssetUUID     string `json:"assetUUID"`
	RegistryOwner string `json:"registryOwner"`
	LedgerOwner   string `json:"ledgerOwner"`
}

// Report summarizes one sweep.
type Report struct {
	DryRun      bool          `json:"dryRun"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Actions     []Action      `json:"actions"`
	Divergences []Divergence  `json:"divergences"`
}

// Count returns how many actions of kind the sweep recorded.
func (r Report) Count(kind string) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Failed returns how many actions ended in an error.
func (r Report) Failed() int {
	n := 0
	for _, a := range r.Actions {
		if a.Error != "" {
			n++
		}
	}
	return n
}

// Reconciler closes gaps between the relational store and the ledger.
type Reconciler struct {
	store    *store.Store
	ledger   ledger.Client
	registry *registry.Registry
	coord    *Coordinator
	metrics  *observability.Metrics
	clock    clock.Clock
	log      zerolog.Logger
}

// NewReconciler creates a Reconciler. metrics may be nil.
func NewReconciler(s *store.Store, lc ledger.Client, reg *registry.Registry, coord *Coordinator, m *observability.Metrics, opts ...Option) *Reconciler {
	o := buildOptions(opts)
	return &Reconciler{
		store:    s,
		ledger:   lc,
		registry: reg,
		coord:    coord,
		metrics:  m,
		clock:    o.clock,
		log:      o.log,
	}
}

// Sweep detects and repairs every inconsistency it can. Individual repair
// failures are recorded in the report and the sweep goes on; the returned
// error is reserved for failures that stop the sweep itself.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	return r.sweep(ctx, false)
}

// DryRun detects inconsistencies without changing either store.
func (r *Reconciler) DryRun(ctx context.Context) (Report, error) {
	return r.sweep(ctx, true)
}

// Run sweeps every interval until ctx ends. With immediate set the first
// sweep runs at once.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, immediate bool) {
	if immediate {
		r.runOnce(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	rep, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error().Err(err).Msg("reconcile sweep aborted")
		}
		return
	}
	ev := r.log.Info()
	if len(rep.Actions) > 0 || len(rep.Divergences) > 0 {
		ev = r.log.Warn()
	}
	ev.Int("actions", len(rep.Actions)).Int("failed", rep.Failed()).
		Int("divergences", len(rep.Divergences)).Dur("took", rep.Duration).Msg("reconcile sweep finished")
}

type sweep struct {
	*Reconciler
	ctx    context.Context
	dryRun bool
	report *Report
}

func (r *Reconciler) sweep(ctx context.Context, dryRun bool) (Report, error) {
	rep := Report{
		DryRun:      dryRun,
		StartedAt:   r.clock.Now(),
		Actions:     []Action{},
		Divergences: []Divergence{},
	}
	s := &sweep{Reconciler: r, ctx: ctx, dryRun: dryRun, report: &rep}
	r.metrics.ReconcileRun()

	steps := []func() error{s.pendingIntents, s.completedDeals, s.assets}
	for _, step := range steps {
		if err := step(); err != nil {
			return rep, err
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
	}
	rep.Duration = r.clock.Now().Sub(rep.StartedAt)
	return rep, nil
}

func (s *sweep) record(a Action, err error) {
	if err != nil {
		a.Error = err.Error()
	}
	s.report.Actions = append(s.report.Actions, a)
	if !s.dryRun {
		s.metrics.ReconcileAction(a.Kind)
	}
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("action", a.Kind).Str("key", a.Key).Str("detail", a.Detail).Bool("dry_run", s.dryRun).Msg("reconcile")
}

// pendingIntents resubmits every ledger transfer that was never confirmed.
// The deal UUID is the transaction ID, so an already committed transfer
// comes back as a replay and nothing is applied twice.
func (s *sweep) pendingIntents() error {
	pending, err := s.store.ListTransfers(s.ctx, model.TransferRegistryApplied)
	if err != nil {
		return err
	}
	for _, t := range pending {
		a := Action{Kind: ActionResubmit, Key: t.DealUUID, Detail: t.AssetUUID + " -> " + t.To.UUID}
		if s.dryRun {
			s.record(a, nil)
			continue
		}
		res, err := s.coord.commitLedger(s.ctx, t)
		if err == nil && res.Replayed {
			a.Detail += " (already committed)"
		}
		s.record(a, err)
	}
	return nil
}

// completedDeals finishes deals that reached COMPLETED but never recorded
// an intent, which happens when the process stopped right after the stage
// append.
func (s *sweep) completedDeals() error {
	deals, err := s.store.ListDeals(s.ctx, store.DealFilter{Stage: model.StageCompleted})
	if err != nil {
		return err
	}
	for _, d := range deals {
		_, err := s.store.GetTransfer(s.ctx, d.UUID)
		if err == nil {
			continue
		}
		if !apperr.IsNotFound(err) {
			return err
		}

		owner, err := s.ledgerOwner(d.AssetUUID)
		if err == nil && owner == d.Buyer.UUID {
			s.record(Action{Kind: ActionForwardApply, Key: d.UUID, Detail: d.AssetUUID + " -> " + owner},
				s.forwardApply(d))
			continue
		}

		a := Action{Kind: ActionResume, Key: d.UUID, Detail: d.AssetUUID + " -> " + d.Buyer.UUID}
		if s.dryRun {
			s.record(a, nil)
			continue
		}
		_, err = s.coord.resume(s.ctx, d)
		s.record(a, err)
	}
	return nil
}

// forwardApply brings the registry in line with a ledger that already shows
// the buyer and records the intent as committed.
func (s *sweep) forwardApply(d model.Deal) error {
	if s.dryRun {
		return nil
	}
	a, err := s.store.GetAsset(s.ctx, d.AssetUUID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	t := model.Transfer{
		DealUUID:  d.UUID,
		AssetUUID: a.UUID,
		From:      a.Owner,
		To:        d.Buyer,
		Status:    model.TransferLedgerCommitted,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.Owner.UUID == d.Buyer.UUID {
		_, err = s.store.RecordTransfer(s.ctx, t)
		return err
	}
	_, _, err = s.store.ApplyTransfer(s.ctx, t)
	return err
}

// assets compares every registry asset with its ledger record and removes
// ledger records whose asset is gone. The ledger snapshot is older than the
// registry reads that follow it, so an owner mismatch is only acted on once
// recheckOwner confirms it.
func (s *sweep) assets() error {
	entries := make(map[string]ledger.Entry)
	for key, e := range s.ledger.Scan(s.ctx) {
		entries[key] = e
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	pending, err := s.store.ListTransfers(s.ctx, model.TransferRegistryApplied)
	if err != nil {
		return err
	}
	inFlight := make(map[string]bool, len(pending))
	for _, t := range pending {
		inFlight[t.AssetUUID] = true
	}

	assets, err := s.store.ListAssets(s.ctx, store.AssetFilter{})
	if err != nil {
		return err
	}
	for _, a := range assets {
		e, ok := entries[a.UUID]
		delete(entries, a.UUID)
		if err := s.compare(a, e, ok, inFlight[a.UUID]); err != nil {
			return err
		}
	}

	for key := range entries {
		// Registered after the asset list was read.
		if _, err := s.store.GetAsset(s.ctx, key); err == nil {
			continue
		} else if !apperr.IsNotFound(err) {
			return err
		}
		act := Action{Kind: ActionDeleteOrphan, Key: key}
		var err error
		if !s.dryRun {
			err = s.ledger.DeleteAsset(s.ctx, "delete:"+key, key)
			if apperr.IsNotFound(err) {
				err = nil
			}
		}
		s.record(act, err)
	}
	return nil
}

func (s *sweep) compare(a model.Asset, e ledger.Entry, found, inFlight bool) error {
	if !found {
		s.mirror(a.UUID, ActionMirrorCreate)
		return nil
	}
	facts, ok := e.Facts()
	if !ok {
		s.record(Action{Kind: ActionCorruptRecord, Key: a.UUID, Detail: "ledger value is not a JSON object"}, nil)
		s.diverged(a, "")
		return nil
	}

	if facts.OwnerUUID != a.Facts().Normalized().OwnerUUID {
		if inFlight {
			return nil
		}
		fresh, ledgerOwner, settled, err := s.recheckOwner(a.UUID)
		switch {
		case apperr.IsNotFound(err):
			return nil
		case err != nil:
			s.record(Action{Kind: ActionAdoptOwner, Key: a.UUID, Detail: "recheck"}, err)
			return nil
		case !settled:
			return nil
		}
		a, facts.OwnerUUID = fresh, ledgerOwner
	}

	if facts.OwnerUUID != a.Facts().Normalized().OwnerUUID {
		s.diverged(a, facts.OwnerUUID)
		act := Action{Kind: ActionAdoptOwner, Key: a.UUID, Detail: a.Owner.UUID + " -> " + facts.OwnerUUID}
		var err error
		if !s.dryRun {
			a, err = s.store.ForwardOwner(s.ctx, a.UUID, a.Owner.UUID, knownParty(a, facts.OwnerUUID))
		}
		s.record(act, err)
		if err != nil {
			return nil
		}
	}

	want := a.Facts().Normalized()
	want.OwnerUUID = facts.OwnerUUID
	if want != facts || !a.LedgerSynced {
		s.mirror(a.UUID, ActionMirrorUpdate)
	}
	return nil
}

// recheckOwner confirms an owner mismatch seen between the ledger snapshot
// and the asset list with point reads on both sides. settled is false when
// a transfer for the asset is in flight or the registry row changed while
// the ledger was read; the asset is then left for the next sweep.
func (s *sweep) recheckOwner(uuid string) (a model.Asset, ledgerOwner string, settled bool, err error) {
	a, err = s.store.GetAsset(s.ctx, uuid)
	if err != nil {
		return model.Asset{}, "", false, err
	}
	pending, err := s.store.HasPendingTransfer(s.ctx, uuid)
	if err != nil || pending {
		return a, "", false, err
	}
	ledgerOwner, err = s.ledgerOwner(uuid)
	if err != nil {
		return a, "", false, err
	}
	again, err := s.store.GetAsset(s.ctx, uuid)
	if err != nil {
		return a, "", false, err
	}
	return again, ledgerOwner, again.Version == a.Version, nil
}

func (s *sweep) mirror(uuid, kind string) {
	if s.dryRun {
		s.record(Action{Kind: kind, Key: uuid}, nil)
		return
	}
	done, err := s.registry.Mirror(s.ctx, uuid)
	if done == "" {
		done = kind
	}
	s.record(Action{Kind: done, Key: uuid}, err)
}

func (s *sweep) diverged(a model.Asset, ledgerOwner string) {
	s.report.Divergences = append(s.report.Divergences, Divergence{
		AssetUUID:     a.UUID,
		RegistryOwner: a.Owner.UUID,
		LedgerOwner:   ledgerOwner,
	})
	if !s.dryRun {
		s.metrics.Divergence()
	}
	err := apperr.New(apperr.KindDivergence, "transfer.Reconcile", a.UUID,
		"registry owner %s, ledger owner %s", a.Owner.UUID, ledgerOwner)
	s.log.Warn().Err(err).Msg("ownership divergence")
}

func (s *sweep) ledgerOwner(assetUUID string) (string, error) {
	data, err := s.ledger.ReadAsset(s.ctx, assetUUID)
	if err != nil {
		return "", err
	}
	f, err := ledger.DecodeFacts(data)
	if err != nil {
		return "", fmt.Errorf("decode ledger record %s: %w", assetUUID, err)
	}
	return f.OwnerUUID, nil
}

// knownParty returns the profile the registry already holds for uuid, from
// the ownership history, or a bare party.
func knownParty(a model.Asset, uuid string) model.Party {
	for i := len(a.PastOwners) - 1; i >= 0; i-- {
		if a.PastOwners[i].UUID == uuid {
			return a.PastOwners[i]
		}
	}
	return model.Party{UUID: uuid}
}
