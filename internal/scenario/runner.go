package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/deal"
	"github.com/roach88/titlechain/internal/ids"
	"github.com/roach88/titlechain/internal/ledger"
	"github.com/roach88/titlechain/internal/registry"
	"github.com/roach88/titlechain/internal/store"
	"github.com/roach88/titlechain/internal/testutil"
	"github.com/roach88/titlechain/internal/transfer"
)

// TraceStep records one flow step and how it ended.
type TraceStep struct {
	Seq    int    `json:"seq"`
	Invoke string `json:"invoke"`
	Case   string `json:"case"`
}

// Result is the outcome of a run. Errors collects every failed expectation
// and assertion; the run does not stop at the first.
type Result struct {
	Pass     bool        `json:"pass"`
	Trace    []TraceStep `json:"trace"`
	Errors   []string    `json:"errors,omitempty"`
	Snapshot []byte      `json:"-"`
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// env is the system under test for one run.
type env struct {
	store   *store.Store
	gateway *ledger.Gateway
	faults  *faultLedger
	reg     *registry.Registry
	deals   *deal.Workflow
	coord   *transfer.Coordinator
	recon   *transfer.Reconciler
}

func defaultIDs(prefix string) []string {
	out := make([]string, 32)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return out
}

func newEnv(s *Scenario, dir string) (*env, error) {
	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, err
	}
	peers := s.Peers
	if peers == 0 {
		peers = 3
	}
	g, err := ledger.Open(ledger.Options{Peers: peers, Logger: zerolog.Nop()})
	if err != nil {
		st.Close()
		return nil, err
	}

	assetIDs, dealIDs := s.IDs.Assets, s.IDs.Deals
	if len(assetIDs) == 0 {
		assetIDs = defaultIDs("a")
	}
	if len(dealIDs) == 0 {
		dealIDs = defaultIDs("d")
	}

	clk := testutil.NewStepClock(testutil.Epoch, 0)
	faults := &faultLedger{Client: g}
	reg := registry.New(st, faults, registry.WithIDs(ids.NewFixed(assetIDs...)), registry.WithClock(clk))
	deals := deal.New(st, deal.WithIDs(ids.NewFixed(dealIDs...)), deal.WithClock(clk))
	coord := transfer.NewCoordinator(st, deals, faults, transfer.WithClock(clk))
	recon := transfer.NewReconciler(st, faults, reg, coord, nil, transfer.WithClock(clk))

	return &env{store: st, gateway: g, faults: faults, reg: reg, deals: deals, coord: coord, recon: recon}, nil
}

func (e *env) close() {
	e.gateway.Close()
	e.store.Close()
}

// Run executes a scenario in a fresh temporary database and in-memory
// ledger. The returned error covers harness failures only; scenario
// failures are reported in Result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "titlechain-scenario-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	e, err := newEnv(s, dir)
	if err != nil {
		return nil, err
	}
	defer e.close()

	for i, st := range s.Setup {
		if _, err := operations[st.Invoke](ctx, e, st.Args); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, st.Invoke, err)
		}
	}

	res := &Result{Pass: true, Trace: []TraceStep{}}
	for i, st := range s.Flow {
		out, err := operations[st.Invoke](ctx, e, st.Args)
		c := caseOf(err)
		res.Trace = append(res.Trace, TraceStep{Seq: i + 1, Invoke: st.Invoke, Case: c})

		if st.Expect == nil {
			if err != nil {
				res.fail("flow[%d] %s: unexpected error: %v", i, st.Invoke, err)
			}
			continue
		}
		if c != st.Expect.Case {
			res.fail("flow[%d] %s: expected case %s, got %s (%v)", i, st.Invoke, st.Expect.Case, c, err)
			continue
		}
		if len(st.Expect.Result) > 0 {
			if msg := matchResult(st.Expect.Result, out); msg != "" {
				res.fail("flow[%d] %s: %s", i, st.Invoke, msg)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := check(ctx, e, a); err != nil {
			res.fail("assertions[%d] %s: %v", i, a.Type, err)
		}
	}

	snap, err := snapshot(ctx, e, s.Name, res.Trace)
	if err != nil {
		return nil, err
	}
	res.Snapshot = snap
	return res, nil
}

func caseOf(err error) string {
	if err == nil {
		return CaseOK
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "INTERNAL"
}

// matchResult compares expected fields against the JSON form of got. Maps
// match as subsets at every level; everything else must be equal.
func matchResult(expected map[string]any, got any) string {
	actual, err := normalize(got)
	if err != nil {
		return fmt.Sprintf("result not representable: %v", err)
	}
	want, err := normalize(expected)
	if err != nil {
		return fmt.Sprintf("expected result not representable: %v", err)
	}
	if path, ok := subset(want, actual, "result"); !ok {
		return fmt.Sprintf("%s: want %v, got %v", path, lookup(want, path), lookup(actual, path))
	}
	return ""
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func subset(want, got any, path string) (string, bool) {
	wm, ok := want.(map[string]any)
	if !ok {
		return path, reflect.DeepEqual(want, got)
	}
	gm, ok := got.(map[string]any)
	if !ok {
		return path, false
	}
	keys := make([]string, 0, len(wm))
	for k := range wm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if p, ok := subset(wm[k], gm[k], path+"."+k); !ok {
			return p, false
		}
	}
	return "", true
}

// lookup follows a dotted path produced by subset, for error messages.
func lookup(v any, path string) any {
	cur := v
	for _, k := range strings.Split(path, ".")[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}
