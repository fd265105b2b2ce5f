// Package scenario runs YAML-described flows end-to-end against a fresh
// registry, deal workflow, transfer coordinator and multi-peer ledger, then
// checks the resulting state of both stores.
//
// # Scenario Format
//
//	name: sale_end_to_end
//	description: "A listed asset changes hands"
//	peers: 3
//	ids:
//	  assets: [a-1]
//	  deals: [d-1]
//	setup:
//	  - invoke: registry.create
//	    args: { ... }
//	flow:
//	  - invoke: transfer.complete
//	    args: { uuid: d-1 }
//	    expect:
//	      case: ok
//	      result: { previousOwner: o-1 }
//	assertions:
//	  - type: ledger_owner
//	    asset: a-1
//	    owner: o-2
//
// Setup steps must succeed and are left out of the trace. A flow step's
// expect.case is "ok" or an error kind such as INVALID_TRANSITION; its
// result is a subset match against the JSON form of the return value.
//
// Every run uses a step clock starting at testutil.Epoch and the declared
// identifiers, so the golden snapshot of a scenario is reproducible.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end flow with assertions on the final state.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Peers       int         `yaml:"peers,omitempty"`
	IDs         IDs         `yaml:"ids,omitempty"`
	Setup       []Step      `yaml:"setup,omitempty"`
	Flow        []Step      `yaml:"flow"`
	Assertions  []Assertion `yaml:"assertions"`
}

// IDs are handed out in order to new assets and to new deals, messages and
// documents respectively.
type IDs struct {
	Assets []string `yaml:"assets"`
	Deals  []string `yaml:"deals"`
}

// Step invokes one operation.
type Step struct {
	Invoke string         `yaml:"invoke"`
	Args   map[string]any `yaml:"args"`
	Expect *Expect        `yaml:"expect,omitempty"`
}

// Expect is the outcome a flow step must produce.
type Expect struct {
	Case   string         `yaml:"case"`
	Result map[string]any `yaml:"result,omitempty"`
}

// CaseOK is the expected case of a step that returns no error.
const CaseOK = "ok"

// Assertion checks final state. Which fields apply depends on Type.
type Assertion struct {
	Type   string   `yaml:"type"`
	Asset  string   `yaml:"asset,omitempty"`
	Deal   string   `yaml:"deal,omitempty"`
	Owner  string   `yaml:"owner,omitempty"`
	Owners []string `yaml:"owners,omitempty"`
	Status string   `yaml:"status,omitempty"`
	Amount string   `yaml:"amount,omitempty"`
	Height *uint64  `yaml:"height,omitempty"`
}

// Assertion types.
const (
	AssertRegistryOwner  = "registry_owner"
	AssertLedgerOwner    = "ledger_owner"
	AssertLedgerMissing  = "ledger_missing"
	AssertPastOwners     = "past_owners"
	AssertTransferStatus = "transfer_status"
	AssertPaidAmount     = "paid_amount"
	AssertLedgerHeight   = "ledger_height"
	AssertPeersAgree     = "peers_agree"
)

// Load reads and validates a scenario file. Unknown keys are rejected so a
// misspelt field fails loudly instead of being skipped.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Peers < 0 {
		return fmt.Errorf("peers must be positive")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions must be non-empty")
	}

	for i, st := range s.Setup {
		if _, ok := operations[st.Invoke]; !ok {
			return fmt.Errorf("setup[%d]: unknown operation %q", i, st.Invoke)
		}
		if st.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot carry expect", i)
		}
	}
	for i, st := range s.Flow {
		if _, ok := operations[st.Invoke]; !ok {
			return fmt.Errorf("flow[%d]: unknown operation %q", i, st.Invoke)
		}
		if st.Expect != nil && st.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func (a Assertion) validate() error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s is required for %s", field, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertRegistryOwner, AssertLedgerOwner:
		if err := need("asset", a.Asset); err != nil {
			return err
		}
		return need("owner", a.Owner)
	case AssertLedgerMissing, AssertPastOwners:
		return need("asset", a.Asset)
	case AssertTransferStatus:
		if err := need("deal", a.Deal); err != nil {
			return err
		}
		return need("status", a.Status)
	case AssertPaidAmount:
		if err := need("deal", a.Deal); err != nil {
			return err
		}
		return need("amount", a.Amount)
	case AssertLedgerHeight:
		if a.Height == nil {
			return fmt.Errorf("height is required for %s", a.Type)
		}
	case AssertPeersAgree:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
