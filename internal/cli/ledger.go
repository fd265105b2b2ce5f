package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/titlechain/internal/canon"
	"github.com/roach88/titlechain/internal/ledger"
)

// NewLedgerCommand creates the ledger command group. These commands open the
// peer directories only, without the relational store.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the ledger peers",
		Long: `Inspect the ledger peers directly.

Examples:
  titlechain ledger scan --ledger-dir ./ledger
  titlechain ledger read 3f0c... --format json
  titlechain ledger hash`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newLedgerScanCommand(rootOpts))
	cmd.AddCommand(newLedgerReadCommand(rootOpts))
	cmd.AddCommand(newLedgerHashCommand(rootOpts))
	return cmd
}

func openLedger(opts *RootOptions) (*ledger.Gateway, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	gw, err := ledger.Open(ledger.Options{
		Dir:          cfg.Ledger.Dir,
		Peers:        cfg.Ledger.Peers,
		ReceiptCache: cfg.Ledger.ReceiptCache,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open ledger", err)
	}
	return gw, nil
}

// scanEntry is one world-state record as the scan command reports it.
type scanEntry struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Raw     string          `json:"raw,omitempty"`
	Corrupt bool            `json:"corrupt,omitempty"`
}

type scanResult struct {
	Height  uint64      `json:"height"`
	Entries []scanEntry `json:"entries"`
}

func (r scanResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Height %d, %d record(s)\n", r.Height, len(r.Entries))
	for _, e := range r.Entries {
		if e.Corrupt {
			fmt.Fprintf(&b, "  %s  CORRUPT %q\n", e.Key, e.Raw)
			continue
		}
		fmt.Fprintf(&b, "  %s  %s\n", e.Key, e.Value)
	}
	return b.String()
}

func newLedgerScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "scan",
		Short:         "List every asset record in key order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			gw, err := openLedger(rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, "ledger scan", err)
			}
			defer gw.Close()

			res := scanResult{Entries: []scanEntry{}}
			for key, e := range gw.Scan(cmd.Context()) {
				entry := scanEntry{Key: key, Corrupt: e.Corrupt()}
				if entry.Corrupt {
					entry.Raw = e.Raw
				} else {
					data, err := canon.Marshal(e.Object)
					if err != nil {
						return out.Fail(ExitCommandError, "ledger scan", err)
					}
					entry.Value = data
				}
				res.Entries = append(res.Entries, entry)
			}
			if res.Height, err = gw.Height(); err != nil {
				return out.Fail(ExitCommandError, "ledger scan", err)
			}
			return out.Success(res)
		},
	}
}

type readResult struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (r readResult) Text() string {
	return string(r.Value) + "\n"
}

func newLedgerReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "read <uuid>",
		Short:         "Print one asset record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			gw, err := openLedger(rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, "ledger read", err)
			}
			defer gw.Close()

			data, err := gw.ReadAsset(cmd.Context(), args[0])
			if err != nil {
				return out.Fail(ExitCommandError, "ledger read", err)
			}
			value := json.RawMessage(data)
			if !json.Valid(data) {
				value, _ = json.Marshal(string(data))
			}
			return out.Success(readResult{Key: args[0], Value: value})
		},
	}
}

type hashResult struct {
	Peers  map[string]string `json:"peers"`
	Agreed bool              `json:"agreed"`
}

func (r hashResult) Text() string {
	var b strings.Builder
	names := make([]string, 0, len(r.Peers))
	for name := range r.Peers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s  %s\n", name, r.Peers[name])
	}
	if r.Agreed {
		b.WriteString("✓ peers agree\n")
	} else {
		b.WriteString("✗ peers disagree\n")
	}
	return b.String()
}

func newLedgerHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "hash",
		Short:         "Compare world-state hashes across peers",
		Long:          "Print each peer's world-state hash. Exits 1 when the peers disagree.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			gw, err := openLedger(rootOpts)
			if err != nil {
				return out.Fail(ExitCommandError, "ledger hash", err)
			}
			defer gw.Close()

			hashes, err := gw.StateHashes()
			if err != nil {
				return out.Fail(ExitCommandError, "ledger hash", err)
			}
			res := hashResult{Peers: hashes, Agreed: peersAgree(hashes)}
			if err := out.Success(res); err != nil {
				return err
			}
			if !res.Agreed {
				return NewExitError(ExitFailure, "peer world states differ")
			}
			return nil
		},
	}
}

func peersAgree(hashes map[string]string) bool {
	first := ""
	for _, h := range hashes {
		if first == "" {
			first = h
		} else if h != first {
			return false
		}
	}
	return true
}
