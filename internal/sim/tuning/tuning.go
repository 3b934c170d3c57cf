// Package tuning loads and validates the externally supplied simulation
// configuration. The kernel never mutates a Tuning after load.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	KindStock = "stock"
	KindFlow  = "flow"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int   `yaml:"tick_rate_hz"`
	Seed       int64 `yaml:"seed"`

	// Resource catalog: per-principal allocation granted at spawn.
	// Flow resources renew to Amount every tick; stock resources persist
	// until traded.
	Resources []ResourceSpec `yaml:"resources"`

	Auction AuctionTuning `yaml:"auction"`

	// Scrip granted to every principal at spawn (decimal string).
	GenesisScrip string `yaml:"genesis_scrip"`

	// Wall-clock budget for a single artifact invocation.
	InvokeBudgetMs int `yaml:"invoke_budget_ms"`
}

type ResourceSpec struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Amount int64  `yaml:"amount"`
}

type AuctionTuning struct {
	CycleTicks         uint64 `yaml:"cycle_ticks"`
	BiddingWindowTicks uint64 `yaml:"bidding_window_ticks"`
	GraceTicks         uint64 `yaml:"grace_ticks"`
	MintRatio          int64  `yaml:"mint_ratio"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) ApplyDefaults() {
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = "1.0"
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 5
	}
	if len(t.Resources) == 0 {
		t.Resources = []ResourceSpec{
			{Name: "disk", Kind: KindStock, Amount: 1 << 20},
			{Name: "compute", Kind: KindFlow, Amount: 1000},
		}
	}
	if t.Auction.CycleTicks == 0 {
		t.Auction.CycleTicks = 600
	}
	if t.Auction.BiddingWindowTicks == 0 {
		t.Auction.BiddingWindowTicks = 300
	}
	if t.Auction.GraceTicks == 0 {
		t.Auction.GraceTicks = 600
	}
	if t.Auction.MintRatio == 0 {
		t.Auction.MintRatio = 10
	}
	if t.GenesisScrip == "" {
		t.GenesisScrip = "100"
	}
	if t.InvokeBudgetMs <= 0 {
		t.InvokeBudgetMs = 100
	}
}

func (t *Tuning) Validate() error {
	seen := map[string]struct{}{}
	for _, r := range t.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource with empty name")
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate resource %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Kind != KindStock && r.Kind != KindFlow {
			return fmt.Errorf("resource %q: unknown kind %q", r.Name, r.Kind)
		}
		if r.Amount < 0 {
			return fmt.Errorf("resource %q: negative amount", r.Name)
		}
	}
	if _, ok := seen["disk"]; !ok {
		return fmt.Errorf("resource catalog must define %q", "disk")
	}
	if _, ok := seen["compute"]; !ok {
		return fmt.Errorf("resource catalog must define %q", "compute")
	}
	if t.Auction.BiddingWindowTicks > t.Auction.CycleTicks {
		return fmt.Errorf("bidding window %d exceeds cycle %d",
			t.Auction.BiddingWindowTicks, t.Auction.CycleTicks)
	}
	if t.Auction.MintRatio <= 0 {
		return fmt.Errorf("mint ratio must be positive")
	}
	return nil
}
