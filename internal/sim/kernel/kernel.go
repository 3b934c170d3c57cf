// Package kernel implements the transactional economic core: the artifact
// store, the ledger, the rights registry, the append-only event log, and
// the action executor that binds them.
//
// Every action either fully commits across store/ledger/registry or fully
// rejects with no partial mutation. Actions are serialized by a single
// kernel lock; the staged Txn type makes multi-entry commits pure writes
// that cannot fail halfway.
package kernel

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/tuning"
)

// Scorer evaluates a winning artifact's content for the mint step. It is an
// opaque external collaborator.
type Scorer interface {
	Score(content []byte) int64
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(content []byte) int64

func (f ScorerFunc) Score(content []byte) int64 { return f(content) }

// ExecEngine runs artifact code under a bounded time budget with the given
// capability surface. Implemented in internal/sim/exec.
type ExecEngine interface {
	Run(ctx context.Context, inv Invocation) (ExecResult, error)
	// Methods extracts the declared method interface from artifact code
	// without executing any method body beyond top-level declarations.
	Methods(code string) ([]MethodSpec, error)
}

type Invocation struct {
	Code   string
	Method string
	Args   map[string]any
	Caps   Capabilities
}

type ExecResult struct {
	Value   any
	Elapsed time.Duration
}

// Capabilities is the surface exposed to running artifact code. All effects
// are staged on the invoking action's Txn so they commit (or vanish)
// together with the invocation's charges.
type Capabilities interface {
	// Pay transfers scrip from the artifact's owner to another principal.
	Pay(to string, amount scrip.Amount) error
	// TransferResource moves a resource balance from the artifact's owner.
	TransferResource(to, resource string, amount int64) error
	// ReadArtifact returns another artifact's content, subject to its
	// access policy evaluated against the artifact owner.
	ReadArtifact(id string) (content []byte, ok bool)
	// Emit records the invocation's result value.
	Emit(v any)
}

// Service is a genesis-service handle held in the kernel's capability
// table. Services are dispatched through INVOKE on their well-known
// artifact and act through the same staged-transaction surface as any
// principal; they hold no hidden privilege.
type Service interface {
	ServiceID() string
	Call(call *ServiceCall) (any, error)
}

// TickHook is implemented by services that advance state at tick
// boundaries (the auction phase machine).
type TickHook interface {
	OnTick(tick uint64, txn *Txn)
}

type ServiceCall struct {
	Caller string
	Method string
	Args   map[string]any
	Txn    *Txn
}

type Config struct {
	Tuning tuning.Tuning
	Scorer Scorer
	Engine ExecEngine
	Logger *log.Logger
	Sink   EventSink
}

type Kernel struct {
	mu sync.Mutex

	cfg      tuning.Tuning
	ledger   *Ledger
	registry *Registry
	store    *Store
	events   *EventLog

	services  map[string]Service
	tickHooks []TickHook

	engine ExecEngine
	scorer Scorer

	genesisScrip scrip.Amount
	invokeBudget time.Duration

	tick        uint64
	quotaSnap   QuotaSnapshot
	rng         *rand.Rand
	mintedTotal scrip.Amount

	logger *log.Logger
	sink   EventSink
}

func New(cfg Config) (*Kernel, error) {
	t := cfg.Tuning
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	genesis, err := scrip.Parse(t.GenesisScrip)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	ledger := newLedger()
	k := &Kernel{
		cfg:          t,
		ledger:       ledger,
		registry:     newRegistry(ledger, t.Resources),
		store:        newStore(),
		events:       newEventLog(),
		services:     map[string]Service{},
		engine:       cfg.Engine,
		scorer:       cfg.Scorer,
		genesisScrip: genesis,
		invokeBudget: time.Duration(t.InvokeBudgetMs) * time.Millisecond,
		rng:          rand.New(rand.NewSource(t.Seed)),
		logger:       logger,
		sink:         cfg.Sink,
	}

	// System principals exist before any agent joins.
	txn := k.newTxn()
	if _, err := txn.Spawn(PrincipalGenesis, true); err != nil {
		return nil, err
	}
	if _, err := txn.Spawn(PrincipalCustodian, true); err != nil {
		return nil, err
	}
	txn.Emit(protocol.EventWorldInit, map[string]any{
		"seed":         t.Seed,
		"tick_rate_hz": t.TickRateHz,
		"mint_ratio":   t.Auction.MintRatio,
	})
	txn.Commit()
	k.quotaSnap = k.registry.FlowSnapshot(0)
	return k, nil
}

func (k *Kernel) Tuning() tuning.Tuning { return k.cfg }

// ScoreContent consults the external scoring collaborator. A missing scorer
// scores everything zero.
func (k *Kernel) ScoreContent(content []byte) int64 {
	if k.scorer == nil {
		return 0
	}
	return k.scorer.Score(content)
}

// genesisPrincipal builds the initial record for a newly spawned principal:
// the genesis scrip grant plus the catalog quota allocation, with flow
// balances already filled for the current tick.
func (k *Kernel) genesisPrincipal(id string, tick uint64, system bool) *Principal {
	p := &Principal{
		ID:          id,
		Resources:   map[string]int64{},
		Quotas:      map[string]int64{},
		CreatedTick: tick,
		System:      system,
	}
	if !system {
		p.Scrip = k.genesisScrip
	}
	for _, spec := range k.cfg.Resources {
		p.Quotas[spec.Name] = spec.Amount
		p.Resources[spec.Name] = spec.Amount
	}
	return p
}

// RegisterService installs a service in the capability table and publishes
// its well-known artifact. A conforming replacement can be registered under
// the same id without kernel changes.
func (k *Kernel) RegisterService(svc Service, doc string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := svc.ServiceID()
	if _, dup := k.services[id]; dup {
		return Errf(protocol.ErrValidation, "service %q already registered", id)
	}
	k.services[id] = svc
	if hook, ok := svc.(TickHook); ok {
		k.tickHooks = append(k.tickHooks, hook)
	}
	k.store.Put(&Artifact{
		ID:          id,
		Owner:       PrincipalGenesis,
		Content:     []byte(doc),
		ContentType: "text/plain",
		Service:     id,
		Access:      AccessPolicy{Mode: protocol.AccessPublic},
		Provenance:  Provenance{CreatedBy: PrincipalGenesis, CreatedAtTick: k.tick},
	})
	return nil
}

// SpawnPrincipal creates a principal outside the action surface (boot,
// transport join). In-simulation spawns go through the ledger service.
func (k *Kernel) SpawnPrincipal(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	txn := k.newTxn()
	p, err := txn.Spawn(id, false)
	if err != nil {
		return err
	}
	txn.Emit(protocol.EventSpawn, map[string]any{
		"principal": id,
		"scrip":     p.Scrip.String(),
	})
	txn.Commit()
	return nil
}

func (k *Kernel) appendEvent(typ string, payload map[string]any) {
	e := k.events.Append(k.tick, typ, payload)
	if k.sink != nil {
		if err := k.sink.WriteEvent(e); err != nil {
			k.logger.Printf("event sink: %v", err)
		}
	}
}

// ReadEvents returns the last count log entries.
func (k *Kernel) ReadEvents(count int) []Entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.events.Read(count)
}

// ReadEventsSince supports cursor-based consumers (the telemetry surface).
func (k *Kernel) ReadEventsSince(since uint64, limit int) ([]Entry, uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.events.ReadSince(since, limit)
}

func (k *Kernel) CurrentTick() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// ScripBalance is a read helper for transport and tests.
func (k *Kernel) ScripBalance(id string) (scrip.Amount, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ledger.GetScrip(id)
}

// ResourceBalance is a read helper for transport and tests.
func (k *Kernel) ResourceBalance(id, resource string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ledger.GetResource(id, resource)
}

// ScripBalances returns every principal's scrip balance.
func (k *Kernel) ScripBalances() map[string]scrip.Amount {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]scrip.Amount)
	for _, id := range k.ledger.PrincipalIDs() {
		v, _ := k.ledger.GetScrip(id)
		out[id] = v
	}
	return out
}

// TotalScrip reports the ledger-wide scrip sum and the audited mint total.
// Conservation holds when TotalScrip - minted stays constant.
func (k *Kernel) TotalScrip() (total, minted scrip.Amount) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ledger.TotalScrip(), k.mintedTotal
}

var actionDispatch = map[string]func(*Kernel, *Principal, Action) ActionResult{
	protocol.ActionRead:   (*Kernel).applyRead,
	protocol.ActionWrite:  (*Kernel).applyWrite,
	protocol.ActionInvoke: (*Kernel).applyInvoke,
	protocol.ActionDelete: (*Kernel).applyDelete,
}

// Apply validates and executes one action for one principal. It is the only
// mutation path into the store, ledger and registry.
func (k *Kernel) Apply(principalID string, act Action) ActionResult {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, cerr := k.ledger.principal(principalID)
	if cerr != nil {
		return failure(cerr.Code, cerr.Message)
	}
	h := actionDispatch[act.Type]
	if h == nil {
		return failure(protocol.ErrValidation, "unknown action type "+act.Type)
	}
	res := h(k, p, act)
	k.appendEvent(protocol.EventAction, map[string]any{
		"principal": principalID,
		"action":    act.Type,
		"artifact":  act.ArtifactID,
		"ok":        res.Success,
		"code":      res.Code,
	})
	return res
}
