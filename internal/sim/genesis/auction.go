package genesis

import (
	"sort"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/kernel"
)

// Auction phases.
const (
	PhaseWaiting = "WAITING"
	PhaseBidding = "BIDDING"
	PhaseClosed  = "CLOSED"
)

type bidKey struct {
	Bidder   string
	Artifact string
}

type bid struct {
	Bidder   string
	Artifact string
	Amount   scrip.Amount
}

type cycleResult struct {
	Cycle    uint64
	Winner   string
	Artifact string
	Price    scrip.Amount
	Score    int64
	Minted   scrip.Amount
}

// Auction runs the cyclical sealed-bid second-price auction with UBI
// redistribution and the mint step. The phase machine advances at tick
// boundaries through the kernel's TickHook path, so resolution commits in
// the same transaction as the tick.
type Auction struct {
	k *kernel.Kernel

	phase     string
	cycle     uint64
	windowEnd uint64 // tick at which BIDDING closes
	nextOpen  uint64 // tick at which the next BIDDING window opens

	// One bid per (bidder, artifact): replacing a bid is a single map
	// assignment, so a failed replacement can never leave the bidder with
	// fewer active bids than before the call.
	bids map[bidKey]bid

	last *cycleResult
}

func NewAuction(k *kernel.Kernel) *Auction {
	t := k.Tuning().Auction
	return &Auction{
		k:        k,
		phase:    PhaseWaiting,
		nextOpen: t.GraceTicks,
		bids:     map[bidKey]bid{},
	}
}

func (a *Auction) ServiceID() string { return ServiceAuction }

func (a *Auction) Call(call *kernel.ServiceCall) (any, error) {
	switch call.Method {
	case "status":
		return a.status(call.Txn.Tick()), nil
	case "bid":
		return a.placeBid(call)
	case "check":
		return a.checkBids(call), nil
	default:
		return nil, kernel.Errf(protocol.ErrValidation, "unknown auction method %q", call.Method)
	}
}

func (a *Auction) status(tick uint64) map[string]any {
	out := map[string]any{
		"phase": a.phase,
		"tick":  tick,
		"cycle": a.cycle,
		"bids":  len(a.bids),
	}
	switch a.phase {
	case PhaseBidding:
		out["closes_at_tick"] = a.windowEnd
	default:
		out["opens_at_tick"] = a.nextOpen
	}
	if a.last != nil {
		out["last_winner"] = a.last.Winner
		out["last_price"] = a.last.Price.String()
		out["last_minted"] = a.last.Minted.String()
	}
	return out
}

func (a *Auction) placeBid(call *kernel.ServiceCall) (any, error) {
	if a.phase != PhaseBidding {
		return nil, kernel.Errf(protocol.ErrValidation, "bids accepted only during BIDDING (phase %s)", a.phase)
	}
	artifactID, err := argString(call.Args, "artifact")
	if err != nil {
		return nil, err
	}
	amount, err := argScrip(call.Args, "amount")
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, kernel.Errf(protocol.ErrValidation, "bid must be positive")
	}
	art := call.Txn.Artifact(artifactID)
	if art == nil {
		return nil, kernel.Errf(protocol.ErrNotFound, "unknown artifact %q", artifactID)
	}
	if art.Owner != call.Caller {
		return nil, kernel.Errf(protocol.ErrAuthorization, "bids must name an artifact the bidder owns")
	}
	bal, err := call.Txn.ScripBalance(call.Caller)
	if err != nil {
		return nil, err
	}
	if bal < amount {
		return nil, kernel.Errf(protocol.ErrValidation, "insufficient scrip to cover bid")
	}

	key := bidKey{Bidder: call.Caller, Artifact: artifactID}
	replaced := false
	if _, ok := a.bids[key]; ok {
		replaced = true
	}
	a.bids[key] = bid{Bidder: call.Caller, Artifact: artifactID, Amount: amount}
	return map[string]any{
		"artifact": artifactID,
		"amount":   amount.String(),
		"replaced": replaced,
	}, nil
}

func (a *Auction) checkBids(call *kernel.ServiceCall) []map[string]any {
	var keys []bidKey
	for k := range a.bids {
		if k.Bidder == call.Caller {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Artifact < keys[j].Artifact })
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		b := a.bids[k]
		out = append(out, map[string]any{"artifact": b.Artifact, "amount": b.Amount.String()})
	}
	return out
}

// OnTick advances the phase machine. Implements kernel.TickHook.
func (a *Auction) OnTick(tick uint64, txn *kernel.Txn) {
	switch a.phase {
	case PhaseWaiting, PhaseClosed:
		if tick >= a.nextOpen {
			a.phase = PhaseBidding
			a.cycle++
			a.windowEnd = tick + a.k.Tuning().Auction.BiddingWindowTicks
			txn.Emit(protocol.EventAuctionPhase, map[string]any{
				"phase": PhaseBidding, "cycle": a.cycle, "closes_at_tick": a.windowEnd,
			})
		}
	case PhaseBidding:
		if tick >= a.windowEnd {
			a.resolve(tick, txn)
			a.phase = PhaseClosed
			a.nextOpen = a.windowEnd + (a.k.Tuning().Auction.CycleTicks - a.k.Tuning().Auction.BiddingWindowTicks)
			a.bids = map[bidKey]bid{}
			txn.Emit(protocol.EventAuctionPhase, map[string]any{
				"phase": PhaseClosed, "cycle": a.cycle, "opens_at_tick": a.nextOpen,
			})
		}
	}
}

// resolve picks the winner, charges the second price, redistributes it as
// UBI and mints the score credit. All effects stage on the tick
// transaction. Zero bids advance the cycle with no winner.
func (a *Auction) resolve(tick uint64, txn *kernel.Txn) {
	remaining := make([]bid, 0, len(a.bids))
	for _, b := range a.bids {
		remaining = append(remaining, b)
	}
	// Deterministic order before any random tie break.
	sort.Slice(remaining, func(i, j int) bool {
		if remaining[i].Bidder != remaining[j].Bidder {
			return remaining[i].Bidder < remaining[j].Bidder
		}
		return remaining[i].Artifact < remaining[j].Artifact
	})

	for len(remaining) > 0 {
		winner, price := pickWinner(remaining, txn)
		if a.settle(tick, txn, winner, price) {
			return
		}
		// The winner could no longer cover the price (spent scrip since
		// bidding). Drop that bid and re-resolve among the rest.
		next := remaining[:0]
		for _, b := range remaining {
			if b != winner {
				next = append(next, b)
			}
		}
		remaining = next
	}
	a.last = &cycleResult{Cycle: a.cycle}
}

func pickWinner(bids []bid, txn *kernel.Txn) (bid, scrip.Amount) {
	var max scrip.Amount
	for _, b := range bids {
		if b.Amount > max {
			max = b.Amount
		}
	}
	var top []bid
	for _, b := range bids {
		if b.Amount == max {
			top = append(top, b)
		}
	}
	winner := top[txn.Rand(len(top))]

	// Second price: highest amount among all other bids; zero when the
	// winner's bid stands alone.
	var second scrip.Amount
	for _, b := range bids {
		if b == winner {
			continue
		}
		if b.Amount > second {
			second = b.Amount
		}
	}
	return winner, second
}

// settle stages the winner's charge, the UBI redistribution and the mint.
// Returns false if the winner cannot cover the price.
func (a *Auction) settle(tick uint64, txn *kernel.Txn, winner bid, price scrip.Amount) bool {
	if price > 0 {
		if err := txn.DebitScrip(winner.Bidder, price); err != nil {
			return false
		}
		shares := scrip.DivideEvenly(price, txn.UBIRecipients())
		for id, share := range shares {
			if share == 0 {
				continue
			}
			if err := txn.CreditScrip(id, share); err != nil {
				// Recipients come from the ledger itself; a failure here
				// would be a kernel bug, not a caller error.
				panic(err)
			}
		}
		txn.Emit(protocol.EventUBI, map[string]any{
			"cycle":      a.cycle,
			"from":       winner.Bidder,
			"total":      price.String(),
			"recipients": len(shares),
		})
	}

	var score int64
	var minted scrip.Amount
	if art := txn.Artifact(winner.Artifact); art != nil {
		score = a.k.ScoreContent(art.Content)
		minted = scrip.MulRatio(scrip.FromUnits(score), 1, a.k.Tuning().Auction.MintRatio)
		if minted > 0 {
			if err := txn.MintScrip(winner.Bidder, minted); err != nil {
				panic(err)
			}
		}
	}
	txn.Emit(protocol.EventMint, map[string]any{
		"cycle":    a.cycle,
		"winner":   winner.Bidder,
		"artifact": winner.Artifact,
		"price":    price.String(),
		"score":    score,
		"minted":   minted.String(),
	})

	a.last = &cycleResult{
		Cycle:    a.cycle,
		Winner:   winner.Bidder,
		Artifact: winner.Artifact,
		Price:    price,
		Score:    score,
		Minted:   minted,
	}
	return true
}
