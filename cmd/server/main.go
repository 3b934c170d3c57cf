package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"scripcraft.ai/internal/persistence/indexdb"
	persistlog "scripcraft.ai/internal/persistence/log"
	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/sim/exec"
	"scripcraft.ai/internal/sim/genesis"
	"scripcraft.ai/internal/sim/kernel"
	"scripcraft.ai/internal/sim/tuning"
	"scripcraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		balanceEvery = flag.Uint64("balance_index_every", 100, "index per-principal balances every N ticks (0 to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Tuning{}
			tune.ApplyDefaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	eventLog := persistlog.NewEventLogger(*dataDir)
	defer eventLog.Close()

	sink := &fanoutSink{log: eventLog, idx: idx}

	k, err := kernel.New(kernel.Config{
		Tuning: tune,
		Scorer: kernel.ScorerFunc(defaultScore),
		Engine: exec.New(),
		Logger: logger,
		Sink:   sink,
	})
	if err != nil {
		logger.Fatalf("kernel: %v", err)
	}
	if err := genesis.Install(k); err != nil {
		logger.Fatalf("install genesis services: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Tick loop.
	go func() {
		interval := time.Second / time.Duration(tune.TickRateHz)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick := k.Tick()
				if idx != nil && *balanceEvery > 0 && tick%*balanceEvery == 0 {
					for id, bal := range k.ScripBalances() {
						idx.RecordBalance(tick, id, bal.String())
					}
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		tick := k.CurrentTick()
		total, minted := k.TotalScrip()

		fmt.Fprintf(rw, "# HELP scripcraft_tick Current kernel tick.\n")
		fmt.Fprintf(rw, "# TYPE scripcraft_tick gauge\n")
		fmt.Fprintf(rw, "scripcraft_tick %d\n", tick)

		fmt.Fprintf(rw, "# HELP scripcraft_scrip_total Ledger-wide scrip sum in milliscrip.\n")
		fmt.Fprintf(rw, "# TYPE scripcraft_scrip_total gauge\n")
		fmt.Fprintf(rw, "scripcraft_scrip_total %d\n", int64(total))

		fmt.Fprintf(rw, "# HELP scripcraft_scrip_minted_total Milliscrip minted by auction cycles.\n")
		fmt.Fprintf(rw, "# TYPE scripcraft_scrip_minted_total counter\n")
		fmt.Fprintf(rw, "scripcraft_scrip_minted_total %d\n", int64(minted))
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		total, minted := k.TotalScrip()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"tick":   k.CurrentTick(),
			"total":  total.String(),
			"minted": minted.String(),
		})
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(k, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (tick_rate=%dhz seed=%d)", *addr, tune.TickRateHz, tune.Seed)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// defaultScore is a stand-in content evaluator: distinct byte count scaled by
// log-ish size buckets. Deployments normally inject an external scorer.
func defaultScore(content []byte) int64 {
	if len(content) == 0 {
		return 0
	}
	var seen [256]bool
	distinct := int64(0)
	for _, b := range content {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	size := int64(1)
	for n := len(content); n >= 10; n /= 10 {
		size++
	}
	return distinct * size
}

// fanoutSink mirrors every kernel event to the JSONL log and, when enabled,
// the sqlite index; MINT events additionally land in the cycles table.
type fanoutSink struct {
	log *persistlog.EventLogger
	idx *indexdb.SQLiteIndex
}

func (s *fanoutSink) WriteEvent(e kernel.Entry) error {
	err := s.log.WriteEvent(e)
	if s.idx != nil {
		_ = s.idx.WriteEvent(e)
		if e.Type == protocol.EventMint {
			s.idx.RecordCycle(cycleFromMint(e))
		}
	}
	return err
}

func cycleFromMint(e kernel.Entry) indexdb.CycleRow {
	row := indexdb.CycleRow{Tick: e.Tick}
	if v, ok := e.Payload["cycle"].(uint64); ok {
		row.Cycle = v
	}
	if v, ok := e.Payload["winner"].(string); ok {
		row.Winner = v
	}
	if v, ok := e.Payload["artifact"].(string); ok {
		row.Artifact = v
	}
	if v, ok := e.Payload["price"].(string); ok {
		row.Price = v
	}
	if v, ok := e.Payload["score"].(int64); ok {
		row.Score = v
	}
	if v, ok := e.Payload["minted"].(string); ok {
		row.Minted = v
	}
	return row
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
