package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/avetra/matchcore/params"
	"github.com/avetra/matchcore/pkg/engine"
	"github.com/avetra/matchcore/pkg/engine/asset"
	"github.com/avetra/matchcore/pkg/outgoing"
	"github.com/avetra/matchcore/pkg/storage"
	"github.com/avetra/matchcore/pkg/util"
)

// instruments is the on-disk shape of the asset directory.
type instruments struct {
	Assets []asset.Asset     `json:"assets"`
	Pairs  []asset.AssetPair `json:"pairs"`
}

func loadInstruments(path string) (instruments, error) {
	var out instruments
	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Engine.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Engine.LogFile)

	instrumentsPath := os.Getenv("ME_INSTRUMENTS_FILE")
	if instrumentsPath == "" {
		instrumentsPath = "data/instruments.json"
	}
	inst, err := loadInstruments(instrumentsPath)
	if err != nil {
		sugar.Fatalw("instruments_load_failed", "path", instrumentsPath, "err", err)
	}
	directory := asset.NewDirectory(inst.Assets, inst.Pairs)
	sugar.Infow("instruments_loaded", "assets", len(inst.Assets), "pairs", len(inst.Pairs))

	store, err := storage.NewPebbleStore(cfg.Engine.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Engine.DataDir, "err", err)
	}
	defer store.Close()

	queue := outgoing.NewChannelQueue(cfg.Engine.OutQueueCapacity)

	trusted := make(map[string]struct{}, len(cfg.Engine.TrustedClients))
	for _, c := range cfg.Engine.TrustedClients {
		trusted[c] = struct{}{}
	}
	eng := engine.New(sugar, directory, store, queue, util.RealClock{}, util.UUIDSource{}, engine.Settings{
		TrustedClients:          trusted,
		PriceDeviationThreshold: cfg.Engine.PriceDeviationThreshold,
	})

	orders, err := store.LoadOrders()
	if err != nil {
		sugar.Fatalw("order_recovery_failed", "err", err)
	}
	balances, err := store.LoadBalances()
	if err != nil {
		sugar.Fatalw("balance_recovery_failed", "err", err)
	}
	eng.Restore(orders, balances)
	sugar.Infow("state_restored", "orders", len(orders), "balances", len(balances))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Drain committed events to the log until a real downstream consumer is
	// attached.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue.Events():
				switch e := ev.(type) {
				case outgoing.ExecutionEvent:
					sugar.Infow("execution", "message_id", e.MessageID, "reports", len(e.Reports))
				case outgoing.BalanceUpdateEvent:
					sugar.Infow("balance_update", "message_id", e.MessageID, "updates", len(e.Updates))
				case outgoing.BookSnapshotEvent:
					sugar.Debugw("book_snapshot", "pair", e.AssetPairID, "buy", e.IsBuy, "depth", len(e.Orders))
				}
			}
		}
	}()

	// Expiry sweeper: good-till-date orders leave the book even when no
	// trade touches their price level.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := eng.ExpireDue(uuid.NewString())
				if err != nil {
					sugar.Errorw("expiry_sweep_failed", "err", err)
				} else if n > 0 {
					sugar.Infow("orders_expired", "count", n)
				}
			}
		}
	}()

	sugar.Info("engine ready")
	<-ctx.Done()
	if dropped := queue.Dropped(); dropped > 0 {
		sugar.Warnw("events_dropped", "count", dropped)
	}
	sugar.Info("shutting down")
}
