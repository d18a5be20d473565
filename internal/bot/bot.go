package bot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/config"
	"github.com/minhtuanle/crypto-strike-bot/internal/events"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange/bybit"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange/paper"
	"github.com/minhtuanle/crypto-strike-bot/internal/executor"
	"github.com/minhtuanle/crypto-strike-bot/internal/feed"
	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/internal/monitoring"
	"github.com/minhtuanle/crypto-strike-bot/internal/notifications"
	"github.com/minhtuanle/crypto-strike-bot/internal/riskguard"
	"github.com/minhtuanle/crypto-strike-bot/internal/strategy"
	"github.com/minhtuanle/crypto-strike-bot/pkg/reporting"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Bot wires the feed, strategy engine, risk guard and execution
// coordinator into one running session. Construction is side-effect
// free; Start connects and launches the loops.
type Bot struct {
	cfg         *config.BotConfig
	log         *logger.Logger
	book        *ledger.Ledger
	engine      *strategy.Engine
	guard       *riskguard.Guard
	coord       *executor.Coordinator
	hub         *events.Hub
	conn        exchange.Connector
	sim         *paper.Connector // non-nil in paper mode
	priceFeed   feed.Feed
	health      *monitoring.HealthChecker
	instruments map[string]types.Instrument
	notices     chan executor.StopLossNotice

	mu          sync.Mutex
	quarantined []string

	servers []*http.Server
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
}

// New assembles a bot from validated configuration.
func New(cfg *config.BotConfig) (*Bot, error) {
	log, err := logger.New("strike-bot")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	instruments := cfg.InstrumentMap()

	var conn exchange.Connector
	var sim *paper.Connector
	if cfg.Paper {
		sim = paper.New()
		conn = sim
	} else {
		conn = bybit.New(cfg.Exchange)
	}

	strategies, err := buildStrategies(cfg, instruments)
	if err != nil {
		log.Close()
		return nil, err
	}

	book := ledger.New()
	engine := strategy.NewEngine(book, log, strategies...)
	if cfg.Feed.MaxGap.Duration > 0 {
		engine.SetMaxGap(cfg.Feed.MaxGap.Duration)
	}

	priceFeed := feed.NewWebSocketFeed(cfg.Feed.WSURL, cfg.Symbols(), log)
	priceFeed.SetReconnectDelay(cfg.Feed.ReconnectDelay.Duration)

	b := &Bot{
		cfg:         cfg,
		log:         log,
		book:        book,
		engine:      engine,
		guard:       riskguard.New(cfg.RiskGuard.Config(), log),
		coord:       executor.New(cfg.Execution.Config(), conn, book, log, instruments),
		hub:         events.NewHub(log),
		conn:        conn,
		sim:         sim,
		priceFeed:   priceFeed,
		health:      monitoring.NewHealthChecker(),
		instruments: instruments,
		notices:     make(chan executor.StopLossNotice, 16),
	}

	b.coord.SetPublisher(b.hub)
	b.coord.SetStopLossCallback(b.onStopLoss)
	b.coord.SetQuarantineCallback(b.onQuarantine)
	b.guard.SetHaltCallback(b.onHalt)

	return b, nil
}

// buildStrategies instantiates the enabled strategies in config order.
func buildStrategies(cfg *config.BotConfig, instruments map[string]types.Instrument) ([]strategy.Strategy, error) {
	var out []strategy.Strategy
	for _, name := range cfg.Strategies.Enabled {
		switch name {
		case "market_reversal":
			out = append(out, strategy.NewMarketReversal(cfg.Strategies.MarketReversal.Config()))
		case "three_strike":
			out = append(out, strategy.NewThreeStrike(cfg.Strategies.ThreeStrike.Config()))
		case "trailing_stop":
			out = append(out, strategy.NewTrailingStop(cfg.Strategies.TrailingStop.Config(), instruments))
		case "stop_and_reverse":
			out = append(out, strategy.NewStopAndReverse(cfg.Strategies.StopAndReverse.Config()))
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no strategies enabled")
	}
	return out, nil
}

// Start connects to the exchange and launches the event loops. It
// returns once the session is running.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	b.ctx = ctx

	if err := b.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.conn.Name(), err)
	}

	for symbol, inst := range b.instruments {
		if err := b.conn.SetLeverage(ctx, symbol, inst.Leverage); err != nil {
			b.log.Warning("bot: could not set leverage %dx on %s: %v", inst.Leverage, symbol, err)
		}
	}

	go b.hub.Run()
	b.coord.Start(ctx)

	if nc := b.cfg.Notifications; nc != nil && nc.Enabled {
		dispatcher := notifications.NewDispatcher(
			notifications.NewTelegramNotifier(nc.TelegramToken, nc.TelegramChat), b.log)
		go dispatcher.Run(b.hub.Subscribe())
	}

	b.startHTTP()
	b.printStartupInfo()

	b.wg.Add(1)
	go b.run(ctx)

	fmt.Printf("🔄 Bot is running... (trading activity logged to file)\n\n")
	return nil
}

// run drives the feed and pumps ticks through the pipeline until the
// context is cancelled. Stop-loss notices from the coordinator land here
// too, so every strategy invocation happens on this goroutine.
func (b *Bot) run(ctx context.Context) {
	defer b.wg.Done()

	go func() {
		if err := b.priceFeed.Run(ctx); err != nil && ctx.Err() == nil {
			b.log.Error("bot: feed stopped: %v", err)
		}
	}()

	updates := b.priceFeed.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				b.health.SetFeedDown()
				updates = nil
				continue
			}
			b.handleTick(u)
		case n := <-b.notices:
			b.handleStopLoss(n)
		}
	}
}

// handleTick routes one price update: ledger-aware strategy evaluation,
// guard filtering, then submission to the per-instrument lanes.
func (b *Bot) handleTick(u types.PriceUpdate) {
	b.health.SetTick(u.Timestamp)
	monitoring.UpdatePrice(u.Symbol, u.Last)

	if b.sim != nil {
		b.sim.OnPrice(u)
	}

	intents := b.engine.Evaluate(u)
	for _, it := range intents {
		monitoring.RecordIntent(it.Kind.String(), it.StrategyID)
	}
	b.submit(intents)

	if snap, ok := b.book.Snapshot(u.Symbol); ok {
		monitoring.UpdatePosition(u.Symbol, snap.Quantity)
	} else {
		monitoring.UpdatePosition(u.Symbol, 0)
	}
	b.health.SetOpenCount(len(b.book.OpenPositions()))
}

// submit runs intents through the risk guard before they reach the
// coordinator. Every intent path in the bot funnels through here.
func (b *Bot) submit(intents []intent.Intent) {
	if len(intents) == 0 {
		return
	}
	b.coord.Submit(b.guard.Filter(intents))
}

// onStopLoss is invoked on the coordinator's fill-routing goroutine. The
// notice is handed to the run loop, which owns all strategy and guard
// interaction.
func (b *Bot) onStopLoss(n executor.StopLossNotice) {
	select {
	case b.notices <- n:
	case <-b.ctx.Done():
	}
}

// handleStopLoss processes a confirmed stop-loss fill: count the strike,
// then let observing strategies react. The guard halt callback fires
// inside RecordStrike, so a limit-tripping strike drops the reaction
// entries before they are queued.
func (b *Bot) handleStopLoss(n executor.StopLossNotice) {
	b.guard.RecordStrike(riskguard.Strike{
		Symbol:    n.Symbol,
		ExitPrice: n.ExitPrice,
		Timestamp: n.Timestamp,
	})
	monitoring.RecordStrike(n.Symbol)

	b.hub.Publish(events.StrikeEvent{
		Symbol:    n.Symbol,
		Side:      n.Side,
		ExitPrice: n.ExitPrice,
		Qty:       n.Qty,
		Strikes:   len(b.guard.Strikes()),
		Timestamp: n.Timestamp,
	})

	b.submit(b.engine.NotifyStopLoss(strategy.StopLossFill{
		Symbol:    n.Symbol,
		Side:      n.Side,
		ExitPrice: n.ExitPrice,
		Qty:       n.Qty,
		Timestamp: n.Timestamp,
	}))
}

// onHalt receives the guard's kill-switch intent. The coordinator drops
// queued entries and flattens every open position.
func (b *Bot) onHalt(it intent.Intent) {
	b.coord.Submit([]intent.Intent{it})
	monitoring.RecordHalt()
	b.health.SetGuardState(b.guard.State().String())
	b.hub.Publish(events.HaltEvent{Halted: true, Reason: it.Reason, Timestamp: it.Timestamp})
}

// onQuarantine isolates an instrument after a ledger invariant breach.
// The rest of the account keeps trading.
func (b *Bot) onQuarantine(symbol, reason string) {
	b.engine.Quarantine(symbol, reason)

	b.mu.Lock()
	b.quarantined = append(b.quarantined, symbol)
	quarantined := append([]string(nil), b.quarantined...)
	b.mu.Unlock()

	b.health.SetQuarantined(quarantined)
	monitoring.RecordError("invariant")
}

// ManualClose queues an operator-initiated close for the symbol.
// qty=0 closes the whole position.
func (b *Bot) ManualClose(symbol string, qty float64) {
	b.submit([]intent.Intent{
		intent.Close(symbol, qty, intent.OriginManual, "manual close", time.Now().UTC()),
	})
}

// ManualAdjust queues an operator-initiated protective-level change.
func (b *Bot) ManualAdjust(symbol string, sl, tp float64) {
	b.submit([]intent.Intent{
		intent.Adjust(symbol, sl, tp, intent.OriginManual, time.Now().UTC()),
	})
}

// ResetGuard clears a manual-reset halt and re-enables entry intents.
func (b *Bot) ResetGuard(reason string) {
	if reason == "" {
		reason = "manual reset"
	}
	b.guard.Reset(reason, time.Now().UTC())
	b.coord.Resume()
	b.health.SetGuardState(b.guard.State().String())
	b.hub.Publish(events.HaltEvent{Halted: false, Reason: reason, Timestamp: time.Now().UTC()})
}

// Stop shuts the session down and exports the trade journal.
func (b *Bot) Stop() {
	b.stopped.Do(func() {
		fmt.Println("🧹 Shutting down...")

		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		b.coord.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range b.servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				b.log.Warning("bot: http server shutdown: %v", err)
			}
		}

		if err := b.conn.Disconnect(); err != nil {
			b.log.Error("bot: disconnect failed: %v", err)
		}

		b.hub.Close()
		b.exportJournal()
		b.log.Close()
	})
}

// exportJournal prints the session journal and writes it to the
// configured path.
func (b *Bot) exportJournal() {
	history := b.book.History()
	entries := reporting.FromHistory(history)

	reporter := reporting.NewConsoleReporter()
	reporter.PrintOpenPositions(b.book.OpenPositions())
	reporter.PrintJournal(entries)

	path := b.cfg.Monitoring.JournalPath
	if path == "" || len(entries) == 0 {
		return
	}
	if err := reporting.WriteJournalCSV(entries, path); err != nil {
		b.log.Error("bot: journal export to %s failed: %v", path, err)
		return
	}
	fmt.Printf("📝 Trade journal written to %s\n", path)
}

// startHTTP launches the metrics, health and event endpoints that are
// configured with a listen address.
func (b *Bot) startHTTP() {
	if addr := b.cfg.Monitoring.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.NewMetricsHandler())
		b.serve(addr, mux, "metrics")
	}
	if addr := b.cfg.Monitoring.HealthAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/healthz", b.health)
		b.serve(addr, mux, "health")
	}
	if addr := b.cfg.Monitoring.EventsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/events", b.hub.ServeWS)
		mux.HandleFunc("/manual/close", b.handleManualClose)
		mux.HandleFunc("/manual/adjust", b.handleManualAdjust)
		mux.HandleFunc("/manual/reset-guard", b.handleManualReset)
		b.serve(addr, mux, "events")
	}
}

func (b *Bot) serve(addr string, handler http.Handler, name string) {
	srv := &http.Server{Addr: addr, Handler: handler}
	b.servers = append(b.servers, srv)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.log.Error("bot: %s server on %s: %v", name, addr, err)
		}
	}()
}

func (b *Bot) handleManualClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	symbol := r.FormValue("symbol")
	if _, ok := b.instruments[symbol]; !ok {
		http.Error(w, "unknown symbol", http.StatusBadRequest)
		return
	}
	qty := parseFloatValue(r.FormValue("qty"))
	b.ManualClose(symbol, qty)
	w.WriteHeader(http.StatusAccepted)
}

func (b *Bot) handleManualAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	symbol := r.FormValue("symbol")
	if _, ok := b.instruments[symbol]; !ok {
		http.Error(w, "unknown symbol", http.StatusBadRequest)
		return
	}
	sl := parseFloatValue(r.FormValue("stop_loss"))
	tp := parseFloatValue(r.FormValue("take_profit"))
	if sl == 0 && tp == 0 {
		http.Error(w, "stop_loss or take_profit required", http.StatusBadRequest)
		return
	}
	b.ManualAdjust(symbol, sl, tp)
	w.WriteHeader(http.StatusAccepted)
}

func (b *Bot) handleManualReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	b.ResetGuard(r.FormValue("reason"))
	w.WriteHeader(http.StatusAccepted)
}

func parseFloatValue(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
