package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/quantro/meanrev/alerts"
	sim "github.com/quantro/meanrev/broker/sim"
	"github.com/quantro/meanrev/calendar"
	"github.com/quantro/meanrev/config"
	"github.com/quantro/meanrev/engine"
	"github.com/quantro/meanrev/feed"
	"github.com/quantro/meanrev/journal"
	"github.com/quantro/meanrev/market"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot in paper-trading mode",
	Long: `Run consumes a bar stream and trades it against the simulated
execution engine, journalling every signal, trade and snapshot.

Bar sources:
  - websocket stream (feed.endpoint in the config)
  - synthetic mean-reverting generator (--sim)`,
	RunE: runBot,
}

var (
	runSim     bool
	runSimBars int
	runSimSeed int64
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSim, "sim", false, "trade a synthetic bar stream instead of the websocket feed")
	runCmd.Flags().IntVar(&runSimBars, "sim-bars", 10_000, "number of synthetic bars")
	runCmd.Flags().Int64Var(&runSimSeed, "sim-seed", 1, "synthetic stream seed")
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	var cal calendar.Calendar = calendar.AlwaysOpen{}
	if cfg.Calendar.Enabled {
		fut, err := calendar.NewFutures(cfg.Calendar.Holidays)
		if err != nil {
			return err
		}
		cal = fut
	}

	var notify alerts.Notifier = alerts.Noop{}
	if cfg.Telegram.Enabled {
		notify = alerts.NewRelay(alerts.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}

	broker := sim.New(cfg.Symbol, cfg.Slippage(), sim.Tiebreak(cfg.Backtest.StopTakeTiebreak))
	if err := broker.Connect(ctx); err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Broker:   broker,
		Journal:  store,
		Calendar: cal,
		Alerts:   notify,
	})
	if err != nil {
		return err
	}

	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	bars, cleanup, err := barSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	notify.Startup("paper", cfg.Symbol, cfg.Risk.MaxDailyLoss)
	log.Printf("[INFO] meanrev running: %s %s, lookback %d, z %.2f/%.2f",
		cfg.Symbol, cfg.Timeframe, cfg.Strategy.Lookback, cfg.Strategy.ZEntry, cfg.Strategy.ZExit)

	// Hourly status line, scheduled off-thread but delivered through the
	// main loop so engine access stays single-threaded.
	status := make(chan struct{}, 1)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		select {
		case status <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	reason := "end of stream"
loop:
	for {
		select {
		case b, ok := <-bars:
			if !ok {
				break loop
			}
			broker.UpdateBar(b)
			if err := eng.OnBar(ctx, b); err != nil {
				log.Printf("[ERROR] %v", err)
				reason = "store failure"
				break loop
			}

		case <-status:
			logStatus(eng)

		case s := <-sigc:
			log.Printf("[INFO] received %v", s)
			reason = "operator signal"
			break loop
		}
	}

	return eng.Shutdown(ctx, reason)
}

func logStatus(eng *engine.Engine) {
	gate := eng.Gate()
	halted, haltReason := gate.Halted()
	log.Printf("[INFO] status: phase=%s session_pnl=%.2f trades=%d halted=%v(%s) last_bar=%s",
		eng.Phase(), gate.SessionPnL(), gate.TradesToday(), halted, haltReason,
		eng.LastBarTime().Format(time.RFC3339))
}

// barSource opens the configured stream: websocket when an endpoint is
// set, the synthetic generator under --sim.
func barSource(ctx context.Context, cfg *config.Config) (<-chan market.Bar, func(), error) {
	if runSim {
		bars := feed.GenerateBars(feed.SimulatorConfig{
			Bars:       runSimBars,
			Seed:       runSimSeed,
			Interval:   cfg.BarInterval(),
			StartPrice: 5000,
		})
		ch := make(chan market.Bar)
		go func() {
			defer close(ch)
			for _, b := range bars {
				select {
				case ch <- b:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, func() {}, nil
	}

	if cfg.Feed.Endpoint == "" {
		return nil, nil, fmt.Errorf("no bar source: set feed.endpoint or pass --sim")
	}

	stream, err := feed.Dial(ctx, feed.StreamConfig{Endpoint: cfg.Feed.Endpoint})
	if err != nil {
		return nil, nil, err
	}
	return stream.Bars(), stream.Close, nil
}
