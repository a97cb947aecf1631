package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"vwap-band-bot/internal/bars"
	"vwap-band-bot/internal/engine"
	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/store"
	"vwap-band-bot/internal/types"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
)

// replay runs one session through the engine at full speed in simulated
// mode and reports the outcome. Useful for checking a deviation setting
// against yesterday's tape before trading it.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	source := flag.String("source", "", "override data source (STATIC or YAHOO)")
	seed := flag.Int64("seed", 0, "seed for the STATIC source, 0 for random")
	flag.Parse()

	_ = godotenv.Load()
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := store.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Replay is always simulated and unpaced regardless of the config.
	cfg.Mode = "SIM"
	if *source != "" {
		cfg.DataSource = *source
	}

	var src interfaces.BarSource
	switch cfg.DataSource {
	case "YAHOO":
		src = bars.NewYahooSource()
	default:
		src = bars.NewStaticSource(*seed)
	}

	feed := bars.NewReplayFeed(src, 0, "5d", "1m")
	var bar *progressbar.ProgressBar
	feed.OnBar(func(i, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(fmt.Sprintf("replaying %s", cfg.Symbol)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Add(1)
	})

	ctx := context.Background()
	barCh, err := feed.Start(ctx, cfg.Symbol)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	eng := engine.New(cfg, nil)
	go drain(eng.Ticks())
	if err := eng.Run(ctx, barCh); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	snap, ok := eng.Snapshot()
	if !ok {
		fmt.Fprintln(os.Stderr, "no bars replayed")
		os.Exit(1)
	}
	report(cfg, snap)
}

func drain(ticks <-chan types.TickSnapshot) {
	for range ticks {
	}
}

func report(cfg *store.Config, snap types.TickSnapshot) {
	fmt.Printf("\nSession replay: %s\n", cfg.Symbol)
	fmt.Printf("  deviation:  %.4f\n", snap.Band.Deviation)
	fmt.Printf("  last price: %.4f\n", snap.Price)
	fmt.Printf("  vwap:       %.4f\n", snap.VWAP)
	fmt.Printf("  position:   %.2f", snap.Position)
	if snap.Position != 0 {
		fmt.Printf(" @ %.4f avg", snap.AvgPrice)
	}
	fmt.Println()
	fmt.Printf("  cash:       %.2f (started %.2f)\n", snap.Cash, cfg.InitialCash)
	fmt.Printf("  p/l:        %+.2f\n", snap.PL)
	if snap.LastSignal != nil {
		fmt.Printf("  last signal: %s %.2f (%s)\n", snap.LastSignal.Kind, snap.LastSignal.Qty, snap.LastSignal.Reason)
	}
}
