package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"vwap-band-bot/internal/engine"
	"vwap-band-bot/internal/eodsum"
	"vwap-band-bot/internal/logger"
	"vwap-band-bot/internal/trace"
	"vwap-band-bot/internal/types"
)

// deviationStep is how much one dev+ / dev- command moves the band.
const deviationStep = 0.0005

func main() {
	if err := initializeSystem(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() { _ = trace.Shutdown(context.Background()) }()

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}
	if err := trace.Init("vwap-band-bot", cfg.TracingEnabled()); err != nil {
		logger.Warn(ctx, "Tracing unavailable, continuing without spans", "error", err)
	}
	compressOldLogs(ctx)
	startMetrics(ctx, cfg)

	brk, err := initializeBroker(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Broker initialization failed", err)
		os.Exit(1)
	}
	feed, err := initializeFeed(ctx, cfg)
	if err != nil {
		logger.ErrorWithErr(ctx, "Feed initialization failed", err)
		os.Exit(1)
	}

	eng := engine.New(cfg, brk)

	barCh, err := feed.Start(ctx, cfg.Symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to start bar feed", err, "symbol", cfg.Symbol)
		os.Exit(1)
	}
	defer feed.Stop(context.Background())

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info(ctx, "Shutdown signal received")
		eng.Enqueue(types.Command{Kind: types.CmdStop})
		cancel()
	}()

	go streamTicks(eng)
	go commandLoop(ctx, eng)

	if err := eng.Run(ctx, barCh); err != nil && err != context.Canceled {
		logger.ErrorWithErr(ctx, "Engine stopped with error", err)
	}

	if p, err := eodsum.SummarizeToday(); err == nil && p != "" {
		logger.Info(ctx, "Session summary written", "path", p)
	}
}

// streamTicks prints one JSON line per tick for external consumers.
func streamTicks(eng interface{ Ticks() <-chan types.TickSnapshot }) {
	for snap := range eng.Ticks() {
		b, _ := json.Marshal(snap)
		fmt.Println(string(b))
	}
}

// commandLoop maps stdin lines onto engine commands:
//
//	buy | sell | close | dev+ | dev- | dev <value> | auto | cancel | stop
func commandLoop(ctx context.Context, eng interface {
	Enqueue(types.Command) bool
	Snapshot() (types.TickSnapshot, bool)
}) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" {
			continue
		}

		var cmd types.Command
		switch {
		case line == "buy":
			cmd = types.Command{Kind: types.CmdBuy}
		case line == "sell":
			cmd = types.Command{Kind: types.CmdSell}
		case line == "close":
			cmd = types.Command{Kind: types.CmdClose}
		case line == "auto":
			cmd = types.Command{Kind: types.CmdToggleAuto}
		case line == "cancel":
			cmd = types.Command{Kind: types.CmdCancelAll}
		case line == "stop", line == "quit", line == "exit":
			cmd = types.Command{Kind: types.CmdStop}
		case line == "dev+", line == "dev-":
			snap, ok := eng.Snapshot()
			if !ok {
				logger.Warn(ctx, "No tick yet, deviation unchanged")
				continue
			}
			dev := snap.Band.Deviation + deviationStep
			if line == "dev-" {
				dev = snap.Band.Deviation - deviationStep
			}
			cmd = types.Command{Kind: types.CmdSetDeviation, Value: dev}
		case strings.HasPrefix(line, "dev "):
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, "dev "), 64)
			if err != nil {
				logger.Warn(ctx, "Unparseable deviation", "input", line)
				continue
			}
			cmd = types.Command{Kind: types.CmdSetDeviation, Value: v}
		default:
			logger.Warn(ctx, "Unknown command", "input", line)
			continue
		}

		if !eng.Enqueue(cmd) {
			logger.Warn(ctx, "Command queue full, command dropped", "kind", cmd.Kind)
		}
		if cmd.Kind == types.CmdStop {
			return
		}
	}
}
