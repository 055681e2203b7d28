// Command qdmactl stands up a QDMA function against an in-memory test
// harness and drives it through its lifecycle. It has no real hardware
// binding to attach to, so it exists to exercise the engine end to end
// rather than to move real traffic.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qdma-core/qdma"
	"github.com/qdma-core/qdma/internal/logging"
)

func main() {
	var (
		qbase      = flag.Uint("qbase", 0, "first absolute queue index owned by this function")
		qmax       = flag.Uint("qmax", 4, "number of queues owned by this function")
		isST       = flag.Bool("st", false, "add a streaming (ST) queue instead of memory-mapped (MM)")
		mode       = flag.String("mode", "poll", "interrupt mode: poll, direct, coalesced")
		numWorkers = flag.Int("workers", 1, "poll-thread pool size")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	driverMode, err := parseMode(*mode)
	if err != nil {
		logger.Error("invalid mode", "mode", *mode, "error", err)
		os.Exit(1)
	}

	params := qdma.DefaultDeviceParams(0, uint32(*qbase), uint32(*qmax))
	params.Mode = driverMode
	params.NumWorkers = *numWorkers
	params.Layout = qdma.VectorLayout{DataVectors: int(*qmax)}

	caps := qdma.Capabilities{
		STEnabled: true, MMEnabled: true, MMCompletionEnabled: true,
		DescBypassEnabled: true, PrefetchEnabled: true, Desc64ByteSupported: true,
		NumPFs: 1, QMax: uint32(*qmax),
	}

	dev, _, _ := qdma.NewTestDevice(params, caps)

	if err := dev.Init(); err != nil {
		logger.Error("init failed", "error", err)
		os.Exit(1)
	}
	if err := dev.Open(); err != nil {
		logger.Error("open failed", "error", err)
		os.Exit(1)
	}
	logger.Info("device online", "qbase", *qbase, "qmax", *qmax, "mode", *mode)

	qidAbs := uint16(*qbase)
	cfg := qdma.DefaultQueueConfig()
	cfg.IsST = *isST

	if _, err := dev.AddQueueWithUDDCache(qidAbs, cfg); err != nil {
		logger.Error("add_queue failed", "queue", qidAbs, "error", err)
		os.Exit(1)
	}
	if err := dev.StartQueue(qidAbs); err != nil {
		logger.Error("start_queue failed", "queue", qidAbs, "error", err)
		os.Exit(1)
	}
	logger.Info("queue started", "queue", qidAbs, "st", *isST)

	if major, minor, patch, err := dev.DeviceVersionInfo(); err == nil {
		fmt.Printf("device version: %d.%d.%d\n", major, minor, patch)
	}
	if devCaps, err := dev.GetDevCapabilitiesInfo(); err == nil {
		fmt.Printf("capabilities: %+v\n", devCaps)
	}

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("press Ctrl+C to stop...")
	for {
		select {
		case <-statsTicker.C:
			snap := dev.GetQstatsInfo()
			fmt.Printf("ops=%d bytes=%d errors=%d\n", snap.TotalOps, snap.TotalBytes, snap.H2CErrors+snap.C2HErrors)
		case <-sigCh:
			logger.Info("received shutdown signal")
			if err := dev.Close(); err != nil {
				logger.Error("close failed", "error", err)
			}
			return
		}
	}
}

func parseMode(s string) (qdma.DriverMode, error) {
	switch s {
	case "poll":
		return qdma.ModePoll, nil
	case "direct":
		return qdma.ModeDirectIrq, nil
	case "coalesced":
		return qdma.ModeCoalescedIrq, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want poll, direct, or coalesced)", s)
	}
}
