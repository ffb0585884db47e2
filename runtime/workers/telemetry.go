package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"hybridchat/contract"
)

// TelemetryWorker periodically logs process health (RSS, CPU) together with
// broker-level gauges (live sessions, stored messages). Observability only;
// it never influences dispatch.
type TelemetryWorker struct {
	log      *slog.Logger
	interval time.Duration
	registry contract.Registry
	store    contract.Store
}

func NewTelemetryWorker(log *slog.Logger, interval time.Duration,
	registry contract.Registry, store contract.Store) *TelemetryWorker {
	return &TelemetryWorker{log: log, interval: interval, registry: registry, store: store}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}

			count, err := w.store.MessageCount()
			if err != nil {
				w.log.Warn("Failed to count stored messages", "err", err)
				count = -1
			}

			w.log.Info("Broker telemetry",
				"sessions", len(w.registry.AllSessions()),
				"messages", count,
				"ram_bytes", rss,
				"cpu_percent", cpu)
		}
	}
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
