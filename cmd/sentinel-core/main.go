// Command sentinel-core is the monitor core's process entry point: it
// wires the kernel event source, Policy Engine, History Store, Detection
// Engine and IPC surface together and runs until signaled to stop.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentineledr/core/internal/config"
	"github.com/sentineledr/core/internal/demux"
	"github.com/sentineledr/core/internal/detection"
	"github.com/sentineledr/core/internal/fusion"
	"github.com/sentineledr/core/internal/history"
	"github.com/sentineledr/core/internal/ipc"
	"github.com/sentineledr/core/internal/kernelsource/simulated"
	"github.com/sentineledr/core/internal/kvstore"
	"github.com/sentineledr/core/internal/model"
	"github.com/sentineledr/core/internal/policy"
)

// compositeSink fans a demux event out to the Detection Engine and the
// IPC websocket push channel.
type compositeSink struct {
	detection *detection.Engine
	server    *ipc.Server
}

func (c compositeSink) OnSecurityEvent(evt model.SecurityEvent) {
	c.detection.OnSecurityEvent(evt)
	c.server.PublishSecurityEvent(evt)
}

func (c compositeSink) OnProcessLifecycle(evt model.ProcessLifecycleEvent) {
	c.detection.OnProcessLifecycle(evt)
}

func main() {
	cfg := config.Get()
	log := slog.With("component", "main")

	store, err := openKVStore(cfg)
	if err != nil || store == nil {
		if err != nil {
			log.Warn("falling back to in-memory kv store", "error", err)
		}
		store = kvstore.NewMemory()
	}
	auditStore := kvstore.NewAuditModeStore(store)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defaultAudit, err := auditStore.Get(bootCtx)
	bootCancel()
	if err != nil {
		log.Warn("audit mode lookup failed, defaulting to audit", "error", err)
		defaultAudit = true
	}

	policyEngine := policy.New(defaultAudit)
	historyStore := history.New(cfg.History.ProcessRingCapacity, cfg.History.SecurityRingCapacity)
	fusionScorer := fusion.New()

	server := ipc.NewServer(ipc.Deps{
		History:    historyStore,
		Policy:     policyEngine,
		AuditStore: auditStore,
		Fusion:     fusionScorer,
	})

	detectionEngine := detection.New(
		defaultDetectionRules(),
		defaultCorrelationRules(),
		historyStore,
		cfg.Detection.AlertRingCapacity,
		cfg.Detection.CorrelationMaxKeys,
		cfg.Detection.CorrelationPurgeEvery,
		time.Duration(cfg.Detection.CorrelationMaxAgeSec)*time.Second,
		func(a model.Alert) {
			fusionScorer.Record(a)
			server.PublishAlert(a)
		},
	)
	server.SetDetection(detectionEngine)

	source := simulated.New()
	d := demux.New(source, policyEngine, historyStore, compositeSink{detection: detectionEngine, server: server})
	server.SetDemux(d)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	kinds := []model.EventKind{
		model.KindExec, model.KindFork, model.KindExit,
		model.KindOpen, model.KindMprotect, model.KindUnlink, model.KindRename,
	}
	if err := d.Start(runCtx, kinds); err != nil {
		log.Error("failed to start demultiplexer", "error", err)
		os.Exit(1)
	}

	// Suppress the high-volume, low-value noise of framework dylib opens
	// under /System/Library while still observing EXEC from the same
	// locations (spec §4.3 "Muting", event-specific tier).
	if err := d.ApplyMuteSet(model.MuteSet{
		EventRules: []model.MuteRule{
			{Kind: model.KindOpen, Prefix: "/System/Library/Frameworks/"},
		},
	}); err != nil {
		log.Warn("failed to apply mute set", "error", err)
	}

	go func() {
		log.Info("ipc surface starting", "addr", cfg.Server.ListenAddr)
		if err := server.Run(cfg.Server.ListenAddr); err != nil {
			log.Error("ipc surface stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = d.Stop()
}

func openKVStore(cfg *config.Config) (kvstore.Store, error) {
	if cfg.KV.RedisAddr == "" {
		return nil, nil
	}
	return kvstore.NewRedisStore(cfg.KV.RedisAddr, cfg.KV.RedisPassword, cfg.KV.RedisDB)
}
