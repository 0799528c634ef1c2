package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the Postgres NOTIFY channel used by managed-mode
// deployments to fan out config changes across instances, instead of (or
// alongside) filesystem watching.
const NotifyChannel = "memengine_config_reload"

// PGListener reloads the snapshot whenever another instance issues
// `NOTIFY memengine_config_reload`, e.g. after an admin API write. It
// complements Watcher rather than replacing it: standalone mode uses
// Watcher alone, managed mode runs both.
type PGListener struct {
	listener *pq.Listener
	path     string
	snapshot *Snapshot
	stopCh   chan struct{}
}

// NewPGListener opens a dedicated LISTEN connection against dsn.
func NewPGListener(dsn, configPath string, snapshot *Snapshot) *PGListener {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("pg config listener event", "error", err)
		}
	})
	return &PGListener{listener: l, path: configPath, snapshot: snapshot, stopCh: make(chan struct{})}
}

// Start subscribes to NotifyChannel and reloads on every notification.
func (p *PGListener) Start(ctx context.Context) error {
	if err := p.listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	go p.loop(ctx)
	slog.Info("pg config listener started", "channel", NotifyChannel)
	return nil
}

func (p *PGListener) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case n := <-p.listener.Notify:
			if n == nil {
				continue
			}
			cfg, err := Load(p.path)
			if err != nil {
				slog.Error("config reload via pg notify failed", "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				slog.Error("config reload via pg notify rejected, keeping previous snapshot", "error", err)
				continue
			}
			p.snapshot.Store(cfg)
			slog.Info("config reloaded via pg notify")
		}
	}
}

// Stop unsubscribes and closes the listener connection.
func (p *PGListener) Stop() {
	close(p.stopCh)
	p.listener.Close()
}
