package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/slvnlrt/memengine/internal/agent"
	"github.com/slvnlrt/memengine/internal/bus"
	"github.com/slvnlrt/memengine/internal/config"
	"github.com/slvnlrt/memengine/internal/heartbeat"
	"github.com/slvnlrt/memengine/internal/memory"
	"github.com/slvnlrt/memengine/internal/transcript"
)

// echoModelClient is a stand-in ModelClient for local smoke-testing the
// loop without a real provider call: it replies with the last user
// message, prefixed, so injected memory context is visible in the reply
// transcript during manual testing.
type echoModelClient struct{}

func (echoModelClient) Complete(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == transcript.RoleUser {
			return fmt.Sprintf("(%s) echo: %s", model, messages[i].Content), nil
		}
	}
	return "(no user message found)", nil
}

const (
	dedupeTTL      = 20 * time.Minute
	dedupeMaxSize  = 5000
	coalesceWindow = 500 * time.Millisecond
)

func serveCmd() *cobra.Command {
	var dbPath, agentID, model, channel string
	var heartbeatInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an agent loop against a local SQLite store, reading turns from stdin",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(dbPath, agentID, model, channel, heartbeatInterval)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "memengine.db", "path to the SQLite memory store")
	cmd.Flags().StringVar(&agentID, "agent", "default", "agent id to resolve config overrides for")
	cmd.Flags().StringVar(&model, "model", "local-echo", "model name passed to the model client and listed by /agents")
	cmd.Flags().StringVar(&channel, "channel", "cli", "channel id the stdin session runs as")
	cmd.Flags().DurationVar(&heartbeatInterval, "heartbeat", 0, "run a periodic system re-trigger at this interval (0 disables it)")
	return cmd
}

func runServe(dbPath, agentID, model, channelID string, heartbeatInterval time.Duration) {
	store, err := memory.NewSQLiteStore(dbPath)
	if err != nil {
		fatalf("open store: %s", err)
	}
	defer store.Close()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Warn("serve: no config file, running with engine defaults", "path", cfgPath, "error", err)
		cfg = &config.Config{}
	}
	snapshot := config.NewSnapshot(cfg)

	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		slog.Warn("serve: config hot-reload disabled", "error", err)
	} else {
		watcher.OnChange(func(updated *config.Config) { snapshot.Store(updated) })
		if err := watcher.Start(); err != nil {
			slog.Warn("serve: config watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	embedder := hashEmbedder{}

	// newAgentLoop builds a Loop for agentKey, sharing the store, embedder,
	// config snapshot and model across every agent the router resolves —
	// only the per-agent config overrides (resolved inside the loop itself)
	// differ between agents.
	newAgentLoop := func(agentKey string) (agent.Agent, error) {
		return agent.NewLoop(agentKey, model, store, embedder, snapshot, echoModelClient{}, nil, 8000), nil
	}

	router := agent.NewRouter()
	router.SetResolver(func(agentKey string) (agent.Agent, error) {
		if _, ok := snapshot.Load().PerAgent[config.NormalizeAgentID(agentKey)]; !ok {
			return nil, fmt.Errorf("agent not found: %s", agentKey)
		}
		return newAgentLoop(agentKey)
	})

	primary, err := newAgentLoop(agentID)
	if err != nil {
		fatalf("create agent loop: %s", err)
	}
	router.Register(primary)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	msgBus := bus.New()
	defer msgBus.Close()
	dedupeCache := bus.NewDedupeCache(dedupeTTL, dedupeMaxSize)

	var lastMu sync.Mutex
	lastUsed := map[string][2]string{} // agentID → [channel, chatID]
	recordLastUsed := func(agentID, channel, chatID string) {
		lastMu.Lock()
		lastUsed[agentID] = [2]string{channel, chatID}
		lastMu.Unlock()
	}

	runFor := func(ctx context.Context, targetAgentID string, msg bus.InboundMessage, runID string) (string, error) {
		ag, err := router.Get(targetAgentID)
		if err != nil {
			return "", err
		}
		runCtx, cancelRun := context.WithCancel(ctx)
		router.RegisterRun(runID, msg.ChatID, targetAgentID, cancelRun)
		defer func() {
			router.UnregisterRun(runID)
			cancelRun()
		}()

		res, err := ag.Run(runCtx, agent.RunRequest{ChannelID: msg.Channel, Message: msg})
		if err != nil {
			return "", err
		}
		return res.Reply, nil
	}

	coalescer := bus.NewInboundCoalescer(coalesceWindow, func(merged bus.InboundMessage) {
		msgBus.PublishInbound(merged)
	})
	defer coalescer.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			msg, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				return
			}
			dedupeKey := msg.Channel + ":" + msg.SenderID + ":" + msg.Content
			if dedupeCache.IsDuplicate(dedupeKey) {
				slog.Debug("serve: dropped duplicate inbound message", "channel", msg.Channel)
				continue
			}

			targetAgentID := msg.SenderID
			runID := uuid.NewString()
			reply, err := runFor(ctx, targetAgentID, msg, runID)
			if err != nil {
				slog.Error("serve: agent run failed", "agent", targetAgentID, "error", err)
				continue
			}
			recordLastUsed(targetAgentID, msg.Channel, msg.ChatID)
			msgBus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
		}
	}()
	go func() {
		defer wg.Done()
		for {
			out, ok := msgBus.SubscribeOutbound(ctx)
			if !ok {
				return
			}
			fmt.Println(out.Content)
		}
	}()

	var hbService *heartbeat.Service
	if heartbeatInterval > 0 {
		hbService = heartbeat.NewService(
			heartbeat.Config{AgentID: agentID, Interval: heartbeatInterval, Target: "last"},
			func(ctx context.Context, hbAgentID string, msg bus.InboundMessage, runID string) (string, error) {
				return runFor(ctx, hbAgentID, msg, runID)
			},
			msgBus,
			func(hbAgentID string) (channel, chatID string) {
				lastMu.Lock()
				defer lastMu.Unlock()
				target, ok := lastUsed[hbAgentID]
				if !ok {
					return "", ""
				}
				return target[0], target[1]
			},
		)
		hbService.Start()
		defer hbService.Stop()
	}

	fmt.Printf("memengine serve — agent %q on channel %q (Ctrl-D to exit)\n", agentID, channelID)
	fmt.Println("prefix a line with @agentID to route it to a different agent's loop; /abort <runID> cancels a run in flight; /agents lists live agents")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if target, ok := strings.CutPrefix(line, "/abort "); ok {
			if router.AbortRun(strings.TrimSpace(target), "") {
				fmt.Println("run aborted")
			} else {
				fmt.Println("no matching run in flight")
			}
			continue
		}

		if line == "/agents" {
			for _, info := range router.ListInfo() {
				fmt.Printf("  %s (model=%s running=%t)\n", info.ID, info.Model, info.IsRunning)
			}
			continue
		}

		targetAgentID := agentID
		content := line
		if rest, ok := strings.CutPrefix(line, "@"); ok {
			fields := strings.SplitN(rest, " ", 2)
			targetAgentID = fields[0]
			if len(fields) == 2 {
				content = fields[1]
			} else {
				content = ""
			}
		}

		coalescer.Push(bus.InboundMessage{
			Channel:   channelID,
			ChatID:    channelID,
			SenderID:  targetAgentID,
			Content:   content,
			Source:    bus.SourceUser,
			Timestamp: time.Now(),
		})
	}

	coalescer.Stop()
	cancel()
	wg.Wait()
}
