package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slvnlrt/memengine/internal/bus"
)

func TestStripHeartbeatToken_ExactMatch(t *testing.T) {
	content, ok := stripHeartbeatToken("HEARTBEAT_OK", defaultAckMaxChars)
	if !ok || content != "" {
		t.Fatalf("expected ok with empty content, got ok=%v content=%q", ok, content)
	}
}

func TestStripHeartbeatToken_WithShortSuffix(t *testing.T) {
	content, ok := stripHeartbeatToken("Nothing to report. HEARTBEAT_OK", defaultAckMaxChars)
	if !ok || content != "" {
		t.Fatalf("expected ok with trimmed content, got ok=%v content=%q", ok, content)
	}
}

func TestStripHeartbeatToken_LongRemainderIsNotAck(t *testing.T) {
	long := "HEARTBEAT_OK but also here is a very long message that should not be treated as an acknowledgement because it clearly carries real content worth delivering to the user despite the token appearing at the start of the reply"
	content, ok := stripHeartbeatToken(long, 50)
	if ok {
		t.Fatal("expected long remainder to not be treated as ack")
	}
	if content == "" {
		t.Fatal("expected non-empty remaining content")
	}
}

func TestStripHeartbeatToken_TokenInMiddleIsNotAck(t *testing.T) {
	content, ok := stripHeartbeatToken("something HEARTBEAT_OK something else", defaultAckMaxChars)
	if ok {
		t.Fatal("expected token in the middle of text to not be treated as ack")
	}
	if content == "" {
		t.Fatal("expected full content to be returned")
	}
}

func TestIsEffectivelyEmpty(t *testing.T) {
	cases := map[string]bool{
		"":                             true,
		"   \n\n  ":                    true,
		"# Heartbeat\n\n":               true,
		"<!-- note -->\n- \n* \n":       true,
		"# Heartbeat\nCheck my inbox\n": false,
		"- buy milk\n":                 false,
	}
	for content, want := range cases {
		if got := isEffectivelyEmpty(content); got != want {
			t.Errorf("isEffectivelyEmpty(%q) = %v, want %v", content, got, want)
		}
	}
}

func TestIsInActiveHours_NoRestriction(t *testing.T) {
	if !isInActiveHours(nil) {
		t.Fatal("expected nil active hours to always be in window")
	}
	if !isInActiveHours(&ActiveHours{}) {
		t.Fatal("expected empty active hours to always be in window")
	}
}

func TestIsInActiveHours_WrapAround(t *testing.T) {
	cfg := &ActiveHours{Start: "22:00", End: "06:00"}
	// isInActiveHours uses time.Now(), so this only checks that a
	// wrap-around window runs without panicking — a loose smoke test.
	_ = isInActiveHours(cfg)
}

func TestService_Tick_SkipsWhenHeartbeatFileEmpty(t *testing.T) {
	dir := t.TempDir()

	var ran bool
	runner := func(ctx context.Context, agentID string, msg bus.InboundMessage, runID string) (string, error) {
		ran = true
		return "HEARTBEAT_OK", nil
	}

	svc := NewService(Config{AgentID: "agent-1", Workspace: dir}, runner, bus.New(), nil)
	svc.tick(context.Background())

	if ran {
		t.Fatal("expected tick to skip running the agent when HEARTBEAT.md is empty/missing")
	}
}

func TestService_Tick_RunsWithSystemSourcedMessage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "HEARTBEAT.md"), []byte("- check the calendar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotSource bus.MessageSource
	runner := func(ctx context.Context, agentID string, msg bus.InboundMessage, runID string) (string, error) {
		gotSource = msg.Source
		return "HEARTBEAT_OK", nil
	}

	svc := NewService(Config{AgentID: "agent-1", Workspace: dir}, runner, bus.New(), nil)
	svc.tick(context.Background())

	if gotSource != bus.SourceSystem {
		t.Fatalf("expected heartbeat turn to be sourced as system, got %q", gotSource)
	}
}

func TestService_Tick_DedupsSameContentWithin24h(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "HEARTBEAT.md"), []byte("- check the calendar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	runner := func(ctx context.Context, agentID string, msg bus.InboundMessage, runID string) (string, error) {
		calls++
		return "There are 3 unread alerts that need attention right now.", nil
	}

	mb := bus.New()
	svc := NewService(Config{AgentID: "agent-1", Workspace: dir, Target: "none"}, runner, mb, nil)

	svc.tick(context.Background())
	firstAlertAt := svc.lastAlertAt
	svc.tick(context.Background())

	if calls != 2 {
		t.Fatalf("expected both ticks to invoke the runner, got %d calls", calls)
	}
	if svc.lastContent == "" {
		t.Fatal("expected dedup state to record last alert content")
	}
	if !svc.lastAlertAt.Equal(firstAlertAt) {
		t.Fatal("expected the repeated alert within 24h to be deduped, but the alert timestamp advanced")
	}
}

func TestService_StartStop(t *testing.T) {
	svc := NewService(Config{AgentID: "agent-1", Interval: time.Hour}, func(ctx context.Context, agentID string, msg bus.InboundMessage, runID string) (string, error) {
		return "HEARTBEAT_OK", nil
	}, bus.New(), nil)

	if svc.IsRunning() {
		t.Fatal("expected service to start not running")
	}
	svc.Start()
	if !svc.IsRunning() {
		t.Fatal("expected service to be running after Start")
	}
	svc.Stop()
	if svc.IsRunning() {
		t.Fatal("expected service to stop running after Stop")
	}
}
