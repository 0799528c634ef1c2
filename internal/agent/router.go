package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResolverFunc lazily builds an agent's Loop when Router.Get misses its
// cache — typically by resolving a per-agent config override and
// constructing a Loop bound to it on demand, rather than starting every
// configured agent eagerly.
type ResolverFunc func(agentKey string) (Agent, error)

const defaultRouterTTL = 10 * time.Minute

// agentEntry wraps a cached Agent with the time it was cached, for
// TTL-based eviction.
type agentEntry struct {
	agent    Agent
	cachedAt time.Time
}

// Router is the multi-agent registry: each channel's traffic is routed to
// the Loop registered (or lazily resolved) under its agent ID, so one
// process can run several differently-configured agents side by side.
// Cached entries expire after ttl, which bounds how long a stale Loop
// (e.g. one whose config override changed) can keep serving requests
// before the next Get re-resolves it.
type Router struct {
	agents     map[string]*agentEntry
	mu         sync.RWMutex
	activeRuns sync.Map // runID → *ActiveRun
	resolver   ResolverFunc
	ttl        time.Duration
}

func NewRouter() *Router {
	return &Router{
		agents: make(map[string]*agentEntry),
		ttl:    defaultRouterTTL,
	}
}

// SetResolver installs the lazy-creation path used when Get misses both
// the cache and any eager registration.
func (r *Router) SetResolver(fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = fn
}

// Register adds an agent to the router under its own ID, bypassing the
// resolver entirely.
func (r *Router) Register(ag Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[ag.ID()] = &agentEntry{agent: ag, cachedAt: time.Now()}
}

// Get returns the agent registered or previously resolved for agentID,
// lazily invoking the resolver on a cache miss or TTL expiry.
func (r *Router) Get(agentID string) (Agent, error) {
	r.mu.RLock()
	entry, ok := r.agents[agentID]
	resolver := r.resolver
	r.mu.RUnlock()

	if ok && (r.ttl == 0 || time.Since(entry.cachedAt) < r.ttl) {
		return entry.agent, nil
	}

	if ok {
		// TTL expired: drop the stale entry so the resolver rebuilds it.
		r.mu.Lock()
		delete(r.agents, agentID)
		r.mu.Unlock()
	}

	if resolver != nil {
		ag, err := resolver(agentID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if existing, ok := r.agents[agentID]; ok {
			// Another Get call resolved it first; keep that one.
			r.mu.Unlock()
			return existing.agent, nil
		}
		r.agents[agentID] = &agentEntry{agent: ag, cachedAt: time.Now()}
		r.mu.Unlock()
		return ag, nil
	}

	return nil, fmt.Errorf("agent not found: %s", agentID)
}

// Remove evicts an agent from the router, e.g. when its config override is
// deleted.
func (r *Router) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// List returns every currently registered or resolved agent ID.
func (r *Router) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// AgentInfo is lightweight, JSON-friendly metadata about a registered agent.
type AgentInfo struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	IsRunning bool   `json:"isRunning"`
}

// ListInfo returns metadata for every registered agent, for an operator
// command surfacing what's live in the process.
func (r *Router) ListInfo() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]AgentInfo, 0, len(r.agents))
	for _, entry := range r.agents {
		infos = append(infos, AgentInfo{
			ID:        entry.agent.ID(),
			Model:     entry.agent.Model(),
			IsRunning: entry.agent.IsRunning(),
		})
	}
	return infos
}

// --- Active run tracking ---
//
// A "run" here is one Loop.Run call for one inbound message. Tracking it
// separately from the channel's transcript lets an operator cancel a turn
// that is stuck mid-completion without tearing down the channel itself.

// ActiveRun tracks a running agent invocation so it can be cancelled by ID.
type ActiveRun struct {
	RunID      string
	SessionKey string
	AgentID    string
	Cancel     context.CancelFunc
	StartedAt  time.Time
}

// RegisterRun records an active run so AbortRun can cancel it later.
func (r *Router) RegisterRun(runID, sessionKey, agentID string, cancel context.CancelFunc) {
	r.activeRuns.Store(runID, &ActiveRun{
		RunID:      runID,
		SessionKey: sessionKey,
		AgentID:    agentID,
		Cancel:     cancel,
		StartedAt:  time.Now(),
	})
}

// UnregisterRun removes a completed or cancelled run from tracking.
func (r *Router) UnregisterRun(runID string) {
	r.activeRuns.Delete(runID)
}

// AbortRun cancels a single run by ID. sessionKey must match the run's
// recorded session unless it is empty, so one session cannot cancel
// another's run. Returns true if a matching run was found and cancelled.
func (r *Router) AbortRun(runID, sessionKey string) bool {
	val, ok := r.activeRuns.Load(runID)
	if !ok {
		return false
	}
	run := val.(*ActiveRun)

	if sessionKey != "" && run.SessionKey != sessionKey {
		return false
	}

	run.Cancel()
	r.activeRuns.Delete(runID)
	return true
}

// AbortRunsForSession cancels every active run belonging to sessionKey,
// returning the cancelled run IDs.
func (r *Router) AbortRunsForSession(sessionKey string) []string {
	var aborted []string
	r.activeRuns.Range(func(key, val interface{}) bool {
		run := val.(*ActiveRun)
		if run.SessionKey == sessionKey {
			run.Cancel()
			r.activeRuns.Delete(key)
			aborted = append(aborted, run.RunID)
		}
		return true
	})
	return aborted
}
