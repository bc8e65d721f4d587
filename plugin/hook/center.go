package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a Hook handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds a HookFn for the given event with the given priority (lower runs first).
// name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether any handler is registered for event.
func (hc *HookCenter) Has(event string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event]) > 0
}

func (hc *HookCenter) snapshot(event string) []*hookEntry {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	return entries
}

// Trigger executes all registered hooks for event in priority order.
// Data flows through each handler, allowing modification.
// If any handler returns ErrInterrupt, execution stops. Other errors are ignored.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	var err error
	for _, e := range hc.snapshot(event) {
		data, err = e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return data, err
		}
	}
	return data, nil
}

// TriggerStrict is like Trigger but stops at the first error of any kind and returns it.
// Reward granting uses it so a failing handler is reported instead of swallowed.
func (hc *HookCenter) TriggerStrict(ctx context.Context, event string, data interface{}) (interface{}, error) {
	var err error
	for _, e := range hc.snapshot(event) {
		data, err = e.fn(ctx, event, data)
		if err != nil {
			return data, err
		}
	}
	return data, nil
}

// ---- Hook event names ----

const (
	OnAccountJoin       = "on_account_join"
	OnAccountLeave      = "on_account_leave"
	OnQuestStart        = "on_quest_start"
	OnQuestUpdate       = "on_quest_update"
	OnQuestComplete     = "on_quest_complete"
	OnQuestRemoved      = "on_quest_removed"
	OnStageStart        = "on_stage_start"
	OnRewardGrant       = "on_reward_grant"
	OnRequirementCheck  = "on_requirement_check"
	OnRequirementAction = "on_requirement_action"
)
