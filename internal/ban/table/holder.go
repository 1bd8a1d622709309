package table

import (
	"strings"
	"sync"
	"sync/atomic"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/rule"
)

// Snapshot is one immutable generation of both tables. The evaluator
// loads a snapshot once per occurrence and never observes a torn state.
type Snapshot struct {
	Blacklist *Blacklist
	Whitelist *Whitelist
}

func NewSnapshot(b *Blacklist, w *Whitelist) *Snapshot {
	if b == nil {
		b = NewBlacklist()
	}
	if w == nil {
		w = NewWhitelist()
	}
	return &Snapshot{Blacklist: b, Whitelist: w}
}

// Holder publishes the current snapshot. Reads are lock-free; reload is
// a wholesale replace; the live add/remove API goes through a mutex and
// copy-on-write so it never mutates a published generation in place.
type Holder struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

func NewHolder() *Holder {
	h := &Holder{}
	h.cur.Store(NewSnapshot(nil, nil))
	return h
}

// Current returns the snapshot consulted by the hot path.
func (h *Holder) Current() *Snapshot { return h.cur.Load() }

// Replace swaps in a freshly built snapshot (reload). In-flight
// evaluations finish against the generation they loaded.
func (h *Holder) Replace(s *Snapshot) {
	if s == nil {
		s = NewSnapshot(nil, nil)
	}
	h.mu.Lock()
	h.cur.Store(s)
	h.mu.Unlock()
}

// AddRule merges one blacklist rule into the live tables.
func (h *Holder) AddRule(world string, id item.Identity, act action.Action, data *rule.ActionData) {
	h.mutate(func(b *Blacklist) {
		b.AddBan(world, id, ActionMap{act: data})
	})
}

// RemoveRule drops the named actions from (world, item); with no actions
// given the whole row goes.
func (h *Holder) RemoveRule(world string, id item.Identity, acts ...action.Action) {
	h.mutate(func(b *Blacklist) {
		lw := strings.ToLower(world)
		w := b.Worlds[lw]
		if w == nil {
			return
		}
		var m ActionMap
		if id.Fingerprint != "" {
			m = w.Exact[id]
		} else {
			m = w.Typed[id.Type]
		}
		if m == nil {
			return
		}
		if len(acts) == 0 {
			acts = make([]action.Action, 0, len(m))
			for a := range m {
				acts = append(acts, a)
			}
		}
		for _, a := range acts {
			delete(m, a)
		}
		if len(m) == 0 {
			if id.Fingerprint != "" {
				delete(w.Exact, id)
			} else {
				delete(w.Typed, id.Type)
			}
		}
		if len(w.Exact) == 0 && len(w.Typed) == 0 && len(w.Custom) == 0 {
			delete(b.Worlds, lw)
		}
	})
}

// RulesFor returns a copy of every action rule configured for the stack
// in the world (blacklist side), for info/list tooling.
func (h *Holder) RulesFor(world string, s item.Stack) ActionMap {
	bw := h.Current().Blacklist.World(world)
	if bw == nil {
		return nil
	}
	actions, _, ok := bw.Resolve(s)
	if !ok {
		return nil
	}
	return cloneActions(actions)
}

func (h *Holder) mutate(fn func(b *Blacklist)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.cur.Load()
	next := &Snapshot{Blacklist: cloneBlacklist(old.Blacklist), Whitelist: old.Whitelist}
	fn(next.Blacklist)
	h.cur.Store(next)
}

func cloneBlacklist(b *Blacklist) *Blacklist {
	cp := NewBlacklist()
	for w, rules := range b.Worlds {
		cp.Worlds[w] = rules.clone()
	}
	return cp
}

// ForgetPlayer drops the player's cooldown entries across every rule,
// wired to the host's disconnect trigger.
func (h *Holder) ForgetPlayer(player string) {
	s := h.Current()
	for _, w := range s.Blacklist.Worlds {
		forgetInWorld(w, player)
	}
	for _, w := range s.Whitelist.Worlds {
		forgetInWorld(w.Rules, player)
	}
}

func forgetInWorld(w *WorldRules, player string) {
	if w == nil {
		return
	}
	for _, e := range w.Custom {
		forgetInActions(e.Actions, player)
	}
	for _, m := range w.Exact {
		forgetInActions(m, player)
	}
	for _, m := range w.Typed {
		forgetInActions(m, player)
	}
}

func forgetInActions(m ActionMap, player string) {
	for _, d := range m {
		if cd := d.Cooldowns(); cd != nil {
			cd.Forget(player)
		}
	}
}
