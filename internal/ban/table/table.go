package table

import (
	"sort"
	"strings"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/meta"
	"itemward.dev/internal/ban/rule"
)

// ActionMap is the per-item slot of a world table.
type ActionMap map[action.Action]*rule.ActionData

// CustomEntry is a meta-matcher-qualified row, checked before the plain
// identity maps. Type restricts the row to one item type when set.
type CustomEntry struct {
	Name     string
	Type     string
	Matchers []meta.Matcher
	Actions  ActionMap
}

func (e *CustomEntry) matches(s item.Stack) bool {
	if e.Type != "" && e.Type != s.Type {
		return false
	}
	for _, m := range e.Matchers {
		if !m.Matches(s) {
			return false
		}
	}
	return len(e.Matchers) > 0 || e.Type != ""
}

// WorldRules holds one world's rows. Custom entries keep insertion order;
// first match wins.
type WorldRules struct {
	Custom []*CustomEntry
	Exact  map[item.Identity]ActionMap
	Typed  map[string]ActionMap
}

func NewWorldRules() *WorldRules {
	return &WorldRules{
		Exact: make(map[item.Identity]ActionMap),
		Typed: make(map[string]ActionMap),
	}
}

// Resolve finds the action map for a candidate stack: custom entries in
// insertion order, then the exact identity, then the type-only fallback.
// name is the custom entry's name when that tier matched.
func (w *WorldRules) Resolve(s item.Stack) (actions ActionMap, name string, ok bool) {
	for _, e := range w.Custom {
		if e.matches(s) {
			return e.Actions, e.Name, true
		}
	}
	if id := s.Identity(); id.Fingerprint != "" {
		if m, ok := w.Exact[id]; ok {
			return m, "", true
		}
	}
	if m, ok := w.Typed[s.Type]; ok {
		return m, "", true
	}
	return nil, "", false
}

// Merge adds actions for an identity, last write winning per action key.
// Identities with a fingerprint land in the exact tier, others in the
// type-only tier.
func (w *WorldRules) Merge(id item.Identity, actions ActionMap) {
	var dst ActionMap
	if id.Fingerprint != "" {
		dst = w.Exact[id]
		if dst == nil {
			dst = make(ActionMap)
			w.Exact[id] = dst
		}
	} else {
		dst = w.Typed[id.Type]
		if dst == nil {
			dst = make(ActionMap)
			w.Typed[id.Type] = dst
		}
	}
	for a, d := range actions {
		dst[a] = d.Seal()
	}
}

// MergeCustom appends or extends a named custom row. Every ActionData is
// stamped with the entry name via a copy, so worlds never share payloads.
func (w *WorldRules) MergeCustom(name, typ string, matchers []meta.Matcher, actions ActionMap) {
	for _, e := range w.Custom {
		if e.Name == name {
			for a, d := range actions {
				e.Actions[a] = d.WithCustomName(name)
			}
			return
		}
	}
	entry := &CustomEntry{Name: name, Type: typ, Matchers: matchers, Actions: make(ActionMap, len(actions))}
	for a, d := range actions {
		entry.Actions[a] = d.WithCustomName(name)
	}
	w.Custom = append(w.Custom, entry)
}

func (w *WorldRules) clone() *WorldRules {
	cp := NewWorldRules()
	cp.Custom = append(cp.Custom, w.Custom...)
	for id, m := range w.Exact {
		cp.Exact[id] = cloneActions(m)
	}
	for t, m := range w.Typed {
		cp.Typed[t] = cloneActions(m)
	}
	return cp
}

func cloneActions(m ActionMap) ActionMap {
	cp := make(ActionMap, len(m))
	for a, d := range m {
		cp[a] = d
	}
	return cp
}

// Blacklist maps worlds to their forbidden rows. A world with nothing
// configured is absent, not an empty map; lookups short-circuit on that.
type Blacklist struct {
	Worlds map[string]*WorldRules
}

func NewBlacklist() *Blacklist {
	return &Blacklist{Worlds: make(map[string]*WorldRules)}
}

// World returns the rows for a world, nil when nothing is configured.
func (b *Blacklist) World(world string) *WorldRules {
	return b.Worlds[strings.ToLower(world)]
}

func (b *Blacklist) ensure(world string) *WorldRules {
	world = strings.ToLower(world)
	w := b.Worlds[world]
	if w == nil {
		w = NewWorldRules()
		b.Worlds[world] = w
	}
	return w
}

// AddBan merges an action map into (world, item).
func (b *Blacklist) AddBan(world string, id item.Identity, actions ActionMap) {
	b.ensure(world).Merge(id, actions)
}

// AddCustomBan merges a named meta-qualified row into the world.
func (b *Blacklist) AddCustomBan(world, name, typ string, matchers []meta.Matcher, actions ActionMap) {
	b.ensure(world).MergeCustom(name, typ, matchers, actions)
}

// WhitelistWorld is one world's allow-only entry set, with the message
// list shown on disallow and the actions exempt from enforcement.
type WhitelistWorld struct {
	Rules    *WorldRules
	Messages []string
	Ignored  map[action.Action]struct{}
}

func NewWhitelistWorld(messages []string, ignored []action.Action) *WhitelistWorld {
	w := &WhitelistWorld{
		Rules:    NewWorldRules(),
		Messages: messages,
		Ignored:  make(map[action.Action]struct{}, len(ignored)),
	}
	for _, a := range ignored {
		w.Ignored[a] = struct{}{}
	}
	return w
}

func (w *WhitelistWorld) IsIgnored(a action.Action) bool {
	_, ok := w.Ignored[a]
	return ok
}

// Whitelist maps worlds to allow-only entry sets. A world absent from the
// map is unrestricted.
type Whitelist struct {
	Worlds map[string]*WhitelistWorld
}

func NewWhitelist() *Whitelist {
	return &Whitelist{Worlds: make(map[string]*WhitelistWorld)}
}

func (w *Whitelist) World(world string) *WhitelistWorld {
	return w.Worlds[strings.ToLower(world)]
}

func (w *Whitelist) Put(world string, ww *WhitelistWorld) {
	w.Worlds[strings.ToLower(world)] = ww
}

// WorldNames lists configured worlds across both tables, sorted, for the
// introspection surface.
func WorldNames(b *Blacklist, wl *Whitelist) []string {
	set := map[string]struct{}{}
	if b != nil {
		for w := range b.Worlds {
			set[w] = struct{}{}
		}
	}
	if wl != nil {
		for w := range wl.Worlds {
			set[w] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
