// Package engine evaluates in-game occurrences against the configured
// blacklist and whitelist tables and directs side effects. It owns no
// mutable state of its own: tables live behind the snapshot holder,
// cooldowns inside each rule, spam guards inside the dispatcher.
package engine

import (
	"fmt"
	"strings"
	"time"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/hooks"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/rule"
	"itemward.dev/internal/ban/sidefx"
	"itemward.dev/internal/ban/table"
)

// Player is the acting context for the full rule set. Non-player
// occurrences (hoppers, dispensers) use the world-only entrypoints.
type Player struct {
	ID       string
	Name     string
	World    string
	GameMode rule.GameMode
	X, Y, Z  float64
}

// Location optionally overrides where the occurrence happens (e.g. the
// block broken rather than the player's feet).
type Location struct {
	World   string
	X, Y, Z float64
}

// Decision is the outcome handed back to the occurrence notifier.
type Decision struct {
	Blocked     bool
	MessageSent bool
}

// Record describes one enforced decision, for audit sinks.
type Record struct {
	Time     time.Time     `json:"ts"`
	PlayerID string        `json:"player_id,omitempty"`
	Player   string        `json:"player,omitempty"`
	World    string        `json:"world"`
	ItemType string        `json:"item"`
	Custom   string        `json:"custom,omitempty"`
	Action   action.Action `json:"action"`
	Source   string        `json:"source"`
}

const (
	SourceBlacklist = "blacklist"
	SourceWhitelist = "whitelist"
)

// Config wires the engine's collaborators. Only Tables and Effects are
// required; every hook degrades to non-restrictive when nil.
type Config struct {
	Tables  *table.Holder
	Effects *sidefx.Dispatcher

	Permissions hooks.PermissionCheck
	Regions     hooks.RegionLookup
	Hook        hooks.EventHook
	Schedule    hooks.Scheduler
	Scrub       hooks.InventoryScrub

	// OnDecision observes every enforced block, fire-and-forget.
	OnDecision func(Record)
}

type Engine struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Engine {
	if cfg.Tables == nil {
		cfg.Tables = table.NewHolder()
	}
	if cfg.Effects == nil {
		cfg.Effects = sidefx.New()
	}
	return &Engine{cfg: cfg, now: time.Now}
}

// Tables exposes the holder for the live add/remove and reload surface.
func (e *Engine) Tables() *table.Holder { return e.cfg.Tables }

// Evaluate is the single entrypoint per occurrence. Blacklist first; a
// blacklist hit short-circuits, the whitelist is never consulted.
func (e *Engine) Evaluate(p *Player, loc *Location, s item.Stack, a action.Action, aux ...action.Aux) Decision {
	snap := e.cfg.Tables.Current()
	var d Decision
	if e.blacklisted(snap, p, loc, s, true, a, aux, &d) {
		d.Blocked = true
		return d
	}
	if !e.whitelisted(snap, p, loc, s, true, a, aux, &d) {
		d.Blocked = true
		return d
	}
	return d
}

// EvaluateWorld is the reduced non-player path: presence and aux filters
// only, no gamemode/permission/cooldown/messages.
func (e *Engine) EvaluateWorld(world string, s item.Stack, a action.Action, aux ...action.Aux) Decision {
	snap := e.cfg.Tables.Current()
	if e.blacklistedWorld(snap, world, s, a, aux) {
		return Decision{Blocked: true}
	}
	if !e.whitelistedWorld(snap, world, s, a, aux) {
		return Decision{Blocked: true}
	}
	return Decision{}
}

// IsBlacklisted runs the blacklist side alone against the live tables.
func (e *Engine) IsBlacklisted(p *Player, loc *Location, s item.Stack, sendMessage bool, a action.Action, aux ...action.Aux) bool {
	var d Decision
	return e.blacklisted(e.cfg.Tables.Current(), p, loc, s, sendMessage, a, aux, &d)
}

// IsWhitelisted runs the whitelist side alone against the live tables.
func (e *Engine) IsWhitelisted(p *Player, loc *Location, s item.Stack, sendMessage bool, a action.Action, aux ...action.Aux) bool {
	var d Decision
	return e.whitelisted(e.cfg.Tables.Current(), p, loc, s, sendMessage, a, aux, &d)
}

// IsBlacklistedWorld is the world-only blacklist overload.
func (e *Engine) IsBlacklistedWorld(world string, s item.Stack, a action.Action, aux ...action.Aux) bool {
	return e.blacklistedWorld(e.cfg.Tables.Current(), world, s, a, aux)
}

func (e *Engine) blacklisted(snap *table.Snapshot, p *Player, loc *Location, s item.Stack, sendMessage bool, a action.Action, aux []action.Aux, d *Decision) bool {
	bw := snap.Blacklist.World(p.World)
	if bw == nil {
		return false
	}
	actions, _, ok := bw.Resolve(s)
	if !ok {
		return false
	}
	data := actions[a]
	if data == nil {
		return false
	}
	if !data.MatchesAux(aux) {
		return false
	}
	if !data.MatchesGameMode(p.GameMode) {
		return false
	}
	if !e.inRegions(data, p, loc) {
		return false
	}

	itemName := displayName(data, s)
	ruleKey := strings.ToLower(p.World) + "|" + strings.ToLower(itemName) + "|" + string(a)

	if data.Cooldown > 0 {
		if cd := data.Cooldowns(); cd != nil {
			active, remaining := cd.Touch(p.ID, data.Cooldown, e.now())
			if !active {
				// First touch arms the window without blocking.
				return false
			}
			if sendMessage {
				for _, m := range data.Messages {
					e.cfg.Effects.Send(p.ID, e.expand(m, p, itemName, remaining))
				}
				d.MessageSent = len(data.Messages) > 0
			}
			e.record(p, p.World, s, data, a, SourceBlacklist)
			return true
		}
	}

	if e.bypassed(p, data, itemName, a, aux) {
		return false
	}
	if e.cfg.Hook != nil && e.cfg.Hook(e.occurrence(p, s, data, a)) {
		return false
	}

	if _, hasDelete := actions[action.Delete]; hasDelete && e.cfg.Schedule != nil && e.cfg.Scrub != nil {
		pid, typ := p.ID, s.Type
		e.cfg.Schedule(func() { e.cfg.Scrub(pid, typ) })
	}

	if sendMessage {
		msgs := make([]string, 0, len(data.Messages))
		for _, m := range data.Messages {
			msgs = append(msgs, e.expand(m, p, itemName, 0))
		}
		d.MessageSent = e.cfg.Effects.Notify(p.ID, a, ruleKey, msgs) && len(msgs) > 0
	}
	if data.Log {
		e.cfg.Effects.Log(fmt.Sprintf("%s tried to %s %s in %s", p.Name, strings.ToLower(string(a)), itemName, p.World))
	}
	for _, c := range data.RunCommands {
		e.cfg.Effects.RunCommands([]string{e.expand(c, p, itemName, 0)})
	}
	e.record(p, p.World, s, data, a, SourceBlacklist)
	return true
}

func (e *Engine) blacklistedWorld(snap *table.Snapshot, world string, s item.Stack, a action.Action, aux []action.Aux) bool {
	bw := snap.Blacklist.World(world)
	if bw == nil {
		return false
	}
	actions, _, ok := bw.Resolve(s)
	if !ok {
		return false
	}
	data := actions[a]
	if data == nil || !data.MatchesAux(aux) {
		return false
	}
	e.record(nil, world, s, data, a, SourceBlacklist)
	return true
}

func (e *Engine) whitelisted(snap *table.Snapshot, p *Player, loc *Location, s item.Stack, sendMessage bool, a action.Action, aux []action.Aux, d *Decision) bool {
	ww := snap.Whitelist.World(p.World)
	if ww == nil {
		return true
	}
	if ww.IsIgnored(a) {
		return true
	}

	var matched *rule.ActionData
	var itemName string
	if actions, _, ok := ww.Rules.Resolve(s); ok {
		if data := actions[a]; data != nil && data.MatchesAux(aux) {
			matched = data
			itemName = displayName(data, s)
		}
	}

	if matched != nil && matched.MatchesGameMode(p.GameMode) && e.inRegions(matched, p, loc) {
		if matched.Cooldown > 0 {
			if cd := matched.Cooldowns(); cd != nil {
				// The whitelist cooldown throttles use: first touch
				// allows and arms, active window disallows with the
				// countdown message.
				active, remaining := cd.Touch(p.ID, matched.Cooldown, e.now())
				if active {
					if sendMessage {
						for _, m := range matched.Messages {
							e.cfg.Effects.Send(p.ID, e.expand(m, p, itemName, remaining))
						}
						d.MessageSent = len(matched.Messages) > 0
					}
					e.record(p, p.World, s, matched, a, SourceWhitelist)
					return false
				}
			}
		}
		return true
	}

	// Not whitelisted under these conditions; a bypass node still allows.
	if e.bypassed(p, matched, displayName(matched, s), a, aux) {
		return true
	}
	if e.cfg.Hook != nil && e.cfg.Hook(e.occurrence(p, s, matched, a)) {
		return true
	}

	if sendMessage {
		name := displayName(matched, s)
		msgs := make([]string, 0, len(ww.Messages))
		for _, m := range ww.Messages {
			msgs = append(msgs, e.expand(m, p, name, 0))
		}
		ruleKey := strings.ToLower(p.World) + "|" + strings.ToLower(name) + "|" + string(a)
		d.MessageSent = e.cfg.Effects.Notify(p.ID, a, ruleKey, msgs) && len(msgs) > 0
	}
	if matched != nil {
		for _, c := range matched.RunCommands {
			e.cfg.Effects.RunCommands([]string{e.expand(c, p, itemName, 0)})
		}
	}
	e.record(p, p.World, s, matched, a, SourceWhitelist)
	return false
}

func (e *Engine) whitelistedWorld(snap *table.Snapshot, world string, s item.Stack, a action.Action, aux []action.Aux) bool {
	ww := snap.Whitelist.World(world)
	if ww == nil {
		return true
	}
	if ww.IsIgnored(a) {
		return true
	}
	if actions, _, ok := ww.Rules.Resolve(s); ok {
		if data := actions[a]; data != nil && data.MatchesAux(aux) {
			return true
		}
	}
	e.record(nil, world, s, nil, a, SourceWhitelist)
	return false
}

// inRegions applies the optional region filter. With no region hook the
// filter degrades to non-restrictive.
func (e *Engine) inRegions(data *rule.ActionData, p *Player, loc *Location) bool {
	if len(data.Regions) == 0 {
		return true
	}
	if e.cfg.Regions == nil {
		return true
	}
	world, x, y, z := p.World, p.X, p.Y, p.Z
	if loc != nil {
		world, x, y, z = loc.World, loc.X, loc.Y, loc.Z
	}
	for _, r := range e.cfg.Regions(world, x, y, z) {
		if _, ok := data.Regions[strings.ToLower(r)]; ok {
			return true
		}
	}
	return false
}

// bypassed checks the permission surface: an explicit per-rule override
// first, then the hierarchical node variants in their total order.
// Any granted node bypasses. data may be nil (whitelist miss).
func (e *Engine) bypassed(p *Player, data *rule.ActionData, itemName string, a action.Action, aux []action.Aux) bool {
	if e.cfg.Permissions == nil {
		return false
	}
	if data != nil && data.BypassNode != "" {
		return e.cfg.Permissions(p.ID, data.BypassNode)
	}
	for _, node := range BypassNodes(p.World, itemName, a, aux) {
		if e.cfg.Permissions(p.ID, node) {
			return true
		}
	}
	return false
}

// BypassNodes builds the hierarchical bypass node variants, in check
// order: per-world before allworlds, unqualified before aux-qualified.
func BypassNodes(world, itemName string, a action.Action, aux []action.Aux) []string {
	worlds := []string{strings.ToLower(world), "allworlds"}
	it := strings.ToLower(itemName)
	act := strings.ToLower(string(a))
	nodes := make([]string, 0, 2*(1+len(aux)))
	for _, w := range worlds {
		base := "itemward.bypass." + w + "." + it + "." + act
		nodes = append(nodes, base)
		for _, x := range aux {
			nodes = append(nodes, base+"."+strings.ToLower(x.Value))
		}
	}
	return nodes
}

func (e *Engine) occurrence(p *Player, s item.Stack, data *rule.ActionData, a action.Action) hooks.Occurrence {
	ev := hooks.Occurrence{
		PlayerID: p.ID,
		World:    p.World,
		ItemType: s.Type,
		Action:   string(a),
	}
	if data != nil {
		ev.Custom = data.CustomName
	}
	return ev
}

func (e *Engine) record(p *Player, world string, s item.Stack, data *rule.ActionData, a action.Action, source string) {
	if e.cfg.OnDecision == nil {
		return
	}
	rec := Record{
		Time:     e.now(),
		World:    world,
		ItemType: s.Type,
		Action:   a,
		Source:   source,
	}
	if p != nil {
		rec.PlayerID = p.ID
		rec.Player = p.Name
	}
	if data != nil {
		rec.Custom = data.CustomName
	}
	e.cfg.OnDecision(rec)
}

// expand substitutes the message/command placeholders. remaining feeds
// {time} for cooldown countdowns.
func (e *Engine) expand(text string, p *Player, itemName string, remaining time.Duration) string {
	if text == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{player}", p.Name,
		"{world}", p.World,
		"{itemname}", strings.ToLower(itemName),
		"{time}", FormatRemaining(remaining),
	)
	return r.Replace(text)
}

func displayName(data *rule.ActionData, s item.Stack) string {
	if data != nil && data.CustomName != "" {
		return data.CustomName
	}
	return strings.ToLower(s.Type)
}

// FormatRemaining renders a countdown like "1m30s", rounding up so a
// sub-second remainder never prints as zero.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	if secs%60 == 0 {
		return fmt.Sprintf("%dm", secs/60)
	}
	return fmt.Sprintf("%dm%ds", secs/60, secs%60)
}
