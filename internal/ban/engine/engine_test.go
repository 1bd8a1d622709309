package engine

import (
	"strings"
	"testing"
	"time"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/hooks"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/rule"
	"itemward.dev/internal/ban/sidefx"
	"itemward.dev/internal/ban/table"
)

type spies struct {
	messages []string
	commands []string
	staff    []string
	anims    int
	records  []Record
}

func newTestEngine(t *testing.T, h *table.Holder) (*Engine, *spies) {
	t.Helper()
	sp := &spies{}
	fx := sidefx.New()
	fx.Message = func(_, text string) { sp.messages = append(sp.messages, text) }
	fx.Animation = func(string) { sp.anims++ }
	fx.Command = func(c string) { sp.commands = append(sp.commands, c) }
	fx.Staff = func(s string) { sp.staff = append(sp.staff, s) }
	eng := New(Config{
		Tables:     h,
		Effects:    fx,
		OnDecision: func(r Record) { sp.records = append(sp.records, r) },
	})
	return eng, sp
}

func arenaHolder(data *rule.ActionData) *table.Holder {
	h := table.NewHolder()
	b := table.NewBlacklist()
	b.AddBan("arena", item.NewStack("stone").TypeOnly(),
		table.ActionMap{data.Action: data})
	h.Replace(table.NewSnapshot(b, nil))
	return h
}

func survivalPlayer(world string) *Player {
	return &Player{ID: "u1", Name: "alex", World: world, GameMode: rule.Survival}
}

func TestBlacklistBlocksInConfiguredWorld(t *testing.T) {
	h := arenaHolder(&rule.ActionData{
		Action:   action.Break,
		Messages: []string{"you cannot break {itemname} in {world}"},
	})
	eng, sp := newTestEngine(t, h)

	d := eng.Evaluate(survivalPlayer("arena"), nil, item.NewStack("stone"), action.Break)
	if !d.Blocked || !d.MessageSent {
		t.Fatalf("expected blocked with message, got %+v", d)
	}
	if len(sp.messages) != 1 || sp.messages[0] != "you cannot break stone in arena" {
		t.Fatalf("message placeholders: %v", sp.messages)
	}
	if sp.anims != 1 {
		t.Fatalf("expected animation dispatch")
	}
	if len(sp.records) != 1 || sp.records[0].Source != SourceBlacklist {
		t.Fatalf("records: %+v", sp.records)
	}

	// Same occurrence in an unconfigured world passes.
	d = eng.Evaluate(survivalPlayer("lobby"), nil, item.NewStack("stone"), action.Break)
	if d.Blocked {
		t.Fatalf("lobby must be unrestricted")
	}
	// Other actions on the same item pass too.
	d = eng.Evaluate(survivalPlayer("arena"), nil, item.NewStack("stone"), action.Place)
	if d.Blocked {
		t.Fatalf("unconfigured action must pass")
	}
}

func TestBlacklistLogAndCommands(t *testing.T) {
	h := arenaHolder(&rule.ActionData{
		Action:      action.Break,
		Log:         true,
		RunCommands: []string{"warn {player} {itemname}"},
	})
	eng, sp := newTestEngine(t, h)

	eng.Evaluate(survivalPlayer("arena"), nil, item.NewStack("stone"), action.Break)
	if len(sp.staff) != 1 || !strings.Contains(sp.staff[0], "alex") {
		t.Fatalf("staff log: %v", sp.staff)
	}
	if len(sp.commands) != 1 || sp.commands[0] != "warn alex stone" {
		t.Fatalf("commands: %v", sp.commands)
	}
}

func TestBlacklistGameModeFilter(t *testing.T) {
	h := arenaHolder(&rule.ActionData{
		Action:    action.Break,
		GameModes: map[rule.GameMode]struct{}{rule.Survival: {}},
	})
	eng, _ := newTestEngine(t, h)

	p := survivalPlayer("arena")
	if !eng.Evaluate(p, nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("survival must be blocked")
	}
	p.GameMode = rule.Creative
	if eng.Evaluate(p, nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("creative must pass the gamemode filter")
	}
}

func TestBlacklistAuxFilter(t *testing.T) {
	h := arenaHolder(&rule.ActionData{
		Action:   action.Attack,
		Entities: map[string]struct{}{"ZOMBIE": {}},
	})
	eng, _ := newTestEngine(t, h)

	p := survivalPlayer("arena")
	s := item.NewStack("stone")
	if !eng.Evaluate(p, nil, s, action.Attack, action.Entity("zombie")).Blocked {
		t.Fatalf("zombie target must be blocked")
	}
	if eng.Evaluate(p, nil, s, action.Attack, action.Entity("cow")).Blocked {
		t.Fatalf("cow target must pass")
	}
	// Omitting the datum a filter requires is a non-match.
	if eng.Evaluate(p, nil, s, action.Attack).Blocked {
		t.Fatalf("missing entity datum must pass")
	}
}

func TestBlacklistRegionFilter(t *testing.T) {
	data := &rule.ActionData{
		Action:  action.Break,
		Regions: map[string]struct{}{"spawn": {}},
	}
	h := arenaHolder(data)
	sp := &spies{}
	fx := sidefx.New()
	eng := New(Config{
		Tables:  h,
		Effects: fx,
		Regions: func(world string, x, y, z float64) []string {
			if x < 100 {
				return []string{"spawn"}
			}
			return nil
		},
		OnDecision: func(r Record) { sp.records = append(sp.records, r) },
	})

	p := survivalPlayer("arena")
	p.X = 10
	if !eng.Evaluate(p, nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("inside spawn must be blocked")
	}
	p.X = 500
	if eng.Evaluate(p, nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("outside spawn must pass")
	}
	// An explicit location overrides the player position.
	p.X = 500
	loc := &Location{World: "arena", X: 10}
	if !eng.Evaluate(p, loc, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("location override must be used for the region test")
	}
}

func TestBlacklistCooldownCycle(t *testing.T) {
	data := (&rule.ActionData{
		Action:   action.Break,
		Cooldown: 10 * time.Second,
		Messages: []string{"wait {time}"},
	}).Seal()
	h := arenaHolder(data)
	eng, sp := newTestEngine(t, h)

	base := time.Unix(1000, 0)
	now := base
	eng.now = func() time.Time { return now }

	p := survivalPlayer("arena")
	s := item.NewStack("stone")

	// First touch arms the window without blocking.
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("first touch must pass")
	}
	// Inside the window the occurrence is blocked with the countdown.
	now = base.Add(4 * time.Second)
	d := eng.Evaluate(p, nil, s, action.Break)
	if !d.Blocked || !d.MessageSent {
		t.Fatalf("active window must block with message, got %+v", d)
	}
	if len(sp.messages) != 1 || sp.messages[0] != "wait 6s" {
		t.Fatalf("countdown message: %v", sp.messages)
	}
	// After expiry the next touch passes and re-arms.
	now = base.Add(11 * time.Second)
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("expired window must pass")
	}
	now = base.Add(12 * time.Second)
	if !eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("re-armed window must block")
	}
}

func TestBypassNodeOrder(t *testing.T) {
	got := BypassNodes("Arena", "stone", action.Break,
		[]action.Aux{action.Entity("zombie")})
	want := []string{
		"itemward.bypass.arena.stone.break",
		"itemward.bypass.arena.stone.break.zombie",
		"itemward.bypass.allworlds.stone.break",
		"itemward.bypass.allworlds.stone.break.zombie",
	}
	if len(got) != len(want) {
		t.Fatalf("nodes: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("node %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestPermissionBypass(t *testing.T) {
	h := arenaHolder(&rule.ActionData{Action: action.Break})
	granted := map[string]bool{}
	eng := New(Config{
		Tables:      h,
		Effects:     sidefx.New(),
		Permissions: func(_, node string) bool { return granted[node] },
	})

	p := survivalPlayer("arena")
	s := item.NewStack("stone")
	if !eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("without the node the rule enforces")
	}
	granted["itemward.bypass.arena.stone.break"] = true
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("per-world node must bypass")
	}
	delete(granted, "itemward.bypass.arena.stone.break")
	granted["itemward.bypass.allworlds.stone.break"] = true
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("allworlds node must bypass")
	}
}

func TestExplicitBypassNodeOverrides(t *testing.T) {
	h := arenaHolder(&rule.ActionData{Action: action.Break, BypassNode: "vip.dig"})
	granted := map[string]bool{"itemward.bypass.arena.stone.break": true}
	eng := New(Config{
		Tables:      h,
		Effects:     sidefx.New(),
		Permissions: func(_, node string) bool { return granted[node] },
	})

	p := survivalPlayer("arena")
	s := item.NewStack("stone")
	// The override replaces the hierarchical nodes entirely.
	if !eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("hierarchical node must not apply when overridden")
	}
	granted["vip.dig"] = true
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("override node must bypass")
	}
}

func TestEventHookVeto(t *testing.T) {
	h := arenaHolder(&rule.ActionData{Action: action.Break})
	veto := false
	var seen []hooks.Occurrence
	eng := New(Config{
		Tables:  h,
		Effects: sidefx.New(),
		Hook: func(ev hooks.Occurrence) bool {
			seen = append(seen, ev)
			return veto
		},
	})

	p := survivalPlayer("arena")
	s := item.NewStack("stone")
	if !eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("without a veto the rule enforces")
	}
	veto = true
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("a veto must allow the occurrence")
	}
	if len(seen) != 2 || seen[0].ItemType != "STONE" || seen[0].Action != "BREAK" {
		t.Fatalf("hook payload: %+v", seen)
	}
}

func TestDeleteSchedulesScrub(t *testing.T) {
	h := table.NewHolder()
	b := table.NewBlacklist()
	b.AddBan("arena", item.NewStack("stone").TypeOnly(), table.ActionMap{
		action.Break:  &rule.ActionData{Action: action.Break},
		action.Delete: &rule.ActionData{Action: action.Delete},
	})
	h.Replace(table.NewSnapshot(b, nil))

	var deferred []func()
	var scrubbed []string
	eng := New(Config{
		Tables:   h,
		Effects:  sidefx.New(),
		Schedule: func(fn func()) { deferred = append(deferred, fn) },
		Scrub:    func(_, typ string) { scrubbed = append(scrubbed, typ) },
	})

	eng.Evaluate(survivalPlayer("arena"), nil, item.NewStack("stone"), action.Break)
	if len(deferred) != 1 || len(scrubbed) != 0 {
		t.Fatalf("scrub must be deferred, not run inline")
	}
	deferred[0]()
	if len(scrubbed) != 1 || scrubbed[0] != "STONE" {
		t.Fatalf("scrubbed: %v", scrubbed)
	}
}

func whitelistHolder() *table.Holder {
	h := table.NewHolder()
	wl := table.NewWhitelist()
	ww := table.NewWhitelistWorld([]string{"{itemname} is not allowed here"},
		[]action.Action{action.Drop})
	ww.Rules.Merge(item.NewStack("diamond_sword").TypeOnly(),
		table.ActionMap{action.Attack: (&rule.ActionData{Action: action.Attack}).Seal()})
	wl.Put("survival", ww)
	h.Replace(table.NewSnapshot(nil, wl))
	return h
}

func TestWhitelistAllowsListedOnly(t *testing.T) {
	eng, sp := newTestEngine(t, whitelistHolder())
	p := survivalPlayer("survival")

	if eng.Evaluate(p, nil, item.NewStack("diamond_sword"), action.Attack).Blocked {
		t.Fatalf("listed pair must be allowed")
	}
	d := eng.Evaluate(p, nil, item.NewStack("diamond_sword"), action.Place)
	if !d.Blocked || !d.MessageSent {
		t.Fatalf("unlisted action must be disallowed with message, got %+v", d)
	}
	if sp.messages[len(sp.messages)-1] != "diamond_sword is not allowed here" {
		t.Fatalf("world message: %v", sp.messages)
	}
	if !eng.Evaluate(p, nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("unlisted item must be disallowed")
	}
	// Ignored actions are exempt from the whitelist entirely.
	if eng.Evaluate(p, nil, item.NewStack("stone"), action.Drop).Blocked {
		t.Fatalf("ignored action must pass")
	}
	// A world with no whitelist is unrestricted.
	if eng.Evaluate(survivalPlayer("lobby"), nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("unconfigured world must pass")
	}
	if n := len(sp.records); n == 0 || sp.records[n-1].Source != SourceWhitelist {
		t.Fatalf("whitelist decisions must be recorded")
	}
}

func TestWhitelistBypassNode(t *testing.T) {
	h := whitelistHolder()
	eng := New(Config{
		Tables:  h,
		Effects: sidefx.New(),
		Permissions: func(_, node string) bool {
			return node == "itemward.bypass.survival.stone.break"
		},
	})
	p := survivalPlayer("survival")
	if eng.Evaluate(p, nil, item.NewStack("stone"), action.Break).Blocked {
		t.Fatalf("bypass node must allow a whitelist miss")
	}
	if !eng.Evaluate(p, nil, item.NewStack("stone"), action.Place).Blocked {
		t.Fatalf("other actions stay disallowed")
	}
}

func TestBlacklistShortCircuitsWhitelist(t *testing.T) {
	// The same (item, action) is blacklisted and whitelisted; the
	// blacklist wins and the whitelist's world message never fires.
	h := table.NewHolder()
	b := table.NewBlacklist()
	b.AddBan("survival", item.NewStack("diamond_sword").TypeOnly(),
		table.ActionMap{action.Attack: &rule.ActionData{Action: action.Attack, Messages: []string{"banned"}}})
	wl := table.NewWhitelist()
	ww := table.NewWhitelistWorld([]string{"world message"}, nil)
	ww.Rules.Merge(item.NewStack("diamond_sword").TypeOnly(),
		table.ActionMap{action.Attack: (&rule.ActionData{Action: action.Attack}).Seal()})
	wl.Put("survival", ww)
	h.Replace(table.NewSnapshot(b, wl))

	eng, sp := newTestEngine(t, h)
	d := eng.Evaluate(survivalPlayer("survival"), nil, item.NewStack("diamond_sword"), action.Attack)
	if !d.Blocked {
		t.Fatalf("blacklist must win")
	}
	if len(sp.messages) != 1 || sp.messages[0] != "banned" {
		t.Fatalf("whitelist message must not fire: %v", sp.messages)
	}
	if len(sp.records) != 1 || sp.records[0].Source != SourceBlacklist {
		t.Fatalf("records: %+v", sp.records)
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	h := arenaHolder(&rule.ActionData{Action: action.Break})
	eng, _ := newTestEngine(t, h)
	p := survivalPlayer("arena")
	s := item.NewStack("stone")

	if !eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("pre-reload block expected")
	}
	h.Replace(table.NewSnapshot(nil, nil))
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("post-reload the rule is gone")
	}
}

func TestReloadMidEvaluationKeepsSnapshot(t *testing.T) {
	h := arenaHolder(&rule.ActionData{Action: action.Break})
	// The hook fires while an evaluation is in flight; swapping the
	// tables there must not change the outcome of that evaluation.
	eng := New(Config{
		Tables:  h,
		Effects: sidefx.New(),
		Hook: func(hooks.Occurrence) bool {
			h.Replace(table.NewSnapshot(nil, nil))
			return false
		},
	})

	p := survivalPlayer("arena")
	s := item.NewStack("stone")
	if !eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("in-flight evaluation must finish against its own tables")
	}
	if eng.Evaluate(p, nil, s, action.Break).Blocked {
		t.Fatalf("the next evaluation sees the swapped tables")
	}
}

func TestEvaluateWorld(t *testing.T) {
	h := arenaHolder(&rule.ActionData{
		Action:    action.Transfer,
		GameModes: map[rule.GameMode]struct{}{rule.Survival: {}},
	})
	eng, sp := newTestEngine(t, h)

	// The world-only path ignores gamemode/permission filters.
	if !eng.EvaluateWorld("arena", item.NewStack("stone"), action.Transfer).Blocked {
		t.Fatalf("world path must block on presence")
	}
	if eng.EvaluateWorld("lobby", item.NewStack("stone"), action.Transfer).Blocked {
		t.Fatalf("unconfigured world must pass")
	}
	if len(sp.records) != 1 || sp.records[0].PlayerID != "" {
		t.Fatalf("world record must carry no player: %+v", sp.records)
	}
}

func TestCustomNameInMessages(t *testing.T) {
	h := table.NewHolder()
	b := table.NewBlacklist()
	data := &rule.ActionData{
		Action:   action.Place,
		Messages: []string{"{itemname} stays in your pocket"},
	}
	b.AddCustomBan("arena", "magicwand", "STICK", nil, table.ActionMap{action.Place: data})
	h.Replace(table.NewSnapshot(b, nil))

	eng, sp := newTestEngine(t, h)
	d := eng.Evaluate(survivalPlayer("arena"), nil, item.NewStack("stick"), action.Place)
	if !d.Blocked {
		t.Fatalf("custom entry must match by type")
	}
	if sp.messages[0] != "magicwand stays in your pocket" {
		t.Fatalf("custom name placeholder: %v", sp.messages)
	}
	if sp.records[0].Custom != "magicwand" {
		t.Fatalf("record custom name: %+v", sp.records[0])
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{300 * time.Millisecond, "1s"},
		{time.Second, "1s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "1m"},
		{90 * time.Second, "1m30s"},
		{61*time.Minute + 5*time.Second, "61m5s"},
	}
	for _, c := range cases {
		if got := FormatRemaining(c.d); got != c.want {
			t.Fatalf("FormatRemaining(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
