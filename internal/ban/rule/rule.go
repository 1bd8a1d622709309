package rule

import (
	"strings"
	"time"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/meta"
)

// GameMode is the actor's current play mode, used as an auxiliary filter.
type GameMode string

const (
	Survival  GameMode = "SURVIVAL"
	Creative  GameMode = "CREATIVE"
	Adventure GameMode = "ADVENTURE"
	Spectator GameMode = "SPECTATOR"
)

// ParseGameMode resolves a config token, case-insensitively.
func ParseGameMode(raw string) (GameMode, bool) {
	gm := GameMode(strings.ToUpper(strings.TrimSpace(raw)))
	switch gm {
	case Survival, Creative, Adventure, Spectator:
		return gm, true
	}
	return "", false
}

// ActionData is the configured payload for one (item, action) pair.
// An absent (nil/empty) filter is unconstrained; a present filter must
// accept the auxiliary data supplied at evaluation time.
type ActionData struct {
	Action action.Action

	Messages []string
	Log      bool

	Cooldown time.Duration

	// BypassNode overrides the hierarchical bypass permission when set.
	BypassNode string

	GameModes map[GameMode]struct{}
	Regions   map[string]struct{}

	Entities      map[string]struct{}
	Materials     map[string]struct{}
	InventoryFrom map[string]struct{}
	InventoryTo   map[string]struct{}
	Enchants      []meta.EnchantSpec

	RunCommands []string

	// CustomName is stamped when the rule was resolved from a named
	// custom-item entry; it feeds permission nodes and message text.
	CustomName string

	cooldowns *Cooldowns
}

// Seal prepares the rule for evaluation. Loaders call it once before the
// data is published to a table; the tracker must not be created lazily on
// the hot path, which runs concurrently.
func (d *ActionData) Seal() *ActionData {
	if d.Cooldown > 0 && d.cooldowns == nil {
		d.cooldowns = NewCooldowns()
	}
	return d
}

// Cooldowns returns the per-rule tracker, nil until Seal on a
// cooldown-bearing rule. ActionData instances are rebuilt wholesale on
// reload, which resets all cooldown state.
func (d *ActionData) Cooldowns() *Cooldowns { return d.cooldowns }

// WithCustomName returns a sealed copy stamped with the custom item's
// name. It is a copy so one world's entry never aliases another's.
func (d *ActionData) WithCustomName(name string) *ActionData {
	cp := *d
	cp.CustomName = name
	cp.cooldowns = nil
	return cp.Seal()
}

// MatchesAux reports whether every supplied auxiliary datum is accepted
// and every configured aux filter saw a datum of its kind. The check is
// an AND across all data points: a rule that requires a material only
// matches calls that supply one.
func (d *ActionData) MatchesAux(aux []action.Aux) bool {
	seen := map[action.AuxKind]bool{}
	for _, a := range aux {
		seen[a.Kind] = true
		if !d.acceptsAux(a) {
			return false
		}
	}
	if len(d.Entities) > 0 && !seen[action.AuxEntity] {
		return false
	}
	if len(d.Materials) > 0 && !seen[action.AuxMaterial] {
		return false
	}
	if len(d.InventoryFrom) > 0 && !seen[action.AuxInventoryFrom] {
		return false
	}
	if len(d.InventoryTo) > 0 && !seen[action.AuxInventoryTo] {
		return false
	}
	if len(d.Enchants) > 0 && !seen[action.AuxEnchant] {
		return false
	}
	return true
}

func (d *ActionData) acceptsAux(a action.Aux) bool {
	switch a.Kind {
	case action.AuxEntity:
		return setAccepts(d.Entities, a.Value)
	case action.AuxMaterial:
		return setAccepts(d.Materials, a.Value)
	case action.AuxInventoryFrom:
		return setAccepts(d.InventoryFrom, a.Value)
	case action.AuxInventoryTo:
		return setAccepts(d.InventoryTo, a.Value)
	case action.AuxEnchant:
		if len(d.Enchants) == 0 {
			return true
		}
		for _, spec := range d.Enchants {
			if spec.Accepts(a.Value, a.Level) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func setAccepts(set map[string]struct{}, v string) bool {
	if len(set) == 0 {
		return true
	}
	_, ok := set[strings.ToUpper(v)]
	return ok
}

// MatchesGameMode applies the optional gamemode filter.
func (d *ActionData) MatchesGameMode(gm GameMode) bool {
	if len(d.GameModes) == 0 {
		return true
	}
	_, ok := d.GameModes[gm]
	return ok
}
