// Package hooks declares the capabilities the restriction engine consumes
// from the host. All of them follow the callback style of the rest of the
// codebase: plain funcs, nil meaning "collaborator absent". An absent
// collaborator degrades its filter to non-restrictive rather than failing
// the evaluation.
package hooks

// PermissionCheck reports whether the actor holds a permission node.
type PermissionCheck func(playerID, node string) bool

// RegionLookup enumerates the regions containing a point in a world.
type RegionLookup func(world string, x, y, z float64) []string

// MessageDispatch delivers a chat line to an actor.
type MessageDispatch func(playerID, text string)

// AnimationDispatch fires the configured sound/particle at an actor.
type AnimationDispatch func(playerID string)

// CommandDispatch runs a command as the system actor.
type CommandDispatch func(command string)

// InventoryScrub removes every stack of a type from the player's open
// view; scheduled for the next tick, never run inside the evaluation.
type InventoryScrub func(playerID, itemType string)

// Scheduler defers a closure to the next tick, after the current
// synchronous evaluation completes.
type Scheduler func(fn func())

// Occurrence describes a matched rule about to be enforced, handed to the
// optional event hook which may veto it.
type Occurrence struct {
	PlayerID string
	World    string
	ItemType string
	Action   string
	Custom   string
}

// EventHook lets an external collaborator veto an otherwise-matching
// rule. Config-gated; nil when disabled.
type EventHook func(ev Occurrence) (vetoed bool)
