// Package sidefx fires the message/animation/command side effects a
// decision directs. Dispatch is fire-and-forget: failures stay in the
// collaborators, the decision is final before any of this runs.
package sidefx

import (
	"sync"
	"time"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/hooks"
)

// notifyGuardWindow suppresses repeat notification of the same rule to
// the same player for pickup-class actions, which re-fire every tick the
// player stands on a stack. Independent of rule cooldowns.
const notifyGuardWindow = time.Second

// notifyGuardSweepAt bounds the guard map: once it holds this many
// entries, expired ones are evicted on the next lookup.
const notifyGuardSweepAt = 1024

type Dispatcher struct {
	Message   hooks.MessageDispatch
	Animation hooks.AnimationDispatch
	Command   hooks.CommandDispatch

	// Staff receives log-flagged rule hits (broadcast to online staff).
	Staff func(text string)

	now func() time.Time

	mu         sync.Mutex
	lastNotify map[string]time.Time
}

func New() *Dispatcher {
	return &Dispatcher{
		now:        time.Now,
		lastNotify: make(map[string]time.Time),
	}
}

func spamGuarded(a action.Action) bool {
	return a == action.Pickup || a == action.Hold
}

// Notify sends the configured messages and fires the animation. For
// pickup-class actions a repeat within the guard window is swallowed.
// It reports whether anything was actually sent.
func (d *Dispatcher) Notify(playerID string, a action.Action, ruleKey string, messages []string) bool {
	if spamGuarded(a) && !d.allowNotify(playerID+"|"+ruleKey) {
		return false
	}
	if d.Message != nil {
		for _, m := range messages {
			if m == "" {
				continue
			}
			d.Message(playerID, m)
		}
	}
	if d.Animation != nil {
		d.Animation(playerID)
	}
	return true
}

// Send delivers one line with no guard, used for cooldown countdown
// messages which bypass normal dispatch.
func (d *Dispatcher) Send(playerID, text string) {
	if d.Message != nil && text != "" {
		d.Message(playerID, text)
	}
}

// RunCommands dispatches each command as the system actor.
func (d *Dispatcher) RunCommands(cmds []string) {
	if d.Command == nil {
		return
	}
	for _, c := range cmds {
		if c == "" {
			continue
		}
		d.Command(c)
	}
}

// Log hands a log-flagged hit to the staff broadcast.
func (d *Dispatcher) Log(text string) {
	if d.Staff != nil {
		d.Staff(text)
	}
}

func (d *Dispatcher) allowNotify(key string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastNotify[key]; ok && now.Sub(last) < notifyGuardWindow {
		return false
	}
	if len(d.lastNotify) >= notifyGuardSweepAt {
		for k, last := range d.lastNotify {
			if now.Sub(last) >= notifyGuardWindow {
				delete(d.lastNotify, k)
			}
		}
	}
	d.lastNotify[key] = now
	return true
}
