package action

import "strings"

// Action is an enumerated kind of in-game occurrence subject to restriction.
// The engine treats it as an opaque key; the aux-data shape below is only
// used for filter matching.
type Action string

const (
	ArmorStandPlace Action = "ARMORSTANDPLACE"
	ArmorStandTake  Action = "ARMORSTANDTAKE"
	Attack          Action = "ATTACK"
	Book            Action = "BOOK"
	Break           Action = "BREAK"
	Brew            Action = "BREW"
	Click           Action = "CLICK"
	Consume         Action = "CONSUME"
	Craft           Action = "CRAFT"
	Delete          Action = "DELETE"
	Dispense        Action = "DISPENSE"
	Drop            Action = "DROP"
	Enchant         Action = "ENCHANT"
	Fill            Action = "FILL"
	Glide           Action = "GLIDE"
	HangingPlace    Action = "HANGINGPLACE"
	Hold            Action = "HOLD"
	Interact        Action = "INTERACT"
	InventoryClick  Action = "INVENTORYCLICK"
	Mending         Action = "MENDING"
	Pickup          Action = "PICKUP"
	Place           Action = "PLACE"
	Rename          Action = "RENAME"
	Smelt           Action = "SMELT"
	Smith           Action = "SMITH"
	Swap            Action = "SWAP"
	Transfer        Action = "TRANSFER"
	Unfill          Action = "UNFILL"
	Use             Action = "USE"
	Wear            Action = "WEAR"
)

// AuxKind classifies an auxiliary datum supplied with an occurrence.
type AuxKind string

const (
	AuxEntity        AuxKind = "ENTITY"
	AuxMaterial      AuxKind = "MATERIAL"
	AuxInventoryFrom AuxKind = "INVENTORY_FROM"
	AuxInventoryTo   AuxKind = "INVENTORY_TO"
	AuxEnchant       AuxKind = "ENCHANT"
)

// Aux is one auxiliary datum accompanying an occurrence, e.g. the entity
// type attacked or the destination container kind of a transfer. Level is
// only meaningful for AuxEnchant.
type Aux struct {
	Kind  AuxKind
	Value string
	Level int
}

func Entity(v string) Aux        { return Aux{Kind: AuxEntity, Value: strings.ToUpper(v)} }
func Material(v string) Aux      { return Aux{Kind: AuxMaterial, Value: strings.ToUpper(v)} }
func InventoryFrom(v string) Aux { return Aux{Kind: AuxInventoryFrom, Value: strings.ToUpper(v)} }
func InventoryTo(v string) Aux   { return Aux{Kind: AuxInventoryTo, Value: strings.ToUpper(v)} }
func Enchantment(v string, level int) Aux {
	return Aux{Kind: AuxEnchant, Value: strings.ToUpper(v), Level: level}
}

var all = []Action{
	ArmorStandPlace, ArmorStandTake, Attack, Book, Break, Brew, Click,
	Consume, Craft, Delete, Dispense, Drop, Enchant, Fill, Glide,
	HangingPlace, Hold, Interact, InventoryClick, Mending, Pickup, Place,
	Rename, Smelt, Smith, Swap, Transfer, Unfill, Use, Wear,
}

var index = func() map[Action]struct{} {
	m := make(map[Action]struct{}, len(all))
	for _, a := range all {
		m[a] = struct{}{}
	}
	return m
}()

// auxShape declares which aux kinds an action may carry. Actions absent
// from the map carry none.
var auxShape = map[Action][]AuxKind{
	Attack:   {AuxEntity},
	Break:    {AuxMaterial},
	Click:    {AuxMaterial},
	Dispense: {AuxInventoryTo},
	Enchant:  {AuxEnchant},
	Interact: {AuxMaterial},
	Pickup:   {AuxInventoryFrom},
	Transfer: {AuxInventoryFrom, AuxInventoryTo},
}

// All returns every known action, in a stable order.
func All() []Action {
	out := make([]Action, len(all))
	copy(out, all)
	return out
}

// Parse resolves a config token to an Action. Tokens are case-insensitive.
func Parse(raw string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := index[a]
	return a, ok
}

// Shape returns the aux kinds the action may carry.
func Shape(a Action) []AuxKind {
	return auxShape[a]
}

func (a Action) String() string { return string(a) }
