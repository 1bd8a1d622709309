package item

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Meta is the metadata portion of an item stack, as visible to the
// restriction engine. A nil Meta means a plain stack of its type.
type Meta struct {
	DisplayName   string
	Lore          []string
	Enchants      map[string]int
	Durability    int
	MaxDurability int
	Attributes    map[string]float64
	ModelData     int
	HasModelData  bool
	Unbreakable   bool

	// Tags carries engine-specific extra data (NBT and the like) consumed
	// only by externally registered matchers.
	Tags map[string]string
}

// Stack is a candidate item presented for evaluation.
type Stack struct {
	Type string
	Meta *Meta
}

// Identity is the primary lookup key for rule tables. A zero Fingerprint
// means a type-only identity that stands for every stack of its type; the
// two-tier table lookup realizes that, not equality overloading.
type Identity struct {
	Type        string
	Fingerprint string
}

func NewStack(typ string) Stack {
	return Stack{Type: strings.ToUpper(strings.TrimSpace(typ))}
}

func NewStackMeta(typ string, meta *Meta) Stack {
	s := NewStack(typ)
	s.Meta = meta
	return s
}

// Identity returns the exact identity of the stack: type plus a digest of
// its metadata. Plain stacks yield a type-only identity.
func (s Stack) Identity() Identity {
	if s.Meta == nil {
		return Identity{Type: s.Type}
	}
	return Identity{Type: s.Type, Fingerprint: s.Meta.fingerprint()}
}

// TypeOnly returns the fallback identity that ignores metadata.
func (s Stack) TypeOnly() Identity {
	return Identity{Type: s.Type}
}

// fingerprint is a stable digest over the meta fields: canonical JSON
// (map fields sorted) hashed with sha256.
func (m *Meta) fingerprint() string {
	type kv struct {
		K string  `json:"k"`
		V float64 `json:"v"`
	}
	canon := struct {
		Name        string   `json:"name,omitempty"`
		Lore        []string `json:"lore,omitempty"`
		Enchants    []string `json:"ench,omitempty"`
		Durability  int      `json:"dur,omitempty"`
		Attributes  []kv     `json:"attr,omitempty"`
		ModelData   int      `json:"model,omitempty"`
		HasModel    bool     `json:"has_model,omitempty"`
		Unbreakable bool     `json:"unbreakable,omitempty"`
		Tags        []string `json:"tags,omitempty"`
	}{
		Name:        m.DisplayName,
		Lore:        m.Lore,
		Durability:  m.Durability,
		ModelData:   m.ModelData,
		HasModel:    m.HasModelData,
		Unbreakable: m.Unbreakable,
	}
	for k, v := range m.Enchants {
		canon.Enchants = append(canon.Enchants, k+":"+strconv.Itoa(v))
	}
	sort.Strings(canon.Enchants)
	for k, v := range m.Attributes {
		canon.Attributes = append(canon.Attributes, kv{K: k, V: v})
	}
	sort.Slice(canon.Attributes, func(i, j int) bool { return canon.Attributes[i].K < canon.Attributes[j].K })
	for k, v := range m.Tags {
		canon.Tags = append(canon.Tags, k+"="+v)
	}
	sort.Strings(canon.Tags)

	b, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LoreText joins the lore lines for whole-lore matching.
func (m *Meta) LoreText() string {
	if m == nil {
		return ""
	}
	return strings.Join(m.Lore, "\n")
}
