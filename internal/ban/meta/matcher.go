package meta

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"itemward.dev/internal/ban/item"
)

// Matcher is a pure predicate over an item stack's metadata. Matches must
// be side-effect-free; a matcher built from bad config never reaches the
// active table (Build returns the error to the loader instead).
type Matcher interface {
	Kind() string
	Matches(s item.Stack) bool
}

// Builder turns a raw config value into a matcher. Externally registered
// kinds (NBT, third-party hooks) use the same signature.
type Builder func(raw any) (Matcher, error)

var builders = map[string]Builder{
	"name-equals":          buildNameEquals,
	"name-contains":        buildNameContains,
	"name-regex":           buildNameRegex,
	"lore-equals":          buildLoreEquals,
	"lore-contains":        buildLoreContains,
	"lore-line-contains":   buildLoreLineContains,
	"lore-regex":           buildLoreRegex,
	"enchantment-equals":   buildEnchantEquals,
	"enchantment-contains": buildEnchantContains,
	"durability":           buildDurability,
	"attribute":            buildAttribute,
	"modeldata":            buildModelData,
	"unbreakable":          buildUnbreakable,
}

// Register adds an externally defined matcher kind. Later registrations
// win, so embedders can override built-ins.
func Register(kind string, b Builder) {
	builders[strings.ToLower(strings.TrimSpace(kind))] = b
}

// Kinds returns the registered matcher kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs a matcher of the given kind from a raw config value.
// An error marks the entry invalid: the loader records a diagnostic and
// excludes it, the rest of the table still loads.
func Build(kind string, raw any) (Matcher, error) {
	b, ok := builders[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("unknown matcher kind %q", kind)
	}
	m, err := b(raw)
	if err != nil {
		return nil, fmt.Errorf("matcher %s: %w", kind, err)
	}
	return m, nil
}

func asString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expected scalar, got %T", raw)
	}
}

func asStringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, err := asString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return v, nil
	default:
		s, err := asString(raw)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

type nameEquals struct{ want string }

func buildNameEquals(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	return nameEquals{want: s}, nil
}

func (m nameEquals) Kind() string { return "name-equals" }
func (m nameEquals) Matches(s item.Stack) bool {
	return s.Meta != nil && s.Meta.DisplayName == m.want
}

type nameContains struct{ want string }

func buildNameContains(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	return nameContains{want: s}, nil
}

func (m nameContains) Kind() string { return "name-contains" }
func (m nameContains) Matches(s item.Stack) bool {
	return s.Meta != nil && strings.Contains(s.Meta.DisplayName, m.want)
}

type nameRegex struct{ re *regexp.Regexp }

func buildNameRegex(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, err
	}
	return nameRegex{re: re}, nil
}

func (m nameRegex) Kind() string { return "name-regex" }
func (m nameRegex) Matches(s item.Stack) bool {
	return s.Meta != nil && m.re.MatchString(s.Meta.DisplayName)
}

type loreEquals struct{ want []string }

func buildLoreEquals(raw any) (Matcher, error) {
	lines, err := asStringList(raw)
	if err != nil {
		return nil, err
	}
	return loreEquals{want: lines}, nil
}

func (m loreEquals) Kind() string { return "lore-equals" }
func (m loreEquals) Matches(s item.Stack) bool {
	if s.Meta == nil || len(s.Meta.Lore) != len(m.want) {
		return false
	}
	for i, line := range m.want {
		if s.Meta.Lore[i] != line {
			return false
		}
	}
	return true
}

type loreContains struct{ want string }

func buildLoreContains(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	return loreContains{want: s}, nil
}

func (m loreContains) Kind() string { return "lore-contains" }
func (m loreContains) Matches(s item.Stack) bool {
	return s.Meta != nil && strings.Contains(s.Meta.LoreText(), m.want)
}

type loreLineContains struct{ want string }

func buildLoreLineContains(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	return loreLineContains{want: s}, nil
}

func (m loreLineContains) Kind() string { return "lore-line-contains" }
func (m loreLineContains) Matches(s item.Stack) bool {
	if s.Meta == nil {
		return false
	}
	for _, line := range s.Meta.Lore {
		if strings.Contains(line, m.want) {
			return true
		}
	}
	return false
}

type loreRegex struct{ re *regexp.Regexp }

func buildLoreRegex(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, err
	}
	return loreRegex{re: re}, nil
}

func (m loreRegex) Kind() string { return "lore-regex" }
func (m loreRegex) Matches(s item.Stack) bool {
	return s.Meta != nil && m.re.MatchString(s.Meta.LoreText())
}

// EnchantSpec names an enchantment with an optional level interval.
// A nil Level means any level.
type EnchantSpec struct {
	Name  string
	Level *Interval
}

// ParseEnchantSpec parses "sharpness", "sharpness:3" or "sharpness:1-3".
func ParseEnchantSpec(raw string) (EnchantSpec, error) {
	raw = strings.TrimSpace(raw)
	name, lvl, found := strings.Cut(raw, ":")
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return EnchantSpec{}, fmt.Errorf("empty enchantment name")
	}
	spec := EnchantSpec{Name: name}
	if found {
		iv, err := ParseInterval(lvl)
		if err != nil {
			return EnchantSpec{}, err
		}
		spec.Level = &iv
	}
	return spec, nil
}

func (e EnchantSpec) Accepts(name string, level int) bool {
	if e.Name != strings.ToUpper(name) {
		return false
	}
	return e.Level == nil || e.Level.Contains(level)
}

type enchantEquals struct{ want []EnchantSpec }

func buildEnchantEquals(raw any) (Matcher, error) {
	specs, err := parseEnchantSpecs(raw)
	if err != nil {
		return nil, err
	}
	return enchantEquals{want: specs}, nil
}

func (m enchantEquals) Kind() string { return "enchantment-equals" }
func (m enchantEquals) Matches(s item.Stack) bool {
	if s.Meta == nil || len(s.Meta.Enchants) != len(m.want) {
		return false
	}
	for _, spec := range m.want {
		lvl, ok := s.Meta.Enchants[spec.Name]
		if !ok || !spec.Accepts(spec.Name, lvl) {
			return false
		}
	}
	return true
}

type enchantContains struct{ want []EnchantSpec }

func buildEnchantContains(raw any) (Matcher, error) {
	specs, err := parseEnchantSpecs(raw)
	if err != nil {
		return nil, err
	}
	return enchantContains{want: specs}, nil
}

func (m enchantContains) Kind() string { return "enchantment-contains" }
func (m enchantContains) Matches(s item.Stack) bool {
	if s.Meta == nil {
		return false
	}
	for _, spec := range m.want {
		lvl, ok := s.Meta.Enchants[spec.Name]
		if ok && spec.Accepts(spec.Name, lvl) {
			return true
		}
	}
	return false
}

func parseEnchantSpecs(raw any) ([]EnchantSpec, error) {
	tokens, err := asStringList(raw)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty enchantment list")
	}
	specs := make([]EnchantSpec, 0, len(tokens))
	for _, tok := range tokens {
		spec, err := ParseEnchantSpec(tok)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

type durability struct{ iv Interval }

func buildDurability(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	iv, err := ParseInterval(s)
	if err != nil {
		return nil, err
	}
	return durability{iv: iv}, nil
}

func (m durability) Kind() string { return "durability" }
func (m durability) Matches(s item.Stack) bool {
	return s.Meta != nil && m.iv.Contains(s.Meta.Durability)
}

type attribute struct {
	name string
	iv   *Interval
}

func buildAttribute(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	name, lvl, found := strings.Cut(s, ":")
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("empty attribute name")
	}
	m := attribute{name: name}
	if found {
		iv, err := ParseInterval(lvl)
		if err != nil {
			return nil, err
		}
		m.iv = &iv
	}
	return m, nil
}

func (m attribute) Kind() string { return "attribute" }
func (m attribute) Matches(s item.Stack) bool {
	if s.Meta == nil {
		return false
	}
	v, ok := s.Meta.Attributes[m.name]
	if !ok {
		return false
	}
	return m.iv == nil || m.iv.Contains(int(v))
}

type modelData struct{ want int }

func buildModelData(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("modeldata %q: %w", s, err)
	}
	return modelData{want: v}, nil
}

func (m modelData) Kind() string { return "modeldata" }
func (m modelData) Matches(s item.Stack) bool {
	return s.Meta != nil && s.Meta.HasModelData && s.Meta.ModelData == m.want
}

type unbreakable struct{ want bool }

func buildUnbreakable(raw any) (Matcher, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("unbreakable %q: %w", s, err)
	}
	return unbreakable{want: v}, nil
}

func (m unbreakable) Kind() string { return "unbreakable" }
func (m unbreakable) Matches(s item.Stack) bool {
	return s.Meta != nil && s.Meta.Unbreakable == m.want
}
