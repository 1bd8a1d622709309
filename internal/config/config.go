// Package config parses the rules document into the in-memory tables.
// Parsing is forgiving: anything malformed is skipped with a collected
// diagnostic and the rest of the document still loads.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/meta"
	"itemward.dev/internal/ban/rule"
	"itemward.dev/internal/ban/table"
)

// Catalog supplies the known value sets used to expand "*" wildcards and
// validate tokens. Empty slices disable validation (and wildcards) for
// that dimension.
type Catalog struct {
	Worlds    []string
	Materials []string
}

// Result is a fully built snapshot plus everything the loader skipped.
type Result struct {
	Snapshot    *table.Snapshot
	Diagnostics []Diagnostic
}

type document struct {
	Blacklist   map[string]map[string]any `yaml:"blacklist"`
	Whitelist   map[string]map[string]any `yaml:"whitelist"`
	CustomItems map[string]map[string]any `yaml:"customitems"`
}

type customItem struct {
	name     string
	typ      string
	matchers []meta.Matcher
}

// customRegistry keeps the loadable custom items plus the names of
// entries that were declared but excluded, so references to the latter
// can be reported as broken custom items rather than unknown materials.
type customRegistry struct {
	items   map[string]customItem
	invalid map[string]struct{}
}

// Load reads and parses the rules file.
func Load(path string, cat Catalog) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw, cat)
}

// Parse builds a snapshot from a rules document. Sections are visited
// in sorted key order so overlapping keys merge deterministically.
func Parse(raw []byte, cat Catalog) (*Result, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("rules.yml: %s: %w", CodeBadDocument, err)
	}

	d := &diags{}
	customs := parseCustomItems(doc.CustomItems, cat, d)

	bl := table.NewBlacklist()
	for _, worldKey := range sortedKeys(doc.Blacklist) {
		items := doc.Blacklist[worldKey]
		worlds := expandWorlds(worldKey, "blacklist", cat, d)
		for _, itemKey := range sortedKeys(items) {
			path := "blacklist." + worldKey + "." + itemKey
			templates := parseActionEntries(items[itemKey], path, d)
			if len(templates) == 0 {
				continue
			}
			mats, names := expandItems(itemKey, path, cat, customs, d)
			for _, w := range worlds {
				for _, m := range mats {
					bl.AddBan(w, item.Identity{Type: m}, instantiate(templates))
				}
				for _, n := range names {
					ci := customs.items[n]
					bl.AddCustomBan(w, ci.name, ci.typ, ci.matchers, instantiate(templates))
				}
			}
		}
	}

	wl := table.NewWhitelist()
	for _, worldKey := range sortedKeys(doc.Whitelist) {
		worlds := expandWorlds(worldKey, "whitelist", cat, d)
		msgs, ignored, items := splitWhitelistBody(worldKey, doc.Whitelist[worldKey], d)
		type parsedEntry struct {
			mats, names []string
			templates   []*rule.ActionData
		}
		var entries []parsedEntry
		for _, itemKey := range sortedKeys(items) {
			path := "whitelist." + worldKey + "." + itemKey
			templates := parseWhitelistEntry(items[itemKey], path, d)
			if len(templates) == 0 {
				continue
			}
			mats, names := expandItems(itemKey, path, cat, customs, d)
			entries = append(entries, parsedEntry{mats: mats, names: names, templates: templates})
		}
		// Sections whose keys expand to the same world merge, like the
		// blacklist side; a later section never replaces an earlier one.
		for _, w := range worlds {
			ww := wl.World(w)
			if ww == nil {
				ww = table.NewWhitelistWorld(nil, nil)
				wl.Put(w, ww)
			}
			ww.Messages = append(ww.Messages, msgs...)
			for _, a := range ignored {
				ww.Ignored[a] = struct{}{}
			}
			for _, e := range entries {
				for _, m := range e.mats {
					ww.Rules.Merge(item.Identity{Type: m}, instantiate(e.templates))
				}
				for _, n := range e.names {
					ci := customs.items[n]
					ww.Rules.MergeCustom(ci.name, ci.typ, ci.matchers, instantiate(e.templates))
				}
			}
		}
	}

	return &Result{Snapshot: table.NewSnapshot(bl, wl), Diagnostics: d.list}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func withoutString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func parseCustomItems(raw map[string]map[string]any, cat Catalog, d *diags) customRegistry {
	customs := customRegistry{items: map[string]customItem{}, invalid: map[string]struct{}{}}
	for _, name := range sortedKeys(raw) {
		path := "customitems." + name
		ci := customItem{name: strings.ToLower(strings.TrimSpace(name))}
		ok := true
		for k, v := range raw[name] {
			if strings.EqualFold(k, "material") {
				s, err := scalarString(v)
				if err != nil {
					d.add(CodeBadValue, path+".material", "%v", err)
					ok = false
					continue
				}
				ci.typ = strings.ToUpper(strings.TrimSpace(s))
				if !knownMaterial(ci.typ, cat) {
					d.add(CodeUnknownItem, path+".material", "unknown material %q", s)
					ok = false
				}
				continue
			}
			m, err := meta.Build(k, v)
			if err != nil {
				// Invalid matchers never match; the entry is excluded.
				d.add(CodeBadMatcher, path+"."+k, "%v", err)
				ok = false
				continue
			}
			ci.matchers = append(ci.matchers, m)
		}
		if !ok {
			customs.invalid[ci.name] = struct{}{}
			continue
		}
		if len(ci.matchers) == 0 && ci.typ == "" {
			d.add(CodeBadValue, path, "custom item needs a material or at least one matcher")
			customs.invalid[ci.name] = struct{}{}
			continue
		}
		customs.items[ci.name] = ci
	}
	return customs
}

func expandWorlds(key, section string, cat Catalog, d *diags) []string {
	worlds, badWild, unknown := expandKey(key, cat.Worlds, strings.ToLower)
	if badWild {
		d.add(CodeBadWildcard, section+"."+key, "no world catalog to expand * against")
	}
	for _, u := range unknown {
		d.add(CodeUnknownWorld, section+"."+key, "unknown world %q", u)
	}
	return worlds
}

// expandItems resolves an item key to material types and custom item
// names. "*" spans materials only; custom items are always named
// explicitly, and "!name" excludes a custom named earlier in the key.
func expandItems(key, path string, cat Catalog, customs customRegistry, d *diags) (mats []string, names []string) {
	var plain []string
	for _, tok := range splitKey(key) {
		if neg, ok := strings.CutPrefix(tok, "!"); ok {
			ln := strings.ToLower(strings.TrimSpace(neg))
			if _, ok := customs.items[ln]; ok {
				names = withoutString(names, ln)
				continue
			}
			plain = append(plain, "!"+neg)
			continue
		}
		if tok == "*" {
			plain = append(plain, tok)
			continue
		}
		ln := strings.ToLower(tok)
		if _, ok := customs.items[ln]; ok {
			names = append(names, ln)
			continue
		}
		if _, ok := customs.invalid[ln]; ok {
			d.add(CodeUnknownCustom, path, "custom item %q was declared but failed to load", tok)
			continue
		}
		plain = append(plain, tok)
	}
	if len(plain) == 0 {
		return nil, names
	}
	mats, badWild, unknown := expandKey(strings.Join(plain, ","), cat.Materials, strings.ToUpper)
	if badWild {
		d.add(CodeBadWildcard, path, "no material catalog to expand * against")
	}
	for _, u := range unknown {
		d.add(CodeUnknownItem, path, "unknown material or custom item %q", u)
	}
	return mats, names
}

func knownMaterial(typ string, cat Catalog) bool {
	if len(cat.Materials) == 0 {
		return true
	}
	for _, m := range cat.Materials {
		if strings.ToUpper(m) == typ {
			return true
		}
	}
	return false
}

// parseActionEntries parses an item body: a map of action key(s) to a
// message scalar, a message list, or an options section.
func parseActionEntries(body any, path string, d *diags) []*rule.ActionData {
	m, ok := body.(map[string]any)
	if !ok {
		d.add(CodeBadValue, path, "expected a map of actions, got %T", body)
		return nil
	}
	var out []*rule.ActionData
	for actKey, v := range m {
		acts, badWild, unknown := expandKey(actKey, actionNames(), strings.ToUpper)
		if badWild {
			d.add(CodeBadWildcard, path+"."+actKey, "cannot expand action wildcard")
		}
		for _, u := range unknown {
			d.add(CodeUnknownAction, path+"."+actKey, "unknown action %q", u)
		}
		for _, name := range acts {
			a, _ := action.Parse(name)
			if data := parseActionData(a, v, path+"."+actKey, d); data != nil {
				out = append(out, data)
			}
		}
	}
	return out
}

// parseWhitelistEntry accepts either the blacklist shape or a bare list
// of allowed action tokens.
func parseWhitelistEntry(body any, path string, d *diags) []*rule.ActionData {
	if list, ok := body.([]any); ok {
		var out []*rule.ActionData
		for _, e := range list {
			s, err := scalarString(e)
			if err != nil {
				d.add(CodeBadValue, path, "%v", err)
				continue
			}
			a, ok := action.Parse(s)
			if !ok {
				d.add(CodeUnknownAction, path, "unknown action %q", s)
				continue
			}
			out = append(out, &rule.ActionData{Action: a})
		}
		return out
	}
	return parseActionEntries(body, path, d)
}

func parseActionData(a action.Action, v any, path string, d *diags) *rule.ActionData {
	data := &rule.ActionData{Action: a}
	switch val := v.(type) {
	case nil:
		// Bare action key: match with no message.
	case string:
		data.Messages = []string{val}
	case []any:
		msgs, err := stringList(val)
		if err != nil {
			d.add(CodeBadValue, path, "%v", err)
			return nil
		}
		data.Messages = msgs
	case map[string]any:
		if !applyOptions(data, val, path, d) {
			return nil
		}
	default:
		s, err := scalarString(v)
		if err != nil {
			d.add(CodeBadValue, path, "%v", err)
			return nil
		}
		data.Messages = []string{s}
	}
	checkShape(data, path, d)
	return data
}

// checkShape warns when an aux filter is configured on an action that
// never carries that kind of datum. The rule would require a datum the
// notifier cannot supply and so could never match.
func checkShape(data *rule.ActionData, path string, d *diags) {
	shape := map[action.AuxKind]bool{}
	for _, k := range action.Shape(data.Action) {
		shape[k] = true
	}
	warn := func(k action.AuxKind, opt string) {
		if !shape[k] {
			d.add(CodeBadValue, path+"."+opt, "action %s carries no %s datum", data.Action, opt)
		}
	}
	if len(data.Entities) > 0 {
		warn(action.AuxEntity, "entity")
	}
	if len(data.Materials) > 0 {
		warn(action.AuxMaterial, "material")
	}
	if len(data.InventoryFrom) > 0 {
		warn(action.AuxInventoryFrom, "inventory-from")
	}
	if len(data.InventoryTo) > 0 {
		warn(action.AuxInventoryTo, "inventory-to")
	}
	if len(data.Enchants) > 0 {
		warn(action.AuxEnchant, "enchantment")
	}
}

func applyOptions(data *rule.ActionData, opts map[string]any, path string, d *diags) bool {
	for k, v := range opts {
		opt := strings.ToLower(strings.TrimSpace(k))
		switch opt {
		case "message", "messages":
			msgs, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, path+"."+opt, "%v", err)
				return false
			}
			data.Messages = msgs
		case "log":
			b, ok := v.(bool)
			if !ok {
				d.add(CodeBadValue, path+".log", "expected bool, got %T", v)
				return false
			}
			data.Log = b
		case "cooldown":
			cd, err := parseCooldown(v)
			if err != nil {
				d.add(CodeBadValue, path+".cooldown", "%v", err)
				return false
			}
			data.Cooldown = cd
		case "permission":
			s, err := scalarString(v)
			if err != nil {
				d.add(CodeBadValue, path+".permission", "%v", err)
				return false
			}
			data.BypassNode = strings.TrimSpace(s)
		case "gamemode":
			tokens, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, path+".gamemode", "%v", err)
				return false
			}
			set := make(map[rule.GameMode]struct{}, len(tokens))
			for _, t := range tokens {
				gm, ok := rule.ParseGameMode(t)
				if !ok {
					d.add(CodeUnknownGamemode, path+".gamemode", "unknown gamemode %q", t)
					continue
				}
				set[gm] = struct{}{}
			}
			if len(set) > 0 {
				data.GameModes = set
			}
		case "region":
			tokens, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, path+".region", "%v", err)
				return false
			}
			data.Regions = asLowerSet(tokens)
		case "entity":
			set, err := parseTokenSet(v)
			if err != nil {
				d.add(CodeBadValue, path+".entity", "%v", err)
				return false
			}
			data.Entities = set
		case "material":
			set, err := parseTokenSet(v)
			if err != nil {
				d.add(CodeBadValue, path+".material", "%v", err)
				return false
			}
			data.Materials = set
		case "inventory-from":
			set, err := parseTokenSet(v)
			if err != nil {
				d.add(CodeBadValue, path+".inventory-from", "%v", err)
				return false
			}
			data.InventoryFrom = set
		case "inventory-to":
			set, err := parseTokenSet(v)
			if err != nil {
				d.add(CodeBadValue, path+".inventory-to", "%v", err)
				return false
			}
			data.InventoryTo = set
		case "enchantment":
			tokens, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, path+".enchantment", "%v", err)
				return false
			}
			specs := make([]meta.EnchantSpec, 0, len(tokens))
			for _, t := range tokens {
				spec, err := meta.ParseEnchantSpec(t)
				if err != nil {
					d.add(CodeBadValue, path+".enchantment", "%v", err)
					return false
				}
				specs = append(specs, spec)
			}
			data.Enchants = specs
		case "run":
			cmds, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, path+".run", "%v", err)
				return false
			}
			data.RunCommands = cmds
		default:
			d.add(CodeUnknownOption, path+"."+opt, "unknown option")
		}
	}
	return true
}

func splitWhitelistBody(worldKey string, body map[string]any, d *diags) (msgs []string, ignored []action.Action, items map[string]any) {
	items = map[string]any{}
	for k, v := range body {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "message", "messages":
			list, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, "whitelist."+worldKey+".message", "%v", err)
				continue
			}
			msgs = list
		case "ignored":
			tokens, err := anyStringList(v)
			if err != nil {
				d.add(CodeBadValue, "whitelist."+worldKey+".ignored", "%v", err)
				continue
			}
			for _, t := range tokens {
				a, ok := action.Parse(t)
				if !ok {
					d.add(CodeUnknownAction, "whitelist."+worldKey+".ignored", "unknown action %q", t)
					continue
				}
				ignored = append(ignored, a)
			}
		default:
			items[k] = v
		}
	}
	return msgs, ignored, items
}

// instantiate materializes fresh sealed ActionData from templates, so
// every world gets its own cooldown state. Filter sets are shared; they
// are read-only after parse.
func instantiate(templates []*rule.ActionData) table.ActionMap {
	m := make(table.ActionMap, len(templates))
	for _, t := range templates {
		cp := *t
		m[cp.Action] = cp.Seal()
	}
	return m
}

func actionNames() []string {
	acts := action.All()
	out := make([]string, len(acts))
	for i, a := range acts {
		out[i] = string(a)
	}
	return out
}

func parseCooldown(v any) (time.Duration, error) {
	switch x := v.(type) {
	case int:
		return time.Duration(x) * time.Millisecond, nil
	case int64:
		return time.Duration(x) * time.Millisecond, nil
	case float64:
		return time.Duration(x * float64(time.Millisecond)), nil
	case string:
		if ms, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("expected millis or duration, got %T", v)
	}
}

func parseTokenSet(v any) (map[string]struct{}, error) {
	tokens, err := anyStringList(v)
	if err != nil {
		return nil, err
	}
	return asSet(tokens), nil
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("expected scalar, got %T", v)
	}
}

func stringList(list []any) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, err := scalarString(e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func anyStringList(v any) ([]string, error) {
	switch x := v.(type) {
	case []any:
		return stringList(x)
	default:
		s, err := scalarString(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}
