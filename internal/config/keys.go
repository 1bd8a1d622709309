package config

import "strings"

// splitKey breaks a config key into its comma-separated tokens.
func splitKey(key string) []string {
	parts := strings.Split(key, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expandKey resolves a key of comma-separated tokens against a known
// set. "*" expands to every known value; "!x" removes x from what the
// preceding tokens accumulated. With no known set, "*" cannot expand
// (reported via the ok flag) and plain tokens pass through.
func expandKey(key string, known []string, norm func(string) string) (vals []string, badWildcard bool, unknown []string) {
	knownSet := map[string]struct{}{}
	for _, k := range known {
		knownSet[norm(k)] = struct{}{}
	}
	acc := map[string]struct{}{}
	var order []string
	add := func(v string) {
		if _, ok := acc[v]; !ok {
			acc[v] = struct{}{}
			order = append(order, v)
		}
	}
	for _, tok := range splitKey(key) {
		if tok == "*" {
			if len(known) == 0 {
				badWildcard = true
				continue
			}
			for _, k := range known {
				add(norm(k))
			}
			continue
		}
		if neg, ok := strings.CutPrefix(tok, "!"); ok {
			v := norm(neg)
			if _, present := acc[v]; present {
				delete(acc, v)
				for i, o := range order {
					if o == v {
						order = append(order[:i], order[i+1:]...)
						break
					}
				}
			}
			continue
		}
		v := norm(tok)
		if len(known) > 0 {
			if _, ok := knownSet[v]; !ok {
				unknown = append(unknown, tok)
				continue
			}
		}
		add(v)
	}
	return order, badWildcard, unknown
}

// asSet uppercases a token list into a set, the shape the rule filters
// consume.
func asSet(tokens []string) map[string]struct{} {
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
	}
	return set
}

func asLowerSet(tokens []string) map[string]struct{} {
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return set
}
