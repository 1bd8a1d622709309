package config

import "fmt"

// Diagnostic codes. Except for CodeBadDocument, which aborts the load,
// config errors are per-entry and non-fatal: the offending entry is
// skipped and the rest of the table loads.
const (
	CodeBadDocument     = "E_CONF_BAD_DOCUMENT"
	CodeUnknownWorld    = "E_CONF_UNKNOWN_WORLD"
	CodeUnknownItem     = "E_CONF_UNKNOWN_ITEM"
	CodeUnknownAction   = "E_CONF_UNKNOWN_ACTION"
	CodeUnknownOption   = "E_CONF_UNKNOWN_OPTION"
	CodeBadMatcher      = "E_CONF_BAD_MATCHER"
	CodeBadValue        = "E_CONF_BAD_VALUE"
	CodeBadWildcard     = "E_CONF_BAD_WILDCARD"
	CodeUnknownCustom   = "E_CONF_UNKNOWN_CUSTOM"
	CodeUnknownGamemode = "E_CONF_UNKNOWN_GAMEMODE"
)

// Diagnostic is one loader finding, surfaced to whoever triggered the
// (re)load. Path is the config location, e.g. "blacklist.arena.stone".
type Diagnostic struct {
	Code   string
	Path   string
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s: %s", d.Code, d.Path, d.Detail)
}

type diags struct {
	list []Diagnostic
}

func (d *diags) add(code, path, format string, args ...any) {
	d.list = append(d.list, Diagnostic{Code: code, Path: path, Detail: fmt.Sprintf(format, args...)})
}
