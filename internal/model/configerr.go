package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ConfigErrorDetail is a single human readable validation problem.
type ConfigErrorDetail struct {
	Path    string // watch.status_interval
	Code    string // unknown_field | missing_required | conflicting_values | type_mismatch | validation_error
	Message string
	Line    int
	Column  int
}

func (d ConfigErrorDetail) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Message)
	}
	return d.Message
}

func (d ConfigErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", d.Code),
		slog.String("path", d.Path),
		slog.String("message", d.Message),
		slog.Int("line", d.Line),
		slog.Int("column", d.Column),
	)
}

var (
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible|empty disjunction`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*|invalid value`)
)

// ConfigErrDetails turns an error returned by LoadConfig into a list of
// details, one per offending field. Non CUE errors produce a single detail.
func ConfigErrDetails(err error) []ConfigErrorDetail {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []ConfigErrorDetail{{Code: "validation_error", Message: err.Error()}}
	}

	seen := make(map[string]struct{})
	out := make([]ConfigErrorDetail, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := configPath(e.Path())
		if _, ok := seen[path]; ok && path != "" {
			continue
		}
		seen[path] = struct{}{}

		d := ConfigErrorDetail{Path: path}
		d.Code, d.Message = classifyCueMsg(raw, path)
		for _, p := range cueerrors.Positions(e) {
			if p.Filename() == "" || strings.HasSuffix(p.Filename(), ".cue") {
				continue
			}
			d.Line, d.Column = p.Line(), p.Column()
			break
		}
		out = append(out, d)
	}
	return out
}

func configPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classifyCueMsg(raw, path string) (code, msg string) {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("field %s is not allowed", path)
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("field %s is required", path)
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("field %s has an invalid value: %s", field, raw)
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("field %s has wrong type or value", path)
	default:
		return "validation_error", raw
	}
}
