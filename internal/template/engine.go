// Package template extracts {variable} placeholders from DM templates and
// renders them against per-user variable maps.
//
// Rendering is forgiving: placeholders with no bound value are left verbatim
// and reported, never treated as a hard failure. Whether that is acceptable is
// the caller's call (the wizard surfaces missing variables as a warning).
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder grammar: {identifier} where identifier is [a-zA-Z_][a-zA-Z0-9_]*.
var (
	varPattern   = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	bracePattern = regexp.MustCompile(`\{([^{}]*)\}`)
	identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ExtractVariables returns the distinct variable names appearing in template,
// in first-seen order. An empty template or one without placeholders yields an
// empty slice, not an error.
func ExtractVariables(template string) []string {
	if template == "" {
		return nil
	}
	matches := varPattern.FindAllStringSubmatch(template, -1)
	var names []string
	seen := map[string]bool{}
	for _, m := range matches {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}

// Validate returns a list of human-readable problems with the template.
// An empty list means the template is usable.
func Validate(template string) []string {
	var errs []string

	if strings.TrimSpace(template) == "" {
		return []string{"template cannot be empty"}
	}

	for _, m := range bracePattern.FindAllStringSubmatch(template, -1) {
		if !identPattern.MatchString(m[1]) {
			errs = append(errs, fmt.Sprintf("invalid variable name %q: variables must start with a letter or underscore, followed by letters, numbers, or underscores", m[1]))
		}
	}

	open := strings.Count(template, "{")
	closed := strings.Count(template, "}")
	if open != closed {
		errs = append(errs, fmt.Sprintf("mismatched braces: %d opening, %d closing", open, closed))
	}

	return errs
}

// Render substitutes bound variables into template. Placeholders without a
// binding are left as-is.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}
	return varPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return tok
	})
}

// Result is the outcome of a safe render for one user.
type Result struct {
	Rendered string
	Missing  []string
}

// RenderSafe renders template against vars and reports which required
// variables had no binding. Missing placeholders stay verbatim in the output.
func RenderSafe(template string, vars map[string]string) Result {
	res := Result{Rendered: template}
	if template == "" {
		return res
	}

	required := ExtractVariables(template)
	if len(required) == 0 {
		return res
	}

	for _, name := range required {
		if _, ok := vars[name]; !ok {
			res.Missing = append(res.Missing, name)
		}
	}
	res.Rendered = Render(template, vars)
	return res
}

// RenderForUsers renders template once per user and aggregates the union of
// missing variable names (sorted, deduplicated).
func RenderForUsers(template string, userData map[string]map[string]string) (map[string]string, []string) {
	rendered := make(map[string]string, len(userData))
	missingSet := map[string]bool{}

	for userID, vars := range userData {
		r := RenderSafe(template, vars)
		rendered[userID] = r.Rendered
		for _, name := range r.Missing {
			missingSet[name] = true
		}
	}

	var missing []string
	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return rendered, missing
}

// PreviewSample produces a local, syntactic preview: each {name} becomes
// [NAME]. This is a display convenience only; the authoritative preview is
// server-rendered with real bindings.
func PreviewSample(template string) string {
	return varPattern.ReplaceAllStringFunc(template, func(tok string) string {
		return "[" + strings.ToUpper(tok[1:len(tok)-1]) + "]"
	})
}
