// Package roster parses recipient input: @mention text and CSV/JSON variable
// import files. It deals in raw identifiers only; resolving them against the
// Slack workspace is the slackx client's job.
package roster

import "regexp"

// Mention usernames may contain dots, dashes and CJK characters
// (hiragana, katakana, unified ideographs, fullwidth forms).
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9._\-\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FAF}\x{3400}-\x{4DBF}\x{FF00}-\x{FFEF}]+)`)

// ParseMentions extracts @mention names from free text, deduplicated in
// first-seen order. Empty text yields an empty slice.
func ParseMentions(text string) []string {
	if text == "" {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}
