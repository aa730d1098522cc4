// Package render implements placeholder substitution for campaign templates.
//
// Placeholders are written {{key}}; whitespace inside the braces is ignored.
// Rendering is pure: the same template and fields always produce the same
// output, and nothing is escaped. HTML escaping is the caller's concern
// (see RenderHTML).
package render

import (
	"html"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Render substitutes every {{key}} in tpl with fields[key]. Keys are matched
// case-sensitively. A placeholder whose key is absent renders as the empty
// string. An unterminated "{{" and everything after it is left verbatim.
func Render(tpl string, fields map[string]string) string {
	return substitute(tpl, func(key string) string { return fields[key] })
}

// RenderHTML is Render with every field value HTML-escaped before it is
// inserted. The template text itself is trusted markup.
func RenderHTML(tpl string, fields map[string]string) string {
	return substitute(tpl, func(key string) string { return html.EscapeString(fields[key]) })
}

// Placeholders returns the distinct keys referenced by tpl, in order of first use.
func Placeholders(tpl string) []string {
	seen := make(map[string]bool)
	var keys []string
	substitute(tpl, func(key string) string {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		return ""
	})
	return keys
}

// TextToHTML converts a rendered plain-text body into a minimal HTML body.
func TextToHTML(text string) string {
	escaped := html.EscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}

func substitute(tpl string, lookup func(key string) string) string {
	if !strings.Contains(tpl, openDelim) {
		return tpl
	}

	var b strings.Builder
	b.Grow(len(tpl))
	s := tpl
	for {
		start := strings.Index(s, openDelim)
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(openDelim):], closeDelim)
		if end < 0 {
			b.WriteString(s)
			break
		}
		inner := s[start+len(openDelim) : start+len(openDelim)+end]

		// "{{a {{b}}": the first opener is stray text, restart at the inner one.
		if nested := strings.LastIndex(inner, openDelim); nested >= 0 {
			cut := start + len(openDelim) + nested
			b.WriteString(s[:cut])
			s = s[cut:]
			continue
		}

		b.WriteString(s[:start])
		b.WriteString(lookup(strings.TrimSpace(inner)))
		s = s[start+len(openDelim)+end+len(closeDelim):]
	}
	return b.String()
}
