// Package inject escapes untrusted text for interpolation into script bodies
// sent to the inspected page.
//
// Every path segment, file name and content payload that reaches a generated
// script passes through Quote. Nothing else stands between a file called
// `a"); evil(); ("` and the page's execution context.
package inject

import "strings"

// escapes is applied in order. Backslash goes first so later replacements
// are not escaped twice.
var escapes = []struct{ from, to string }{
	{`\`, `\\`},
	{`'`, `\'`},
	{`"`, `\"`},
	{"\n", `\n`},
	{"\r", `\r`},
	{"\t", `\t`},
}

// Escape returns s escaped for placement inside a double-quoted (or
// single-quoted) JavaScript string literal. Parsing the literal back yields s.
func Escape(s string) string {
	for _, e := range escapes {
		s = strings.ReplaceAll(s, e.from, e.to)
	}
	return s
}

// Quote returns s as a complete double-quoted JavaScript string literal.
func Quote(s string) string {
	return `"` + Escape(s) + `"`
}
