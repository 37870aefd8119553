package config

import (
	"os"
	"strings"
)

// ExpandVars replaces $NAME and ${NAME} references using lookup. NAME is a
// run of letters, digits and underscores, so $5 names the variable "5".
// References lookup cannot resolve are kept verbatim, as is a lone $ or an
// unterminated ${.
func ExpandVars(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}

		var name string
		end := i + 1
		if s[end] == '{' {
			closing := strings.IndexByte(s[end+1:], '}')
			if closing < 0 {
				b.WriteByte('$')
				i++
				continue
			}
			name = s[end+1 : end+1+closing]
			end += closing + 2
		} else {
			for end < len(s) && isNameByte(s[end]) {
				end++
			}
			name = s[i+1 : end]
		}

		if v, ok := lookupName(name, lookup); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i:end])
		}
		i = end
	}
	return b.String()
}

// ExpandEnv is ExpandVars against the process environment
func ExpandEnv(s string) string {
	return ExpandVars(s, os.LookupEnv)
}

func lookupName(name string, lookup func(string) (string, bool)) (string, bool) {
	if name == "" {
		return "", false
	}
	return lookup(name)
}

func isNameByte(c byte) bool {
	return c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}
