package esi

import "strings"

// Interpolate replaces variable tokens in the inner text of an esi:vars region.
//
// Accepted token forms:
//
//	$(NAME)                 vars["NAME"]
//	$(NAME{key})            vars["NAME{key}"]
//	$(NAME|fallback)        vars["NAME"], or fallback when unset
//	$(NAME{key}|'fallback')
//
// Unset variables without a fallback become empty text. Sequences that are not
// well-formed tokens are copied unchanged.
func Interpolate(inner string, vars map[string]string) string {
	if !strings.Contains(inner, "$(") {
		return inner
	}
	var b strings.Builder
	b.Grow(len(inner))
	i := 0
	for {
		j := strings.Index(inner[i:], "$(")
		if j < 0 {
			b.WriteString(inner[i:])
			return b.String()
		}
		start := i + j
		tok, end, ok := parseVarToken(inner, start+2)
		if !ok {
			b.WriteString(inner[i : start+2])
			i = start + 2
			continue
		}
		b.WriteString(inner[i:start])
		if v, found := vars[tok.name]; found {
			b.WriteString(v)
		} else {
			b.WriteString(tok.fallback)
		}
		i = end
	}
}

type varToken struct {
	name     string
	fallback string
}

// parseVarToken reads a token body starting after "$(" and returns the offset after ')'.
func parseVarToken(s string, i int) (varToken, int, bool) {
	start := i
	for i < len(s) && isVarNameChar(s[i]) {
		i++
	}
	if i == start {
		return varToken{}, 0, false
	}
	if i < len(s) && s[i] == '{' {
		k := strings.IndexByte(s[i:], '}')
		if k < 0 || strings.ContainsAny(s[i:i+k], "()") {
			return varToken{}, 0, false
		}
		i += k + 1
	}
	tok := varToken{name: s[start:i]}

	if i < len(s) && s[i] == '|' {
		i++
		if i < len(s) && s[i] == '\'' {
			k := strings.IndexByte(s[i+1:], '\'')
			if k < 0 {
				return varToken{}, 0, false
			}
			tok.fallback = s[i+1 : i+1+k]
			i += k + 2
		} else {
			k := strings.IndexByte(s[i:], ')')
			if k < 0 {
				return varToken{}, 0, false
			}
			tok.fallback = s[i : i+k]
			i += k
		}
	}

	if i >= len(s) || s[i] != ')' {
		return varToken{}, 0, false
	}
	return tok, i + 1, true
}

func isVarNameChar(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
