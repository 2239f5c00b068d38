package esi

import (
	"html"
	"strings"
)

type Kind int

const (
	KindInclude Kind = iota + 1
	KindVars
	// KindDiscard covers fallback text of an include whose body holds nested
	// includes, including its closing tag. It renders as empty text.
	KindDiscard
)

func (k Kind) String() string {
	switch k {
	case KindInclude:
		return "include"
	case KindVars:
		return "vars"
	case KindDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Directive is one directive occurrence. Start and End are byte offsets into
// the scanned text; input[Start:End] is replaced when the directive resolves.
type Directive struct {
	Kind  Kind
	Start int
	End   int
	Attrs map[string]string
	// Inner is the text between the open and close tags. For includes it is the
	// fallback body, which is not rendered.
	Inner string
}

func (d Directive) Src() string {
	return strings.TrimSpace(d.Attrs["src"])
}

const (
	tagInclude = "esi:include"
	tagVars    = "esi:vars"
)

type tagScanner struct {
	input      string
	i          int
	directives []Directive
	errs       []*ScanError
}

// Scan returns the directives of body ordered by Start. Spans never overlap.
// Malformed directives are reported as ScanErrors and produce no Directive.
func Scan(body string) ([]Directive, []*ScanError) {
	s := &tagScanner{input: body}
	s.run()
	return s.directives, s.errs
}

// ContainsDirective reports whether body has anything that looks like an esi tag.
func ContainsDirective(body string) bool {
	for i := 0; i < len(body); {
		j := strings.IndexByte(body[i:], '<')
		if j < 0 {
			return false
		}
		if hasPrefixFold(body[i+j+1:], "esi:") {
			return true
		}
		i += j + 1
	}
	return false
}

func (s *tagScanner) run() {
	for s.i < len(s.input) {
		j := strings.IndexByte(s.input[s.i:], '<')
		if j < 0 {
			return
		}
		pos := s.i + j
		switch {
		case s.isOpen(pos, tagInclude):
			s.i = s.scanInclude(pos)
		case s.isOpen(pos, tagVars):
			s.i = s.scanVars(pos)
		default:
			s.i = pos + 1
		}
	}
}

func (s *tagScanner) scanInclude(pos int) int {
	attrs, openEnd, selfClosing, reason := s.parseOpenTag(pos, tagInclude)
	if reason != "" {
		s.errs = append(s.errs, &ScanError{Start: pos, End: pos + 1 + len(tagInclude), Tag: tagInclude, Reason: reason})
		return pos + 1
	}

	end := openEnd
	closeStart := -1
	nested := false
	if !selfClosing {
		if cs, ce, n, ok := s.matchIncludeClose(openEnd); ok {
			closeStart, end, nested = cs, ce, n
		}
	}

	if strings.TrimSpace(attrs["src"]) == "" {
		s.errs = append(s.errs, &ScanError{Start: pos, End: end, Tag: tagInclude, Reason: "missing src attribute"})
		return end
	}
	if !nested {
		inner := ""
		if closeStart >= 0 {
			inner = s.input[openEnd:closeStart]
		}
		s.directives = append(s.directives, Directive{Kind: KindInclude, Start: pos, End: end, Attrs: attrs, Inner: inner})
		return end
	}

	// The body holds further includes: the open tag becomes the directive, the
	// nested includes resolve on their own and everything else is discarded.
	s.directives = append(s.directives, Directive{
		Kind:  KindInclude,
		Start: pos,
		End:   openEnd,
		Attrs: attrs,
		Inner: s.input[openEnd:closeStart],
	})
	sub := &tagScanner{input: s.input[:closeStart], i: openEnd}
	sub.run()
	s.errs = append(s.errs, sub.errs...)
	last := openEnd
	for _, d := range sub.directives {
		if d.Kind == KindVars {
			continue
		}
		if d.Kind == KindInclude && d.Start > last {
			s.directives = append(s.directives, Directive{Kind: KindDiscard, Start: last, End: d.Start})
		}
		s.directives = append(s.directives, d)
		last = d.End
	}
	s.directives = append(s.directives, Directive{Kind: KindDiscard, Start: last, End: end})
	return end
}

// matchIncludeClose finds the </esi:include> that closes an include whose open
// tag ends at openEnd. Open-form includes in between nest; vars regions are
// skipped whole. nested reports whether any include occurs in the body.
func (s *tagScanner) matchIncludeClose(openEnd int) (closeStart, closeEnd int, nested, ok bool) {
	depth := 1
	for k := openEnd; ; {
		j := strings.IndexByte(s.input[k:], '<')
		if j < 0 {
			return 0, 0, false, false
		}
		p := k + j
		switch {
		case s.isOpen(p, tagInclude):
			_, innerEnd, innerSelf, reason := s.parseOpenTag(p, tagInclude)
			if reason != "" {
				k = p + 1
				continue
			}
			nested = true
			if !innerSelf {
				depth++
			}
			k = innerEnd
		case s.isOpen(p, tagVars):
			_, varsOpenEnd, varsSelf, reason := s.parseOpenTag(p, tagVars)
			if reason != "" {
				k = p + 1
				continue
			}
			k = varsOpenEnd
			if !varsSelf {
				if _, varsEnd, found := s.matchVarsClose(varsOpenEnd); found {
					k = varsEnd
				}
			}
		default:
			if ce, found := s.closeTagAt(p, tagInclude); found {
				depth--
				if depth == 0 {
					return p, ce, nested, true
				}
				k = ce
				continue
			}
			k = p + 1
		}
	}
}

func (s *tagScanner) scanVars(pos int) int {
	attrs, openEnd, selfClosing, reason := s.parseOpenTag(pos, tagVars)
	if reason != "" {
		s.errs = append(s.errs, &ScanError{Start: pos, End: pos + 1 + len(tagVars), Tag: tagVars, Reason: reason})
		return pos + 1
	}
	if selfClosing {
		s.directives = append(s.directives, Directive{Kind: KindVars, Start: pos, End: openEnd, Attrs: attrs})
		return openEnd
	}

	closeStart, closeEnd, ok := s.matchVarsClose(openEnd)
	if !ok {
		s.errs = append(s.errs, &ScanError{Start: pos, End: openEnd, Tag: tagVars, Reason: "missing closing tag"})
		return openEnd
	}
	s.directives = append(s.directives, Directive{
		Kind:  KindVars,
		Start: pos,
		End:   closeEnd,
		Attrs: attrs,
		Inner: s.input[openEnd:closeStart],
	})
	return closeEnd
}

// matchVarsClose finds the </esi:vars> matching an open tag ending at openEnd.
func (s *tagScanner) matchVarsClose(openEnd int) (closeStart, closeEnd int, ok bool) {
	depth := 1
	for k := openEnd; ; {
		j := strings.IndexByte(s.input[k:], '<')
		if j < 0 {
			return 0, 0, false
		}
		p := k + j
		if s.isOpen(p, tagVars) {
			_, nestedEnd, nestedSelf, nestedReason := s.parseOpenTag(p, tagVars)
			if nestedReason != "" {
				k = p + 1
				continue
			}
			if !nestedSelf {
				depth++
			}
			k = nestedEnd
			continue
		}
		if ce, found := s.closeTagAt(p, tagVars); found {
			depth--
			if depth == 0 {
				return p, ce, true
			}
			k = ce
			continue
		}
		k = p + 1
	}
}

// isOpen reports whether an opening tag named name starts at pos.
func (s *tagScanner) isOpen(pos int, name string) bool {
	start := pos + 1
	if s.input[pos] != '<' || !hasPrefixFold(s.input[start:], name) {
		return false
	}
	after := start + len(name)
	if after == len(s.input) {
		return true
	}
	c := s.input[after]
	return isSpace(c) || c == '/' || c == '>'
}

// closeTagAt matches "</name>" (whitespace allowed before '>') at pos.
func (s *tagScanner) closeTagAt(pos int, name string) (int, bool) {
	if !strings.HasPrefix(s.input[pos:], "</") || !hasPrefixFold(s.input[pos+2:], name) {
		return 0, false
	}
	i := pos + 2 + len(name)
	for i < len(s.input) && isSpace(s.input[i]) {
		i++
	}
	if i < len(s.input) && s.input[i] == '>' {
		return i + 1, true
	}
	return 0, false
}

// parseOpenTag reads the attributes of the tag at pos. Quoted values may contain '>'.
// A non-empty reason means the tag is malformed.
func (s *tagScanner) parseOpenTag(pos int, name string) (attrs map[string]string, end int, selfClosing bool, reason string) {
	attrs = map[string]string{}
	in := s.input
	i := pos + 1 + len(name)
	for {
		for i < len(in) && isSpace(in[i]) {
			i++
		}
		if i >= len(in) {
			return nil, 0, false, "unterminated tag"
		}
		switch in[i] {
		case '>':
			return attrs, i + 1, false, ""
		case '/':
			if i+1 < len(in) && in[i+1] == '>' {
				return attrs, i + 2, true, ""
			}
			i++
			continue
		}

		nameStart := i
		for i < len(in) && !isSpace(in[i]) && in[i] != '=' && in[i] != '>' && in[i] != '/' {
			i++
		}
		attrName := strings.ToLower(in[nameStart:i])
		for i < len(in) && isSpace(in[i]) {
			i++
		}
		if i >= len(in) || in[i] != '=' {
			if attrName != "" {
				if _, exists := attrs[attrName]; !exists {
					attrs[attrName] = ""
				}
			}
			continue
		}
		i++
		for i < len(in) && isSpace(in[i]) {
			i++
		}
		if i >= len(in) {
			return nil, 0, false, "unterminated tag"
		}

		var value string
		if q := in[i]; q == '"' || q == '\'' {
			closeQuote := strings.IndexByte(in[i+1:], q)
			if closeQuote < 0 {
				return nil, 0, false, "unterminated attribute value"
			}
			value = in[i+1 : i+1+closeQuote]
			i += closeQuote + 2
		} else {
			valueStart := i
			for i < len(in) && !isSpace(in[i]) && in[i] != '>' {
				i++
			}
			value = in[valueStart:i]
			// <esi:include src=/a/> : the trailing slash belongs to the tag
			if strings.HasSuffix(value, "/") && i < len(in) && in[i] == '>' {
				value = value[:len(value)-1]
				i--
			}
		}
		if attrName == "" {
			continue
		}
		if _, exists := attrs[attrName]; !exists {
			attrs[attrName] = html.UnescapeString(value)
		}
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
