package sqlmodel

import (
	"sort"
	"strconv"
	"strings"
)

// SegmentKind identifies the type of a template segment.
type SegmentKind int

// SegmentKind constants.
const (
	SegmentText  SegmentKind = iota // literal text, escapes already reduced one level
	SegmentField                    // {name}, consumed by the current pass
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentText:
		return "TEXT"
	case SegmentField:
		return "FIELD"
	default:
		return "UNKNOWN"
	}
}

// Segment is one piece of a parsed template.
type Segment struct {
	Kind SegmentKind
	Text string // for SegmentText
	Name string // for SegmentField
	Pos  Position
}

// placeholderLexer splits a template into segments for a single pass.
// "{{" and "}}" are escapes that reduce to "{" and "}"; "{name}" is a field.
type placeholderLexer struct {
	input string
	pos   int
	line  int
	col   int
}

// ParseTemplate splits text into the segments visible to one substitution
// pass. Deeper placeholders show up inside text segments with one level of
// brace escaping removed.
func ParseTemplate(text string) ([]Segment, error) {
	l := &placeholderLexer{input: text, line: 1, col: 1}
	return l.segments()
}

func (l *placeholderLexer) segments() ([]Segment, error) {
	var out []Segment
	var text strings.Builder
	textPos := l.position()

	flush := func() {
		if text.Len() > 0 {
			out = append(out, Segment{Kind: SegmentText, Text: text.String(), Pos: textPos})
			text.Reset()
		}
	}

	for l.pos < len(l.input) {
		switch {
		case strings.HasPrefix(l.input[l.pos:], "{{"):
			if text.Len() == 0 {
				textPos = l.position()
			}
			text.WriteByte('{')
			l.advance(2)
		case strings.HasPrefix(l.input[l.pos:], "}}"):
			if text.Len() == 0 {
				textPos = l.position()
			}
			text.WriteByte('}')
			l.advance(2)
		case l.input[l.pos] == '{':
			flush()
			seg, err := l.scanField()
			if err != nil {
				return nil, err
			}
			out = append(out, seg)
			textPos = l.position()
		case l.input[l.pos] == '}':
			return nil, &MalformedTemplateError{Pos: l.position(), Msg: "single '}' encountered"}
		default:
			if text.Len() == 0 {
				textPos = l.position()
			}
			text.WriteByte(l.input[l.pos])
			l.advance(1)
		}
	}
	flush()
	return out, nil
}

// scanField scans "{name}" starting at the opening brace.
func (l *placeholderLexer) scanField() (Segment, error) {
	start := l.position()
	l.advance(1)

	nameStart := l.pos
	for l.pos < len(l.input) && l.input[l.pos] != '}' {
		if l.input[l.pos] == '{' {
			return Segment{}, &MalformedTemplateError{Pos: l.position(), Msg: "unexpected '{' inside field"}
		}
		l.advance(1)
	}
	if l.pos >= len(l.input) {
		return Segment{}, &MalformedTemplateError{Pos: start, Msg: "unterminated field"}
	}

	name := l.input[nameStart:l.pos]
	l.advance(1)

	if !isFieldName(name) {
		return Segment{}, &MalformedTemplateError{Pos: start, Msg: "invalid field name " + strconv.Quote(name)}
	}
	return Segment{Kind: SegmentField, Name: name, Pos: start}, nil
}

func (l *placeholderLexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.input); i++ {
		if l.input[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *placeholderLexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func isFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Substitute performs one pass over text: every depth-1 field is replaced
// by its binding and every escaped brace pair is reduced one level, so a
// depth-n field becomes depth-(n-1). Bound values are inserted verbatim.
// A field without a binding is a *MalformedTemplateError.
func Substitute(text string, bindings map[string]string) (string, error) {
	segs, err := ParseTemplate(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, s := range segs {
		switch s.Kind {
		case SegmentText:
			b.WriteString(s.Text)
		case SegmentField:
			v, ok := bindings[s.Name]
			if !ok {
				return "", &MalformedTemplateError{Pos: s.Pos, Msg: "no value bound for field " + strconv.Quote(s.Name)}
			}
			b.WriteString(v)
		}
	}
	return b.String(), nil
}

// ExtractFields returns the sorted, unique field names visible at depth.
// Depth 1 is the current pass; depth n is reached by substituting dummy
// values n-1 times.
//
//	ExtractFields("{x} {{y}} {{{{z}}}} {a}", 1) == [a x]
//	ExtractFields("{x} {{y}} {{{{z}}}} {a}", 2) == [y]
//	ExtractFields("{x} {{y}} {{{{z}}}} {a}", 3) == [z]
func ExtractFields(text string, depth int) ([]string, error) {
	if depth < 1 {
		return nil, malformed("", "depth must be at least 1, got %d", depth)
	}
	inner, err := peel(text, depth-1)
	if err != nil {
		return nil, err
	}
	segs, err := ParseTemplate(inner)
	if err != nil {
		return nil, err
	}
	return fieldNames(segs), nil
}

// peel runs passes substitution passes, binding every field to a dummy.
func peel(text string, passes int) (string, error) {
	for ; passes > 0; passes-- {
		segs, err := ParseTemplate(text)
		if err != nil {
			return "", err
		}
		fields := fieldNames(segs)
		dummies := make(map[string]string, len(fields))
		for _, f := range fields {
			dummies[f] = "x"
		}
		if text, err = Substitute(text, dummies); err != nil {
			return "", err
		}
	}
	return text, nil
}

func fieldNames(segs []Segment) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range segs {
		if s.Kind != SegmentField {
			continue
		}
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = struct{}{}
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// EscapeBraces doubles every brace in s so that it survives one
// substitution pass as literal text.
func EscapeBraces(s string) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	r := strings.NewReplacer("{", "{{", "}", "}}")
	return r.Replace(s)
}
