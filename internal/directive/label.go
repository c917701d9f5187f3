// Package directive parses the tiny tag language embedded in edge labels.
//
// An author writes plain text with optional {set:var=bool} and {if:expr}
// tags. Parsing is deliberately forgiving: malformed tags degrade to plain
// text or are dropped, never an error, so a typo in a label can't break the
// graph it sits in.
package directive

import "strings"

// SetOp assigns a boolean to a session variable when its edge is chosen.
type SetOp struct {
	Var   string
	Value bool
}

// ParsedLabel is the result of scanning one edge label. It is derived data:
// callers cache it per render and never persist it.
type ParsedLabel struct {
	// DisplayText is the label with all recognized tags stripped and the
	// remainder trimmed. May be empty; callers choose their own fallback.
	DisplayText string
	// SetOps in authoring order. Applying in order gives last-write-wins
	// on duplicate variables.
	SetOps []SetOp
	// Expr is the ANDed combination of every {if:} tag, nil when none.
	Expr Expr
	// Dependencies lists variables Expr references, de-duplicated, in
	// first-appearance order.
	Dependencies []string
}

// ParseLabel scans raw for directive tags. It never fails: unrecognized
// {...} blocks stay in the display text, and a {set:}/{if:} tag whose
// payload doesn't parse is silently skipped.
func ParseLabel(raw string) ParsedLabel {
	var (
		text   strings.Builder
		setOps []SetOp
		expr   Expr
	)
	rest := raw
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			text.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			text.WriteString(rest)
			break
		}
		body := rest[open+1 : open+end]
		text.WriteString(rest[:open])
		rest = rest[open+end+1:]

		trimmed := strings.TrimSpace(body)
		switch {
		case hasTagPrefix(trimmed, "set:"):
			if op, ok := parseSetOp(trimmed[len("set:"):]); ok {
				setOps = append(setOps, op)
			}
		case hasTagPrefix(trimmed, "if:"):
			parsed, err := ParseExpr(strings.TrimSpace(trimmed[len("if:"):]))
			if err != nil {
				break
			}
			if expr == nil {
				expr = parsed
			} else {
				expr = andExpr{left: expr, right: parsed}
			}
		default:
			// Not a directive; keep the braces as authored text.
			text.WriteString("{")
			text.WriteString(body)
			text.WriteString("}")
		}
	}

	return ParsedLabel{
		DisplayText:  collapseSpaces(text.String()),
		SetOps:       setOps,
		Expr:         expr,
		Dependencies: Variables(expr),
	}
}

// MalformedTags returns the {set:}/{if:} tags in raw whose payload does not
// parse. ParseLabel drops these silently so a typo can't break play; this
// is the authoring-time check that surfaces them.
func MalformedTags(raw string) []string {
	var bad []string
	rest := raw
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			break
		}
		body := rest[open+1 : open+end]
		tag := rest[open : open+end+1]
		rest = rest[open+end+1:]

		trimmed := strings.TrimSpace(body)
		switch {
		case hasTagPrefix(trimmed, "set:"):
			if _, ok := parseSetOp(trimmed[len("set:"):]); !ok {
				bad = append(bad, tag)
			}
		case hasTagPrefix(trimmed, "if:"):
			if _, err := ParseExpr(strings.TrimSpace(trimmed[len("if:"):])); err != nil {
				bad = append(bad, tag)
			}
		}
	}
	return bad
}

func hasTagPrefix(body, prefix string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(body)), prefix)
}

func parseSetOp(payload string) (SetOp, bool) {
	parts := strings.SplitN(payload, "=", 2)
	if len(parts) != 2 {
		return SetOp{}, false
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return SetOp{}, false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentByte(name[i]) {
			return SetOp{}, false
		}
	}
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "true":
		return SetOp{Var: name, Value: true}, true
	case "false":
		return SetOp{Var: name, Value: false}, true
	default:
		return SetOp{}, false
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Check reports whether the label's condition holds: true when no {if:} tag
// was present or when the expression evaluates true against state.
func (p ParsedLabel) Check(state map[string]bool) bool {
	if p.Expr == nil {
		return true
	}
	return Evaluate(p.Expr, state)
}

// Apply executes the label's set operations against state, in order.
func (p ParsedLabel) Apply(state map[string]bool) {
	for _, op := range p.SetOps {
		state[op.Var] = op.Value
	}
}

// Missing returns the condition's variables not yet present in state,
// de-duplicated, in expression order.
func (p ParsedLabel) Missing(state map[string]bool) []string {
	var out []string
	for _, name := range p.Dependencies {
		if _, ok := state[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
