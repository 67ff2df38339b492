package core

import (
	"regexp"
	"strings"
)

// sqlStatement is one statement of a SQL payload.
type sqlStatement struct {
	// Raw is the statement as written (trimmed, without the trailing ';').
	Raw string
	// Clean has comments removed and string literals blanked to ''.
	Clean string
}

// splitSQL splits a payload on ';' outside quotes and comments.
func splitSQL(payload string) []sqlStatement {
	var (
		out   []sqlStatement
		raw   strings.Builder
		clean strings.Builder
	)
	flush := func() {
		r := strings.TrimSpace(raw.String())
		c := strings.TrimSpace(clean.String())
		if c != "" {
			out = append(out, sqlStatement{Raw: r, Clean: c})
		}
		raw.Reset()
		clean.Reset()
	}

	rs := []rune(payload)
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		switch {
		case ch == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				raw.WriteRune(rs[i])
				i++
			}
			if i < len(rs) {
				raw.WriteRune('\n')
			}
			clean.WriteRune(' ')
		case ch == '/' && i+1 < len(rs) && rs[i+1] == '*':
			raw.WriteString("/*")
			i += 2
			for i < len(rs) && !(rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '/') {
				raw.WriteRune(rs[i])
				i++
			}
			if i < len(rs) {
				raw.WriteString("*/")
				i++
			}
			clean.WriteRune(' ')
		case ch == '\'' || ch == '"' || ch == '`':
			quote := ch
			raw.WriteRune(ch)
			i++
			var ident strings.Builder
			for i < len(rs) {
				raw.WriteRune(rs[i])
				if rs[i] == quote {
					if i+1 < len(rs) && rs[i+1] == quote {
						i++
						raw.WriteRune(rs[i])
						ident.WriteRune(quote)
						i++
						continue
					}
					break
				}
				ident.WriteRune(rs[i])
				i++
			}
			if quote == '\'' {
				clean.WriteString("''")
			} else {
				// Quoted identifiers keep their name so table and column
				// checks still see them.
				clean.WriteString(ident.String())
			}
		case ch == ';':
			flush()
		default:
			raw.WriteRune(ch)
			clean.WriteRune(ch)
		}
	}
	flush()
	return out
}

var (
	sqlLeadingKeywordRe = regexp.MustCompile(`(?i)^\s*\(*\s*([a-z]+)`)
	sqlSelectStarRe     = regexp.MustCompile(`(?is)\bselect\s+(distinct\s+|all\s+)?\*`)
	sqlLimitRe          = regexp.MustCompile(`(?is)\blimit\s+\d+|\bfetch\s+(first|next)\b|\btop\s*\(?\s*\d+`)
	sqlFromRe           = regexp.MustCompile(`(?is)\bfrom\b`)
	sqlWhereRe          = regexp.MustCompile(`(?is)\bwhere\b`)
	sqlDMLRe            = regexp.MustCompile(`(?is)\b(insert|update|delete|merge)\b`)
	sqlTargetTableRe    = regexp.MustCompile(`(?is)\b(?:drop\s+(?:table|database|schema)|truncate(?:\s+table)?|delete\s+from|update)\s+(?:if\s+exists\s+)?(?:only\s+)?([\w.]+)`)
)

func (s sqlStatement) keyword() string {
	m := sqlLeadingKeywordRe.FindStringSubmatch(s.Clean)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// isRead reports whether the statement only reads rows.
func (s sqlStatement) isRead() bool {
	switch s.keyword() {
	case "select", "table", "values":
		return true
	case "with":
		return !sqlDMLRe.MatchString(s.Clean)
	}
	return false
}

func (s sqlStatement) selectsStar() bool {
	return sqlSelectStarRe.MatchString(s.Clean)
}

func (s sqlStatement) hasLimit() bool {
	return sqlLimitRe.MatchString(s.Clean)
}

func (s sqlStatement) readsTable() bool {
	return sqlFromRe.MatchString(s.Clean)
}

func (s sqlStatement) hasWhere() bool {
	return sqlWhereRe.MatchString(s.Clean)
}

// mentionsAny returns the fields from names that appear as identifiers.
func (s sqlStatement) mentionsAny(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	lower := strings.ToLower(s.Clean)
	var hits []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		re, err := regexp.Compile(`(^|[^\w])` + regexp.QuoteMeta(n) + `($|[^\w])`)
		if err != nil {
			continue
		}
		if re.MatchString(lower) {
			hits = append(hits, n)
		}
	}
	return hits
}

// destructiveTarget returns the first table a destructive statement in the
// payload names, or "".
func destructiveTarget(payload string) string {
	for _, st := range splitSQL(payload) {
		if m := sqlTargetTableRe.FindStringSubmatch(st.Clean); m != nil {
			return m[1]
		}
	}
	return ""
}

// sqlStatementPredicate builds a rule predicate that matches when any
// statement of the payload satisfies fn.
func sqlStatementPredicate(fn func(sqlStatement) bool) func(OperationRequest) bool {
	return func(req OperationRequest) bool {
		for _, st := range splitSQL(req.RawPayload()) {
			if fn(st) {
				return true
			}
		}
		return false
	}
}

func deleteWithoutWhere(st sqlStatement) bool {
	return st.keyword() == "delete" && !st.hasWhere()
}

func updateWithoutWhere(st sqlStatement) bool {
	return st.keyword() == "update" && !st.hasWhere()
}
