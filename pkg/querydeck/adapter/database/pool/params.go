package pool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// BindParameters rewrites :name and @name placeholders to positional "?" and returns
// the arguments in placeholder order. When the statement has no named placeholders,
// the parameters are bound to "?" in declaration order. Placeholders inside quoted
// strings and identifiers, comments, "::" casts and "@@" system variables are left
// alone. An @name without a declared parameter is a user variable and passes through.
func BindParameters(query string, params []model.QueryParameter) (string, []interface{}, error) {
	byName := make(map[string]model.QueryParameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	var b strings.Builder
	var args []interface{}
	positional := 0
	named := false
	var quote byte

	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && quote != '`' && i+1 < len(query) {
				i++
				b.WriteByte(query[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if end := commentEnd(query, i); end > i {
			b.WriteString(query[i:end])
			i = end - 1
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '?':
			positional++
			b.WriteByte(c)
		case (c == ':' || c == '@') && i+1 < len(query) && isIdentStart(query[i+1]) && (i == 0 || query[i-1] != c):
			j := i + 1
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			p, ok := byName[name]
			if !ok && c == '@' {
				b.WriteString(query[i:j])
				i = j - 1
				continue
			}
			if !ok {
				return "", nil, exception.NewValidationError(moduleName, "placeholder %c%s has no declared parameter", c, name)
			}
			v, err := coerce(p)
			if err != nil {
				return "", nil, err
			}
			named = true
			args = append(args, v)
			b.WriteByte('?')
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}

	if named {
		if positional > 0 {
			return "", nil, exception.NewValidationError(moduleName, "statement mixes named and positional placeholders")
		}
		return b.String(), args, nil
	}
	if positional != len(params) {
		return "", nil, exception.NewValidationError(moduleName, "statement has %d placeholders but %d parameters are declared", positional, len(params))
	}
	for _, p := range params {
		v, err := coerce(p)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
	}
	return query, args, nil
}

// commentEnd returns the index just past the comment starting at i, or i if none starts there.
// Line comments are "#" and "-- " (a dash pair followed by whitespace or end of input).
func commentEnd(query string, i int) int {
	rest := query[i:]
	switch {
	case strings.HasPrefix(rest, "#"),
		strings.HasPrefix(rest, "--") && (len(rest) == 2 || isSpace(rest[2])):
		if n := strings.IndexByte(rest, '\n'); n >= 0 {
			return i + n
		}
		return len(query)
	case strings.HasPrefix(rest, "/*"):
		if n := strings.Index(rest[2:], "*/"); n >= 0 {
			return i + 2 + n + 2
		}
		return len(query)
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// coerce converts a declared parameter to a driver value of its type.
func coerce(p model.QueryParameter) (interface{}, error) {
	if p.Value == nil {
		return nil, nil
	}
	bad := func(err interface{}) error {
		return exception.NewValidationError(moduleName, "parameter %s: cannot use %v as %s: %v", p.Name, p.Value, p.Type, err)
	}
	switch p.Type {
	case model.ParamNumber:
		switch v := p.Value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return v, nil
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
			f, err := v.Float64()
			if err != nil {
				return nil, bad(err)
			}
			return f, nil
		case string:
			s := strings.TrimSpace(v)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, bad(err)
			}
			return f, nil
		}
		return nil, bad("unsupported value type")
	case model.ParamBoolean:
		switch v := p.Value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, bad(err)
			}
			return b, nil
		case float64:
			return v != 0, nil
		case int:
			return v != 0, nil
		}
		return nil, bad("unsupported value type")
	case model.ParamDate:
		switch v := p.Value.(type) {
		case time.Time:
			return v.UTC().Format("2006-01-02 15:04:05"), nil
		case string:
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					if layout == "2006-01-02" {
						return t.Format(layout), nil
					}
					return t.UTC().Format("2006-01-02 15:04:05"), nil
				}
			}
			return nil, bad("unrecognized date layout")
		}
		return nil, bad("unsupported value type")
	default:
		return fmt.Sprint(p.Value), nil
	}
}
