package toolserver

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
)

// Param describes one named argument of an operation.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Min, Max    int // inclusive bounds for integers; both zero means unbounded
	Default     any
}

// Args holds validated arguments with defaults applied. Integers are always int.
type Args map[string]any

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int {
	i, _ := a[name].(int)
	return i
}

// validate checks raw against params and returns normalized Args. Unknown
// names, missing required values, wrong types, enum misses and out-of-range
// integers all fail with ErrInvalidArguments.
func validate(params []Param, raw map[string]any) (Args, error) {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
	}
	for name := range raw {
		if !known[name] {
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidArguments, name)
		}
	}

	args := make(Args, len(params))
	for _, p := range params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", ErrInvalidArguments, p.Name)
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		switch p.Type {
		case TypeString:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: parameter %q must be a string", ErrInvalidArguments, p.Name)
			}
			s = strings.TrimSpace(s)
			if s == "" {
				if p.Required {
					return nil, fmt.Errorf("%w: parameter %q must not be empty", ErrInvalidArguments, p.Name)
				}
				if p.Default != nil {
					args[p.Name] = p.Default
				}
				continue
			}
			if len(p.Enum) > 0 && !contains(p.Enum, s) {
				return nil, fmt.Errorf("%w: parameter %q must be one of %s", ErrInvalidArguments, p.Name, strings.Join(p.Enum, ", "))
			}
			args[p.Name] = s

		case TypeInteger:
			i, ok := toInt(v)
			if !ok {
				return nil, fmt.Errorf("%w: parameter %q must be an integer", ErrInvalidArguments, p.Name)
			}
			if (p.Min != 0 || p.Max != 0) && (i < p.Min || i > p.Max) {
				return nil, fmt.Errorf("%w: parameter %q must be between %d and %d", ErrInvalidArguments, p.Name, p.Min, p.Max)
			}
			args[p.Name] = i
		}
	}
	return args, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
