package model

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
)

// Params holds one hyperparameter assignment. Values come straight from the
// configuration decoder, so numbers may be int, int64 or float64.
type Params map[string]any

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with o.
func (p Params) Merge(o Params) Params {
	out := p.Clone()
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Format renders p as "k1=v1,k2=v2" in key order.
func (p Params) Format() string {
	s := ""
	for i, k := range p.Keys() {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%v", k, p[k])
	}
	return s
}

func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == math.Trunc(t) {
			return int(t), nil
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("param %s: want int, got %v", key, v)
}

func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("param %s: want float, got %v", key, v)
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b, nil
		}
	}
	return false, fmt.Errorf("param %s: want bool, got %v", key, v)
}

// Choice returns the string value of key, which must be one of allowed.
func (p Params) Choice(key, def string, allowed ...string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, isStr := v.(string)
	if !isStr || !slices.Contains(allowed, s) {
		return "", fmt.Errorf("param %s: want one of %v, got %v", key, allowed, v)
	}
	return s, nil
}
