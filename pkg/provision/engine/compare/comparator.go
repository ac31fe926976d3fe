// Package compare implements the engine's single source of truth for "is
// this attribute actually different". Both the provisioning executor and the
// virtual-system wish diff go through it, so change detection can never
// diverge between the two paths.
package compare

import (
	"fmt"
	"strconv"
	"strings"

	model "accord/pkg/provision/core/domain/model"
)

// Comparator decides semantic equality between an IdM-side value and a
// connector-side value under an attribute descriptor's coercion rules.
type Comparator struct{}

// NewComparator creates a Comparator.
func NewComparator() *Comparator {
	return &Comparator{}
}

// Equal reports whether the two values are semantically equal under the
// descriptor. nil, an empty collection and an absent attribute all compare
// equal, so a missing value never registers as a spurious change.
func (c *Comparator) Equal(idmValue, connectorValue interface{}, desc model.AttributeDescriptor) bool {
	if desc.Multivalued {
		left := toSlice(idmValue)
		right := toSlice(connectorValue)
		if desc.Ordered {
			return c.equalOrdered(left, right, desc)
		}
		return c.equalSet(left, right, desc)
	}

	if isEmpty(idmValue) && isEmpty(connectorValue) {
		return true
	}
	return c.normalize(idmValue, desc) == c.normalize(connectorValue, desc)
}

// ElementEqual reports whether two elements of a multi-valued attribute are
// equal under the descriptor's scalar rules.
func (c *Comparator) ElementEqual(a, b interface{}, desc model.AttributeDescriptor) bool {
	return c.normalize(a, desc) == c.normalize(b, desc)
}

// Key returns the canonical comparison key of one value. The wish diff uses
// it to bucket elements of multi-valued attributes.
func (c *Comparator) Key(v interface{}, desc model.AttributeDescriptor) string {
	return c.normalize(v, desc)
}

func (c *Comparator) equalOrdered(left, right []interface{}, desc model.AttributeDescriptor) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !c.ElementEqual(left[i], right[i], desc) {
			return false
		}
	}
	return true
}

func (c *Comparator) equalSet(left, right []interface{}, desc model.AttributeDescriptor) bool {
	if len(left) != len(right) {
		return false
	}
	counts := make(map[string]int, len(left))
	for _, v := range left {
		counts[c.normalize(v, desc)]++
	}
	for _, v := range right {
		key := c.normalize(v, desc)
		counts[key]--
		if counts[key] < 0 {
			return false
		}
	}
	return true
}

// normalize renders a scalar into its canonical comparison form. Numeric
// values of different Go types compare equal when they denote the same
// number; string handling follows the descriptor's trim and case flags.
func (c *Comparator) normalize(v interface{}, desc model.AttributeDescriptor) string {
	if isEmpty(v) {
		return ""
	}

	var s string
	switch t := v.(type) {
	case string:
		s = t
	case bool:
		s = strconv.FormatBool(t)
	case int:
		s = strconv.FormatInt(int64(t), 10)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float32:
		s = trimFloat(float64(t))
	case float64:
		s = trimFloat(t)
	default:
		s = fmt.Sprintf("%v", t)
	}

	if desc.TrimWhitespace {
		s = strings.TrimSpace(s)
	}
	if desc.CaseInsensitive {
		s = strings.ToLower(s)
	}
	return s
}

// trimFloat renders whole floats without a decimal part so JSON round-trips
// (which widen ints to float64) do not register as changes.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// toSlice widens any value into a []interface{} for multi-valued comparison.
// nil yields an empty slice; a scalar yields a one-element slice.
func toSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []interface{}{t}
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return false
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}
