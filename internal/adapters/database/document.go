package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// encodeDoc normalises a document value into JSON bytes and its object form
func encodeDoc(doc interface{}) (json.RawMessage, map[string]interface{}, error) {
	var raw []byte
	switch v := doc.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, nil, apperrors.NewValidationError(fmt.Sprintf("document is not JSON serialisable: %v", err))
		}
		raw = b
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, nil, apperrors.NewValidationError("document must be a JSON object")
	}
	return raw, obj, nil
}

// withKey returns raw with the key injected under keyPath. Store-assigned keys
// are numeric.
func withKey(raw json.RawMessage, c schema.Collection, key string) (json.RawMessage, error) {
	if !c.IsAuto() {
		return raw, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store key %q is not numeric", key)
	}
	obj[c.KeyPath] = n
	return json.Marshal(obj)
}

// textValue renders a decoded JSON value the way Postgres' ->> operator does.
// ok is false for missing and null values.
func textValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// filterText renders a filter argument in the same text form as textValue
func filterText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// matches evaluates filters against a decoded document
func matches(obj map[string]interface{}, key string, c schema.Collection, filters []repositories.Filter) bool {
	for _, f := range filters {
		var have string
		var ok bool
		if c.IsAuto() && f.Field == c.KeyPath {
			have, ok = key, true
		} else {
			have, ok = textValue(obj[f.Field])
		}
		if !ok {
			return false
		}
		want := filterText(f.Value)
		switch f.Op {
		case repositories.OpEq, "":
			if have != want {
				return false
			}
		case repositories.OpPrefix:
			if !strings.HasPrefix(have, want) {
				return false
			}
		case repositories.OpGte:
			if have < want {
				return false
			}
		case repositories.OpLte:
			if have > want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareValues orders decoded JSON values: missing first, then numbers
// numerically, strings lexically, anything else by text form.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, _ := textValue(a)
	sb, _ := textValue(b)
	return strings.Compare(sa, sb)
}

// compareKeys orders store keys, numerically for store-assigned keys
func compareKeys(c schema.Collection, a, b string) int {
	if c.IsAuto() {
		na, _ := strconv.ParseInt(a, 10, 64)
		nb, _ := strconv.ParseInt(b, 10, 64)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// uniqueTuple builds the lookup tuple of a unique index. ok is false when any
// field is missing, in which case the document is not indexed.
func uniqueTuple(obj map[string]interface{}, idx schema.Index) (string, bool) {
	parts := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		v, ok := textValue(obj[f])
		if !ok {
			return "", false
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "\x1f"), true
}

// callerKey extracts the key of a caller-keyed document from its key path
func callerKey(obj map[string]interface{}, c schema.Collection) (string, error) {
	v, ok := textValue(obj[c.KeyPath])
	if !ok || v == "" {
		return "", apperrors.NewValidationError(fmt.Sprintf("%s: document has no %q key", c.Name, c.KeyPath))
	}
	return v, nil
}
