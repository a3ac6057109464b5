// Package labels builds the label set attached to every workflow
// submission.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"unicode/utf8"
)

// MaxLength is the longest label key or value the engine accepts.
const MaxLength = 255

// Base label keys.
const (
	KeyWorkflowName    = "workflow-name"
	KeyWorkflowVersion = "workflow-version"
	KeyBundleUUID      = "bundle-uuid"
	KeyBundleVersion   = "bundle-version"
)

// UsageError is returned when a label value is a list that does not hold
// exactly one element.
type UsageError struct {
	Key    string
	Length int
}

func (e *UsageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("label value is a list of %d elements, expected exactly one", e.Length)
	}
	return fmt.Sprintf("label %q is a list of %d elements, expected exactly one", e.Key, e.Length)
}

// Compose returns the labels for one submission. The base labels come
// first and each extra source is merged over them in order, so later
// sources win on key collisions. Nil sources are skipped.
func Compose(workflowName, workflowVersion, bundleUUID, bundleVersion string, extra ...map[string]any) (map[string]string, error) {
	base := map[string]any{
		KeyWorkflowName:    workflowName,
		KeyWorkflowVersion: workflowVersion,
		KeyBundleUUID:      bundleUUID,
		KeyBundleVersion:   bundleVersion,
	}

	out := make(map[string]string, len(base))
	sources := append([]map[string]any{base}, extra...)
	for _, source := range sources {
		if source == nil {
			continue
		}
		// sorted so the first usage error reported is stable
		for _, key := range slices.Sorted(maps.Keys(source)) {
			legalKey := truncate(key)
			value, err := Legalize(source[key])
			if err != nil {
				var usage *UsageError
				if errors.As(err, &usage) {
					usage.Key = key
				}
				return nil, err
			}
			out[legalKey] = value
		}
	}
	return out, nil
}

// FromStrings widens a string map for use as a Compose source.
func FromStrings(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Legalize renders a label value as the engine expects it: a
// single-element list is unwrapped, the value is converted to a string
// and cut to MaxLength characters.
func Legalize(v any) (string, error) {
	switch list := v.(type) {
	case []any:
		if len(list) != 1 {
			return "", &UsageError{Length: len(list)}
		}
		v = list[0]
	case []string:
		if len(list) != 1 {
			return "", &UsageError{Length: len(list)}
		}
		v = list[0]
	}

	s, err := render(v)
	if err != nil {
		return "", err
	}
	return truncate(s), nil
}

func render(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "None", nil
	case string:
		return x, nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case json.Number:
		return x.String(), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return "", fmt.Errorf("render label value: %w", err)
		}
		return string(b), nil
	default:
		return fmt.Sprint(x), nil
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxLength])
}
