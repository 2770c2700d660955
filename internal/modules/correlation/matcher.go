package correlation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexCache compiles pattern regexes once; rules are static descriptors so
// the set is small.
var regexCache sync.Map

func compiledRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// asFloat coerces JSON numbers for threshold comparisons
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// equalValue compares a pattern value against a raw field. JSON decoding
// turns every number into float64, so numeric comparisons go through asFloat.
func equalValue(expected, actual interface{}) bool {
	if ev, ok := asFloat(expected); ok {
		if av, ok := asFloat(actual); ok {
			return ev == av
		}
		return false
	}
	return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
}

// MatchPattern evaluates a simple-rule pattern against an event
func MatchPattern(pattern map[string]interface{}, eventClass string, rawData map[string]interface{}) bool {
	if want, ok := pattern["event_class"]; ok {
		if want != eventClass {
			return false
		}
	}

	for key, value := range pattern {
		if key == "event_class" {
			continue
		}

		switch {
		case strings.HasSuffix(key, "_threshold"):
			field := strings.TrimSuffix(key, "_threshold")
			raw, ok := rawData[field]
			if !ok {
				return false
			}
			actual, ok := asFloat(raw)
			if !ok {
				return false
			}
			limit, _ := asFloat(value)
			if actual < limit {
				return false
			}

		case strings.HasSuffix(key, "_regex"):
			field := strings.TrimSuffix(key, "_regex")
			raw, ok := rawData[field]
			if !ok {
				return false
			}
			re, err := compiledRegex(fmt.Sprintf("%v", value))
			if err != nil {
				return false
			}
			if !re.MatchString(fmt.Sprintf("%v", raw)) {
				return false
			}

		default:
			raw, ok := rawData[key]
			if !ok || !equalValue(value, raw) {
				return false
			}
		}
	}

	return true
}

// MatchStage evaluates one multi-stage rule stage against an event
func MatchStage(stage Stage, eventClass string, rawData map[string]interface{}) bool {
	if stage.EventClass != "" && stage.EventClass != eventClass {
		return false
	}

	for field, substrings := range stage.Contains {
		raw, ok := rawData[field]
		if !ok {
			return false
		}
		value := strings.ToLower(fmt.Sprintf("%v", raw))
		found := false
		for _, sub := range substrings {
			if strings.Contains(value, strings.ToLower(sub)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for key, value := range stage.Equals {
		raw, ok := rawData[key]
		if !ok || !equalValue(value, raw) {
			return false
		}
	}

	return true
}
