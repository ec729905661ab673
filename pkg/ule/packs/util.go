package packs

import (
	"regexp"
	"strconv"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// stringSliceMeta reads a []string metadata value, tolerating a
// missing key or a value of the wrong type.
func stringSliceMeta(metadata map[string]any, key string) []string {
	v, _ := metadata[key].([]string)
	return v
}

// intersectStrings returns the elements common to both slices.
func intersectStrings(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	var out []string
	for _, s := range b {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

// firstMatch returns pattern's first match in text, or "".
func firstMatch(pattern *regexp.Regexp, text string) string {
	return pattern.FindString(text)
}
