package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CategoryLimit is one statically configured bootstrap default.
type CategoryLimit struct {
	Category string
	Limit    int64
}

// ParseCategoryLimits splits `category:limit` entries. Entries that do not
// parse are returned as problems and left out of the result.
func ParseCategoryLimits(entries []string) ([]CategoryLimit, []error) {
	var (
		out      []CategoryLimit
		problems []error
		seen     = map[string]int{}
	)
	for _, entry := range entries {
		parsed, err := parseCategoryLimit(entry)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if idx, ok := seen[parsed.Category]; ok {
			out[idx] = parsed
			continue
		}
		seen[parsed.Category] = len(out)
		out = append(out, parsed)
	}
	return out, problems
}

func parseCategoryLimit(entry string) (CategoryLimit, error) {
	fields := strings.Split(entry, ":")
	if len(fields) != 2 {
		return CategoryLimit{}, fmt.Errorf("category entry %q: expected category:limit", entry)
	}
	category := strings.TrimSpace(fields[0])
	limit := strings.TrimSpace(fields[1])
	if category == "" {
		return CategoryLimit{}, fmt.Errorf("category entry %q: blank category", entry)
	}
	if strings.ContainsAny(category, "/_") {
		return CategoryLimit{}, fmt.Errorf("category entry %q: category must not contain / or _", entry)
	}
	if !isDigits(limit) {
		return CategoryLimit{}, fmt.Errorf("category entry %q: limit is not numeric", entry)
	}
	value, err := strconv.ParseInt(limit, 10, 64)
	if err != nil {
		return CategoryLimit{}, fmt.Errorf("category entry %q: %w", entry, err)
	}
	return CategoryLimit{Category: category, Limit: value}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
