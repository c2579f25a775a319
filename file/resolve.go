package file

import (
	"github.com/pkg/errors"
	"strings"
)

// ErrNoResources returned by Resolve when the patterns match nothing
var ErrNoResources = errors.New("no resources match the patterns")

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// Resolve expand the glob patterns of the locators into resource locators.
// Locators without glob meta characters are kept as they are, duplicates are dropped,
// the order of the patterns is kept and matches of one pattern are sorted.
func Resolve(patterns ...string) ([]string, error) {
	resources := make([]string, 0)
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !hasMeta(pattern) {
			if !seen[pattern] {
				seen[pattern] = true
				resources = append(resources, pattern)
			}
			continue
		}
		fs, name, err := Locate(pattern)
		if err != nil {
			return nil, err
		}
		matches, err := fs.Glob(name)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			locator := fs.Locator(match)
			if !seen[locator] {
				seen[locator] = true
				resources = append(resources, locator)
			}
		}
	}
	if len(resources) == 0 {
		return nil, errors.Wrapf(ErrNoResources, "patterns %v", patterns)
	}
	return resources, nil
}
