package source

import (
	"path"
	"strings"
)

// Reports whether a "/"-separated path matches a glob pattern.
//
// Patterns without "**" follow [path.Match]. "**" matches zero or more whole
// segments.
func Match(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		ok, _ := path.Match(pattern, name)
		return ok
	}

	i := strings.Index(pattern, "**")
	prefix := strings.TrimRight(pattern[:i], "/")
	suffix := strings.TrimLeft(pattern[i+2:], "/")

	if prefix != "" {
		if name != prefix && !strings.HasPrefix(name, prefix+"/") {
			return false
		}
		name = strings.TrimLeft(strings.TrimPrefix(name, prefix), "/")
	}

	if suffix == "" {
		return true
	}

	parts := strings.Split(name, "/")
	for j := 0; j <= len(parts); j++ {
		if Match(suffix, strings.Join(parts[j:], "/")) {
			return true
		}
	}
	return false
}

// Normalises an exclude pattern and checks its syntax.
//
// Leading "./" and "/" and trailing "/" are dropped so that "node_modules/",
// "/node_modules" and "node_modules" are equivalent.
func cleanPattern(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return "", err
		}
	}
	return p, nil
}
