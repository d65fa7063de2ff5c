package blueprint

import (
	"fmt"
	"strings"
)

// PathSeparator joins the segments of an object path.
const PathSeparator = "."

// Join builds a dotted path from its segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, PathSeparator)
}

// Split returns the segments of a dotted path.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(path, PathSeparator)
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Root returns the instrument name a path is rooted at.
func Root(path string) string {
	root, _, _ := strings.Cut(path, PathSeparator)
	return root
}

// Parent returns the path one level up, or "" for a root path.
func Parent(path string) string {
	i := strings.LastIndex(path, PathSeparator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// IsDescendant reports whether path lies strictly below ancestor.
func IsDescendant(path, ancestor string) bool {
	return len(path) > len(ancestor) && strings.HasPrefix(path, ancestor+PathSeparator)
}

// Within reports whether path equals ancestor or lies below it.
func Within(path, ancestor string) bool {
	return path == ancestor || IsDescendant(path, ancestor)
}

// Locate walks a module blueprint down to the member named by path.
//
// The first segment of path must match the module's own name; each further
// segment selects a submodule, and the final one may select any member.
func Locate(m *ModuleBlueprint, path string) (Blueprint, bool) {
	if m == nil {
		return nil, false
	}
	segments, err := Split(path)
	if err != nil {
		return nil, false
	}

	mine, err := Split(m.Path)
	if err != nil || len(segments) < len(mine) {
		return nil, false
	}
	for i := range mine {
		if segments[i] != mine[i] {
			return nil, false
		}
	}

	current := m
	rest := segments[len(mine):]
	for i, name := range rest {
		member, ok := current.Member(name)
		if !ok {
			return nil, false
		}
		if i == len(rest)-1 {
			return member, true
		}
		sub, isModule := member.(*ModuleBlueprint)
		if !isModule {
			return nil, false
		}
		current = sub
	}
	return current, true
}
