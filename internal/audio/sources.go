package audio

import (
	"fmt"
	"strings"
)

// ValidateSource checks that the configured source exists and is not
// ambiguous. An empty id (or "default") means the system default source and
// is always valid.
func ValidateSource(id string, sources []SourceInfo) error {
	if id == "" || id == "default" {
		return nil
	}

	matches := findSources(id, sources)
	if len(matches) == 0 {
		return fmt.Errorf("%w: source not found: %s", ErrDeviceUnavailable, id)
	}

	if len(matches) > 1 {
		var names []string
		for _, m := range matches {
			names = append(names, m.ID)
		}
		return fmt.Errorf("duplicate sources detected for '%s': %v. Use the source ID instead of its name", id, names)
	}

	return nil
}

// findSources returns every source whose ID matches exactly, or failing
// that, every source whose name matches case-insensitively.
func findSources(id string, sources []SourceInfo) []SourceInfo {
	var matches []SourceInfo
	for _, s := range sources {
		if s.ID == id {
			matches = append(matches, s)
		}
	}
	if len(matches) > 0 {
		return matches
	}
	for _, s := range sources {
		if strings.EqualFold(s.Name, id) {
			matches = append(matches, s)
		}
	}
	return matches
}

// ResolveSource returns the source selected by id, or nil for the default.
func ResolveSource(id string, sources []SourceInfo) (*SourceInfo, error) {
	if err := ValidateSource(id, sources); err != nil {
		return nil, err
	}
	if id == "" || id == "default" {
		return nil, nil
	}
	m := findSources(id, sources)[0]
	return &m, nil
}

// permissionHints are fragments backends use when the OS refused access to
// the microphone rather than failing to open it.
var permissionHints = []string{"access denied", "permission", "not permitted", "not authorized"}

// classifyOpenError wraps a backend device-open failure in
// ErrPermissionDenied when the message says access was refused and in
// ErrDeviceUnavailable otherwise.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, hint := range permissionHints {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
