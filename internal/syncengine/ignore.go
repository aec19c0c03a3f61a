package syncengine

import "strings"

// shouldIgnore reports whether a filesystem entry's base name must never
// enter the upload queue. The hidden-file rule (leading dot) also covers
// the engine's own manifest file, so no separate manifest-name check is
// needed.
func shouldIgnore(name string) bool {
	if name == "" {
		return true
	}

	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, ".tmp") {
		return true
	}

	if strings.HasSuffix(name, "~") {
		return true
	}

	return false
}
