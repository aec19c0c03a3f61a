package syncengine

import "testing"

func TestShouldIgnore(t *testing.T) {
	cases := map[string]bool{
		"photo.jpg":                        false,
		".archivist-manifest-abc123.json":  true,
		".hidden":                          true,
		"draft.tmp":                        true,
		"backup~":                          true,
		"":                                 true,
		"normal-file-name-with-~-mid.txt":  false,
	}

	for name, want := range cases {
		if got := shouldIgnore(name); got != want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", name, got, want)
		}
	}
}
