package watcher

import "testing"

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		path    string
		want    bool
	}{
		{
			name: "no patterns includes everything",
			path: "/dynamic/app.yaml",
			want: true,
		},
		{
			name:    "include match",
			include: []string{`.*\.yaml$`},
			path:    "/dynamic/app.yaml",
			want:    true,
		},
		{
			name:    "include miss",
			include: []string{`.*\.yaml$`},
			path:    "/dynamic/notes.txt",
			want:    false,
		},
		{
			name:    "exclude wins over include",
			include: []string{`.*\.yaml$`},
			exclude: []string{`.*\.bak\.yaml$`},
			path:    "/dynamic/app.bak.yaml",
			want:    false,
		},
		{
			name:    "exclude without include",
			exclude: []string{`.*draft.*`},
			path:    "/dynamic/draft-app.yaml",
			want:    false,
		},
		{
			name:    "patterns anchor at the start",
			include: []string{`services/`},
			path:    "other/services/app.yaml",
			want:    false,
		},
		{
			name:    "anchored prefix matches",
			include: []string{`services/`},
			path:    "services/app.yaml",
			want:    true,
		},
		{
			name:    "backslash paths are normalized",
			include: []string{`.*\.yaml$`},
			path:    `dynamic\app.yaml`,
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.include, tt.exclude)
			if got := f.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestFilterInvalidPatternSkipped(t *testing.T) {
	// The broken exclude is dropped; the valid include still applies.
	f := NewFilter([]string{`.*\.yaml$`}, []string{`(unclosed`})

	if !f.Match("/dynamic/app.yaml") {
		t.Error("valid include should survive an invalid exclude pattern")
	}
	if f.Match("/dynamic/app.json") {
		t.Error("include list should still be enforced")
	}
}

func TestFilterAllIncludesInvalid(t *testing.T) {
	// Every include failed to compile, leaving an empty include list, which
	// means everything not excluded passes.
	f := NewFilter([]string{`(bad`}, nil)
	if !f.Match("/dynamic/anything.txt") {
		t.Error("empty compiled include list should match everything")
	}
}
