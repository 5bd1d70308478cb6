package security

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"mean", "mean"},
		{"Face Model v2", "Face_Model_v2"},
		{"../../etc/passwd", "etc_passwd"},
		{"..", "unnamed"},
		{"", "unnamed"},
		{"shape#12 (left)", "shape_12_left"},
		{"sample-001.png", "sample-001.png"},
		{"__x__", "x"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(strings.Repeat("a", 500))
	if len(long) != maxNameLen {
		t.Errorf("long name has length %d, want %d", len(long), maxNameLen)
	}
}

func TestContainedPath(t *testing.T) {
	tests := []struct {
		name    string
		dir     string
		file    string
		want    string
		wantErr bool
	}{
		{"plain", "report", "mean.png", filepath.Join("report", "mean.png"), false},
		{"nested", "report", "samples/s.png", filepath.Join("report", "samples", "s.png"), false},
		{"inner dots", "report", "a/../b.png", filepath.Join("report", "b.png"), false},
		{"escape", "report", "../secret.png", "", true},
		{"deep escape", "report/x", "../../../etc", "", true},
		{"absolute", "report", "/etc/passwd", "", true},
		{"dir itself", "report", ".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ContainedPath(tt.dir, tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ContainedPath(%q, %q) error = %v, wantErr %v", tt.dir, tt.file, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ContainedPath(%q, %q) = %q, want %q", tt.dir, tt.file, got, tt.want)
			}
		})
	}
}
