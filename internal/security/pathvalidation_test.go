package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	safeDir := t.TempDir()
	outside := t.TempDir()

	if err := os.Mkdir(filepath.Join(safeDir, "exports"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(safeDir, "escape")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		{"file in dir", filepath.Join(safeDir, "heatmap.png"), false},
		{"nested new file", filepath.Join(safeDir, "exports", "may", "heatmap.png"), false},
		{"dot dot escape", filepath.Join(safeDir, "..", "heatmap.png"), true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"through symlink", filepath.Join(safeDir, "escape", "heatmap.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.path, err, tt.wantError)
			}
		})
	}
}

func TestValidateExportPath(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	workDir := t.TempDir()
	if err := os.Chdir(workDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Errorf("Failed to restore directory: %v", err)
		}
	})

	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		{"temp dir", filepath.Join(os.TempDir(), "heatmap.png"), false},
		{"relative to cwd", "heatmap.png", false},
		{"upper case extension", "heatmap.PNG", false},
		{"wrong extension", "heatmap.svg", true},
		{"outside allowed dirs", "/etc/heatmap.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExportPath(tt.path, ".png")
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateExportPath(%q) error = %v, wantError %v", tt.path, err, tt.wantError)
			}
		})
	}
}
