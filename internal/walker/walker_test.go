package walker

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWalk(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"launcher", "lib/libgame.so", "lib/nested/deep.dat", "lib/nested/deep.dat.part", "cache/x.tmp", "notes.log"} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		excludes []string
		want     []string
	}{
		{"all files", nil, []string{"cache/x.tmp", "launcher", "lib/libgame.so", "lib/nested/deep.dat", "lib/nested/deep.dat.part", "notes.log"}},
		{"partial downloads", []string{"**/*.part"}, []string{"cache/x.tmp", "launcher", "lib/libgame.so", "lib/nested/deep.dat", "notes.log"}},
		{"file patterns", []string{"*.log", "**/*.dat"}, []string{"cache/x.tmp", "launcher", "lib/libgame.so", "lib/nested/deep.dat.part"}},
		{"whole directory", []string{"cache/**"}, []string{"launcher", "lib/libgame.so", "lib/nested/deep.dat", "lib/nested/deep.dat.part", "notes.log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWalker(root, tt.excludes)
			if err != nil {
				t.Fatal(err)
			}
			files, err := w.Walk()
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, f := range files {
				got = append(got, f.RelPath)
				if f.Path != filepath.Join(w.Root(), filepath.FromSlash(f.RelPath)) {
					t.Errorf("Path = %q does not match RelPath %q", f.Path, f.RelPath)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Walk() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewWalkerRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWalker(file, nil); err == nil {
		t.Error("expected error for non-directory root")
	}
	if _, err := NewWalker(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error for missing root")
	}
}
