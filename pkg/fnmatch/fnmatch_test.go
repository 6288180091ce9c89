package fnmatch

import (
	"regexp"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"star matches everything", "*", "anything", true},
		{"star matches empty", "*", "", true},
		{"star matches path separator", "*", "path/to/file", true},
		{"multiple stars", "**", "path/to/file", true},

		{"question matches single char", "?", "a", true},
		{"question doesn't match empty", "?", "", false},

		{"star matches across directories", "cache/*", "cache/shaders/a.bin", true},
		{"star does not match sibling", "cache/*", "caches/a.bin", false},

		{"char class", "[abc]", "b", true},
		{"char class miss", "[abc]", "d", false},
		{"char class range", "[a-z]", "m", true},
		{"negated char class", "[!abc]", "d", true},
		{"negated char class miss", "[!abc]", "a", false},
		{"literal closing bracket in class", "[]]", "]", true},

		{"extension anywhere", "*.pdb", "bin/x64/game.pdb", true},
		{"extension mismatch", "*.pdb", "bin/x64/game.exe", false},
		{"case sensitive", "*.PDB", "game.pdb", false},
		{"dots are literal", "a.b", "axb", false},

		{"empty pattern", "", "", true},
		{"empty pattern no match", "", "something", false},
		{"lone bracket is literal", "[", "[", true},
		{"unclosed bracket is literal", "[abc", "[abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.pattern, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

func TestTranslateCompiles(t *testing.T) {
	for _, pattern := range []string{"*", "?", "[abc]", "[!xyz]", "[", "a\\b", "[\\]"} {
		if _, err := regexp.Compile(Translate(pattern)); err != nil {
			t.Errorf("Translate(%q) = %q does not compile: %v", pattern, Translate(pattern), err)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"logs/*", "*.tmp"}

	tests := []struct {
		name string
		want bool
	}{
		{"logs/today.txt", true},
		{"data/file.tmp", true},
		{"data/file.txt", false},
	}
	for _, tt := range tests {
		got, err := MatchAny(patterns, tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("MatchAny(%v, %q) = %v, want %v", patterns, tt.name, got, tt.want)
		}
	}

	if got, _ := MatchAny(nil, "anything"); got {
		t.Error("no patterns should match nothing")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]string{"*.tmp", "logs/*", "[a-z]"}); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := Validate([]string{"[z-a]"}); err == nil {
		t.Error("Validate() should reject an inverted range")
	}
}

func BenchmarkMatch(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Match("cache/*", "cache/shaders/a.bin")
	}
}
