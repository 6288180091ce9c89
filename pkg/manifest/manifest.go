// Package manifest models the remote file manifest: directories to create and
// named groups of file entries, each with its expected size and SHA-1.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/yuya-takeyama/manifest-sync/pkg/fingerprint"
)

// Group names used by the grouped manifest shape.
const (
	GroupLauncher = "Launcher"
	GroupGame     = "Game"
)

// ErrManifestParse is wrapped by every *ParseError.
var ErrManifestParse = errors.New("manifest parse error")

// ParseError reports malformed JSON or a manifest that fails validation.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid manifest: %v", e.Err)
	}
	return fmt.Sprintf("invalid manifest: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrManifestParse, e.Err} }

type Entry struct {
	TargetPath     string
	DownloadSource string
	ExpectedSize   int64
	ExpectedHash   string
	Protected      bool
}

type Group struct {
	Name           string
	DownloadFolder string
	Entries        []Entry
}

// Source returns the remote path of e relative to the origin.
func (g *Group) Source(e Entry) string {
	if g.DownloadFolder == "" {
		return e.DownloadSource
	}
	return path.Join(g.DownloadFolder, e.DownloadSource)
}

type Manifest struct {
	Directories []string
	Groups      []Group
}

// Group returns the group with the given name, or nil.
func (m *Manifest) Group(name string) *Group {
	for i := range m.Groups {
		if m.Groups[i].Name == name {
			return &m.Groups[i]
		}
	}
	return nil
}

type fileEntry struct {
	DownloadPath *string `json:"downloadPath"`
	TargetPath   *string `json:"targetPath"`
	Path         *string `json:"path"`
	Size         *int64  `json:"size"`
	Hash         *string `json:"hash"`
	Protected    bool    `json:"protected"`
}

type groupDoc struct {
	DownloadFolder string      `json:"DownloadFolder"`
	Files          []fileEntry `json:"Files"`
}

type document struct {
	Launcher    *groupDoc   `json:"Launcher"`
	Game        *groupDoc   `json:"Game"`
	Directories []string    `json:"Directories"`
	Files       []fileEntry `json:"Files"`
}

// Parse decodes either manifest shape. The grouped shape has "Launcher" and
// "Game" objects; the legacy shape has top level "Directories" and "Files"
// and decodes into a single Game group.
func Parse(data []byte) (*Manifest, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	m := &Manifest{}
	grouped := doc.Launcher != nil || doc.Game != nil

	switch {
	case grouped:
		if doc.Launcher != nil {
			g, err := parseGroup(GroupLauncher, doc.Launcher.DownloadFolder, doc.Launcher.Files, false)
			if err != nil {
				return nil, err
			}
			m.Groups = append(m.Groups, *g)
		}
		if doc.Game != nil {
			g, err := parseGroup(GroupGame, doc.Game.DownloadFolder, doc.Game.Files, false)
			if err != nil {
				return nil, err
			}
			m.Groups = append(m.Groups, *g)
		}
	case doc.Files != nil || doc.Directories != nil:
		g, err := parseGroup(GroupGame, "", doc.Files, true)
		if err != nil {
			return nil, err
		}
		m.Groups = append(m.Groups, *g)
	default:
		return nil, &ParseError{Err: errors.New("no Launcher, Game or Files section")}
	}

	for i, dir := range doc.Directories {
		clean, err := cleanRelative(dir)
		if err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("Directories[%d]", i), Err: err}
		}
		m.Directories = append(m.Directories, clean)
	}

	return m, nil
}

func parseGroup(name, downloadFolder string, files []fileEntry, legacy bool) (*Group, error) {
	g := &Group{
		Name:           name,
		DownloadFolder: strings.Trim(downloadFolder, "/"),
		Entries:        make([]Entry, 0, len(files)),
	}
	seen := make(map[string]int, len(files))

	for i, f := range files {
		field := fmt.Sprintf("%s.Files[%d]", name, i)

		var target, source string
		if legacy {
			if f.Path == nil {
				return nil, &ParseError{Field: field, Err: errors.New("missing path")}
			}
			target, source = *f.Path, *f.Path
		} else {
			if f.TargetPath == nil {
				return nil, &ParseError{Field: field, Err: errors.New("missing targetPath")}
			}
			if f.DownloadPath == nil {
				return nil, &ParseError{Field: field, Err: errors.New("missing downloadPath")}
			}
			target, source = *f.TargetPath, *f.DownloadPath
		}

		if f.Size == nil {
			return nil, &ParseError{Field: field, Err: errors.New("missing size")}
		}
		if *f.Size < 0 {
			return nil, &ParseError{Field: field, Err: fmt.Errorf("negative size %d", *f.Size)}
		}
		if f.Hash == nil {
			return nil, &ParseError{Field: field, Err: errors.New("missing hash")}
		}
		if !fingerprint.IsHex(*f.Hash) {
			return nil, &ParseError{Field: field, Err: fmt.Errorf("hash %q is not a SHA-1 hex digest", *f.Hash)}
		}

		cleanTarget, err := cleanRelative(target)
		if err != nil {
			return nil, &ParseError{Field: field + ".targetPath", Err: err}
		}
		cleanSource, err := cleanRelative(source)
		if err != nil {
			return nil, &ParseError{Field: field + ".downloadPath", Err: err}
		}

		if prev, dup := seen[cleanTarget]; dup {
			return nil, &ParseError{Field: field, Err: fmt.Errorf("duplicate targetPath %q (also at index %d)", cleanTarget, prev)}
		}
		seen[cleanTarget] = i

		g.Entries = append(g.Entries, Entry{
			TargetPath:     cleanTarget,
			DownloadSource: cleanSource,
			ExpectedSize:   *f.Size,
			ExpectedHash:   strings.ToLower(*f.Hash),
			Protected:      f.Protected,
		})
	}

	return g, nil
}

// cleanRelative normalizes p to a slash separated relative path and rejects
// absolute paths and paths escaping their root.
func cleanRelative(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes its root", p)
	}
	return clean, nil
}

// ResourceName returns the OS qualified name of the manifest resource, for
// example "manifest.linux". Unknown platforms get the bare base name.
func ResourceName(base, goos string) string {
	switch goos {
	case "windows", "linux", "darwin":
		return base + "." + goos
	default:
		return base
	}
}
