package relaunch

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Dialect renders a Script in one scripting language. Platform differences
// live here and nowhere else.
type Dialect interface {
	Name() string
	// FileName is the script's name inside the install directory.
	FileName() string
	Render(s *Script) (string, error)
	// Command is the argv that runs the script at path.
	Command(path string) []string
}

// DialectFor returns the batch dialect for windows and POSIX sh otherwise.
func DialectFor(goos string) Dialect {
	if goos == "windows" {
		return batchDialect{}
	}
	return shDialect{}
}

type shDialect struct{}

func (shDialect) Name() string     { return "sh" }
func (shDialect) FileName() string { return "updateLauncher.sh" }

func (shDialect) Command(path string) []string {
	return []string{"/bin/sh", path}
}

func (shDialect) Render(s *Script) (string, error) {
	var b strings.Builder
	q := func(v string) (string, error) {
		return syntax.Quote(v, syntax.LangPOSIX)
	}

	install, err := q(s.InstallDir)
	if err != nil {
		return "", err
	}
	staging, err := q(s.StagingDir)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "# Installs a staged update once process %d exits, then restarts the application.\n", s.PID)
	b.WriteString("set -e\n\n")
	fmt.Fprintf(&b, "while kill -0 %d 2>/dev/null; do\n\tsleep 1\ndone\n\n", s.PID)

	dirs := map[string]bool{}
	for _, m := range s.Moves {
		dir := filepath.Dir(m.To)
		from, err := q(m.From)
		if err != nil {
			return "", err
		}
		to, err := q(m.To)
		if err != nil {
			return "", err
		}
		if !dirs[dir] {
			dirs[dir] = true
			qdir, err := q(dir)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "mkdir -p %s\n", qdir)
		}
		fmt.Fprintf(&b, "mv -f %s %s\n", from, to)
	}

	fmt.Fprintf(&b, "\nrm -rf %s\n", staging)
	fmt.Fprintf(&b, "cd %s\n", install)

	exe, err := q(shEntryPoint(s.Executable))
	if err != nil {
		return "", err
	}
	line := []string{exe}
	for _, arg := range s.Args {
		qa, err := q(arg)
		if err != nil {
			return "", err
		}
		line = append(line, qa)
	}
	fmt.Fprintf(&b, "chmod +x %s\n", exe)
	fmt.Fprintf(&b, "nohup %s >/dev/null 2>&1 &\n", strings.Join(line, " "))

	return b.String(), nil
}

// shEntryPoint makes a relative executable explicit so the shell does not
// search PATH for it.
func shEntryPoint(exe string) string {
	exe = path.Clean(filepath.ToSlash(exe))
	if path.IsAbs(exe) || strings.HasPrefix(exe, "../") {
		return exe
	}
	return "./" + exe
}

type batchDialect struct{}

func (batchDialect) Name() string     { return "batch" }
func (batchDialect) FileName() string { return "updateLauncher.bat" }

func (batchDialect) Command(path string) []string {
	return []string{"cmd.exe", "/C", path}
}

var errBatchQuote = errors.New("double quotes cannot be passed through a batch script")

// batchQuote double quotes v for cmd.exe. Percent signs are doubled so they
// are not expanded.
func batchQuote(v string) (string, error) {
	if strings.ContainsAny(v, "\"\r\n") {
		return "", fmt.Errorf("%q: %w", v, errBatchQuote)
	}
	return `"` + strings.ReplaceAll(v, "%", "%%") + `"`, nil
}

func batchPath(p string) string {
	return strings.ReplaceAll(p, "/", `\`)
}

func (batchDialect) Render(s *Script) (string, error) {
	var b strings.Builder
	pid := fmt.Sprint(s.PID)

	install, err := batchQuote(batchPath(s.InstallDir))
	if err != nil {
		return "", err
	}
	staging, err := batchQuote(batchPath(s.StagingDir))
	if err != nil {
		return "", err
	}

	b.WriteString("@echo off\r\n")
	fmt.Fprintf(&b, "rem Installs a staged update once process %s exits, then restarts the application.\r\n", pid)
	b.WriteString(":wait\r\n")
	fmt.Fprintf(&b, "tasklist /FI \"PID eq %s\" 2>NUL | find \" %s \" >NUL\r\n", pid, pid)
	b.WriteString("if not errorlevel 1 (\r\n\tping -n 2 127.0.0.1 >NUL\r\n\tgoto wait\r\n)\r\n\r\n")

	dirs := map[string]bool{}
	for _, m := range s.Moves {
		from, err := batchQuote(batchPath(m.From))
		if err != nil {
			return "", err
		}
		to, err := batchQuote(batchPath(m.To))
		if err != nil {
			return "", err
		}
		dir := batchPath(filepath.Dir(m.To))
		if !dirs[dir] {
			dirs[dir] = true
			qdir, err := batchQuote(dir)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "if not exist %s mkdir %s || exit /b 1\r\n", qdir, qdir)
		}
		fmt.Fprintf(&b, "move /Y %s %s >NUL || exit /b 1\r\n", from, to)
	}

	fmt.Fprintf(&b, "\r\nrmdir /S /Q %s\r\n", staging)
	fmt.Fprintf(&b, "cd /D %s\r\n", install)

	exe, err := batchQuote(batchPath(filepath.Clean(s.Executable)))
	if err != nil {
		return "", err
	}
	line := []string{`start ""`, exe}
	for _, arg := range s.Args {
		qa, err := batchQuote(arg)
		if err != nil {
			return "", err
		}
		line = append(line, qa)
	}
	b.WriteString(strings.Join(line, " ") + "\r\n")

	return b.String(), nil
}
