package script

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/vango-go/vai-callcore/pkg/core"
)

// Source loads scripts by name. Implementations never mutate a returned script.
type Source interface {
	Load(ctx context.Context, name string) (*Script, error)
}

// LoadIssue records a file that could not be loaded.
type LoadIssue struct {
	Path string
	Err  error
}

// DirSource serves every script found in a directory tree. Files are read once
// by NewDirSource; a broken file is reported and skipped so one bad script
// never takes the others down.
type DirSource struct {
	scripts  map[string]*Script
	warnings map[string][]string
	issues   []LoadIssue
}

// NewDirSource walks fsys and loads every *.json, *.yaml and *.yml file.
func NewDirSource(fsys fs.FS, logger *slog.Logger) (*DirSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src := &DirSource{
		scripts:  make(map[string]*Script),
		warnings: make(map[string][]string),
	}
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		format, ok := FormatFromPath(path)
		if !ok {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			src.issues = append(src.issues, LoadIssue{Path: path, Err: err})
			return nil
		}
		s, report, err := Parse(data, format)
		if err != nil {
			logger.Warn("script rejected", "path", path, "error", err)
			src.issues = append(src.issues, LoadIssue{Path: path, Err: err})
			return nil
		}
		if _, dup := src.scripts[s.Name]; dup {
			src.issues = append(src.issues, LoadIssue{Path: path, Err: core.NewValidationError(fmt.Sprintf("duplicate script name %q", s.Name))})
			return nil
		}
		for _, w := range report.Warnings {
			logger.Info("script warning", "script", s.Name, "warning", w)
		}
		src.scripts[s.Name] = s
		src.warnings[s.Name] = report.Warnings
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk scripts: %w", err)
	}
	return src, nil
}

// Load returns the named script.
func (d *DirSource) Load(ctx context.Context, name string) (*Script, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := d.scripts[name]
	if !ok {
		return nil, core.NewNotFoundError(fmt.Sprintf("script %q not found", name))
	}
	return s, nil
}

// Names lists loaded scripts in sorted order.
func (d *DirSource) Names() []string {
	out := make([]string, 0, len(d.scripts))
	for name := range d.scripts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Issues returns files that failed to load.
func (d *DirSource) Issues() []LoadIssue {
	return append([]LoadIssue(nil), d.issues...)
}

// Warnings returns validation warnings for a loaded script.
func (d *DirSource) Warnings(name string) []string {
	return append([]string(nil), d.warnings[name]...)
}

// StaticSource serves an in-memory set of already validated scripts.
type StaticSource map[string]*Script

func (s StaticSource) Load(ctx context.Context, name string) (*Script, error) {
	if sc, ok := s[name]; ok {
		return sc, nil
	}
	return nil, core.NewNotFoundError(fmt.Sprintf("script %q not found", name))
}

// Names lists the scripts in sorted order.
func (s StaticSource) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
