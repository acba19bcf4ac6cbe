package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/fieldscript/compiler"
	"github.com/chazu/fieldscript/script"
)

// ---------------------------------------------------------------------------
// fscript fmt: canonical source formatter
// ---------------------------------------------------------------------------

// sourceExt is the extension of script source files.
const sourceExt = ".fs"

// Format parses script source and returns it in canonical form.
func Format(source string, names *script.Names) (string, error) {
	prog, err := compiler.Parse(source, names)
	if err != nil {
		return "", err
	}
	return script.Format(prog), nil
}

func handleFmtCommand(p *project, args []string, stdout io.Writer) error {
	checkMode := false
	var files []string

	for _, arg := range args {
		if arg == "--check" {
			checkMode = true
		} else if arg == "--help" || arg == "-h" {
			fmt.Fprintf(os.Stderr, "Usage: fscript fmt [--check] <files or directories...>\n\n")
			fmt.Fprintf(os.Stderr, "Format script source files to canonical style.\n\n")
			fmt.Fprintf(os.Stderr, "Options:\n")
			fmt.Fprintf(os.Stderr, "  --check   Check formatting without modifying files.\n")
			fmt.Fprintf(os.Stderr, "            Fails if any files need formatting.\n\n")
			fmt.Fprintf(os.Stderr, "If no files are given, formats all %s files in the current directory.\n", sourceExt)
			return nil
		} else {
			files = append(files, arg)
		}
	}

	// Default: current directory
	if len(files) == 0 {
		files = []string{"."}
	}

	sources, err := collectSourceFiles(files)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		fmt.Fprintf(os.Stderr, "No %s files found\n", sourceExt)
		return nil
	}

	names := p.namesOrNil()
	var unformatted []string
	for _, path := range sources {
		changed, err := formatFile(path, names, checkMode, stdout)
		if err != nil {
			return fmt.Errorf("formatting %s: %w", path, err)
		}
		if changed {
			unformatted = append(unformatted, path)
		}
	}

	if checkMode && len(unformatted) > 0 {
		return fmt.Errorf("%d files need formatting", len(unformatted))
	}
	return nil
}

// formatFile formats a single source file.
// In check mode, returns true if the file would be changed.
// Otherwise, rewrites the file in place and returns true if it changed.
func formatFile(path string, names *script.Names, checkMode bool, stdout io.Writer) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	original := string(content)
	formatted, err := Format(original, names)
	if err != nil {
		return false, fmt.Errorf("parse error: %w", err)
	}

	if original == formatted {
		return false, nil
	}

	if checkMode {
		fmt.Fprintf(stdout, "would format: %s\n", path)
		return true, nil
	}

	if err := os.WriteFile(path, []byte(formatted), 0644); err != nil {
		return false, err
	}

	fmt.Fprintf(stdout, "formatted: %s\n", path)
	return true, nil
}

// collectSourceFiles resolves paths to a flat list of source file paths.
func collectSourceFiles(paths []string) ([]string, error) {
	var result []string

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", p, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot access %q: %w", abs, err)
		}

		if info.IsDir() {
			err := filepath.Walk(abs, func(path string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !fi.IsDir() && strings.HasSuffix(path, sourceExt) {
					result = append(result, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if strings.HasSuffix(abs, sourceExt) {
			result = append(result, abs)
		} else {
			return nil, fmt.Errorf("%q is not a %s file", abs, sourceExt)
		}
	}

	return result, nil
}
