// fscript decompiles field-script byte-code to editable source and builds
// source back into byte-code.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/fieldscript/compiler"
	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/manifest"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/server"
	"github.com/chazu/fieldscript/texts"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	dir := flag.String("C", ".", "Directory to search for fieldscript.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fscript [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  decompile [-o out.fs] file.bin        Decompile a script stream\n")
		fmt.Fprintf(os.Stderr, "  compile [-o out.bin] [-obj out.fso] file.fs\n")
		fmt.Fprintf(os.Stderr, "                                        Compile and link source, or write an object file\n")
		fmt.Fprintf(os.Stderr, "  link -o out.bin a.fso...              Link object files into one stream\n")
		fmt.Fprintf(os.Stderr, "  fmt [--check] <files...>              Format source files\n")
		fmt.Fprintf(os.Stderr, "  lsp                                   Start the language server on stdio\n")
		fmt.Fprintf(os.Stderr, "\nThe instruction set, names and string table come from the nearest fieldscript.toml.\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(args[0], args[1:], *dir, *verbose, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, dir string, verbose bool, stdout io.Writer) error {
	switch cmd {
	case "fmt":
		// Names are optional when formatting.
		p, _ := loadProject(dir)
		return handleFmtCommand(p, args, stdout)
	case "decompile", "compile", "link", "lsp":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	p, err := loadProject(dir)
	if err != nil {
		return err
	}
	p.verbose = verbose
	switch cmd {
	case "decompile":
		return handleDecompileCommand(p, args, stdout)
	case "compile":
		return handleCompileCommand(p, args)
	case "link":
		return handleLinkCommand(p, args)
	}
	return server.NewLSP(p.reg, p.names, compiler.Options{ScriptStart: p.manifest.Scripts.ScriptStart}).Run()
}

// project is the configuration shared by every command.
type project struct {
	manifest *manifest.Manifest
	reg      *isa.Registry
	names    *script.Names
	texts    *texts.Lines // nil when no string table is configured
	verbose  bool
}

func loadProject(dir string) (*project, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("no %s found from %s", manifest.FileName, dir)
	}
	p := &project{manifest: m}
	if p.reg, err = m.Registry(); err != nil {
		return nil, err
	}
	if p.names, err = m.Names(); err != nil {
		return nil, err
	}
	if p.texts, err = m.Texts(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *project) namesOrNil() *script.Names {
	if p == nil {
		return nil
	}
	return p.names
}

func reportDiagnostics(diags []script.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "warning: %s\n", d)
	}
}
