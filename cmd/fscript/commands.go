package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/fieldscript/compiler"
	"github.com/chazu/fieldscript/decompiler"
	"github.com/chazu/fieldscript/linker"
	"github.com/chazu/fieldscript/objfile"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
)

// ---------------------------------------------------------------------------
// fscript decompile
// ---------------------------------------------------------------------------

func handleDecompileCommand(p *project, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decompile", flag.ContinueOnError)
	output := fs.String("o", "", "Output source file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: fscript decompile [-o out.fs] file.bin")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	opts := decompiler.Options{
		Names:         p.names,
		ScriptStart:   p.manifest.Scripts.ScriptStart,
		FunctionStart: p.manifest.Scripts.FunctionStart,
	}
	if p.texts != nil {
		opts.Texts = p.texts
	}
	prog, diags := decompiler.Load(data, p.reg, opts)
	reportDiagnostics(diags)

	failed := 0
	for _, r := range append(prog.Scripts, prog.Funcs...) {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", r.Name(), r.Err)
			failed++
		}
	}
	if p.verbose {
		fmt.Fprintf(os.Stderr, "Decompiled %d scripts, %d functions (%d failed)\n",
			len(prog.Scripts), len(prog.Funcs), failed)
	}

	text := script.Format(prog)
	if *output == "" {
		_, err = io.WriteString(stdout, text)
		return err
	}
	return os.WriteFile(*output, []byte(text), 0644)
}

// ---------------------------------------------------------------------------
// fscript compile
// ---------------------------------------------------------------------------

func handleCompileCommand(p *project, args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	output := fs.String("o", "", "Output stream (default: source name with .bin)")
	objOutput := fs.String("obj", "", "Write an unlinked object file instead of a stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: fscript compile [-o out.bin] [-obj out.fso] file.fs")
	}
	path := fs.Arg(0)

	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	prog, err := compiler.Parse(string(src), p.names)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	opts := compiler.Options{ScriptStart: p.manifest.Scripts.ScriptStart}
	before := snapshot(p.texts)
	if p.texts != nil {
		opts.Texts = p.texts
	}
	obj, err := compiler.New(p.reg, opts).CompileProgram(prog)
	reportDiagnostics(obj.Diagnostics)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if *objOutput != "" {
		data, err := objfile.Encode(&objfile.File{Scripts: obj.Scripts})
		if err != nil {
			return err
		}
		if err := os.WriteFile(*objOutput, data, 0644); err != nil {
			return err
		}
	} else {
		out := *output
		if out == "" {
			out = strings.TrimSuffix(path, filepath.Ext(path)) + ".bin"
		}
		if err := p.link(obj.Scripts, out); err != nil {
			return err
		}
	}

	if p.texts != nil && snapshot(p.texts) != before {
		if err := p.texts.Save(p.manifest.TextPath()); err != nil {
			return fmt.Errorf("saving string table: %w", err)
		}
		if p.verbose {
			fmt.Fprintf(os.Stderr, "Updated %s\n", p.manifest.TextPath())
		}
	}
	return nil
}

// snapshot renders a string table for change detection.
func snapshot(t *texts.Lines) string {
	if t == nil {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < t.Len(); i++ {
		sb.WriteString(t.Text(i))
		sb.WriteByte(0)
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// fscript link
// ---------------------------------------------------------------------------

func handleLinkCommand(p *project, args []string) error {
	fs := flag.NewFlagSet("link", flag.ContinueOnError)
	output := fs.String("o", "", "Output stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" || fs.NArg() == 0 {
		return errors.New("usage: fscript link -o out.bin a.fso...")
	}

	files := make([]*objfile.File, 0, fs.NArg())
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := objfile.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, f)
	}
	return p.link(objfile.Merge(files...).Scripts, *output)
}

func (p *project) link(scripts []*linker.Block, out string) error {
	img, err := linker.Link(scripts)
	if err != nil {
		return err
	}
	if p.verbose {
		for _, pl := range img.Layout {
			fmt.Fprintf(os.Stderr, "%#06x %5d %s", pl.Offset, pl.Size, pl.Name)
			if len(pl.Merged) > 0 {
				fmt.Fprintf(os.Stderr, " (= %s)", strings.Join(pl.Merged, ", "))
			}
			fmt.Fprintln(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "Linked %d scripts into %d bytes\n", len(scripts), len(img.Bytes))
	}
	return os.WriteFile(out, img.Bytes, 0644)
}
