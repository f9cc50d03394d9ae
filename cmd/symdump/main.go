// Command symdump lists the functions of a Go binary, or resolves an
// address to a source position, using only the symbol and line number
// metadata embedded in the executable.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/gosymtab/symtab"
	"github.com/grafana/gosymtab/symtab/gosym"
)

var (
	addrFlag = flag.String("addr", "", "resolve a hex address to file:line instead of listing functions")
	lineFlag = flag.String("line", "", "resolve file:line to an address instead of listing functions")
	textFlag = flag.String("text", "", "override the text segment load address (hex)")
)

func main() {
	flag.Parse()
	logger := log.NewLogfmtLogger(os.Stderr)
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: symdump [-addr hex | -line file:line] binary")
		os.Exit(2)
	}
	if err := run(logger, flag.Arg(0)); err != nil {
		_ = level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, path string) error {
	tab, err := load(logger, path)
	if err != nil {
		return err
	}

	switch {
	case *addrFlag != "":
		addr, err := strconv.ParseUint(strings.TrimPrefix(*addrFlag, "0x"), 16, 64)
		if err != nil {
			return errors.Wrap(err, "parse addr")
		}
		file, line, fn, err := tab.PCToLine(addr)
		if err != nil {
			return err
		}
		name := "?"
		if fn.Sym != nil {
			name = fn.Sym.Name
		}
		fmt.Printf("%#x\t%s\t%s:%d\n", addr, name, file, line)

	case *lineFlag != "":
		file, lineStr, ok := strings.Cut(*lineFlag, ":")
		if !ok {
			return errors.New("want file:line")
		}
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			return errors.Wrap(err, "parse line")
		}
		pc, fn, err := tab.LineToPC(file, line)
		if err != nil {
			return err
		}
		name := "?"
		if fn != nil && fn.Sym != nil {
			name = fn.Sym.Name
		}
		fmt.Printf("%s:%d\t%#x\t%s\n", file, line, pc, name)

	default:
		for i := range tab.Funcs {
			fn := &tab.Funcs[i]
			name := "?"
			if fn.Sym != nil {
				name = fn.Sym.Name
			}
			fmt.Printf("%8x\t%s\n", fn.Entry, name)
		}
	}
	return nil
}

// load extracts the line table and legacy symbol sections from the
// executable and builds a symbol table from whichever layout the
// binary carries.
func load(logger log.Logger, path string) (*symtab.Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open elf")
	}
	defer f.Close()

	text, err := textBase(f)
	if err != nil {
		return nil, err
	}

	var pclndata, symdata []byte
	if s := f.Section(".gopclntab"); s != nil {
		if pclndata, err = s.Data(); err != nil {
			return nil, errors.Wrap(err, "read .gopclntab")
		}
	}
	if s := f.Section(".gosymtab"); s != nil {
		if symdata, err = s.Data(); err != nil {
			return nil, errors.Wrap(err, "read .gosymtab")
		}
	}

	if len(pclndata) > 0 {
		lt, err := gosym.NewLineTable(pclndata, text)
		if err == nil {
			return symtab.NewTable(nil, lt, symtab.WithLogger(logger))
		}
		if !errors.Is(err, gosym.ErrUnsupportedVersion) {
			return nil, err
		}
		_ = level.Debug(logger).Log("msg", "line table not self-contained, falling back to symbol table", "err", err)
	}
	return symtab.NewTable(symdata, nil, symtab.WithLogger(logger))
}

// textBase returns the load address of the text segment: an explicit
// override, or the first executable load segment of the binary.
func textBase(f *elf.File) (uint64, error) {
	if *textFlag != "" {
		return strconv.ParseUint(strings.TrimPrefix(*textFlag, "0x"), 16, 64)
	}
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Flags&elf.PF_X != 0 {
			return p.Vaddr, nil
		}
	}
	return 0, errors.New("no executable segment")
}
