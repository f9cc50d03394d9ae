package symtab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/grafana/gosymtab/symtab/gosym"
)

// Table is the composite query surface over one executable image:
// address-sorted symbols, entry-sorted functions and per-file line
// information. A Table is built once and immutable afterwards, so
// concurrent readers need no locking.
type Table struct {
	Syms  []Sym
	Funcs []Func

	lt     *gosym.LineTable        // modern backend, nil for legacy
	files  map[string][]LineSample // legacy line samples per file; membership only for modern
	byName map[string]*Sym

	opt options
}

// NewTable builds a Table from the legacy symbol table bytes and the
// line table. A non-nil line table selects the modern backend and
// symdata is not consulted; legacy binaries pass their symbol section
// with a nil line table.
func NewTable(symdata []byte, pcln *gosym.LineTable, opts ...Option) (*Table, error) {
	t := &Table{
		files: make(map[string][]LineSample),
		opt:   options{logger: log.NewNopLogger()},
	}
	for _, o := range opts {
		o(&t.opt)
	}

	var err error
	switch {
	case pcln != nil:
		t.lt = pcln
		err = t.buildModern()
	case len(symdata) > 0:
		err = t.buildLegacy(symdata)
	default:
		err = fmt.Errorf("no symbol metadata: %w", gosym.ErrUnsupportedVersion)
	}
	if err != nil {
		t.countBuildError(err)
		return nil, err
	}
	t.finalize()
	return t, nil
}

// buildModern derives one text symbol per function record. The modern
// layout keeps only function identities in this table; data symbols
// live elsewhere and are not enumerated here.
func (t *Table) buildModern() error {
	fns := t.lt.Funcs()
	t.Funcs = make([]Func, len(fns))
	t.Syms = make([]Sym, 0, len(fns))
	for i := range fns {
		rec := &fns[i]
		t.Funcs[i] = Func{
			Entry:     rec.Entry,
			End:       rec.End,
			FrameSize: rec.FrameSize,
		}
		t.Syms = append(t.Syms, Sym{Addr: rec.Entry, Kind: KindText, Name: rec.Name})
	}
	for _, f := range t.lt.Files() {
		t.files[f] = nil
	}
	return nil
}

// buildLegacy interprets the tagged record stream. Records arrive in a
// fixed global order: filename-table entries, then per function a text
// record followed by its nested parameter/local/frame/line records.
func (t *Table) buildLegacy(data []byte) error {
	fname := make(map[uint16]string)
	curFile := ""
	fi := -1 // index of the open function in t.Funcs

	closeFunc := func(end uint64) {
		if n := len(t.Funcs); n > 0 && t.Funcs[n-1].End == 0 {
			t.Funcs[n-1].End = end
		}
		fi = -1
	}

	err := walkSymtab(data, func(off int, s *rawSym) error {
		switch s.typ {
		case 'f':
			fname[uint16(s.value)] = symName(s.name)

		case 'Z', 'z':
			path, err := pathName(off, s, fname)
			if err != nil {
				return err
			}
			curFile = path
			fi = -1

		case 'T', 't', 'L', 'l':
			name := symName(s.name)
			closeFunc(s.value)
			t.Syms = append(t.Syms, Sym{
				Addr:   s.value,
				Kind:   KindText,
				Name:   name,
				static: s.typ >= 'a',
			})
			if name == "etext" || name == "runtime.etext" {
				return nil
			}
			t.Funcs = append(t.Funcs, Func{Entry: s.value, File: curFile})
			fi = len(t.Funcs) - 1

		case 'D', 'd':
			t.Syms = append(t.Syms, Sym{Addr: s.value, Kind: KindData, Name: symName(s.name), static: s.typ == 'd'})

		case 'B', 'b':
			t.Syms = append(t.Syms, Sym{Addr: s.value, Kind: KindBSS, Name: symName(s.name), static: s.typ == 'b'})

		case 'p':
			if fi >= 0 {
				t.Funcs[fi].Params = append(t.Funcs[fi].Params, Sym{Addr: s.value, Name: symName(s.name)})
			}

		case 'a':
			if fi >= 0 {
				t.Funcs[fi].Locals = append(t.Funcs[fi].Locals, Sym{Addr: s.value, Name: symName(s.name)})
			}

		case 'm':
			if fi >= 0 {
				t.Funcs[fi].FrameSize = uint32(s.value)
			}

		case 'N':
			// Line sample: the value is an address, the associated
			// integer the source line active at that address.
			if fi < 0 {
				return nil
			}
			ls := LineSample{Addr: s.value, Line: int(s.gotype)}
			t.Funcs[fi].samples = append(t.Funcs[fi].samples, ls)
			if curFile != "" {
				t.files[curFile] = append(t.files[curFile], ls)
			}

		default:
			t.countSkipped()
			level.Debug(t.opt.logger).Log("msg", "skipping symbol record", "tag", string(s.typ), "off", off)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Without a trailing etext record the last function has no
	// declared end; treat it as extending to the top of the address
	// space.
	if n := len(t.Funcs); n > 0 && t.Funcs[n-1].End == 0 {
		t.Funcs[n-1].End = ^uint64(0)
	}
	return nil
}

// finalize sorts everything, links function symbols to their records
// and builds the name index. The source stream order is not trusted.
func (t *Table) finalize() {
	slices.SortStableFunc(t.Funcs, func(a, b Func) int {
		switch {
		case a.Entry < b.Entry:
			return -1
		case a.Entry > b.Entry:
			return 1
		}
		return 0
	})
	slices.SortStableFunc(t.Syms, func(a, b Sym) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})

	fidx := make(map[uint64]int, len(t.Funcs))
	for i := range t.Funcs {
		if _, ok := fidx[t.Funcs[i].Entry]; !ok {
			fidx[t.Funcs[i].Entry] = i
		}
		slices.SortFunc(t.Funcs[i].samples, func(a, b LineSample) int {
			switch {
			case a.Addr < b.Addr:
				return -1
			case a.Addr > b.Addr:
				return 1
			}
			return 0
		})
	}
	for i := range t.Syms {
		s := &t.Syms[i]
		if s.Kind != KindText {
			continue
		}
		if j, ok := fidx[s.Addr]; ok && t.Funcs[j].Sym == nil {
			t.Funcs[j].Sym = s
			s.Func = &t.Funcs[j]
		}
	}

	for f := range t.files {
		slices.SortFunc(t.files[f], func(a, b LineSample) int {
			if a.Line != b.Line {
				return a.Line - b.Line
			}
			switch {
			case a.Addr < b.Addr:
				return -1
			case a.Addr > b.Addr:
				return 1
			}
			return 0
		})
	}

	// First symbol in address order wins a name; function symbols win
	// over same-named data.
	t.byName = make(map[string]*Sym, len(t.Syms))
	for i := range t.Syms {
		if s := &t.Syms[i]; s.Func != nil {
			if _, ok := t.byName[s.Name]; !ok {
				t.byName[s.Name] = s
			}
		}
	}
	for i := range t.Syms {
		if s := &t.Syms[i]; s.Func == nil {
			if _, ok := t.byName[s.Name]; !ok {
				t.byName[s.Name] = s
			}
		}
	}
}

// findFunc returns the function whose range covers pc, or nil.
func (t *Table) findFunc(pc uint64) *Func {
	if len(t.Funcs) == 0 || pc < t.Funcs[0].Entry {
		return nil
	}
	i := sort.Search(len(t.Funcs), func(i int) bool {
		return pc < t.Funcs[i].Entry
	})
	i--
	f := &t.Funcs[i]
	if pc >= f.End {
		return nil
	}
	return f
}

// PCToLine looks up the source position for a program counter.
func (t *Table) PCToLine(pc uint64) (file string, line int, fn *Func, err error) {
	fn = t.findFunc(pc)
	if fn == nil {
		return "", 0, nil, fmt.Errorf("no function at %#x: %w", pc, ErrNotFound)
	}
	if t.lt != nil {
		file, line, err = t.lt.PCToLine(pc)
		if err != nil {
			return "", 0, nil, err
		}
		return file, line, fn, nil
	}
	if i := sampleAt(fn.samples, pc); i >= 0 {
		line = fn.samples[i].Line
	}
	return fn.File, line, fn, nil
}

// LineToPC looks up the first program counter on the given line in the
// named file. Only exact line matches succeed: a line falling between
// two samples is not rounded to the nearest following address.
func (t *Table) LineToPC(file string, line int) (uint64, *Func, error) {
	samples, ok := t.files[file]
	if !ok {
		return 0, nil, UnknownFileError(file)
	}
	if t.lt != nil {
		pc, err := t.lt.LineToPC(file, line)
		if err != nil {
			return 0, nil, err
		}
		if pc == 0 {
			return 0, nil, &UnknownLineError{File: file, Line: line}
		}
		return pc, t.findFunc(pc), nil
	}
	i, found := slices.BinarySearchFunc(samples, line, func(s LineSample, l int) int {
		return s.Line - l
	})
	if !found {
		return 0, nil, &UnknownLineError{File: file, Line: line}
	}
	pc := samples[i].Addr
	return pc, t.findFunc(pc), nil
}

// LookupSym returns the symbol with the given name. Duplicate names
// resolve to the first symbol in address order, functions first.
func (t *Table) LookupSym(name string) (*Sym, error) {
	s := t.byName[name]
	if s == nil {
		return nil, fmt.Errorf("no symbol %q: %w", name, ErrNotFound)
	}
	return s, nil
}

// LookupFunc returns the function with the given name. Duplicate names
// resolve to the first function in address order.
func (t *Table) LookupFunc(name string) (*Func, error) {
	s := t.byName[name]
	if s == nil || s.Func == nil {
		return nil, fmt.Errorf("no function %q: %w", name, ErrNotFound)
	}
	return s.Func, nil
}

// SymByAddr returns the symbol with the greatest address <= addr.
func (t *Table) SymByAddr(addr uint64) (*Sym, error) {
	if len(t.Syms) == 0 || addr < t.Syms[0].Addr {
		return nil, fmt.Errorf("no symbol at or below %#x: %w", addr, ErrNotFound)
	}
	i := sort.Search(len(t.Syms), func(i int) bool {
		return addr < t.Syms[i].Addr
	})
	i--
	return &t.Syms[i], nil
}

// sampleAt returns the index of the greatest sample address <= pc,
// or -1.
func sampleAt(samples []LineSample, pc uint64) int {
	i := sort.Search(len(samples), func(i int) bool {
		return pc < samples[i].Addr
	})
	return i - 1
}

func symName(b []byte) string {
	return strings.ReplaceAll(string(b), "·", ".")
}

// pathName joins the 16-bit filename-table codes of a path record.
func pathName(off int, s *rawSym, fname map[uint16]string) (string, error) {
	var sb strings.Builder
	for i := 0; i+2 <= len(s.name); i += 2 {
		code := binary.BigEndian.Uint16(s.name[i:])
		elt, ok := fname[code]
		if !ok {
			return "", &MalformedSymbolRecordError{Off: off, Tag: s.typ, Msg: "bad filename code"}
		}
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "/") {
			sb.WriteByte('/')
		}
		sb.WriteString(elt)
	}
	return sb.String(), nil
}

func (t *Table) countSkipped() {
	if m := t.opt.metrics; m != nil {
		m.SkippedSymbols.Inc()
	}
}

func (t *Table) countBuildError(err error) {
	m := t.opt.metrics
	if m == nil {
		return
	}
	kind := "other"
	var malformed *MalformedSymbolRecordError
	switch {
	case errors.Is(err, gosym.ErrTruncated):
		kind = "truncated"
	case errors.Is(err, gosym.ErrUnsupportedVersion):
		kind = "unsupported_version"
	case errors.As(err, &malformed):
		kind = "malformed_record"
	}
	m.BuildErrors.WithLabelValues(kind).Inc()
}
