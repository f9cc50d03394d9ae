// Package symtab builds a queryable symbol table from the line-number
// and symbol metadata a Go binary carries. Two on-disk layouts are
// supported: the modern self-contained line table, where function
// identities live next to the line programs, and the legacy tagged
// record stream, where line information is embedded in the symbol
// records themselves. Both produce the same Table.
package symtab

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a well-formed query with no answer: an address
// outside every known function or symbol, an unknown file or name, or
// a line no program counter resolves to.
var ErrNotFound = errors.New("not found")

// UnknownFileError represents a failure to find the specific file in
// the symbol table.
type UnknownFileError string

func (e UnknownFileError) Error() string { return "unknown file: " + string(e) }

func (e UnknownFileError) Is(target error) bool { return target == ErrNotFound }

// UnknownLineError represents a failure to map a line to a program
// counter, either because the line is beyond the bounds of the file
// or because there is no code on the given line.
type UnknownLineError struct {
	File string
	Line int
}

func (e *UnknownLineError) Error() string {
	return fmt.Sprintf("no code at %s:%d", e.File, e.Line)
}

func (e *UnknownLineError) Is(target error) bool { return target == ErrNotFound }

// MalformedSymbolRecordError reports a legacy symbol record whose tag
// implies a payload shape that is not present.
type MalformedSymbolRecordError struct {
	Off int
	Tag byte
	Msg string
}

func (e *MalformedSymbolRecordError) Error() string {
	if e.Tag != 0 {
		return fmt.Sprintf("%s (tag %q at byte %#x)", e.Msg, e.Tag, e.Off)
	}
	return fmt.Sprintf("%s at byte %#x", e.Msg, e.Off)
}

// SymKind classifies a symbol.
type SymKind uint8

const (
	KindOther SymKind = iota
	KindText
	KindData
	KindBSS
)

func (k SymKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindData:
		return "data"
	case KindBSS:
		return "bss"
	}
	return "other"
}

// A Sym is a single named, addressed entity. Symbols are immutable
// once the table is built; the table owns the backing storage.
type Sym struct {
	Addr uint64
	Kind SymKind
	Name string

	// Func is set when this symbol names a function with known
	// line metadata.
	Func *Func

	static bool // lowercase legacy tag: not visible outside its file
}

// Static reports whether the symbol is not visible outside its file.
func (s *Sym) Static() bool { return s.static }

// A Func collects information about a single function: its address
// range, frame size and, for legacy tables, the parameter and local
// descriptors and line samples that were nested under its record.
type Func struct {
	Sym       *Sym
	Entry     uint64
	End       uint64
	FrameSize uint32

	// File is the source file the function was defined in. Legacy
	// only; modern tables resolve files per address.
	File string

	Params []Sym
	Locals []Sym

	samples []LineSample // legacy address→line samples, address order
}

// LineSample is one explicit (address, line) pair from a legacy table.
type LineSample struct {
	Addr uint64
	Line int
}
