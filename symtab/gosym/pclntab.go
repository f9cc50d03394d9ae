/*
 * Line tables
 */

package gosym

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const go12magic = 0xfffffffb

// A LineTable holds the line number metadata of a single executable
// image: the function index, the per-function line programs and the
// string/file tables, all backed by one raw byte buffer.
//
// The buffer layout is the Go 1.2 self-contained format: a 16 byte
// header (magic, two zero bytes, pc quantum, pointer size), the
// function table of 2*nfunctab+1 pointer-sized slots alternating entry
// address and record offset and terminated by the end-of-text address,
// then a 4 byte offset to the file name table. Function records and
// strings are addressed by offset into the same buffer.
//
// A LineTable is immutable after construction apart from the bounded
// decode-position cache, which never changes decoded results.
type LineTable struct {
	Data []byte
	PC   uint64 // text segment load address

	binary  binary.ByteOrder
	quantum uint32
	ptrsize uint32

	funcs   []Func
	entries PCIndex
	end     uint64 // end-of-text from the final function table slot

	filetab []string
	fileMap map[string]uint32

	cache *pcCache
	opt   options
}

// Func is one function record: its address range, name and the offsets
// of its pc-value programs within the owning LineTable.
type Func struct {
	Entry     uint64
	End       uint64
	Name      string
	NameOff   uint32
	FrameSize uint32

	pcfile uint32
	pcln   uint32
}

// NewLineTable parses the encoded line table data. Text must be the
// load address of the corresponding text segment. A short buffer fails
// with ErrTruncated and an unrecognized header fails with
// ErrUnsupportedVersion; malformed input never panics.
func NewLineTable(data []byte, text uint64, opts ...Option) (*LineTable, error) {
	t := &LineTable{
		Data: data,
		PC:   text,
		opt:  options{cacheSize: defaultCacheSize},
	}
	for _, o := range opts {
		o(&t.opt)
	}
	if err := t.parseHeader(); err != nil {
		return nil, err
	}
	if err := t.parseFuncTab(); err != nil {
		return nil, err
	}
	if err := t.parseFileTab(); err != nil {
		return nil, err
	}
	t.cache = newPCCache(t.opt.cacheSize)
	return t, nil
}

// Check header: 4-byte magic, two zeros, pc quantum, pointer size.
func (t *LineTable) parseHeader() error {
	if len(t.Data) < 16 {
		return fmt.Errorf("header needs 16 bytes, have %d: %w", len(t.Data), ErrTruncated)
	}
	switch {
	case binary.LittleEndian.Uint32(t.Data) == go12magic:
		t.binary = binary.LittleEndian
	case binary.BigEndian.Uint32(t.Data) == go12magic:
		t.binary = binary.BigEndian
	default:
		return fmt.Errorf("magic %#x: %w", binary.LittleEndian.Uint32(t.Data), ErrUnsupportedVersion)
	}
	if t.Data[4] != 0 || t.Data[5] != 0 {
		return fmt.Errorf("nonzero header padding: %w", ErrUnsupportedVersion)
	}
	q := t.Data[6]
	if q != 1 && q != 2 && q != 4 {
		return fmt.Errorf("pc quantum %d: %w", q, ErrUnsupportedVersion)
	}
	ps := t.Data[7]
	if ps != 4 && ps != 8 {
		return fmt.Errorf("pointer size %d: %w", ps, ErrUnsupportedVersion)
	}
	t.quantum = uint32(q)
	t.ptrsize = uint32(ps)
	return nil
}

func (t *LineTable) parseFuncTab() error {
	nfunctab64, err := t.uintptrAt(8)
	if err != nil {
		return err
	}
	if nfunctab64 > uint64(len(t.Data)) {
		return fmt.Errorf("function count %d exceeds table size: %w", nfunctab64, ErrTruncated)
	}
	n := int(nfunctab64)
	functab := 8 + int(t.ptrsize)

	t.funcs = make([]Func, n)
	t.entries = NewPCIndex(n)
	for i := 0; i < n; i++ {
		entry, err := t.uintptrAt(functab + 2*i*int(t.ptrsize))
		if err != nil {
			return err
		}
		end, err := t.uintptrAt(functab + (2*i+2)*int(t.ptrsize))
		if err != nil {
			return err
		}
		recOff, err := t.uintptrAt(functab + (2*i+1)*int(t.ptrsize))
		if err != nil {
			return err
		}
		f := &t.funcs[i]
		f.Entry = entry
		f.End = end
		if err := t.parseFuncRec(f, int(recOff)); err != nil {
			return err
		}
		t.entries.Set(i, entry)
		t.end = end
	}
	return nil
}

// parseFuncRec decodes one function record: entry uintptr, then
// uint32 fields name, args, frame, pcsp, pcfile, pcln.
func (t *LineTable) parseFuncRec(f *Func, off int) error {
	fields := off + int(t.ptrsize)
	u32 := func(n int) (uint32, error) {
		return t.uint32At(fields + 4*n)
	}
	var err error
	if f.NameOff, err = u32(0); err != nil {
		return err
	}
	if f.FrameSize, err = u32(2); err != nil {
		return err
	}
	if f.pcfile, err = u32(4); err != nil {
		return err
	}
	if f.pcln, err = u32(5); err != nil {
		return err
	}
	f.Name, err = t.stringAt(f.NameOff)
	return err
}

func (t *LineTable) parseFileTab() error {
	n := len(t.funcs)
	functab := 8 + int(t.ptrsize)
	fileoff, err := t.uint32At(functab + (2*n+1)*int(t.ptrsize))
	if err != nil {
		return err
	}
	nfiletab, err := t.uint32At(int(fileoff))
	if err != nil {
		return err
	}
	if uint64(nfiletab)*4 > uint64(len(t.Data)) {
		return fmt.Errorf("file count %d exceeds table size: %w", nfiletab, ErrTruncated)
	}
	t.filetab = make([]string, nfiletab)
	t.fileMap = make(map[string]uint32, nfiletab)
	// Slot 0 is reserved; file numbers start at 1.
	for i := uint32(1); i < nfiletab; i++ {
		strOff, err := t.uint32At(int(fileoff) + 4*int(i))
		if err != nil {
			return err
		}
		s, err := t.stringAt(strOff)
		if err != nil {
			return err
		}
		t.filetab[i] = s
		t.fileMap[s] = i
	}
	return nil
}

// uintptrAt returns the pointer-sized value encoded at off.
// The pointer size is dictated by the table being read.
func (t *LineTable) uintptrAt(off int) (uint64, error) {
	if off < 0 || off+int(t.ptrsize) > len(t.Data) {
		return 0, fmt.Errorf("uintptr at %#x: %w", off, ErrTruncated)
	}
	if t.ptrsize == 4 {
		return uint64(t.binary.Uint32(t.Data[off:])), nil
	}
	return t.binary.Uint64(t.Data[off:]), nil
}

func (t *LineTable) uint32At(off int) (uint32, error) {
	if off < 0 || off+4 > len(t.Data) {
		return 0, fmt.Errorf("uint32 at %#x: %w", off, ErrTruncated)
	}
	return t.binary.Uint32(t.Data[off:]), nil
}

// stringAt returns the NUL-terminated string at off.
func (t *LineTable) stringAt(off uint32) (string, error) {
	if uint64(off) >= uint64(len(t.Data)) {
		return "", fmt.Errorf("string at %#x: %w", off, ErrTruncated)
	}
	i := bytes.IndexByte(t.Data[off:], 0)
	if i < 0 {
		return "", fmt.Errorf("unterminated string at %#x: %w", off, ErrTruncated)
	}
	return string(t.Data[off : int(off)+i]), nil
}

// FindFunc returns the function whose range covers addr, or nil.
func (t *LineTable) FindFunc(addr uint64) *Func {
	i := t.entries.FindIndex(addr)
	if i < 0 {
		return nil
	}
	f := &t.funcs[i]
	if addr >= f.End {
		return nil
	}
	return f
}

// Funcs returns the function records in entry address order.
// The returned slice is owned by the table and must not be modified.
func (t *LineTable) Funcs() []Func {
	return t.funcs
}

// Files returns the file names known to the table.
func (t *LineTable) Files() []string {
	res := make([]string, 0, len(t.fileMap))
	for i := uint32(1); i < uint32(len(t.filetab)); i++ {
		res = append(res, t.filetab[i])
	}
	return res
}

func (t *LineTable) Quantum() uint32 { return t.quantum }
func (t *LineTable) PtrSize() uint32 { return t.ptrsize }

// End returns the end-of-text address declared by the function table.
func (t *LineTable) End() uint64 { return t.end }
