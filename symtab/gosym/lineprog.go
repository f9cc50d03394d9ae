package gosym

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// A pc-value program is a sequence of (value delta, pc delta) pairs.
// The value delta is a zig-zag signed varint, the pc delta an unsigned
// varint scaled by the pc quantum. The value starts at -1 ("unknown")
// at the function entry; a zero raw delta terminates the program unless
// it is the very first pair. After each pair the accumulated value is
// in effect over [previous pc, new pc).

// step advances to the next pc, value pair in the encoded program.
func (t *LineTable) step(c *cursor, pc *uint64, val *int32, first bool) (bool, error) {
	uvdelta, err := c.uvarint()
	if err != nil {
		return false, err
	}
	if uvdelta == 0 && !first {
		return false, nil
	}
	pcdelta, err := c.uvarint()
	if err != nil {
		return false, err
	}
	*pc += uint64(pcdelta * t.quantum)
	*val += zigzag(uvdelta)
	return true, nil
}

// pcvalue reports the value associated with the target pc.
// off is the offset of the pc-value program within t.Data and entry is
// the start PC of the owning function. When the program ends before
// reaching targetpc the last decoded value stands for the remainder of
// the function.
func (t *LineTable) pcvalue(off uint32, entry, targetpc uint64) (int32, error) {
	c := cursor{buf: t.Data, off: int(off)}
	val := int32(-1)
	pc := entry
	first := true

	if st, ok := t.cache.get(off); ok && targetpc >= st.spanStart {
		t.countHit()
		if targetpc < st.pc {
			return st.val, nil
		}
		c.off, pc, val, first = st.cur, st.pc, st.val, false
	} else {
		t.countMiss()
	}

	for {
		prev := pc
		ok, err := t.step(&c, &pc, &val, first)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		first = false
		if targetpc < pc {
			t.cache.put(off, pcState{cur: c.off, spanStart: prev, pc: pc, val: val})
			return val, nil
		}
	}
	return val, nil
}

// PCToLine returns the file name and line number in effect at pc.
// Addresses outside every known function fail with ErrAddressOutOfRange.
func (t *LineTable) PCToLine(pc uint64) (string, int, error) {
	f := t.FindFunc(pc)
	if f == nil {
		return "", 0, fmt.Errorf("pc %#x: %w", pc, ErrAddressOutOfRange)
	}
	return t.funcLine(f, pc)
}

func (t *LineTable) funcLine(f *Func, pc uint64) (string, int, error) {
	if pc < f.Entry || pc >= f.End {
		return "", 0, fmt.Errorf("pc %#x outside %s [%#x,%#x): %w", pc, f.Name, f.Entry, f.End, ErrAddressOutOfRange)
	}
	fno, err := t.pcvalue(f.pcfile, f.Entry, pc)
	if err != nil {
		return "", 0, err
	}
	line, err := t.pcvalue(f.pcln, f.Entry, pc)
	if err != nil {
		return "", 0, err
	}
	var file string
	if fno > 0 && int(fno) < len(t.filetab) {
		file = t.filetab[fno]
	}
	return file, int(line), nil
}

// LineToPC returns the first program counter on the given line of the
// named file, or 0 when the file is unknown or no pc resolves to
// exactly that line. Only exact line matches succeed; an address is
// never rounded to the nearest following sample.
func (t *LineTable) LineToPC(file string, line int) (uint64, error) {
	filenum, ok := t.fileMap[file]
	if !ok {
		return 0, nil
	}
	// Scan all functions. This query is rare, so no reverse index is
	// kept; most functions come from a single file and their file
	// programs are short to reject.
	for i := range t.funcs {
		f := &t.funcs[i]
		pc, err := t.findFileLine(f, int32(filenum), int32(line))
		if err != nil {
			return 0, err
		}
		if pc != 0 {
			return pc, nil
		}
	}
	return 0, nil
}

// findFileLine scans one function looking for a program counter in the
// given file on the given line. It runs the file number program and,
// over each span of the wanted file, the line program looking for a
// simultaneous match.
func (t *LineTable) findFileLine(f *Func, filenum, line int32) (uint64, error) {
	if f.pcfile == 0 || f.pcln == 0 {
		return 0, nil
	}
	fc := cursor{buf: t.Data, off: int(f.pcfile)}
	lc := cursor{buf: t.Data, off: int(f.pcln)}
	entry := f.Entry

	fileVal, filePC := int32(-1), entry
	lineVal, linePC := int32(-1), entry
	fileStartPC := filePC
	for {
		ok, err := t.step(&fc, &filePC, &fileVal, filePC == entry)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if fileVal == filenum && fileStartPC < filePC {
			// fileVal is in effect from fileStartPC up to but not
			// including filePC. Run the line program over that span.
			lineStartPC := linePC
			for linePC < filePC {
				ok, err := t.step(&lc, &linePC, &lineVal, linePC == entry)
				if err != nil {
					return 0, err
				}
				if !ok {
					break
				}
				if lineVal == line {
					if fileStartPC <= lineStartPC {
						return lineStartPC, nil
					}
					if fileStartPC < linePC {
						return fileStartPC, nil
					}
				}
				lineStartPC = linePC
			}
		}
		fileStartPC = filePC
	}
	return 0, nil
}

// pcState is a resumable decode position within one pc-value program:
// the cursor offset of the next pair and the (pc, value) state decoded
// so far, valid over [spanStart, pc).
type pcState struct {
	cur       int
	spanStart uint64
	pc        uint64
	val       int32
}

// pcCache remembers recent decode positions keyed by program offset so
// that queries for increasing addresses, the sequential disassembly
// pattern, resume instead of re-decoding from the function start.
type pcCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[uint32, pcState]
}

func newPCCache(size int) *pcCache {
	if size <= 0 {
		return nil
	}
	lru, err := simplelru.NewLRU[uint32, pcState](size, nil)
	if err != nil {
		return nil
	}
	return &pcCache{lru: lru}
}

func (t *LineTable) countHit() {
	if m := t.opt.metrics; m != nil {
		m.CacheHits.Inc()
	}
}

func (t *LineTable) countMiss() {
	if m := t.opt.metrics; m != nil {
		m.CacheMisses.Inc()
	}
}

func (p *pcCache) get(off uint32) (pcState, bool) {
	if p == nil {
		return pcState{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Get(off)
}

func (p *pcCache) put(off uint32, st pcState) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lru.Add(off, st)
}
