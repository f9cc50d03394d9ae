package symtab

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/gosymtab/metrics"
	"github.com/grafana/gosymtab/symtab/gosym"
)

// legacyFixture carries one file, two functions with line samples,
// data symbols and a closing etext marker.
func legacyFixture() []byte {
	return newSymStream().
		file(1, "src").
		file(2, "main.go").
		path(1, 2).
		sym('T', 0x2000, "main.main").
		sym('p', 0, "argc").
		sym('a', 8, "x").
		sym('m', 40, "").
		line(0x2000, 5).
		line(0x2004, 6).
		sym('t', 0x2010, "main·helper").
		line(0x2010, 20).
		sym('D', 0x3000, "main.data").
		sym('b', 0x4000, "main.bss").
		sym('T', 0x5000, "etext").
		buf
}

func legacyTable(t *testing.T, opts ...Option) *Table {
	t.Helper()
	tab, err := NewTable(legacyFixture(), nil, opts...)
	require.NoError(t, err)
	return tab
}

// modernLineTable builds a one function line table: main.main at
// [0x1000,0x1010) in main.go, line 10 then line 11 from 0x1008.
func modernLineTable(t *testing.T) *gosym.LineTable {
	t.Helper()
	le := binary.LittleEndian
	u32 := func(b []byte, v uint32) []byte {
		var s [4]byte
		le.PutUint32(s[:], v)
		return append(b, s[:]...)
	}
	u64 := func(b []byte, v uint64) []byte {
		var s [8]byte
		le.PutUint64(s[:], v)
		return append(b, s[:]...)
	}

	prefix := 8 + 8 + 3*8 + 4
	var blob []byte
	nameOff := uint32(prefix + len(blob))
	blob = append(blob, "main.main\x00"...)
	pcfileOff := uint32(prefix + len(blob))
	blob = append(blob, 4, 16, 0) // file 1 over the whole range
	pclnOff := uint32(prefix + len(blob))
	blob = append(blob, 22, 8, 2, 8, 0) // line 10, then 11 at +8
	recOff := uint64(prefix + len(blob))
	blob = u64(blob, 0x1000)
	for _, v := range []uint32{nameOff, 0, 0, 0, pcfileOff, pclnOff} {
		blob = u32(blob, v)
	}
	fnameOff := uint32(prefix + len(blob))
	blob = append(blob, "main.go\x00"...)
	fileoff := uint32(prefix + len(blob))
	blob = u32(blob, 2)
	blob = u32(blob, fnameOff)

	data := u32(nil, 0xfffffffb)
	data = append(data, 0, 0, 1, 8)
	data = u64(data, 1)
	data = u64(data, 0x1000)
	data = u64(data, recOff)
	data = u64(data, 0x1010)
	data = u32(data, fileoff)
	data = append(data, blob...)

	lt, err := gosym.NewLineTable(data, 0x1000)
	require.NoError(t, err)
	return lt
}

func TestNewTableNoMetadata(t *testing.T) {
	_, err := NewTable(nil, nil)
	require.ErrorIs(t, err, gosym.ErrUnsupportedVersion)
}

func TestLegacyFuncs(t *testing.T) {
	tab := legacyTable(t)
	require.Len(t, tab.Funcs, 2)

	main := tab.Funcs[0]
	require.NotNil(t, main.Sym)
	assert.Equal(t, "main.main", main.Sym.Name)
	assert.Equal(t, uint64(0x2000), main.Entry)
	assert.Equal(t, uint64(0x2010), main.End)
	assert.Equal(t, uint32(40), main.FrameSize)
	assert.Equal(t, "src/main.go", main.File)
	require.Len(t, main.Params, 1)
	assert.Equal(t, "argc", main.Params[0].Name)
	require.Len(t, main.Locals, 1)
	assert.Equal(t, "x", main.Locals[0].Name)
	assert.False(t, main.Sym.Static())

	helper := tab.Funcs[1]
	require.NotNil(t, helper.Sym)
	assert.Equal(t, "main.helper", helper.Sym.Name)
	assert.Equal(t, uint64(0x2010), helper.Entry)
	assert.Equal(t, uint64(0x5000), helper.End)
	assert.True(t, helper.Sym.Static())
}

func TestLegacySymByAddr(t *testing.T) {
	tab := legacyTable(t)

	s, err := tab.SymByAddr(0x2002)
	require.NoError(t, err)
	assert.Equal(t, "main.main", s.Name)

	s, err = tab.SymByAddr(0x2000)
	require.NoError(t, err)
	assert.Equal(t, "main.main", s.Name)

	s, err = tab.SymByAddr(0x3FFF)
	require.NoError(t, err)
	assert.Equal(t, "main.data", s.Name)
	assert.Equal(t, KindData, s.Kind)

	s, err = tab.SymByAddr(0x9000)
	require.NoError(t, err)
	assert.Equal(t, "etext", s.Name)

	_, err = tab.SymByAddr(0x1000)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLegacyPCToLine(t *testing.T) {
	tab := legacyTable(t)

	file, line, fn, err := tab.PCToLine(0x2005)
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", file)
	assert.Equal(t, 6, line)
	assert.Equal(t, "main.main", fn.Sym.Name)

	_, line, _, err = tab.PCToLine(0x2000)
	require.NoError(t, err)
	assert.Equal(t, 5, line)

	_, line, fn, err = tab.PCToLine(0x2020)
	require.NoError(t, err)
	assert.Equal(t, 20, line)
	assert.Equal(t, "main.helper", fn.Sym.Name)

	_, _, _, err = tab.PCToLine(0x1000)
	require.ErrorIs(t, err, ErrNotFound)
	_, _, _, err = tab.PCToLine(0x6000)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLegacyLineToPC(t *testing.T) {
	tab := legacyTable(t)

	pc, fn, err := tab.LineToPC("src/main.go", 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2004), pc)
	assert.Equal(t, "main.main", fn.Sym.Name)

	pc, fn, err = tab.LineToPC("src/main.go", 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2010), pc)
	assert.Equal(t, "main.helper", fn.Sym.Name)

	// Lines between samples are not rounded forward.
	_, _, err = tab.LineToPC("src/main.go", 7)
	var unknownLine *UnknownLineError
	require.ErrorAs(t, err, &unknownLine)
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = tab.LineToPC("nope.go", 1)
	var unknownFile UnknownFileError
	require.ErrorAs(t, err, &unknownFile)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLegacyLookup(t *testing.T) {
	tab := legacyTable(t)

	fn, err := tab.LookupFunc("main.main")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2000), fn.Entry)

	fn, err = tab.LookupFunc("main.helper")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2010), fn.Entry)

	_, err = tab.LookupFunc("main.data")
	require.ErrorIs(t, err, ErrNotFound)

	s, err := tab.LookupSym("main.data")
	require.NoError(t, err)
	assert.Equal(t, KindData, s.Kind)
	assert.False(t, s.Static())

	s, err = tab.LookupSym("main.bss")
	require.NoError(t, err)
	assert.Equal(t, KindBSS, s.Kind)
	assert.True(t, s.Static())

	_, err = tab.LookupSym("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLegacySkippedRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSymtabMetrics(reg)
	data := newSymStream().
		sym('T', 0x2000, "main.main").
		sym('Q', 0x9999, "weird").
		buf
	tab, err := NewTable(data, nil, WithMetrics(m))
	require.NoError(t, err)
	require.Len(t, tab.Funcs, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SkippedSymbols))
}

func TestLegacyMalformed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSymtabMetrics(reg)
	data := newSymStream().
		sym('T', 0x2000, "main.main").
		path(7). // code 7 never declared
		buf
	_, err := NewTable(data, nil, WithMetrics(m))
	var malformed *MalformedSymbolRecordError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BuildErrors.WithLabelValues("malformed_record")))
}

// Functions without a closing record extend to the top of the address
// space.
func TestLegacyOpenLastFunc(t *testing.T) {
	data := newSymStream().
		sym('T', 0x2000, "main.main").
		line(0x2000, 5).
		buf
	tab, err := NewTable(data, nil)
	require.NoError(t, err)
	require.Len(t, tab.Funcs, 1)
	assert.Equal(t, ^uint64(0), tab.Funcs[0].End)

	_, line, _, err := tab.PCToLine(1 << 40)
	require.NoError(t, err)
	assert.Equal(t, 5, line)
}

func TestModernTable(t *testing.T) {
	tab, err := NewTable(nil, modernLineTable(t))
	require.NoError(t, err)

	require.Len(t, tab.Funcs, 1)
	fn := tab.Funcs[0]
	require.NotNil(t, fn.Sym)
	assert.Equal(t, "main.main", fn.Sym.Name)
	assert.Equal(t, uint64(0x1000), fn.Entry)
	assert.Equal(t, uint64(0x1010), fn.End)

	file, line, gotFn, err := tab.PCToLine(0x1004)
	require.NoError(t, err)
	assert.Equal(t, "main.go", file)
	assert.Equal(t, 10, line)
	assert.Equal(t, "main.main", gotFn.Sym.Name)

	_, line, _, err = tab.PCToLine(0x1008)
	require.NoError(t, err)
	assert.Equal(t, 11, line)

	_, _, _, err = tab.PCToLine(0x2000)
	require.ErrorIs(t, err, ErrNotFound)

	pc, gotFn, err := tab.LineToPC("main.go", 11)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1008), pc)
	assert.Equal(t, "main.main", gotFn.Sym.Name)

	_, _, err = tab.LineToPC("main.go", 12)
	var unknownLine *UnknownLineError
	require.ErrorAs(t, err, &unknownLine)

	_, _, err = tab.LineToPC("nope.go", 1)
	require.ErrorIs(t, err, ErrNotFound)

	s, err := tab.SymByAddr(0x1004)
	require.NoError(t, err)
	assert.Equal(t, "main.main", s.Name)
	assert.Equal(t, KindText, s.Kind)
}

// The modern backend ignores legacy symbol bytes entirely.
func TestModernIgnoresSymdata(t *testing.T) {
	tab, err := NewTable([]byte("garbage"), modernLineTable(t))
	require.NoError(t, err)
	require.Len(t, tab.Funcs, 1)
}

func TestSymKindString(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "bss", KindBSS.String())
	assert.Equal(t, "other", KindOther.String())
	assert.Equal(t, "other", SymKind(200).String())
}

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, UnknownFileError("a.go"), "unknown file: a.go")
	assert.EqualError(t, &UnknownLineError{File: "a.go", Line: 7}, "no code at a.go:7")
	assert.True(t, errors.Is(&UnknownLineError{}, ErrNotFound))
}

func BenchmarkSymByAddr(b *testing.B) {
	tab, err := NewTable(legacyFixture(), nil)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tab.SymByAddr(0x2000 + uint64(i)%0x3000); err != nil {
			b.Fatal(err)
		}
	}
}
