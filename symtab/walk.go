package symtab

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/grafana/gosymtab/symtab/gosym"
)

// Legacy symbol table headers. The "new" header carries a pointer size
// byte and varint-encoded values; the old header is a fixed 32-bit
// layout. Both endiannesses occur in the wild.
var (
	littleEndianSymtab    = []byte{0xFD, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	bigEndianSymtab       = []byte{0xFF, 0xFF, 0xFF, 0xFD, 0x00, 0x00, 0x00}
	oldLittleEndianSymtab = []byte{0xFE, 0xFF, 0xFF, 0xFF, 0x00, 0x00}
)

// rawSym is one record of the legacy stream before interpretation.
type rawSym struct {
	value  uint64
	typ    byte
	name   []byte
	gotype uint64
}

// walkSymtab decodes the legacy record stream, calling fn once per
// record. The name bytes passed to fn are only valid for the duration
// of the call.
func walkSymtab(data []byte, fn func(off int, s *rawSym) error) error {
	if len(data) == 0 {
		return nil
	}
	var order binary.ByteOrder = binary.BigEndian
	newTable := false
	switch {
	case bytes.HasPrefix(data, oldLittleEndianSymtab):
		// Same format as Go 1.0, but little endian.
		data = data[6:]
		order = binary.LittleEndian
	case bytes.HasPrefix(data, bigEndianSymtab):
		newTable = true
	case bytes.HasPrefix(data, littleEndianSymtab):
		newTable = true
		order = binary.LittleEndian
	}

	ptrsz := 0
	if newTable {
		if len(data) < 8 {
			return fmt.Errorf("symbol table header: %w", gosym.ErrTruncated)
		}
		ptrsz = int(data[7])
		if ptrsz != 4 && ptrsz != 8 {
			return fmt.Errorf("pointer size %d: %w", ptrsz, gosym.ErrUnsupportedVersion)
		}
		data = data[8:]
	}

	var s rawSym
	p := data
	for len(p) >= 4 {
		off := len(data) - len(p)
		var typ byte
		if newTable {
			// Symbol type, value, Go type.
			typ = p[0] & 0x3F
			wideValue := p[0]&0x40 != 0
			goType := p[0]&0x80 != 0
			if typ < 26 {
				typ += 'A'
			} else {
				typ += 'a' - 26
			}
			s.typ = typ
			p = p[1:]
			if wideValue {
				if len(p) < ptrsz {
					return &MalformedSymbolRecordError{Off: off, Tag: typ, Msg: "unexpected EOF reading value"}
				}
				// fixed-width value
				if ptrsz == 8 {
					s.value = order.Uint64(p)
					p = p[8:]
				} else {
					s.value = uint64(order.Uint32(p))
					p = p[4:]
				}
			} else {
				// varint value
				s.value = 0
				shift := uint(0)
				for len(p) > 0 && p[0]&0x80 != 0 {
					s.value |= uint64(p[0]&0x7F) << shift
					shift += 7
					p = p[1:]
				}
				if len(p) == 0 {
					return &MalformedSymbolRecordError{Off: off, Tag: typ, Msg: "unexpected EOF reading value"}
				}
				s.value |= uint64(p[0]) << shift
				p = p[1:]
			}
			if goType {
				if len(p) < ptrsz {
					return &MalformedSymbolRecordError{Off: off, Tag: typ, Msg: "unexpected EOF reading type"}
				}
				// fixed-width Go type
				if ptrsz == 8 {
					s.gotype = order.Uint64(p)
					p = p[8:]
				} else {
					s.gotype = uint64(order.Uint32(p))
					p = p[4:]
				}
			} else {
				s.gotype = 0
			}
		} else {
			// Value, symbol type.
			s.value = uint64(order.Uint32(p))
			if len(p) < 5 {
				return &MalformedSymbolRecordError{Off: off, Msg: "unexpected EOF reading record"}
			}
			typ = p[4]
			if typ&0x80 == 0 {
				return &MalformedSymbolRecordError{Off: off, Tag: typ, Msg: "bad symbol type"}
			}
			typ &^= 0x80
			s.typ = typ
			p = p[5:]
		}

		// Name.
		var i int
		var nnul int
		for i = 0; i < len(p); i++ {
			if p[i] == 0 {
				nnul = 1
				break
			}
		}
		switch typ {
		case 'z', 'Z':
			// Path records use 16-bit filename-table codes
			// terminated by a double NUL.
			p = p[i+nnul:]
			for i = 0; i+2 <= len(p); i += 2 {
				if p[i] == 0 && p[i+1] == 0 {
					nnul = 2
					break
				}
			}
		}
		if len(p) < i+nnul {
			return &MalformedSymbolRecordError{Off: off, Tag: typ, Msg: "unexpected EOF reading name"}
		}
		s.name = p[0:i]
		i += nnul
		p = p[i:]

		if !newTable {
			if len(p) < 4 {
				return &MalformedSymbolRecordError{Off: off, Tag: typ, Msg: "unexpected EOF reading type"}
			}
			s.gotype = uint64(order.Uint32(p))
			p = p[4:]
		}

		if err := fn(off, &s); err != nil {
			return err
		}
	}
	return nil
}
