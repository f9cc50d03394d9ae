package gosym

// cursor is an explicit read position over the line table buffer.
// Decode steps pass it by pointer; nothing else holds read state.
type cursor struct {
	buf []byte
	off int
}

// uvarint decodes one unsigned base-128 varint at the cursor.
func (c *cursor) uvarint() (uint32, error) {
	var v, shift uint32
	for {
		if c.off >= len(c.buf) {
			return 0, ErrTruncated
		}
		b := c.buf[c.off]
		c.off++
		v |= (uint32(b) & 0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// varint decodes one zig-zag encoded signed varint at the cursor.
func (c *cursor) varint() (int32, error) {
	v, err := c.uvarint()
	if err != nil {
		return 0, err
	}
	return zigzag(v), nil
}

func zigzag(v uint32) int32 {
	if v&1 != 0 {
		return int32(^(v >> 1))
	}
	return int32(v >> 1)
}
