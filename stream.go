package mp4

import (
	"fmt"
)

// Stream is a positioned big-endian reader over an in-memory buffer.
// A Stream never copies the underlying bytes: ReadBytes and Sub return
// views into the same backing array. All reads are bounds-checked and
// report ErrTruncated instead of panicking.
type Stream struct {
	buf []byte
	pos int
	off int64 // absolute file offset of buf[0]
}

// NewStream creates a Stream over buf. The stream's absolute offsets
// start at zero.
func NewStream(buf []byte) *Stream {
	return &Stream{buf: buf}
}

// Len returns the total length of the stream's window.
func (s *Stream) Len() int { return len(s.buf) }

// Pos returns the current position within the stream's window.
func (s *Stream) Pos() int { return s.pos }

// Remain returns the number of unread bytes.
func (s *Stream) Remain() int { return len(s.buf) - s.pos }

// Offset returns the absolute file offset of the current position.
func (s *Stream) Offset() int64 { return s.off + int64(s.pos) }

func (s *Stream) need(n int) error {
	if n < 0 || s.Remain() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, s.Offset(), s.Remain())
	}
	return nil
}

// Skip advances the position by n bytes.
func (s *Stream) Skip(n int) error {
	if err := s.need(n); err != nil {
		return err
	}
	s.pos += n
	return nil
}

// ReadU8 reads one byte.
func (s *Stream) ReadU8() (uint8, error) {
	if err := s.need(1); err != nil {
		return 0, err
	}
	v := s.buf[s.pos]
	s.pos++
	return v, nil
}

// ReadU16 reads a big-endian 16-bit integer.
func (s *Stream) ReadU16() (uint16, error) {
	if err := s.need(2); err != nil {
		return 0, err
	}
	v := be.Uint16(s.buf[s.pos:])
	s.pos += 2
	return v, nil
}

// ReadU24 reads a big-endian 24-bit integer.
func (s *Stream) ReadU24() (uint32, error) {
	if err := s.need(3); err != nil {
		return 0, err
	}
	b := s.buf[s.pos:]
	s.pos += 3
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadU32 reads a big-endian 32-bit integer.
func (s *Stream) ReadU32() (uint32, error) {
	if err := s.need(4); err != nil {
		return 0, err
	}
	v := be.Uint32(s.buf[s.pos:])
	s.pos += 4
	return v, nil
}

// Peek32 returns the next big-endian 32-bit integer without advancing.
func (s *Stream) Peek32() (uint32, error) {
	if err := s.need(4); err != nil {
		return 0, err
	}
	return be.Uint32(s.buf[s.pos:]), nil
}

// ReadFP8 reads an 8.8 fixed-point number.
func (s *Stream) ReadFP8() (float64, error) {
	v, err := s.ReadU16()
	if err != nil {
		return 0, err
	}
	return float64(v) / 256, nil
}

// ReadFP16 reads a 16.16 fixed-point number.
func (s *Stream) ReadFP16() (float64, error) {
	v, err := s.ReadU32()
	if err != nil {
		return 0, err
	}
	return float64(v) / 65536, nil
}

// Read4CC reads a four-character code.
func (s *Stream) Read4CC() (BoxType, error) {
	var t BoxType
	if err := s.need(4); err != nil {
		return t, err
	}
	copy(t[:], s.buf[s.pos:])
	s.pos += 4
	return t, nil
}

// ReadISO639 reads a packed ISO-639 language code (three 5-bit
// characters in two bytes) as a 3-letter string.
func (s *Stream) ReadISO639() (string, error) {
	v, err := s.ReadU16()
	if err != nil {
		return "", err
	}
	c := [3]byte{
		byte(v>>10&0x1f) + 0x60,
		byte(v>>5&0x1f) + 0x60,
		byte(v&0x1f) + 0x60,
	}
	return string(c[:]), nil
}

// ReadUTF8 reads n bytes as a string.
func (s *Stream) ReadUTF8(n int) (string, error) {
	if err := s.need(n); err != nil {
		return "", err
	}
	v := string(s.buf[s.pos : s.pos+n])
	s.pos += n
	return v, nil
}

// ReadPString reads a Pascal string (length byte plus content) stored
// in a fixed field of max bytes. The stream advances by max regardless
// of the encoded length.
func (s *Stream) ReadPString(max int) (string, error) {
	if err := s.need(max); err != nil {
		return "", err
	}
	n := int(s.buf[s.pos])
	if n > max-1 {
		n = max - 1
	}
	v := string(s.buf[s.pos+1 : s.pos+1+n])
	s.pos += max
	return v, nil
}

// ReadBytes returns the next n bytes as a sub-slice of the underlying
// buffer, without copying.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if err := s.need(n); err != nil {
		return nil, err
	}
	v := s.buf[s.pos : s.pos+n : s.pos+n]
	s.pos += n
	return v, nil
}

// ReadU32Array reads n big-endian 32-bit integers.
func (s *Stream) ReadU32Array(n int) ([]uint32, error) {
	if err := s.need(n * 4); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = be.Uint32(s.buf[s.pos+i*4:])
	}
	s.pos += n * 4
	return out, nil
}

// Sub returns a bounded sub-stream over the next length bytes and
// advances the parent past them. The sub-stream shares the underlying
// buffer and keeps absolute offsets intact.
func (s *Stream) Sub(length int) (*Stream, error) {
	if err := s.need(length); err != nil {
		return nil, err
	}
	sub := &Stream{
		buf: s.buf[s.pos : s.pos+length : s.pos+length],
		off: s.off + int64(s.pos),
	}
	s.pos += length
	return sub, nil
}
