package mp4

// MPEG-4 descriptor walk for esds boxes. The chain is kept opaque in
// the box tree; the only thing derived from it is the codec id suffix
// (object type indication plus audio object type, e.g. "40.2").

import (
	"fmt"
)

const (
	tagESDescriptor            = 0x03
	tagDecoderConfigDescriptor = 0x04
	tagDecoderSpecificInfo     = 0x05
)

// esdsMimeCodec derives the codec id suffix from raw esds content.
// Returns "" when the descriptor chain is malformed or incomplete;
// a broken esds never fails the parse.
func esdsMimeCodec(buf []byte) string {
	oti, audioConfig := parseEsdsConfig(buf)
	if oti == 0 {
		return ""
	}
	if audioConfig == 0 {
		return fmt.Sprintf("%x", oti)
	}
	return fmt.Sprintf("%x.%d", oti, audioConfig)
}

// parseEsdsConfig walks ESDescriptor -> DecoderConfigDescriptor ->
// DecoderSpecificInfo and extracts the object type indication and the
// audio object type.
func parseEsdsConfig(buf []byte) (oti, audioConfig byte) {
	ptr, end := 0, len(buf)
	if ptr >= end || buf[ptr] != tagESDescriptor {
		return 0, 0
	}
	ptr++
	ptr, _ = readDescLen(buf, ptr, end)
	if ptr < 0 || ptr+3 > end {
		return 0, 0
	}
	flags := buf[ptr+2]
	ptr += 3
	if flags&0x80 != 0 { // streamDependenceFlag
		ptr += 2
	}
	if flags&0x40 != 0 { // URL_Flag
		if ptr >= end {
			return 0, 0
		}
		ptr += 1 + int(buf[ptr])
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		ptr += 2
	}

	if ptr >= end || buf[ptr] != tagDecoderConfigDescriptor {
		return 0, 0
	}
	ptr++
	ptr, _ = readDescLen(buf, ptr, end)
	if ptr < 0 || ptr+13 > end {
		return 0, 0
	}
	oti = buf[ptr]
	if oti == 0 {
		return 0, 0
	}
	ptr += 13

	if ptr >= end || buf[ptr] != tagDecoderSpecificInfo {
		return oti, 0
	}
	ptr++
	ptr, n := readDescLen(buf, ptr, end)
	if ptr < 0 || n == 0 || ptr >= end {
		return oti, 0
	}
	return oti, (buf[ptr] & 0xf8) >> 3
}

// readDescLen consumes a variable-length descriptor size (7 bits per
// byte, high bit continues) and returns the next position and the
// decoded length, or -1 when the length never terminates.
func readDescLen(buf []byte, ptr, end int) (int, int) {
	length := 0
	for ptr < end {
		b := buf[ptr]
		ptr++
		length = length<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			return ptr, length
		}
	}
	return -1, 0
}
