package mp4

import (
	"fmt"
)

// File is a fully parsed MP4 buffer. The box tree and the underlying
// buffer are immutable after Parse returns and may be read from any
// goroutine without locking.
type File struct {
	buf  []byte
	root Box

	// Moov is the movie box, or nil when absent.
	Moov *Box
	// Traks maps each trak box by its tkhd track id. Registration
	// happens as each trak completes parsing; declaration order is
	// irrelevant to the key.
	Traks map[uint32]*Box
}

// Parse decodes an entire ISO BMFF buffer into a box tree. The buffer
// must hold the complete file; there is no incremental mode. On any
// structural violation or unsupported variant the whole parse fails
// and no partial tree is returned.
func Parse(buf []byte) (*File, error) {
	f := &File{buf: buf, Traks: make(map[uint32]*Box)}
	st := NewStream(buf)
	if err := f.readBoxes(st, &f.root); err != nil {
		return nil, err
	}
	f.Moov = f.root.Child(TypeMoov)
	return f, nil
}

// Buffer returns the underlying file buffer. Callers must treat it as
// read-only.
func (f *File) Buffer() []byte { return f.buf }

// Boxes returns the top-level boxes in file order.
func (f *File) Boxes() []*Box { return f.root.Kids }

// Find resolves a dotted box path from the top level, e.g.
// "moov.trak[1].mdia.minf.stbl.stsd". Returns nil if any segment is
// missing.
func (f *File) Find(path string) *Box { return f.root.Find(path) }

// readBoxes reads child boxes while at least a size field remains and
// the next declared size is non-zero, attaching each child to parent.
// The stream is always a sub-cursor bounded to the parent's remaining
// content, so a child can never overrun the parent.
func (f *File) readBoxes(st *Stream, parent *Box) error {
	for st.Remain() >= 4 {
		next, err := st.Peek32()
		if err != nil {
			return err
		}
		if next == 0 {
			break
		}
		child, err := f.readBox(st)
		if err != nil {
			return err
		}
		parent.attach(child)
	}
	return nil
}

// readBox reads one box header and dispatches on the type code.
// Unknown types are recorded by header only and their content skipped;
// they are never an error.
func (f *File) readBox(st *Stream) (*Box, error) {
	offset := st.Offset()
	size, err := st.ReadU32()
	if err != nil {
		return nil, err
	}
	typ, err := st.Read4CC()
	if err != nil {
		return nil, err
	}
	if size == 1 {
		return nil, fmt.Errorf("%w: box %s at offset %d declares a 64-bit size", ErrUnsupportedVariant, typ, offset)
	}

	box := &Box{Type: typ, Size: uint64(size), Offset: offset}
	header := 8
	if fullBoxes[typ] {
		vf, err := st.ReadU32()
		if err != nil {
			return nil, err
		}
		box.Version = uint8(vf >> 24)
		box.Flags = vf & 0x00ffffff
		header += 4
	}
	if int(size) < header {
		return nil, fmt.Errorf("%w: box %s at offset %d declares size %d, below its %d-byte header", ErrTruncated, typ, offset, size, header)
	}

	// Bound the content; the parent stream advances past the whole box
	// here, so trailing slack inside the box is skipped, never left for
	// the parent to misread as a new box.
	content, err := st.Sub(int(size) - header)
	if err != nil {
		return nil, fmt.Errorf("box %s at offset %d: %w", typ, offset, err)
	}

	if dec := decoders[typ]; dec != nil {
		if err := dec(f, box, content); err != nil {
			return nil, fmt.Errorf("decoding %s at offset %d: %w", typ, offset, err)
		}
	} else if containerTypes[typ] {
		if err := f.readBoxes(content, box); err != nil {
			return nil, fmt.Errorf("in container %s: %w", typ, err)
		}
	}
	// Any other type: header recognized, content skipped.

	if typ == TypeTrak {
		f.registerTrak(box)
	}
	return box, nil
}

func (f *File) registerTrak(trak *Box) {
	if tkhd := trak.Child(TypeTkhd); tkhd != nil && tkhd.Tkhd != nil {
		f.Traks[tkhd.Tkhd.TrackID] = trak
	}
}
