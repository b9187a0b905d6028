// Package mp4 demuxes ISO Base Media File Format (MP4) containers into
// a navigable box tree.
package mp4

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

var be = binary.BigEndian

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// newBoxType creates a BoxType from a 4-character string.
func newBoxType(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Known box types.
var (
	TypeFtyp = newBoxType("ftyp")
	TypeMoov = newBoxType("moov")
	TypeMvhd = newBoxType("mvhd")
	TypeTrak = newBoxType("trak")
	TypeTkhd = newBoxType("tkhd")
	TypeMdia = newBoxType("mdia")
	TypeMdhd = newBoxType("mdhd")
	TypeHdlr = newBoxType("hdlr")
	TypeMinf = newBoxType("minf")
	TypeSmhd = newBoxType("smhd")
	TypeStbl = newBoxType("stbl")
	TypeStsd = newBoxType("stsd")
	TypeStts = newBoxType("stts")
	TypeStsc = newBoxType("stsc")
	TypeStsz = newBoxType("stsz")
	TypeStco = newBoxType("stco")
	TypeStss = newBoxType("stss")
	TypeMdat = newBoxType("mdat")
	TypeAvc1 = newBoxType("avc1")
	TypeAvcC = newBoxType("avcC")
	TypeBtrt = newBoxType("btrt")
	TypeMp4a = newBoxType("mp4a")
	TypeEsds = newBoxType("esds")
)

// Parse errors. Structural violations and unsupported variants abort
// the whole-file parse; no partial tree is handed to callers.
var (
	// ErrTruncated reports a declared size that exceeds the remaining
	// buffer, or a child overrunning its container.
	ErrTruncated = errors.New("mp4: truncated box data")
	// ErrUnsupportedVariant reports a box layout this parser does not
	// implement; reading on would misinterpret every following field.
	ErrUnsupportedVariant = errors.New("mp4: unsupported box variant")
)

// containerTypes is the set of pure container boxes: their content is
// nothing but child boxes.
var containerTypes = map[BoxType]bool{
	TypeMoov: true,
	TypeTrak: true,
	TypeMdia: true,
	TypeMinf: true,
	TypeStbl: true,
}

// IsContainerBox reports whether boxes of this type hold only children.
func IsContainerBox(t BoxType) bool {
	return containerTypes[t]
}

// fullBoxes is the set of box types that have version+flags in their
// header.
var fullBoxes = map[BoxType]bool{
	TypeMvhd: true, TypeTkhd: true, TypeMdhd: true, TypeHdlr: true,
	TypeSmhd: true, TypeStsd: true, TypeEsds: true, TypeStts: true,
	TypeStss: true, TypeStsc: true, TypeStsz: true, TypeStco: true,
}

// IsFullBox reports whether boxes of this type carry version and flags.
func IsFullBox(t BoxType) bool {
	return fullBoxes[t]
}

// Box is one node of the parsed tree. Size is the total encoded length
// declared in the stream, header included; Offset is the absolute byte
// position where the box began. Children are stored as an ordered
// multimap: Kids preserves first-seen file order, Children indexes the
// same nodes by type.
type Box struct {
	Type    BoxType
	Size    uint64
	Offset  int64
	Version uint8  // full boxes only
	Flags   uint32 // full boxes only

	Kids     []*Box
	Children map[BoxType][]*Box

	// Typed payload: at most one of these is non-nil.
	Ftyp   *Ftyp
	Mvhd   *Mvhd
	Tkhd   *Tkhd
	Mdhd   *Mdhd
	Hdlr   *Hdlr
	Smhd   *Smhd
	Stsd   *Stsd
	Stts   *Stts
	Stsc   *Stsc
	Stsz   *Stsz
	Stco   *Stco // also used for stss
	Visual *VisualSampleEntry
	Audio  *AudioSampleEntry
	AvcC   *AvcC
	Btrt   *Btrt
	Esds   *Esds
	Mdat   *Mdat
}

func (b *Box) attach(child *Box) {
	if b.Children == nil {
		b.Children = make(map[BoxType][]*Box)
	}
	b.Kids = append(b.Kids, child)
	b.Children[child.Type] = append(b.Children[child.Type], child)
}

// Child returns the first child box of the given type, or nil.
func (b *Box) Child(t BoxType) *Box {
	cs := b.Children[t]
	if len(cs) == 0 {
		return nil
	}
	return cs[0]
}

// ChildList returns all child boxes of the given type, in file order.
func (b *Box) ChildList(t BoxType) []*Box {
	return b.Children[t]
}

// Find resolves a dotted box path relative to this box, e.g.
// "mdia.minf.stbl.stsd". A segment may carry an index to select among
// repeated children, e.g. "trak[1]"; without one the first child of
// that type is used. Returns nil if any segment is missing.
func (b *Box) Find(path string) *Box {
	cur := b
	for _, seg := range strings.Split(path, ".") {
		name := seg
		idx := 0
		if i := strings.IndexByte(seg, '['); i >= 0 && strings.HasSuffix(seg, "]") {
			n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
			if err != nil {
				return nil
			}
			name, idx = seg[:i], n
		}
		if len(name) != 4 {
			return nil
		}
		cs := cur.ChildList(newBoxType(name))
		if idx < 0 || idx >= len(cs) {
			return nil
		}
		cur = cs[idx]
	}
	return cur
}
