// Package mp4test hand-encodes synthetic MP4 fixtures for tests.
package mp4test

import "encoding/binary"

// Primitive builders. Everything is big-endian, matching the wire
// format of ISO BMFF boxes.

func U16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func U32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func FourCC(s string) []byte {
	b := make([]byte, 4)
	copy(b, s)
	return b
}

func Zeros(n int) []byte {
	return make([]byte, n)
}

func Cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Box encodes a plain box: u32 size, 4CC type, payload.
func Box(typ string, parts ...[]byte) []byte {
	body := Cat(parts...)
	return Cat(U32(uint32(8+len(body))), FourCC(typ), body)
}

// FullBox encodes a box with a version+flags word before the payload.
func FullBox(typ string, version byte, flags uint32, parts ...[]byte) []byte {
	vf := uint32(version)<<24 | flags&0x00ffffff
	return Box(typ, Cat(U32(vf), Cat(parts...)))
}

// PString encodes a Pascal string in a fixed-width field.
func PString(s string, width int) []byte {
	b := make([]byte, width)
	b[0] = byte(len(s))
	copy(b[1:], s)
	return b
}

// UnityMatrix is the identity transform used by mvhd and tkhd.
func UnityMatrix() []byte {
	return Cat(
		U32(0x00010000), U32(0), U32(0),
		U32(0), U32(0x00010000), U32(0),
		U32(0), U32(0), U32(0x40000000),
	)
}

// langUnd is "und" packed as three 5-bit characters.
const langUnd = 0x55c4

// File is a complete synthetic fixture: one avc1 video track laid out
// over five chunks and one uniform-size mp4a audio track, with the
// mdat placed before the moov so chunk offsets are known while
// building.
type File struct {
	Data []byte

	VideoSizes        []uint32
	VideoChunkOffsets []uint32
	AudioChunkOffset  uint32

	SPS []byte
	PPS []byte

	// Sample0 is the first video sample: two NAL units of lengths 2
	// and 1 in AVCC framing.
	Sample0 []byte
}

// Options tweaks the fixture for failure-path tests. Zero values give
// the consistent default file.
type Options struct {
	TkhdVersion   byte   // non-zero builds a tkhd the parser must refuse
	VideoDuration uint32 // 0 means the stts-consistent value of 20
}

// Build assembles the fixture.
func Build(opts Options) *File {
	f := &File{
		SPS:     []byte{0x67, 0x64, 0x00, 0x1e},
		PPS:     []byte{0x68, 0xee},
		Sample0: []byte{0, 0, 0, 2, 0xaa, 0xbb, 0, 0, 0, 1, 0xcc},
	}
	videoDur := opts.VideoDuration
	if videoDur == 0 {
		videoDur = 20
	}

	ftyp := Box("ftyp", FourCC("isom"), U32(0x200), FourCC("isom"), FourCC("avc1"))

	// Video media data: sample 0 is Sample0, samples 1..8 hold one
	// single-byte NAL each. Chunk population follows the stsc table
	// below: 3+3+1+1+1.
	videoSamples := [][]byte{f.Sample0}
	f.VideoSizes = []uint32{uint32(len(f.Sample0))}
	for i := 1; i < 9; i++ {
		videoSamples = append(videoSamples, []byte{0, 0, 0, 1, byte(0x60 + i)})
		f.VideoSizes = append(f.VideoSizes, 5)
	}
	chunkPop := []int{3, 3, 1, 1, 1}

	mdatContentOff := uint32(len(ftyp)) + 8
	var mdatContent []byte
	next := 0
	for _, n := range chunkPop {
		f.VideoChunkOffsets = append(f.VideoChunkOffsets, mdatContentOff+uint32(len(mdatContent)))
		for i := 0; i < n; i++ {
			mdatContent = append(mdatContent, videoSamples[next]...)
			next++
		}
	}
	f.AudioChunkOffset = mdatContentOff + uint32(len(mdatContent))
	mdatContent = append(mdatContent, 1, 2, 3, 4, 5, 6, 7, 8) // two 4-byte audio samples
	mdat := Box("mdat", mdatContent)

	videoTrak := Box("trak",
		FullBox("tkhd", opts.TkhdVersion, 3,
			U32(0), U32(0), // creation, modification
			U32(1),   // track id
			Zeros(4), // reserved
			U32(videoDur),
			Zeros(8),
			U16(0), U16(0), // layer, alternate group
			U16(0), Zeros(2), // volume, reserved
			UnityMatrix(),
			U32(640<<16), U32(360<<16),
		),
		Box("mdia",
			FullBox("mdhd", 0, 0,
				U32(0), U32(0),
				U32(1000), U32(videoDur),
				U16(langUnd), Zeros(2),
			),
			FullBox("hdlr", 0, 0,
				Zeros(4), FourCC("vide"), Zeros(12), []byte("VideoHandler"),
			),
			Box("minf",
				// vmhd has no decoder here; it must be skipped cleanly.
				Box("vmhd", U32(1), Zeros(8)),
				Box("stbl",
					FullBox("stsd", 0, 0, U32(1), avc1Entry(f.SPS, f.PPS)),
					FullBox("stts", 0, 0, U32(3),
						U32(4), U32(3),
						U32(2), U32(1),
						U32(3), U32(2),
					),
					FullBox("stss", 0, 0, U32(1), U32(1)),
					FullBox("stsc", 0, 0, U32(3),
						U32(1), U32(3), U32(23),
						U32(3), U32(1), U32(23),
						U32(5), U32(1), U32(24),
					),
					stszTable(f.VideoSizes),
					stcoTable(f.VideoChunkOffsets),
				),
			),
		),
	)

	audioTrak := Box("trak",
		FullBox("tkhd", 0, 3,
			U32(0), U32(0),
			U32(2),
			Zeros(4),
			U32(1024),
			Zeros(8),
			U16(0), U16(0),
			U16(0x0100), Zeros(2),
			UnityMatrix(),
			U32(0), U32(0),
		),
		Box("mdia",
			FullBox("mdhd", 0, 0,
				U32(0), U32(0),
				U32(44100), U32(1024),
				U16(langUnd), Zeros(2),
			),
			FullBox("hdlr", 0, 0,
				Zeros(4), FourCC("soun"), Zeros(12), []byte("SoundHandler"),
			),
			Box("minf",
				FullBox("smhd", 0, 0, U16(0), Zeros(2)),
				Box("stbl",
					FullBox("stsd", 0, 0, U32(1), mp4aEntry()),
					FullBox("stts", 0, 0, U32(1), U32(2), U32(512)),
					FullBox("stsc", 0, 0, U32(1), U32(1), U32(2), U32(1)),
					FullBox("stsz", 0, 0, U32(4), U32(2)), // uniform size, no table
					FullBox("stco", 0, 0, U32(1), U32(f.AudioChunkOffset)),
				),
			),
		),
	)

	moov := Box("moov",
		FullBox("mvhd", 0, 0,
			U32(0), U32(0),
			U32(1000), U32(videoDur),
			U32(0x00010000), // rate 1.0
			U16(0x0100),     // volume 1.0
			Zeros(10),
			UnityMatrix(),
			Zeros(24),
			U32(3),
		),
		videoTrak,
		audioTrak,
	)

	f.Data = Cat(ftyp, mdat, moov)
	return f
}

func avc1Entry(sps, pps []byte) []byte {
	avcC := Box("avcC",
		[]byte{1, 0x64, 0x00, 0x1e, 0xff},
		[]byte{0xe1}, U16(uint16(len(sps))), sps,
		[]byte{0x01}, U16(uint16(len(pps))), pps,
	)
	btrt := Box("btrt", U32(0), U32(200000), U32(150000))
	return Box("avc1",
		Zeros(6), U16(1), // reserved, data reference index
		Zeros(16), // version .. spatial quality
		U16(640), U16(360),
		U32(0x00480000), U32(0x00480000), // 72 dpi
		Zeros(4), U16(1),
		PString("goenc", 32),
		U16(24), U16(0xffff),
		avcC, btrt,
	)
}

func mp4aEntry() []byte {
	esds := FullBox("esds", 0, 0, []byte{
		0x03, 0x16, 0x00, 0x01, 0x00, // ESDescriptor, id 1
		0x04, 0x11, 0x40, 0x15, 0x00, 0x00, 0x00, // DecoderConfig, AAC
		0x00, 0x01, 0xf4, 0x00, // max bitrate
		0x00, 0x01, 0x2c, 0x00, // avg bitrate
		0x05, 0x02, 0x12, 0x10, // DecoderSpecificInfo, AAC-LC
	})
	return Box("mp4a",
		Zeros(6), U16(1),
		U16(0),   // version
		Zeros(6), // revision, vendor
		U16(2), U16(16), // channels, sample size
		U16(0), U16(0), // compression id, packet size
		U32(44100<<16),
		esds,
	)
}

func stszTable(sizes []uint32) []byte {
	parts := [][]byte{U32(0), U32(uint32(len(sizes)))}
	for _, s := range sizes {
		parts = append(parts, U32(s))
	}
	return FullBox("stsz", 0, 0, Cat(parts...))
}

func stcoTable(offsets []uint32) []byte {
	parts := [][]byte{U32(uint32(len(offsets)))}
	for _, o := range offsets {
		parts = append(parts, U32(o))
	}
	return FullBox("stco", 0, 0, Cat(parts...))
}
