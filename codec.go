package mp4

import (
	"fmt"
)

// Typed payloads for each known box, and their decoders. Every decoder
// receives a sub-stream bounded to the box content, so a malformed
// field count can never read past the declaring box.

// Ftyp is the file type box payload.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

// Mvhd is the movie header box payload (version 0 only).
type Mvhd struct {
	CreationTime     uint32
	ModificationTime uint32
	TimeScale        uint32
	Duration         uint32
	Rate             float64 // 16.16 fixed
	Volume           float64 // 8.8 fixed
	Matrix           [9]uint32
	NextTrackID      uint32
}

// Tkhd is the track header box payload (version 0 only).
type Tkhd struct {
	CreationTime     uint32
	ModificationTime uint32
	TrackID          uint32
	Duration         uint32
	Layer            uint16
	AlternateGroup   uint16
	Volume           float64 // 8.8 fixed
	Matrix           [9]uint32
	Width            float64 // 16.16 fixed
	Height           float64 // 16.16 fixed
}

// Mdhd is the media header box payload (version 0 only).
type Mdhd struct {
	CreationTime     uint32
	ModificationTime uint32
	TimeScale        uint32
	Duration         uint32
	Language         string // ISO-639 3-letter code
}

// Hdlr is the handler reference box payload.
type Hdlr struct {
	HandlerType BoxType
	Name        string
}

// Smhd is the sound media header box payload.
type Smhd struct {
	Balance float64 // 8.8 fixed
}

// Stsd is the sample description box payload; the sample entries
// themselves (avc1, mp4a, ...) attach as children of the stsd box.
type Stsd struct {
	EntryCount uint32
}

// VisualSampleEntry is the avc1 sample entry payload; nested boxes
// (notably avcC) attach as children.
type VisualSampleEntry struct {
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HorizResolution    float64 // 16.16 fixed, dpi
	VertResolution     float64
	FrameCount         uint16
	CompressorName     string
	Depth              uint16
}

// AudioSampleEntry is the mp4a sample entry payload (version 0 only);
// nested boxes (esds, btrt) attach as children.
type AudioSampleEntry struct {
	DataReferenceIndex uint16
	ChannelCount       uint16
	SampleSize         uint16
	CompressionID      uint16
	PacketSize         uint16
	SampleRate         uint16 // integer part of a 16.16 value
}

// AvcC is the AVC decoder configuration payload. LengthSize is the
// byte width of NAL length prefixes in the media data; only 4 is
// supported.
type AvcC struct {
	ConfigurationVersion uint8
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
	LengthSize           int
	SPS                  [][]byte
	PPS                  [][]byte
}

// Btrt is the bitrate box payload.
type Btrt struct {
	BufferSizeDB uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

// Esds is the elementary stream descriptor payload. The descriptor
// chain is kept opaque except for the codec id derived from it.
type Esds struct {
	Buffer    []byte
	MimeCodec string
}

// STTSEntry is one run of equal-duration samples.
type STTSEntry struct {
	Count uint32
	Delta uint32
}

// Stts is the time-to-sample box payload.
type Stts struct {
	Entries []STTSEntry
}

// STSCEntry is one run of equal-population chunks. FirstChunk is
// 1-based; the final entry extends over all remaining chunks.
type STSCEntry struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionID uint32
}

// Stsc is the sample-to-chunk box payload.
type Stsc struct {
	Entries []STSCEntry
}

// Stsz is the sample size box payload. When SampleSize is non-zero
// every sample has that uniform size and Entries is nil; otherwise
// Entries holds one size per sample.
type Stsz struct {
	SampleSize uint32
	Count      uint32
	Entries    []uint32
}

// Stco is the chunk offset box payload (also used for stss, where the
// entries are 1-based sync sample numbers).
type Stco struct {
	Entries []uint32
}

// Mdat records where the media payload lives in the underlying buffer.
// The content is large and is never copied into the tree; sample byte
// ranges index into the file buffer directly.
type Mdat struct {
	Offset int64
	Length int
}

type decodeFunc func(f *File, box *Box, st *Stream) error

var decoders = map[BoxType]decodeFunc{}

func init() {
	decoders[TypeFtyp] = decodeFtyp
	decoders[TypeMvhd] = decodeMvhd
	decoders[TypeTkhd] = decodeTkhd
	decoders[TypeMdhd] = decodeMdhd
	decoders[TypeHdlr] = decodeHdlr
	decoders[TypeSmhd] = decodeSmhd
	decoders[TypeStsd] = decodeStsd
	decoders[TypeAvc1] = decodeVisual
	decoders[TypeMp4a] = decodeAudio
	decoders[TypeAvcC] = decodeAvcC
	decoders[TypeBtrt] = decodeBtrt
	decoders[TypeEsds] = decodeEsds
	decoders[TypeStts] = decodeStts
	decoders[TypeStss] = decodeStss
	decoders[TypeStsc] = decodeStsc
	decoders[TypeStsz] = decodeStsz
	decoders[TypeStco] = decodeStco
	decoders[TypeMdat] = decodeMdat
}

// requireVersion0 guards the fixed v0 field layouts. A non-zero
// version shifts every following field, so reading on would
// misinterpret the rest of the stream.
func requireVersion0(box *Box) error {
	if box.Version != 0 {
		return fmt.Errorf("%w: version %d, only version 0 is implemented", ErrUnsupportedVariant, box.Version)
	}
	return nil
}

// --- ftyp ---

func decodeFtyp(_ *File, box *Box, st *Stream) error {
	f := &Ftyp{}
	var err error
	if f.MajorBrand, err = st.Read4CC(); err != nil {
		return err
	}
	if f.MinorVersion, err = st.ReadU32(); err != nil {
		return err
	}
	for st.Remain() >= 4 {
		brand, err := st.Read4CC()
		if err != nil {
			return err
		}
		f.CompatibleBrands = append(f.CompatibleBrands, brand)
	}
	box.Ftyp = f
	return nil
}

// --- mvhd ---

func decodeMvhd(_ *File, box *Box, st *Stream) error {
	if err := requireVersion0(box); err != nil {
		return err
	}
	m := &Mvhd{}
	var err error
	if m.CreationTime, err = st.ReadU32(); err != nil {
		return err
	}
	if m.ModificationTime, err = st.ReadU32(); err != nil {
		return err
	}
	if m.TimeScale, err = st.ReadU32(); err != nil {
		return err
	}
	if m.Duration, err = st.ReadU32(); err != nil {
		return err
	}
	if m.Rate, err = st.ReadFP16(); err != nil {
		return err
	}
	if m.Volume, err = st.ReadFP8(); err != nil {
		return err
	}
	if err = st.Skip(10); err != nil {
		return err
	}
	mat, err := st.ReadU32Array(9)
	if err != nil {
		return err
	}
	copy(m.Matrix[:], mat)
	if err = st.Skip(24); err != nil {
		return err
	}
	if m.NextTrackID, err = st.ReadU32(); err != nil {
		return err
	}
	box.Mvhd = m
	return nil
}

// --- tkhd ---

func decodeTkhd(_ *File, box *Box, st *Stream) error {
	if err := requireVersion0(box); err != nil {
		return err
	}
	t := &Tkhd{}
	var err error
	if t.CreationTime, err = st.ReadU32(); err != nil {
		return err
	}
	if t.ModificationTime, err = st.ReadU32(); err != nil {
		return err
	}
	if t.TrackID, err = st.ReadU32(); err != nil {
		return err
	}
	if err = st.Skip(4); err != nil {
		return err
	}
	if t.Duration, err = st.ReadU32(); err != nil {
		return err
	}
	if err = st.Skip(8); err != nil {
		return err
	}
	if t.Layer, err = st.ReadU16(); err != nil {
		return err
	}
	if t.AlternateGroup, err = st.ReadU16(); err != nil {
		return err
	}
	if t.Volume, err = st.ReadFP8(); err != nil {
		return err
	}
	if err = st.Skip(2); err != nil {
		return err
	}
	mat, err := st.ReadU32Array(9)
	if err != nil {
		return err
	}
	copy(t.Matrix[:], mat)
	if t.Width, err = st.ReadFP16(); err != nil {
		return err
	}
	if t.Height, err = st.ReadFP16(); err != nil {
		return err
	}
	box.Tkhd = t
	return nil
}

// --- mdhd ---

func decodeMdhd(_ *File, box *Box, st *Stream) error {
	if err := requireVersion0(box); err != nil {
		return err
	}
	m := &Mdhd{}
	var err error
	if m.CreationTime, err = st.ReadU32(); err != nil {
		return err
	}
	if m.ModificationTime, err = st.ReadU32(); err != nil {
		return err
	}
	if m.TimeScale, err = st.ReadU32(); err != nil {
		return err
	}
	if m.Duration, err = st.ReadU32(); err != nil {
		return err
	}
	if m.Language, err = st.ReadISO639(); err != nil {
		return err
	}
	if err = st.Skip(2); err != nil {
		return err
	}
	box.Mdhd = m
	return nil
}

// --- hdlr ---

func decodeHdlr(_ *File, box *Box, st *Stream) error {
	h := &Hdlr{}
	var err error
	if err = st.Skip(4); err != nil {
		return err
	}
	if h.HandlerType, err = st.Read4CC(); err != nil {
		return err
	}
	if err = st.Skip(12); err != nil {
		return err
	}
	// Optional trailing handler name fills the rest of the box.
	if h.Name, err = st.ReadUTF8(st.Remain()); err != nil {
		return err
	}
	box.Hdlr = h
	return nil
}

// --- smhd ---

func decodeSmhd(_ *File, box *Box, st *Stream) error {
	balance, err := st.ReadFP8()
	if err != nil {
		return err
	}
	if err = st.Skip(2); err != nil {
		return err
	}
	box.Smhd = &Smhd{Balance: balance}
	return nil
}

// --- stsd ---

func decodeStsd(f *File, box *Box, st *Stream) error {
	count, err := st.ReadU32()
	if err != nil {
		return err
	}
	box.Stsd = &Stsd{EntryCount: count}
	return f.readBoxes(st, box)
}

// --- avc1 / VisualSampleEntry ---

func decodeVisual(f *File, box *Box, st *Stream) error {
	v := &VisualSampleEntry{}
	var err error
	if err = st.Skip(6); err != nil {
		return err
	}
	if v.DataReferenceIndex, err = st.ReadU16(); err != nil {
		return err
	}
	// version, revision, vendor, temporal/spatial quality
	if err = st.Skip(16); err != nil {
		return err
	}
	if v.Width, err = st.ReadU16(); err != nil {
		return err
	}
	if v.Height, err = st.ReadU16(); err != nil {
		return err
	}
	if v.HorizResolution, err = st.ReadFP16(); err != nil {
		return err
	}
	if v.VertResolution, err = st.ReadFP16(); err != nil {
		return err
	}
	if err = st.Skip(4); err != nil {
		return err
	}
	if v.FrameCount, err = st.ReadU16(); err != nil {
		return err
	}
	if v.CompressorName, err = st.ReadPString(32); err != nil {
		return err
	}
	if v.Depth, err = st.ReadU16(); err != nil {
		return err
	}
	colorTableID, err := st.ReadU16()
	if err != nil {
		return err
	}
	if colorTableID != 0xffff {
		return fmt.Errorf("%w: avc1 color table id 0x%04x, expected 0xffff", ErrUnsupportedVariant, colorTableID)
	}
	box.Visual = v
	return f.readBoxes(st, box)
}

// --- mp4a / AudioSampleEntry ---

func decodeAudio(f *File, box *Box, st *Stream) error {
	a := &AudioSampleEntry{}
	var err error
	if err = st.Skip(6); err != nil {
		return err
	}
	if a.DataReferenceIndex, err = st.ReadU16(); err != nil {
		return err
	}
	version, err := st.ReadU16()
	if err != nil {
		return err
	}
	if version != 0 {
		return fmt.Errorf("%w: mp4a entry version %d, only version 0 is implemented", ErrUnsupportedVariant, version)
	}
	if err = st.Skip(6); err != nil {
		return err
	}
	if a.ChannelCount, err = st.ReadU16(); err != nil {
		return err
	}
	if a.SampleSize, err = st.ReadU16(); err != nil {
		return err
	}
	if a.CompressionID, err = st.ReadU16(); err != nil {
		return err
	}
	if a.PacketSize, err = st.ReadU16(); err != nil {
		return err
	}
	rate, err := st.ReadU32()
	if err != nil {
		return err
	}
	a.SampleRate = uint16(rate >> 16)
	box.Audio = a
	return f.readBoxes(st, box)
}

// --- avcC ---

func decodeAvcC(_ *File, box *Box, st *Stream) error {
	a := &AvcC{}
	var err error
	if a.ConfigurationVersion, err = st.ReadU8(); err != nil {
		return err
	}
	if a.ProfileIndication, err = st.ReadU8(); err != nil {
		return err
	}
	if a.ProfileCompatibility, err = st.ReadU8(); err != nil {
		return err
	}
	if a.LevelIndication, err = st.ReadU8(); err != nil {
		return err
	}
	b, err := st.ReadU8()
	if err != nil {
		return err
	}
	a.LengthSize = int(b&0x03) + 1
	if a.LengthSize != 4 {
		return fmt.Errorf("%w: NAL length prefix of %d bytes, only 4 is implemented", ErrUnsupportedVariant, a.LengthSize)
	}
	if a.SPS, err = readParamSets(st); err != nil {
		return err
	}
	if a.PPS, err = readParamSets(st); err != nil {
		return err
	}
	box.AvcC = a
	return nil
}

func readParamSets(st *Stream) ([][]byte, error) {
	b, err := st.ReadU8()
	if err != nil {
		return nil, err
	}
	count := int(b & 0x1f)
	sets := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		n, err := st.ReadU16()
		if err != nil {
			return nil, err
		}
		data, err := st.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		sets = append(sets, data)
	}
	return sets, nil
}

// --- btrt ---

func decodeBtrt(_ *File, box *Box, st *Stream) error {
	b := &Btrt{}
	var err error
	if b.BufferSizeDB, err = st.ReadU32(); err != nil {
		return err
	}
	if b.MaxBitrate, err = st.ReadU32(); err != nil {
		return err
	}
	if b.AvgBitrate, err = st.ReadU32(); err != nil {
		return err
	}
	box.Btrt = b
	return nil
}

// --- esds ---

func decodeEsds(_ *File, box *Box, st *Stream) error {
	buf, err := st.ReadBytes(st.Remain())
	if err != nil {
		return err
	}
	e := &Esds{Buffer: buf}
	e.MimeCodec = esdsMimeCodec(buf)
	box.Esds = e
	return nil
}

// --- stts ---

func decodeStts(_ *File, box *Box, st *Stream) error {
	count, err := st.ReadU32()
	if err != nil {
		return err
	}
	entries := make([]STTSEntry, count)
	for i := range entries {
		if entries[i].Count, err = st.ReadU32(); err != nil {
			return err
		}
		if entries[i].Delta, err = st.ReadU32(); err != nil {
			return err
		}
	}
	box.Stts = &Stts{Entries: entries}
	return nil
}

// --- stss ---

func decodeStss(_ *File, box *Box, st *Stream) error {
	count, err := st.ReadU32()
	if err != nil {
		return err
	}
	entries, err := st.ReadU32Array(int(count))
	if err != nil {
		return err
	}
	box.Stco = &Stco{Entries: entries}
	return nil
}

// --- stsc ---

func decodeStsc(_ *File, box *Box, st *Stream) error {
	count, err := st.ReadU32()
	if err != nil {
		return err
	}
	entries := make([]STSCEntry, count)
	for i := range entries {
		if entries[i].FirstChunk, err = st.ReadU32(); err != nil {
			return err
		}
		if entries[i].SamplesPerChunk, err = st.ReadU32(); err != nil {
			return err
		}
		if entries[i].SampleDescriptionID, err = st.ReadU32(); err != nil {
			return err
		}
	}
	box.Stsc = &Stsc{Entries: entries}
	return nil
}

// --- stsz ---

func decodeStsz(_ *File, box *Box, st *Stream) error {
	s := &Stsz{}
	var err error
	if s.SampleSize, err = st.ReadU32(); err != nil {
		return err
	}
	if s.Count, err = st.ReadU32(); err != nil {
		return err
	}
	if s.SampleSize == 0 {
		if s.Entries, err = st.ReadU32Array(int(s.Count)); err != nil {
			return err
		}
	} else if st.Remain() >= 4 {
		// A uniform size with a trailing table leaves the real sample
		// sizes ambiguous.
		return fmt.Errorf("%w: stsz declares uniform size %d but carries a size table", ErrUnsupportedVariant, s.SampleSize)
	}
	box.Stsz = s
	return nil
}

// --- stco ---

func decodeStco(_ *File, box *Box, st *Stream) error {
	count, err := st.ReadU32()
	if err != nil {
		return err
	}
	entries, err := st.ReadU32Array(int(count))
	if err != nil {
		return err
	}
	box.Stco = &Stco{Entries: entries}
	return nil
}

// --- mdat ---

func decodeMdat(_ *File, box *Box, st *Stream) error {
	box.Mdat = &Mdat{Offset: st.Offset(), Length: st.Len()}
	return st.Skip(st.Remain())
}
