package mp4_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mp4 "github.com/tetsuo/mp4demux"
	"github.com/tetsuo/mp4demux/internal/mp4test"
)

func parseFixture(t *testing.T) (*mp4test.File, *mp4.File) {
	t.Helper()
	fx := mp4test.Build(mp4test.Options{})
	f, err := mp4.Parse(fx.Data)
	require.NoError(t, err)
	return fx, f
}

func TestParseDecodesDeclaredFields(t *testing.T) {
	fx, f := parseFixture(t)

	ftyp := f.Find("ftyp")
	require.NotNil(t, ftyp)
	require.NotNil(t, ftyp.Ftyp)
	assert.Equal(t, "isom", ftyp.Ftyp.MajorBrand.String())
	assert.Equal(t, uint32(0x200), ftyp.Ftyp.MinorVersion)
	require.Len(t, ftyp.Ftyp.CompatibleBrands, 2)
	assert.Equal(t, "avc1", ftyp.Ftyp.CompatibleBrands[1].String())

	mvhd := f.Find("moov.mvhd")
	require.NotNil(t, mvhd)
	require.NotNil(t, mvhd.Mvhd)
	assert.Equal(t, uint32(1000), mvhd.Mvhd.TimeScale)
	assert.Equal(t, uint32(20), mvhd.Mvhd.Duration)
	assert.Equal(t, 1.0, mvhd.Mvhd.Rate)
	assert.Equal(t, 1.0, mvhd.Mvhd.Volume)
	assert.Equal(t, uint32(3), mvhd.Mvhd.NextTrackID)
	assert.Equal(t, uint32(0x00010000), mvhd.Mvhd.Matrix[0])
	assert.Equal(t, uint32(0x40000000), mvhd.Mvhd.Matrix[8])

	tkhd := f.Find("moov.trak.tkhd")
	require.NotNil(t, tkhd)
	require.NotNil(t, tkhd.Tkhd)
	assert.Equal(t, uint32(1), tkhd.Tkhd.TrackID)
	assert.Equal(t, uint32(20), tkhd.Tkhd.Duration)
	assert.Equal(t, 640.0, tkhd.Tkhd.Width)
	assert.Equal(t, 360.0, tkhd.Tkhd.Height)

	mdhd := f.Find("moov.trak.mdia.mdhd")
	require.NotNil(t, mdhd)
	require.NotNil(t, mdhd.Mdhd)
	assert.Equal(t, uint32(1000), mdhd.Mdhd.TimeScale)
	assert.Equal(t, uint32(20), mdhd.Mdhd.Duration)
	assert.Equal(t, "und", mdhd.Mdhd.Language)

	hdlr := f.Find("moov.trak.mdia.hdlr")
	require.NotNil(t, hdlr)
	require.NotNil(t, hdlr.Hdlr)
	assert.Equal(t, "vide", hdlr.Hdlr.HandlerType.String())
	assert.Equal(t, "VideoHandler", hdlr.Hdlr.Name)

	stsd := f.Find("moov.trak.mdia.minf.stbl.stsd")
	require.NotNil(t, stsd)
	require.NotNil(t, stsd.Stsd)
	assert.Equal(t, uint32(1), stsd.Stsd.EntryCount)

	avc1 := stsd.Child(mp4.TypeAvc1)
	require.NotNil(t, avc1)
	require.NotNil(t, avc1.Visual)
	assert.Equal(t, uint16(1), avc1.Visual.DataReferenceIndex)
	assert.Equal(t, uint16(640), avc1.Visual.Width)
	assert.Equal(t, uint16(360), avc1.Visual.Height)
	assert.Equal(t, 72.0, avc1.Visual.HorizResolution)
	assert.Equal(t, uint16(1), avc1.Visual.FrameCount)
	assert.Equal(t, "goenc", avc1.Visual.CompressorName)
	assert.Equal(t, uint16(24), avc1.Visual.Depth)

	avcC := avc1.Child(mp4.TypeAvcC)
	require.NotNil(t, avcC)
	require.NotNil(t, avcC.AvcC)
	assert.Equal(t, uint8(1), avcC.AvcC.ConfigurationVersion)
	assert.Equal(t, uint8(0x64), avcC.AvcC.ProfileIndication)
	assert.Equal(t, uint8(0x1e), avcC.AvcC.LevelIndication)
	assert.Equal(t, 4, avcC.AvcC.LengthSize)
	require.Len(t, avcC.AvcC.SPS, 1)
	require.Len(t, avcC.AvcC.PPS, 1)
	assert.Equal(t, fx.SPS, avcC.AvcC.SPS[0])
	assert.Equal(t, fx.PPS, avcC.AvcC.PPS[0])

	btrt := avc1.Child(mp4.TypeBtrt)
	require.NotNil(t, btrt)
	require.NotNil(t, btrt.Btrt)
	assert.Equal(t, uint32(200000), btrt.Btrt.MaxBitrate)
	assert.Equal(t, uint32(150000), btrt.Btrt.AvgBitrate)

	mp4a := f.Find("moov.trak[1].mdia.minf.stbl.stsd.mp4a")
	require.NotNil(t, mp4a)
	require.NotNil(t, mp4a.Audio)
	assert.Equal(t, uint16(2), mp4a.Audio.ChannelCount)
	assert.Equal(t, uint16(16), mp4a.Audio.SampleSize)
	assert.Equal(t, uint16(44100), mp4a.Audio.SampleRate)

	esds := mp4a.Child(mp4.TypeEsds)
	require.NotNil(t, esds)
	require.NotNil(t, esds.Esds)
	assert.Equal(t, "40.2", esds.Esds.MimeCodec)
	assert.NotEmpty(t, esds.Esds.Buffer)

	smhd := f.Find("moov.trak[1].mdia.minf.smhd")
	require.NotNil(t, smhd)
	require.NotNil(t, smhd.Smhd)
	assert.Equal(t, 0.0, smhd.Smhd.Balance)
}

func TestParseSampleTables(t *testing.T) {
	fx, f := parseFixture(t)
	stbl := f.Find("moov.trak.mdia.minf.stbl")
	require.NotNil(t, stbl)

	stts := stbl.Child(mp4.TypeStts)
	require.NotNil(t, stts)
	require.Len(t, stts.Stts.Entries, 3)
	assert.Equal(t, mp4.STTSEntry{Count: 4, Delta: 3}, stts.Stts.Entries[0])
	assert.Equal(t, mp4.STTSEntry{Count: 3, Delta: 2}, stts.Stts.Entries[2])

	stsc := stbl.Child(mp4.TypeStsc)
	require.NotNil(t, stsc)
	require.Len(t, stsc.Stsc.Entries, 3)
	assert.Equal(t, mp4.STSCEntry{FirstChunk: 1, SamplesPerChunk: 3, SampleDescriptionID: 23}, stsc.Stsc.Entries[0])
	assert.Equal(t, mp4.STSCEntry{FirstChunk: 5, SamplesPerChunk: 1, SampleDescriptionID: 24}, stsc.Stsc.Entries[2])

	stsz := stbl.Child(mp4.TypeStsz)
	require.NotNil(t, stsz)
	assert.Equal(t, uint32(0), stsz.Stsz.SampleSize)
	assert.Equal(t, uint32(9), stsz.Stsz.Count)
	assert.Equal(t, fx.VideoSizes, stsz.Stsz.Entries)

	stco := stbl.Child(mp4.TypeStco)
	require.NotNil(t, stco)
	assert.Equal(t, fx.VideoChunkOffsets, stco.Stco.Entries)

	stss := stbl.Child(mp4.TypeStss)
	require.NotNil(t, stss)
	assert.Equal(t, []uint32{1}, stss.Stco.Entries)

	// Uniform-size audio track: declared count, no table.
	audioStsz := f.Find("moov.trak[1].mdia.minf.stbl.stsz")
	require.NotNil(t, audioStsz)
	assert.Equal(t, uint32(4), audioStsz.Stsz.SampleSize)
	assert.Equal(t, uint32(2), audioStsz.Stsz.Count)
	assert.Nil(t, audioStsz.Stsz.Entries)
}

func TestParseRegistersTraksByID(t *testing.T) {
	_, f := parseFixture(t)
	require.Len(t, f.Traks, 2)
	require.Contains(t, f.Traks, uint32(1))
	require.Contains(t, f.Traks, uint32(2))
	assert.Equal(t, "vide", f.Traks[1].Find("mdia.hdlr").Hdlr.HandlerType.String())
	assert.Equal(t, "soun", f.Traks[2].Find("mdia.hdlr").Hdlr.HandlerType.String())
}

func TestParseMdatKeepsByteRangeOnly(t *testing.T) {
	fx, f := parseFixture(t)
	mdat := f.Find("mdat")
	require.NotNil(t, mdat)
	require.NotNil(t, mdat.Mdat)
	assert.Equal(t, int64(fx.VideoChunkOffsets[0]), mdat.Mdat.Offset)
	assert.Equal(t, int(mdat.Size)-8, mdat.Mdat.Length)
}

func TestFindPaths(t *testing.T) {
	_, f := parseFixture(t)
	assert.NotNil(t, f.Find("moov.trak[0].mdia.minf.stbl.stsd"))
	assert.NotNil(t, f.Find("moov.trak[1].mdia.minf.stbl.stsd.mp4a.esds"))
	assert.Nil(t, f.Find("moov.trak[2]"))
	assert.Nil(t, f.Find("moov.nope"))
	assert.Nil(t, f.Find("moov.trak.bogus.path"))
}

func TestUnknownBoxSkippedExactly(t *testing.T) {
	// An unknown box of declared size 20 must leave the parser exactly
	// 20 bytes past its start, so the mvhd that follows decodes intact.
	unknown := mp4test.Box("wxyz", mp4test.Zeros(12))
	require.Len(t, unknown, 20)
	moov := mp4test.Box("moov",
		unknown,
		mp4test.FullBox("mvhd", 0, 0,
			mp4test.U32(0), mp4test.U32(0),
			mp4test.U32(600), mp4test.U32(120),
			mp4test.U32(0x00010000), mp4test.U16(0x0100),
			mp4test.Zeros(10), mp4test.UnityMatrix(), mp4test.Zeros(24),
			mp4test.U32(2),
		),
	)

	f, err := mp4.Parse(moov)
	require.NoError(t, err)
	box := f.Find("moov.wxyz")
	require.NotNil(t, box)
	assert.Equal(t, uint64(20), box.Size)
	assert.Equal(t, int64(8), box.Offset)
	mvhd := f.Find("moov.mvhd")
	require.NotNil(t, mvhd)
	assert.Equal(t, uint32(600), mvhd.Mvhd.TimeScale)
}

func TestDuplicateChildrenKeepOrder(t *testing.T) {
	_, f := parseFixture(t)
	traks := f.Find("moov").ChildList(mp4.TypeTrak)
	require.Len(t, traks, 2)
	assert.Equal(t, uint32(1), traks[0].Child(mp4.TypeTkhd).Tkhd.TrackID)
	assert.Equal(t, uint32(2), traks[1].Child(mp4.TypeTkhd).Tkhd.TrackID)
}

func TestTkhdVersion1Refused(t *testing.T) {
	fx := mp4test.Build(mp4test.Options{TkhdVersion: 1})
	_, err := mp4.Parse(fx.Data)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrUnsupportedVariant)
}

func TestDeclaredSizeBeyondBuffer(t *testing.T) {
	data := mp4test.Cat(mp4test.U32(100), mp4test.FourCC("free"))
	_, err := mp4.Parse(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrTruncated)
}

func TestSizeBelowHeader(t *testing.T) {
	data := mp4test.Cat(mp4test.U32(4), mp4test.FourCC("free"))
	_, err := mp4.Parse(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrTruncated)
}

func Test64BitSizeRefused(t *testing.T) {
	data := mp4test.Cat(mp4test.U32(1), mp4test.FourCC("mdat"), mp4test.Zeros(16))
	_, err := mp4.Parse(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrUnsupportedVariant)
}

func TestAvcCLengthSizeRefused(t *testing.T) {
	// lengthSizeMinusOne of 1 (2-byte prefixes) is not implemented.
	avcC := mp4test.Box("avcC", []byte{1, 0x64, 0x00, 0x1e, 0xfd, 0xe0, 0x00})
	_, err := mp4.Parse(avcC)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrUnsupportedVariant)
}

func TestMp4aVersionRefused(t *testing.T) {
	entry := mp4test.Box("mp4a",
		mp4test.Zeros(6), mp4test.U16(1),
		mp4test.U16(1), // version 1
		mp4test.Zeros(6),
		mp4test.U16(2), mp4test.U16(16),
		mp4test.U16(0), mp4test.U16(0),
		mp4test.U32(44100<<16),
	)
	_, err := mp4.Parse(entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrUnsupportedVariant)
}

func TestAvc1ColorTableRefused(t *testing.T) {
	entry := mp4test.Box("avc1",
		mp4test.Zeros(6), mp4test.U16(1),
		mp4test.Zeros(16),
		mp4test.U16(640), mp4test.U16(360),
		mp4test.U32(0x00480000), mp4test.U32(0x00480000),
		mp4test.Zeros(4), mp4test.U16(1),
		mp4test.PString("goenc", 32),
		mp4test.U16(24), mp4test.U16(0), // color table id not 0xffff
	)
	_, err := mp4.Parse(entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrUnsupportedVariant)
}

func TestStszUniformWithTableRefused(t *testing.T) {
	stsz := mp4test.FullBox("stsz", 0, 0,
		mp4test.U32(4), mp4test.U32(2),
		mp4test.U32(4), mp4test.U32(4), // ambiguous trailing table
	)
	_, err := mp4.Parse(stsz)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrUnsupportedVariant)
}

func TestEsdsMalformedDescriptorChain(t *testing.T) {
	// A broken descriptor chain yields no codec id but never fails
	// the parse.
	esds := mp4test.FullBox("esds", 0, 0, []byte{0x99, 0x01, 0x00})
	f, err := mp4.Parse(esds)
	require.NoError(t, err)
	box := f.Find("esds")
	require.NotNil(t, box)
	assert.Equal(t, "", box.Esds.MimeCodec)
}

func TestZeroSizeStopsChildLoop(t *testing.T) {
	// Trailing zero padding inside a container is not a child box.
	moov := mp4test.Box("moov",
		mp4test.Box("wxyz", mp4test.Zeros(4)),
		mp4test.Zeros(8),
	)
	f, err := mp4.Parse(moov)
	require.NoError(t, err)
	require.Len(t, f.Find("moov").Kids, 1)
}

func TestChildCannotOverrunContainer(t *testing.T) {
	// The child declares more bytes than its container has left.
	inner := mp4test.Cat(mp4test.U32(64), mp4test.FourCC("wxyz"))
	moov := mp4test.Box("moov", inner)
	_, err := mp4.Parse(moov)
	require.Error(t, err)
	assert.ErrorIs(t, err, mp4.ErrTruncated)
}

func TestParseReturnsNoPartialTree(t *testing.T) {
	fx := mp4test.Build(mp4test.Options{TkhdVersion: 1})
	f, err := mp4.Parse(fx.Data)
	require.Error(t, err)
	assert.Nil(t, f)
}
