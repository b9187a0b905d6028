// Package track answers sample-index queries over the sample tables of
// one MP4 track: which chunk holds a sample, where its bytes live in
// the file buffer, and which sample plays at a given media time.
package track

import (
	"errors"
	"fmt"

	mp4 "github.com/tetsuo/mp4demux"
)

// Kind distinguishes track media types, derived from the hdlr handler
// type rather than track declaration order.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	}
	return "other"
}

var (
	ErrTrackNotFound = errors.New("track: no trak registered under id")
	ErrMissingTable  = errors.New("track: missing required sample table")
	ErrCorruptTable  = errors.New("track: corrupt sample table")
	// ErrSampleOutOfRange reports a sample, chunk, or time index beyond
	// the table bounds. It is local to one query: the track stays valid
	// for subsequent calls.
	ErrSampleOutOfRange = errors.New("track: sample index out of range")
)

var (
	handlerVideo = mp4.BoxType{'v', 'i', 'd', 'e'}
	handlerAudio = mp4.BoxType{'s', 'o', 'u', 'n'}
)

// Track indexes one trak box. It holds read-only references into the
// parsed tree and never mutates it; every query recomputes from the
// immutable tables, so concurrent readers need no locking.
type Track struct {
	id   uint32
	file *mp4.File
	trak *mp4.Box

	tkhd *mp4.Tkhd
	mdhd *mp4.Mdhd
	hdlr *mp4.Hdlr
	stsz *mp4.Stsz
	stsc *mp4.Stsc
	stco *mp4.Stco
	stts *mp4.Stts
}

// New resolves the track registered in f under the given track id.
// It fails when the trak lacks any of the sample tables the index
// arithmetic depends on.
func New(f *mp4.File, id uint32) (*Track, error) {
	trak, ok := f.Traks[id]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrTrackNotFound, id)
	}
	t := &Track{id: id, file: f, trak: trak}

	if b := trak.Child(mp4.TypeTkhd); b != nil {
		t.tkhd = b.Tkhd
	}
	if b := trak.Find("mdia.mdhd"); b != nil {
		t.mdhd = b.Mdhd
	}
	if b := trak.Find("mdia.hdlr"); b != nil {
		t.hdlr = b.Hdlr
	}
	stbl := trak.Find("mdia.minf.stbl")
	if stbl == nil {
		return nil, fmt.Errorf("track %d: %w: stbl", id, ErrMissingTable)
	}
	if b := stbl.Child(mp4.TypeStsz); b != nil {
		t.stsz = b.Stsz
	}
	if b := stbl.Child(mp4.TypeStsc); b != nil {
		t.stsc = b.Stsc
	}
	if b := stbl.Child(mp4.TypeStco); b != nil {
		t.stco = b.Stco
	}
	if b := stbl.Child(mp4.TypeStts); b != nil {
		t.stts = b.Stts
	}
	switch {
	case t.tkhd == nil:
		return nil, fmt.Errorf("track %d: %w: tkhd", id, ErrMissingTable)
	case t.mdhd == nil:
		return nil, fmt.Errorf("track %d: %w: mdhd", id, ErrMissingTable)
	case t.stsz == nil:
		return nil, fmt.Errorf("track %d: %w: stsz", id, ErrMissingTable)
	case t.stsc == nil:
		return nil, fmt.Errorf("track %d: %w: stsc", id, ErrMissingTable)
	case t.stco == nil:
		return nil, fmt.Errorf("track %d: %w: stco", id, ErrMissingTable)
	case t.stts == nil:
		return nil, fmt.Errorf("track %d: %w: stts", id, ErrMissingTable)
	}
	return t, nil
}

// Tracks builds an index for every trak registered in f, keyed by
// track id.
func Tracks(f *mp4.File) (map[uint32]*Track, error) {
	out := make(map[uint32]*Track, len(f.Traks))
	for id := range f.Traks {
		t, err := New(f, id)
		if err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, nil
}

// ID returns the tkhd track id.
func (t *Track) ID() uint32 { return t.id }

// Handler returns the hdlr handler type, or a zero value when the
// track has no hdlr box.
func (t *Track) Handler() mp4.BoxType {
	if t.hdlr == nil {
		return mp4.BoxType{}
	}
	return t.hdlr.HandlerType
}

// Kind classifies the track by its handler type.
func (t *Track) Kind() Kind {
	switch t.Handler() {
	case handlerVideo:
		return KindVideo
	case handlerAudio:
		return KindAudio
	}
	return KindOther
}

// TimeScale returns the media timescale in ticks per second.
func (t *Track) TimeScale() uint32 { return t.mdhd.TimeScale }

// Duration returns the declared media duration in timescale ticks.
func (t *Track) Duration() uint32 { return t.mdhd.Duration }

// Language returns the mdhd ISO-639 language code.
func (t *Track) Language() string { return t.mdhd.Language }

// Width returns the declared display width in pixels.
func (t *Track) Width() int { return int(t.tkhd.Width) }

// Height returns the declared display height in pixels.
func (t *Track) Height() int { return int(t.tkhd.Height) }

// Box returns the underlying trak box.
func (t *Track) Box() *mp4.Box { return t.trak }

// SampleCount returns the number of samples in the track.
func (t *Track) SampleCount() int {
	return int(t.stsz.Count)
}

func (t *Track) sampleSizeAt(i int) uint64 {
	if t.stsz.SampleSize != 0 {
		return uint64(t.stsz.SampleSize)
	}
	return uint64(t.stsz.Entries[i])
}

// SampleSize sums the sizes of n consecutive samples beginning at
// start. n of zero yields zero.
func (t *Track) SampleSize(start, n int) (uint64, error) {
	if n < 0 || start < 0 || start+n > t.SampleCount() {
		return 0, fmt.Errorf("%w: samples [%d,%d) of %d", ErrSampleOutOfRange, start, start+n, t.SampleCount())
	}
	var total uint64
	for i := start; i < start+n; i++ {
		total += t.sampleSizeAt(i)
	}
	return total, nil
}

// SampleToChunk resolves which chunk holds the given 0-based sample
// and the sample's 0-based position within that chunk, by walking the
// run-length stsc rows. The final row is open-ended and covers all
// remaining chunks.
func (t *Track) SampleToChunk(sample int) (chunk, offset int, err error) {
	if sample < 0 || sample >= t.SampleCount() {
		return 0, 0, fmt.Errorf("%w: sample %d of %d", ErrSampleOutOfRange, sample, t.SampleCount())
	}
	rows := t.stsc.Entries
	if len(rows) == 0 {
		return 0, 0, fmt.Errorf("%w: empty stsc", ErrCorruptTable)
	}
	if len(rows) == 1 {
		spc := int(rows[0].SamplesPerChunk)
		if spc == 0 {
			return 0, 0, fmt.Errorf("%w: stsc row declares zero samples per chunk", ErrCorruptTable)
		}
		return sample / spc, sample % spc, nil
	}

	consumed := 0
	for i := range rows {
		row := &rows[i]
		spc := int(row.SamplesPerChunk)
		if spc == 0 {
			return 0, 0, fmt.Errorf("%w: stsc row %d declares zero samples per chunk", ErrCorruptTable, i)
		}
		if i+1 < len(rows) {
			chunks := int(rows[i+1].FirstChunk) - int(row.FirstChunk)
			if chunks < 0 {
				return 0, 0, fmt.Errorf("%w: stsc first-chunk numbers not increasing at row %d", ErrCorruptTable, i)
			}
			if n := chunks * spc; sample-consumed >= n {
				consumed += n
				continue
			}
		}
		rel := sample - consumed
		return int(row.FirstChunk) - 1 + rel/spc, rel % spc, nil
	}
	// The last row is open-ended, so the loop always returns.
	panic("unreachable")
}

// ChunkOffset returns the absolute byte offset of the given 0-based
// chunk.
func (t *Track) ChunkOffset(chunk int) (uint64, error) {
	if chunk < 0 || chunk >= len(t.stco.Entries) {
		return 0, fmt.Errorf("%w: chunk %d of %d", ErrSampleOutOfRange, chunk, len(t.stco.Entries))
	}
	return uint64(t.stco.Entries[chunk]), nil
}

// SampleOffset returns the absolute byte offset of the given sample:
// the base offset of its chunk plus the sizes of all samples that
// precede it within the same chunk.
func (t *Track) SampleOffset(sample int) (uint64, error) {
	chunk, offset, err := t.SampleToChunk(sample)
	if err != nil {
		return 0, err
	}
	base, err := t.ChunkOffset(chunk)
	if err != nil {
		return 0, err
	}
	preceding, err := t.SampleSize(sample-offset, offset)
	if err != nil {
		return 0, err
	}
	return base + preceding, nil
}

// TimeToSample resolves which sample is playing at the given media
// time tick by walking the run-length stts rows.
func (t *Track) TimeToSample(time uint64) (int, error) {
	remain := time
	consumed := 0
	for i := range t.stts.Entries {
		row := &t.stts.Entries[i]
		total := uint64(row.Count) * uint64(row.Delta)
		if remain < total {
			return consumed + int(remain/uint64(row.Delta)), nil
		}
		remain -= total
		consumed += int(row.Count)
	}
	return 0, fmt.Errorf("%w: time %d beyond track end %d", ErrSampleOutOfRange, time, t.TotalTime())
}

// TotalTime sums count*delta over all stts rows, yielding the media
// duration implied by the sample table.
func (t *Track) TotalTime() uint64 {
	var total uint64
	for i := range t.stts.Entries {
		row := &t.stts.Entries[i]
		total += uint64(row.Count) * uint64(row.Delta)
	}
	return total
}

// TimeToSeconds converts a media time tick count to seconds.
func (t *Track) TimeToSeconds(time uint64) float64 {
	return float64(time) / float64(t.mdhd.TimeScale)
}

// SecondsToTime converts seconds to media time ticks.
func (t *Track) SecondsToTime(sec float64) uint64 {
	return uint64(sec * float64(t.mdhd.TimeScale))
}

// Check compares the stts-implied duration against the declared mdhd
// duration. A mismatch is an inconsistency worth a warning, not a
// reason to refuse the track.
func (t *Track) Check() error {
	if total := t.TotalTime(); total != uint64(t.mdhd.Duration) {
		return fmt.Errorf("track %d: stts total time %d differs from declared duration %d", t.id, total, t.mdhd.Duration)
	}
	return nil
}

// SyncSamples returns the 1-based sync sample numbers from stss, or
// nil when every sample is a sync sample.
func (t *Track) SyncSamples() []uint32 {
	if b := t.trak.Find("mdia.minf.stbl.stss"); b != nil && b.Stco != nil {
		return b.Stco.Entries
	}
	return nil
}

// Codec returns the MIME codec string for the track's first sample
// entry (e.g. "avc1.64001e", "mp4a.40.2"), or "" when the entry is not
// recognized.
func (t *Track) Codec() string {
	stsd := t.trak.Find("mdia.minf.stbl.stsd")
	if stsd == nil {
		return ""
	}
	if avc1 := stsd.Child(mp4.TypeAvc1); avc1 != nil {
		if avcC := avc1.Child(mp4.TypeAvcC); avcC != nil && avcC.AvcC != nil {
			c := avcC.AvcC
			return fmt.Sprintf("avc1.%02x%02x%02x", c.ProfileIndication, c.ProfileCompatibility, c.LevelIndication)
		}
		return "avc1"
	}
	if mp4a := stsd.Child(mp4.TypeMp4a); mp4a != nil {
		if esds := mp4a.Child(mp4.TypeEsds); esds != nil && esds.Esds != nil && esds.Esds.MimeCodec != "" {
			return "mp4a." + esds.Esds.MimeCodec
		}
		return "mp4a"
	}
	return ""
}
