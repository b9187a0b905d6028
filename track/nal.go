package track

import (
	"encoding/binary"
	"errors"
	"fmt"

	mp4 "github.com/tetsuo/mp4demux"
)

// NAL extraction: media data stores H.264 access units in AVCC form,
// each NAL unit preceded by a 4-byte big-endian length instead of a
// start code. A decoder wants the raw payloads, with SPS and PPS from
// avcC delivered first.

var (
	ErrNoAVCConfig = errors.New("track: no avcC configuration in sample description")
	// ErrCorruptSample reports a NAL length prefix that would read past
	// the sample's declared byte range.
	ErrCorruptSample = errors.New("track: corrupt sample data")
)

// SampleNALUnits slices the file buffer into the individual NAL unit
// payloads of one sample, excluding the length prefixes. The sample's
// declared size must be consumed exactly.
func (t *Track) SampleNALUnits(sample int) ([][]byte, error) {
	offset, err := t.SampleOffset(sample)
	if err != nil {
		return nil, err
	}
	size, err := t.SampleSize(sample, 1)
	if err != nil {
		return nil, err
	}

	buf := t.file.Buffer()
	end := offset + size
	if end > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: sample %d spans [%d,%d) beyond buffer of %d bytes", mp4.ErrTruncated, sample, offset, end, len(buf))
	}

	var units [][]byte
	pos := offset
	for pos < end {
		if end-pos < 4 {
			return nil, fmt.Errorf("%w: sample %d: %d trailing bytes, too short for a length prefix", ErrCorruptSample, sample, end-pos)
		}
		n := uint64(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		if n > end-pos {
			return nil, fmt.Errorf("%w: sample %d: NAL length %d exceeds %d remaining bytes", ErrCorruptSample, sample, n, end-pos)
		}
		units = append(units, buf[pos:pos+n:pos+n])
		pos += n
	}
	return units, nil
}

// AVCConfig returns the parsed avcC box of the track's avc1 sample
// entry.
func (t *Track) AVCConfig() (*mp4.AvcC, error) {
	if b := t.trak.Find("mdia.minf.stbl.stsd.avc1.avcC"); b != nil && b.AvcC != nil {
		return b.AvcC, nil
	}
	return nil, fmt.Errorf("track %d: %w", t.id, ErrNoAVCConfig)
}

// SPS returns the first sequence parameter set from avcC.
func (t *Track) SPS() ([]byte, error) {
	c, err := t.AVCConfig()
	if err != nil {
		return nil, err
	}
	if len(c.SPS) == 0 {
		return nil, fmt.Errorf("track %d: %w: empty SPS list", t.id, ErrNoAVCConfig)
	}
	return c.SPS[0], nil
}

// PPS returns the first picture parameter set from avcC.
func (t *Track) PPS() ([]byte, error) {
	c, err := t.AVCConfig()
	if err != nil {
		return nil, err
	}
	if len(c.PPS) == 0 {
		return nil, fmt.Errorf("track %d: %w: empty PPS list", t.id, ErrNoAVCConfig)
	}
	return c.PPS[0], nil
}
