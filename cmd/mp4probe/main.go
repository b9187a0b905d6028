// Command mp4probe reads an MP4 file and prints its box structure,
// track inventory, or the NAL units of one sample.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/rs/zerolog"

	mp4 "github.com/tetsuo/mp4demux"
	"github.com/tetsuo/mp4demux/track"
)

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// BoxNode is a box in the tree structure.
type BoxNode struct {
	Type       string         `json:"type"`
	Size       uint64         `json:"size"`
	Offset     int64          `json:"offset"`
	Version    *uint8         `json:"version,omitempty"`
	Flags      *uint32        `json:"flags,omitempty"`
	Info       map[string]any `json:"info,omitempty"`
	DataLength *int           `json:"dataLength,omitempty"`
	Children   []BoxNode      `json:"children,omitempty"`
}

func main() {
	formatFlag := flag.String("format", "text", "output format: text (default), json")
	tracksFlag := flag.Bool("tracks", false, "print the track inventory instead of the box tree")
	trackFlag := flag.Uint("track", 0, "track id for -sample")
	sampleFlag := flag.Int("sample", -1, "dump the NAL units of this sample (requires -track)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--format=text|json] [--tracks] [--track=N --sample=M] <file.mp4>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	format := FormatText
	switch strings.ToLower(*formatFlag) {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		log.Fatal().Str("format", *formatFlag).Msg("unknown format")
	}

	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("reading file")
	}

	f, err := mp4.Parse(data)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("parsing file")
	}
	log.Debug().Int("bytes", len(data)).Int("tracks", len(f.Traks)).Msg("parsed")

	switch {
	case *sampleFlag >= 0:
		dumpSample(log, f, uint32(*trackFlag), *sampleFlag)
	case *tracksFlag:
		dumpTracks(log, f, format)
	default:
		var root []BoxNode
		for _, box := range f.Boxes() {
			root = append(root, buildNode(box))
		}
		printTree(root, format)
	}
}

func dumpTracks(log zerolog.Logger, f *mp4.File, format Format) {
	all, err := track.Tracks(f)
	if err != nil {
		log.Fatal().Err(err).Msg("indexing tracks")
	}
	ids := make([]uint32, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	type trackInfo struct {
		ID        uint32  `json:"id"`
		Kind      string  `json:"kind"`
		Codec     string  `json:"codec,omitempty"`
		Language  string  `json:"language"`
		TimeScale uint32  `json:"timescale"`
		Duration  float64 `json:"duration"`
		Samples  int     `json:"samples"`
		Width    int     `json:"width,omitempty"`
		Height   int     `json:"height,omitempty"`
	}

	var infos []trackInfo
	for _, id := range ids {
		t := all[id]
		if err := t.Check(); err != nil {
			log.Warn().Err(err).Uint32("track", id).Msg("inconsistent sample tables")
		}
		info := trackInfo{
			ID:        t.ID(),
			Kind:      t.Kind().String(),
			Codec:     t.Codec(),
			Language:  t.Language(),
			TimeScale: t.TimeScale(),
			Duration:  t.TimeToSeconds(t.TotalTime()),
			Samples:   t.SampleCount(),
		}
		if t.Kind() == track.KindVideo {
			info.Width = t.Width()
			info.Height = t.Height()
			if sps, err := t.SPS(); err == nil {
				var parsed h264.SPS
				if err := parsed.Unmarshal(sps); err == nil {
					info.Width = parsed.Width()
					info.Height = parsed.Height()
				}
			}
		}
		infos = append(infos, info)
	}

	if format == FormatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			log.Error().Err(err).Msg("encoding JSON")
		}
		return
	}
	for _, info := range infos {
		fmt.Printf("track %d: %s", info.ID, info.Kind)
		if info.Codec != "" {
			fmt.Printf(" %s", info.Codec)
		}
		if info.Width > 0 {
			fmt.Printf(" %dx%d", info.Width, info.Height)
		}
		fmt.Printf(" lang=%s timescale=%d duration=%.3fs samples=%d\n",
			info.Language, info.TimeScale, info.Duration, info.Samples)
	}
}

func dumpSample(log zerolog.Logger, f *mp4.File, id uint32, sample int) {
	t, err := track.New(f, id)
	if err != nil {
		log.Fatal().Err(err).Uint32("track", id).Msg("indexing track")
	}
	units, err := t.SampleNALUnits(sample)
	if err != nil {
		log.Fatal().Err(err).Int("sample", sample).Msg("extracting NAL units")
	}
	offset, _ := t.SampleOffset(sample)
	fmt.Printf("track %d sample %d at offset %d: %d NAL units\n", id, sample, offset, len(units))
	for i, u := range units {
		if len(u) == 0 {
			fmt.Printf("  [%d] empty\n", i)
			continue
		}
		typ := h264.NALUType(u[0] & 0x1f)
		fmt.Printf("  [%d] %s (%d bytes)\n", i, typ, len(u))
		if typ == h264.NALUTypeSPS {
			var sps h264.SPS
			if err := sps.Unmarshal(u); err == nil {
				fmt.Printf("      %dx%d @ %.3f fps\n", sps.Width(), sps.Height(), sps.FPS())
			}
		}
	}
}

func buildNode(box *mp4.Box) BoxNode {
	node := BoxNode{
		Type:   box.Type.String(),
		Size:   box.Size,
		Offset: box.Offset,
	}
	if mp4.IsFullBox(box.Type) {
		v := box.Version
		fl := box.Flags
		node.Version = &v
		node.Flags = &fl
	}
	node.Info = collectBoxInfo(box)
	if box.Mdat != nil {
		node.DataLength = &box.Mdat.Length
	}
	for _, kid := range box.Kids {
		node.Children = append(node.Children, buildNode(kid))
	}
	return node
}

func collectBoxInfo(box *mp4.Box) map[string]any {
	info := make(map[string]any)

	switch {
	case box.Ftyp != nil:
		info["brand"] = box.Ftyp.MajorBrand.String()
		info["version"] = box.Ftyp.MinorVersion
		if len(box.Ftyp.CompatibleBrands) > 0 {
			compat := make([]string, len(box.Ftyp.CompatibleBrands))
			for i, c := range box.Ftyp.CompatibleBrands {
				compat[i] = c.String()
			}
			info["compatible"] = compat
		}

	case box.Mvhd != nil:
		info["timescale"] = box.Mvhd.TimeScale
		info["duration"] = box.Mvhd.Duration
		info["nextTrackId"] = box.Mvhd.NextTrackID

	case box.Tkhd != nil:
		info["trackId"] = box.Tkhd.TrackID
		info["duration"] = box.Tkhd.Duration
		info["width"] = int(box.Tkhd.Width)
		info["height"] = int(box.Tkhd.Height)

	case box.Mdhd != nil:
		info["timescale"] = box.Mdhd.TimeScale
		info["duration"] = box.Mdhd.Duration
		info["language"] = box.Mdhd.Language

	case box.Hdlr != nil:
		info["handlerType"] = box.Hdlr.HandlerType.String()
		info["name"] = box.Hdlr.Name

	case box.Stsd != nil:
		info["entries"] = box.Stsd.EntryCount

	case box.Visual != nil:
		info["width"] = box.Visual.Width
		info["height"] = box.Visual.Height
		info["compressor"] = box.Visual.CompressorName

	case box.Audio != nil:
		info["channelCount"] = box.Audio.ChannelCount
		info["sampleSize"] = box.Audio.SampleSize
		info["sampleRate"] = box.Audio.SampleRate

	case box.AvcC != nil:
		info["codec"] = fmt.Sprintf("avc1.%02x%02x%02x",
			box.AvcC.ProfileIndication, box.AvcC.ProfileCompatibility, box.AvcC.LevelIndication)

	case box.Esds != nil:
		if box.Esds.MimeCodec != "" {
			info["codec"] = "mp4a." + box.Esds.MimeCodec
		}

	case box.Btrt != nil:
		info["maxBitrate"] = box.Btrt.MaxBitrate
		info["avgBitrate"] = box.Btrt.AvgBitrate

	case box.Stts != nil:
		info["entries"] = len(box.Stts.Entries)

	case box.Stsc != nil:
		info["entries"] = len(box.Stsc.Entries)

	case box.Stsz != nil:
		info["entries"] = box.Stsz.Count
		if box.Stsz.SampleSize != 0 {
			info["uniformSize"] = box.Stsz.SampleSize
		}

	case box.Stco != nil:
		info["entries"] = len(box.Stco.Entries)
	}

	if len(info) == 0 {
		return nil
	}
	return info
}

// printTree prints the tree in the specified format
func printTree(nodes []BoxNode, format Format) {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(nodes); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
		}
	case FormatText:
		for _, node := range nodes {
			printNodeText(node, 0)
		}
	}
}

// printNodeText prints a single node in text format
func printNodeText(node BoxNode, depth int) {
	indent := strings.Repeat("  ", depth)

	fmt.Printf("%s[%s] size=%d", indent, node.Type, node.Size)

	if node.Version != nil {
		fmt.Printf(" v=%d", *node.Version)
	}
	if node.Flags != nil {
		fmt.Printf(" flags=0x%06x", *node.Flags)
	}

	if len(node.Info) > 0 {
		keys := make([]string, 0, len(node.Info))
		for key := range node.Info {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			val := node.Info[key]
			switch key {
			case "compatible":
				if compat, ok := val.([]string); ok {
					fmt.Printf(" compat=[%s]", strings.Join(compat, ","))
				}
			case "name", "compressor":
				fmt.Printf(" %s=%q", key, val)
			default:
				fmt.Printf(" %s=%v", key, val)
			}
		}
	}

	if node.DataLength != nil {
		fmt.Printf(" dataLen=%d", *node.DataLength)
	}

	fmt.Println()

	for _, child := range node.Children {
		printNodeText(child, depth+1)
	}
}
