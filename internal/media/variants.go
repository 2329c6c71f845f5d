package media

import (
	"fmt"
	"math"
)

// Variant is one resolution/bitrate rendition of the source video. Bitrates
// are derived once from the target height and never change afterwards.
type Variant struct {
	Label       string
	Height      int
	BitrateKbps int
}

// ladderHeights is the full rendition ladder; LadderForHeight filters it to
// entries at or below the source resolution.
var ladderHeights = []struct {
	label  string
	height int
}{
	{"480p", 480},
	{"720p", 720},
	{"1080p", 1080},
	{"1440p", 1440},
	{"2160p", 2160},
}

// LadderForHeight derives the variant ladder for a source of the given
// height. An empty result means the source is too small for the smallest
// ladder rung and cannot be processed.
func LadderForHeight(sourceHeight int) []Variant {
	variants := make([]Variant, 0, len(ladderHeights))
	for _, rung := range ladderHeights {
		if rung.height > sourceHeight {
			continue
		}
		variants = append(variants, NewVariant(rung.label, rung.height))
	}
	return variants
}

// NewVariant builds a variant for the given height with a bitrate derived
// from a bits-per-pixel model.
func NewVariant(label string, height int) Variant {
	return Variant{Label: label, Height: height, BitrateKbps: bitrateForHeight(height)}
}

// bitrateForHeight computes a target bitrate from resolution using a
// bits-per-pixel model: bitrate = width * height * fps * bpp, assuming 16:9
// and 24fps. Higher resolutions use lower bpp because H.264 compresses large
// frames more efficiently. The result is clamped to 500..20000 kbps.
func bitrateForHeight(height int) int {
	width := math.Round(float64(height) * 16.0 / 9.0)
	const fps = 24.0

	var bpp float64
	switch {
	case height <= 480:
		bpp = 0.12
	case height <= 720:
		bpp = 0.10
	case height <= 1080:
		bpp = 0.08
	case height <= 1440:
		bpp = 0.07
	default:
		bpp = 0.06
	}

	kbps := int(math.Round(width * float64(height) * fps * bpp / 1000.0))
	if kbps < 500 {
		return 500
	}
	if kbps > 20000 {
		return 20000
	}
	return kbps
}

// BitrateArg returns the ffmpeg-formatted target bitrate, e.g. "2500k".
func (v Variant) BitrateArg() string {
	return fmt.Sprintf("%dk", v.BitrateKbps)
}

// MaxBitrateKbps is the VBR ceiling, 1.5x the target.
func (v Variant) MaxBitrateKbps() int {
	return v.BitrateKbps * 3 / 2
}

// BufsizeKbps is the rate-control buffer, 2x the target.
func (v Variant) BufsizeKbps() int {
	return v.BitrateKbps * 2
}

// BandwidthBps is the bandwidth advertised in the master playlist.
func (v Variant) BandwidthBps() int {
	return v.BitrateKbps * 1000
}

// Width derives the 16:9 width used in playlist RESOLUTION attributes.
func (v Variant) Width() int {
	return int(float64(v.Height) * 16.0 / 9.0)
}
