// Package transcode turns a mezzanine file into an HLS rendition tree. It
// builds ffmpeg invocations per encoder family, fans work out across a
// bounded permit pool and retries on CPU when a hardware encoder refuses the
// source.
package transcode

import (
	"fmt"
	"strings"

	"vodforge/internal/media"
)

// Family identifies an encoder backend.
type Family string

const (
	FamilyCPU   Family = "cpu"
	FamilyNVENC Family = "nvenc"
	FamilyVAAPI Family = "vaapi"
	FamilyQSV   Family = "qsv"
)

// ParseFamily maps a configuration string to an encoder family. Unknown
// values fall back to software encoding.
func ParseFamily(value string) Family {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "nvenc", "cuda", "nvidia":
		return FamilyNVENC
	case "vaapi":
		return FamilyVAAPI
	case "qsv", "quicksync":
		return FamilyQSV
	default:
		return FamilyCPU
	}
}

// Codec returns the ffmpeg H.264 encoder name for the family.
func (f Family) Codec() string {
	switch f {
	case FamilyNVENC:
		return "h264_nvenc"
	case FamilyVAAPI:
		return "h264_vaapi"
	case FamilyQSV:
		return "h264_qsv"
	default:
		return "libx264"
	}
}

// Hardware reports whether the family needs a hardware device.
func (f Family) Hardware() bool {
	return f != FamilyCPU
}

// InputArgs returns the hwaccel flags placed before -i.
func (f Family) InputArgs() []string {
	switch f {
	case FamilyNVENC:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case FamilyVAAPI:
		return []string{"-hwaccel", "vaapi", "-hwaccel_device", "/dev/dri/renderD128", "-hwaccel_output_format", "vaapi"}
	case FamilyQSV:
		return []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}
	default:
		return nil
	}
}

// ScaleFilter returns the -vf expression that resizes to the target height
// while keeping aspect ratio.
func (f Family) ScaleFilter(height int) string {
	switch f {
	case FamilyNVENC:
		return fmt.Sprintf("scale_cuda=-2:%d", height)
	case FamilyVAAPI:
		return fmt.Sprintf("scale_vaapi=-2:%d", height)
	case FamilyQSV:
		return fmt.Sprintf("vpp_qsv=w=-2:h=%d", height)
	default:
		return fmt.Sprintf("scale=-2:%d", height)
	}
}

// qualityArgs are the per-family rate control and preset flags.
func (f Family) qualityArgs() []string {
	switch f {
	case FamilyNVENC:
		return []string{
			"-preset", "p3",
			"-profile:v", "high",
			"-level:v", "4.1",
			"-rc", "vbr",
			"-rc-lookahead", "20",
			"-bf", "3",
			"-spatial-aq", "1",
			"-temporal-aq", "1",
			"-aq-strength", "8",
		}
	case FamilyVAAPI:
		return []string{
			"-compression_level", "20",
			"-rc_mode", "VBR",
			"-profile:v", "high",
		}
	case FamilyQSV:
		return []string{
			"-preset", "faster",
			"-profile:v", "high",
			"-look_ahead", "1",
			"-look_ahead_depth", "40",
		}
	default:
		return []string{
			"-preset", "veryfast",
			"-profile:v", "high",
			"-level:v", "4.0",
		}
	}
}

// VariantArgs builds the full ffmpeg argument list for one video rendition.
// Output is a VOD HLS playlist with 4-second segments aligned across
// renditions by forced keyframes.
func VariantArgs(family Family, input string, variant media.Variant, segmentDir string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, family.InputArgs()...)
	args = append(args, "-i", input,
		"-map", "0:v:0",
		"-an", "-sn",
		"-c:v", family.Codec(),
		"-vf", family.ScaleFilter(variant.Height),
	)
	if !family.Hardware() {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	args = append(args, family.qualityArgs()...)
	args = append(args,
		"-b:v", variant.BitrateArg(),
		"-maxrate", fmt.Sprintf("%dk", variant.MaxBitrateKbps()),
		"-bufsize", fmt.Sprintf("%dk", variant.BufsizeKbps()),
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-force_key_frames", "expr:gte(t,n_forced*4)",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-start_number", "0",
		"-hls_segment_filename", segmentDir+"/segment_%03d.ts",
		segmentDir+"/index.m3u8",
	)
	return args
}

// AudioArgs builds the ffmpeg argument list for one audio rendition.
// audioIndex counts audio streams only (the 0:a:N selector), not container
// stream indexes. Tracks with more than two channels are downmixed to
// stereo.
func AudioArgs(input string, audioIndex, channels int, segmentDir string) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-map", fmt.Sprintf("0:a:%d", audioIndex),
		"-vn",
		"-c:a", "aac",
		"-b:a", "128k",
	}
	if channels > 2 {
		args = append(args, "-ac", "2")
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-start_number", "0",
		"-hls_segment_filename", segmentDir+"/segment_%03d.ts",
		segmentDir+"/index.m3u8",
	)
	return args
}

// ThumbnailArgs captures a single poster frame. The seek point sits a tenth
// of the way into the source but never before the first second.
func ThumbnailArgs(input string, durationSeconds float64, outputPath string) []string {
	seek := durationSeconds * 0.1
	if seek < 1.0 {
		seek = 1.0
	}
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", seek),
		"-i", input,
		"-frames:v", "1",
		"-vf", "scale=480:-1",
		"-q:v", "2",
		outputPath,
	}
}

// SpriteArgs samples roughly one hundred frames across the source into a
// 10x10 scrub-preview tile sheet.
func SpriteArgs(input string, durationSeconds float64, outputPath string) []string {
	fps := 0.01
	if durationSeconds > 0 {
		fps = 100.0 / durationSeconds
		if fps < 0.01 {
			fps = 0.01
		}
	}
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vf", fmt.Sprintf("fps=%.4f,scale=160:-1,tile=10x10", fps),
		"-frames:v", "1",
		"-q:v", "5",
		outputPath,
	}
}

// hardwareFailureSignatures are stderr fragments that identify an encoder
// refusing the source or the device rather than a bad invocation. Any of
// them triggers a one-shot software retry.
var hardwareFailureSignatures = []string{
	"Hardware is lacking required capabilities",
	"Provided device doesn't support required NVENC features",
	"NVENC features",
	"hwaccel initialisation returned error",
	"Failed setup for format cuda",
	"Failed setup for format vaapi",
	"Failed setup for format qsv",
	"Impossible to convert between the formats",
	"Cannot open the hw device",
	"Could not open encoder before EOF",
	"Error initializing the hwcontext",
	"No capable adapters found",
	"Device creation failed",
	"No VAAPI support",
	"DRM setup failed",
	"Error while opening encoder",
	"maybe incorrect parameters",
	"Error sending frames to consumers",
	"Function not implemented",
	"Incompatible pixel format",
	"does not support the pixel format",
}

// IsHardwareFailure reports whether ffmpeg stderr output indicates a
// hardware encoder failure that software encoding could recover from.
func IsHardwareFailure(stderr string) bool {
	for _, signature := range hardwareFailureSignatures {
		if strings.Contains(stderr, signature) {
			return true
		}
	}
	return false
}
