package media

import "strings"

// IsBitmapSubtitle reports whether the codec is a bitmap-based subtitle
// format (PGS, VobSub, DVB) that must be stream-copied rather than converted
// to text.
func IsBitmapSubtitle(codec string) bool {
	switch strings.ToLower(codec) {
	case "hdmv_pgs_subtitle", "pgssub", "dvd_subtitle", "dvdsub", "dvb_subtitle", "dvbsub":
		return true
	default:
		return false
	}
}

// IsVobSubSubtitle reports whether the codec is the DVD VobSub format, which
// extracts as a .sub/.idx file pair.
func IsVobSubSubtitle(codec string) bool {
	switch strings.ToLower(codec) {
	case "dvd_subtitle", "dvdsub":
		return true
	default:
		return false
	}
}

// SubtitleExtension returns the file extension used when extracting a
// subtitle stream of the given codec.
func SubtitleExtension(codec string) string {
	if IsBitmapSubtitle(codec) {
		switch strings.ToLower(codec) {
		case "hdmv_pgs_subtitle", "pgssub":
			return "sup"
		default:
			return "sub"
		}
	}
	switch strings.ToLower(codec) {
	case "subrip", "srt", "mov_text", "tx3g", "microdvd":
		return "srt"
	case "webvtt", "vtt":
		return "vtt"
	case "ttml", "dfxp":
		return "ttml"
	default:
		return "ass"
	}
}

// SubtitleConversionCodec returns the ffmpeg subtitle encoder used when
// extracting a text subtitle stream of the given codec.
func SubtitleConversionCodec(codec string) string {
	switch strings.ToLower(codec) {
	case "subrip", "srt", "mov_text", "tx3g", "microdvd":
		return "srt"
	case "webvtt", "vtt":
		return "webvtt"
	case "ttml", "dfxp":
		return "ttml"
	default:
		return "ass"
	}
}
