package media

import (
	"fmt"
	"strings"
)

// audioGroupID is the shared HLS media group referenced by every video
// variant when the source carries audio.
const audioGroupID = "audio"

// AudioRenditionLabel returns the directory label for an audio rendition.
// The track index is always appended so two tracks sharing a language code
// still map to distinct sub-playlists.
func AudioRenditionLabel(stream AudioStream, index int) string {
	if lang := strings.TrimSpace(stream.Language); lang != "" {
		return fmt.Sprintf("%s_%d", lang, index)
	}
	return fmt.Sprintf("track_%d", index)
}

// AudioDisplayName resolves the NAME attribute for an audio media entry.
// Track titles win; otherwise the language display name is used, and
// undefined-language tracks get a synthesized name carrying the track number
// so multiple unnamed tracks remain distinguishable.
func AudioDisplayName(stream AudioStream, index int) string {
	if title := strings.TrimSpace(stream.Title); title != "" {
		return title
	}
	lang := strings.TrimSpace(stream.Language)
	if lang == "" || strings.EqualFold(lang, "und") {
		return fmt.Sprintf("Audio Track %d (%s)", index+1, stream.Codec)
	}
	return LanguageDisplayName(lang)
}

// MasterPlaylist renders the master HLS playlist for the given ladder and
// audio tracks. One EXT-X-MEDIA entry is emitted per audio track and one
// EXT-X-STREAM-INF per variant; variants reference the shared audio group
// only when audio tracks exist. All URIs are relative to the playlist.
func MasterPlaylist(variants []Variant, audio []AudioStream) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n\n")

	if len(audio) > 0 {
		for idx, stream := range audio {
			lang := strings.TrimSpace(stream.Language)
			if lang == "" {
				lang = "und"
			}
			flag := "NO"
			if stream.Default || idx == 0 {
				flag = "YES"
			}
			fmt.Fprintf(&b,
				"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,LANGUAGE=%q,NAME=%q,DEFAULT=%s,AUTOSELECT=%s,URI=\"audio_%s/index.m3u8\"\n",
				audioGroupID, lang, AudioDisplayName(stream, idx), flag, flag, AudioRenditionLabel(stream, idx),
			)
		}
		b.WriteByte('\n')
	}

	for _, variant := range variants {
		audioAttr := ""
		if len(audio) > 0 {
			audioAttr = fmt.Sprintf(",AUDIO=%q", audioGroupID)
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d%s\n",
			variant.BandwidthBps(), variant.Width(), variant.Height, audioAttr)
		fmt.Fprintf(&b, "%s/index.m3u8\n", variant.Label)
	}

	return b.String()
}
