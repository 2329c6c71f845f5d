package models

import "time"

// Video is one fully processed catalog entry. Storage keys are relative to
// the configured bucket prefix; the entrypoint key points at the master
// playlist uploaded for this video.
type Video struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Tags                 []string  `json:"tags"`
	AvailableResolutions []string  `json:"availableResolutions"`
	DurationSeconds      int       `json:"durationSeconds"`
	ThumbnailKey         string    `json:"thumbnailKey,omitempty"`
	SpritesKey           string    `json:"spritesKey,omitempty"`
	EntrypointKey        string    `json:"entrypointKey"`
	ViewCount            int64     `json:"viewCount"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// AudioTrack describes one audio rendition persisted for a video.
type AudioTrack struct {
	ID         string `json:"id"`
	VideoID    string `json:"videoId"`
	TrackIndex int    `json:"trackIndex"`
	Language   string `json:"language,omitempty"`
	Title      string `json:"title,omitempty"`
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate"`
	BitRate    int64  `json:"bitRate"`
	Default    bool   `json:"default"`
}

// SubtitleTrack describes one extracted subtitle stream. IdxStorageKey is
// populated only for VobSub tracks, which ship as a .sub/.idx pair.
type SubtitleTrack struct {
	ID            string `json:"id"`
	VideoID       string `json:"videoId"`
	TrackIndex    int    `json:"trackIndex"`
	Language      string `json:"language,omitempty"`
	Title         string `json:"title,omitempty"`
	Codec         string `json:"codec"`
	StorageKey    string `json:"storageKey"`
	IdxStorageKey string `json:"idxStorageKey,omitempty"`
	Default       bool   `json:"default"`
	Forced        bool   `json:"forced"`
}

// Attachment is an embedded container attachment, in practice a subtitle
// font, persisted alongside the video it was extracted from.
type Attachment struct {
	ID         string `json:"id"`
	VideoID    string `json:"videoId"`
	Filename   string `json:"filename"`
	Mimetype   string `json:"mimetype"`
	StorageKey string `json:"storageKey"`
}

// Chapter is one container chapter marker.
type Chapter struct {
	ID           string  `json:"id"`
	VideoID      string  `json:"videoId"`
	ChapterIndex int     `json:"chapterIndex"`
	StartTime    float64 `json:"startTime"`
	EndTime      float64 `json:"endTime"`
	Title        string  `json:"title,omitempty"`
}
