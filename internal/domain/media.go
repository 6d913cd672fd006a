package domain

import "fmt"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case KindAudio, KindVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Source classifies what a producer publishes.
type Source string

const (
	SourceNone        Source = ""
	SourceCamera      Source = "camera"
	SourceMicrophone  Source = "microphone"
	SourceScreenVideo Source = "screen-video"
	SourceScreenAudio Source = "screen-audio"
)

func (s Source) Valid() bool {
	switch s {
	case SourceNone, SourceCamera, SourceMicrophone, SourceScreenVideo, SourceScreenAudio:
		return true
	}
	return false
}

// TracksSpeech reports whether an audio producer of this source takes part in
// active-speaker detection. Shared screen audio never does.
func (s Source) TracksSpeech(kind MediaKind) bool {
	return kind == KindAudio && s != SourceScreenAudio
}
