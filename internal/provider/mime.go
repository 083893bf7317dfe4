package provider

import (
	"mime"
	"strings"
)

// DefaultAudioExtension is used for unknown or missing audio MIME types.
// Voice notes from mobile messengers are Ogg/Opus.
const DefaultAudioExtension = "ogg"

var audioExtensions = map[string]string{
	"mp3":   "mp3",
	"mpeg":  "mp3",
	"mpga":  "mp3",
	"wav":   "wav",
	"x-wav": "wav",
	"wave":  "wav",
	"m4a":   "m4a",
	"x-m4a": "m4a",
	"mp4":   "m4a",
	"aac":   "m4a",
	"ogg":   "ogg",
	"opus":  "ogg",
}

// ExtensionForMIME maps an audio MIME type to the file extension the
// transcription API expects.
func ExtensionForMIME(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}

	_, subtype, ok := strings.Cut(mediaType, "/")
	if !ok {
		return DefaultAudioExtension
	}
	if ext, known := audioExtensions[subtype]; known {
		return ext
	}
	return DefaultAudioExtension
}
