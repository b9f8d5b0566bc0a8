package messaging

import (
	"mime"
	"strings"

	"github.com/npezzotti/spark-chat/internal/types"
)

// Classify maps a declared content type to a message kind.
func Classify(contentType string) types.MessageKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return types.KindImage
	case strings.HasPrefix(mediaType, "video/"):
		return types.KindVideo
	case strings.HasPrefix(mediaType, "audio/"):
		return types.KindVoice
	default:
		return types.KindFile
	}
}

// Caption is the placeholder body stored with an attachment.
func Caption(kind types.MessageKind) string {
	switch kind {
	case types.KindImage:
		return "Photo"
	case types.KindVideo:
		return "Video"
	case types.KindVoice:
		return "Voice message"
	default:
		return "File"
	}
}
