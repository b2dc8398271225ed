package media

import (
	"mime"
	"strings"
)

// Extension maps a clip mime type such as `video/webm; codecs="opus,vp8"`
// to a file extension.
func Extension(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	_, sub, ok := strings.Cut(strings.ToLower(mediaType), "/")
	if !ok || sub == "" {
		return "bin"
	}
	switch sub {
	case "quicktime":
		return "mov"
	case "x-matroska":
		return "mkv"
	case "mpeg":
		return "mpg"
	}
	return sub
}
