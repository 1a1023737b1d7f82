// Package validation checks client supplied upload metadata before a task is
// created.
package validation

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/bnema/waveshift/internal/domain"
)

// allowedMediaTypes is the set of audio and video types the pipeline accepts.
var allowedMediaTypes = map[string]bool{
	// Video
	"video/mp4":        true,
	"video/webm":       true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/x-msvideo":  true,
	"video/mpeg":       true,
	// Audio
	"audio/mpeg":      true,
	"audio/mp4":       true,
	"audio/aac":       true,
	"audio/ogg":       true,
	"application/ogg": true,
	"audio/wav":       true,
	"audio/wave":      true,
	"audio/x-wav":     true,
	"audio/flac":      true,
	"audio/x-flac":    true,
	"audio/webm":      true,
}

// extensionTypes resolves generic client types by file extension.
var extensionTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
}

// MediaType returns the canonical form of contentType, falling back to the
// file extension when the client sent a generic type. It fails with a
// validation error for anything that is not audio or video.
func MediaType(contentType, fileName string) (string, error) {
	mt := ""
	if strings.TrimSpace(contentType) != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return "", domain.Validationf("malformed media type %q", contentType)
		}
		mt = strings.ToLower(parsed)
	}

	if mt == "" || mt == "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(fileName))
		if byExt, ok := extensionTypes[ext]; ok {
			mt = byExt
		}
	}

	if mt == "" {
		return "", domain.Validationf("media type is required")
	}
	if !allowedMediaTypes[mt] {
		return "", domain.Validationf("media type %q is not supported", mt)
	}
	return mt, nil
}
