package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFilenameLength is the common filesystem limit, in bytes.
const maxFilenameLength = 255

// dangerousChars break header quoting or act as path separators.
var dangerousChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true,
	'\r': true,
}

// SanitizeFilename makes a client file name safe to embed in an object key or
// a Content-Disposition header. Unicode is kept; separators, quotes and control
// characters become underscores. Long names are cut to 255 bytes keeping the
// extension.
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || dangerousChars[r] {
			sb.WriteRune('_')
		} else {
			sb.WriteRune(r)
		}
	}

	result := strings.TrimSpace(sb.String())
	if strings.Trim(result, "_.") == "" {
		return "file"
	}
	if len(result) > maxFilenameLength {
		result = truncatePreservingExtension(result)
	}
	return result
}

func truncatePreservingExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateToBytes(name, maxFilenameLength)
	}
	base := name[:len(name)-len(ext)]
	return truncateToBytes(base, maxFilenameLength-len(ext)) + ext
}

// truncateToBytes never splits a multi-byte rune.
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// ObjectKey is where a task's source file lives in the bucket. The
// orchestrator owns object naming so clients cannot write outside their prefix.
func ObjectKey(ownerID, taskID, fileName string) string {
	return path.Join("uploads", SanitizeFilename(ownerID), taskID, SanitizeFilename(fileName))
}

// ContentDisposition returns an attachment header value for a download.
func ContentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", SanitizeFilename(filename))
}
