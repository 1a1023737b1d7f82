package domain

import (
	"sort"
	"strings"
	"time"
)

// MaxPartNumber is the S3 multipart limit.
const MaxPartNumber = 10000

type CompletedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type UploadSession struct {
	UploadID  string `json:"uploadId"`
	ObjectKey string `json:"objectKey"`
	PartSize  int64  `json:"partSize"`
	PartCount int    `json:"partCount"`
}

type PartURL struct {
	PartNumber int       `json:"partNumber"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func ValidatePartNumber(n int) error {
	if n < 1 || n > MaxPartNumber {
		return Validationf("part number %d out of range 1..%d", n, MaxPartNumber)
	}
	return nil
}

// CanonicalParts checks that parts cover exactly 1..N with no gaps or
// duplicates, in any order, and returns them sorted by part number.
func CanonicalParts(parts []CompletedPart) ([]CompletedPart, error) {
	if len(parts) == 0 {
		return nil, Validationf("no parts supplied")
	}

	sorted := make([]CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	for i, p := range sorted {
		if err := ValidatePartNumber(p.PartNumber); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.ETag) == "" {
			return nil, Validationf("part %d is missing its etag", p.PartNumber)
		}
		want := i + 1
		if p.PartNumber < want {
			return nil, Validationf("duplicate part %d", p.PartNumber)
		}
		if p.PartNumber > want {
			return nil, Validationf("missing part %d", want)
		}
	}
	return sorted, nil
}

// PartCount returns how many parts of partSize a file of size needs.
func PartCount(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}
