package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalParts(t *testing.T) {
	tests := []struct {
		name    string
		parts   []CompletedPart
		want    []int
		wantErr string
	}{
		{
			name:  "ordered",
			parts: []CompletedPart{{1, "a"}, {2, "b"}, {3, "c"}},
			want:  []int{1, 2, 3},
		},
		{
			name:  "shuffled",
			parts: []CompletedPart{{3, "c"}, {1, "a"}, {2, "b"}},
			want:  []int{1, 2, 3},
		},
		{
			name:    "gap at 3",
			parts:   []CompletedPart{{1, "a"}, {2, "b"}, {4, "d"}},
			wantErr: "missing part 3",
		},
		{
			name:    "missing first",
			parts:   []CompletedPart{{2, "b"}},
			wantErr: "missing part 1",
		},
		{
			name:    "duplicate",
			parts:   []CompletedPart{{1, "a"}, {2, "b"}, {2, "b"}},
			wantErr: "duplicate part 2",
		},
		{
			name:    "empty etag",
			parts:   []CompletedPart{{1, " "}},
			wantErr: "etag",
		},
		{
			name:    "empty",
			parts:   nil,
			wantErr: "no parts",
		},
		{
			name:    "zero part number",
			parts:   []CompletedPart{{0, "a"}},
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalParts(tt.parts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			numbers := make([]int, len(got))
			for i, p := range got {
				numbers[i] = p.PartNumber
			}
			assert.Equal(t, tt.want, numbers)
		})
	}
}

func TestCanonicalParts_DoesNotReorderInput(t *testing.T) {
	parts := []CompletedPart{{2, "b"}, {1, "a"}}
	_, err := CanonicalParts(parts)
	require.NoError(t, err)
	assert.Equal(t, 2, parts[0].PartNumber)
}

func TestPartCount(t *testing.T) {
	assert.Equal(t, 1, PartCount(1048576, 10*1024*1024))
	assert.Equal(t, 2, PartCount(10*1024*1024+1, 10*1024*1024))
	assert.Equal(t, 1, PartCount(10*1024*1024, 10*1024*1024))
	assert.Equal(t, 0, PartCount(0, 10))
}
