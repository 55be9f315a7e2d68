package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterPlaylist_AscendingOrderAndBandwidth(t *testing.T) {
	content := MasterPlaylist([]int{256, 64, 128}, 0)

	require.True(t, strings.HasPrefix(content, "#EXTM3U\n#EXT-X-VERSION:3\n"))

	idx64 := strings.Index(content, "BANDWIDTH=64000")
	idx128 := strings.Index(content, "BANDWIDTH=128000")
	idx256 := strings.Index(content, "BANDWIDTH=256000")
	require.NotEqual(t, -1, idx64)
	require.NotEqual(t, -1, idx128)
	require.NotEqual(t, -1, idx256)
	assert.Less(t, idx64, idx128)
	assert.Less(t, idx128, idx256)

	assert.Contains(t, content, "64k/playlist.m3u8")
	assert.Contains(t, content, "128k/playlist.m3u8")
	assert.Contains(t, content, "256k/playlist.m3u8")
	assert.Contains(t, content, `CODECS="mp4a.40.2"`)
	assert.NotContains(t, content, "RESOLUTION")
}

func TestMasterPlaylist_RecommendedAnnotation(t *testing.T) {
	content := MasterPlaylist([]int{64, 128, 256}, 128)

	lines := strings.Split(content, "\n")
	var annotated string
	for i, line := range lines {
		if strings.Contains(line, "RESOLUTION=0x0") {
			require.Less(t, i+1, len(lines))
			annotated = lines[i+1]
		}
	}
	assert.Equal(t, "128k/playlist.m3u8", annotated)
	assert.Equal(t, 1, strings.Count(content, "RESOLUTION=0x0"))
}

func TestVariantPlaylist_Format(t *testing.T) {
	content := VariantPlaylist([]string{"segment_000.ts", "segment_001.ts"}, 10)

	assert.True(t, strings.HasPrefix(content, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n"))
	assert.Contains(t, content, "#EXTINF:10.0,\nsegment_000.ts\n")
	assert.Contains(t, content, "#EXTINF:10.0,\nsegment_001.ts\n")
	assert.True(t, strings.HasSuffix(content, "#EXT-X-ENDLIST\n"))
	assert.Less(t, strings.Index(content, "segment_000.ts"), strings.Index(content, "segment_001.ts"))
}

func TestSelectRecommended(t *testing.T) {
	available := []int{64, 128, 256}

	tests := []struct {
		name      string
		preferred int
		bandwidth int64
		want      int
	}{
		{"preferred available", 256, 0, 256},
		{"preferred missing falls to bandwidth", 96, 150000, 128},
		{"bandwidth picks highest fitting", 0, 150000, 128},
		{"bandwidth fits all", 0, 500000, 256},
		{"bandwidth fits none picks lowest", 0, 10000, 64},
		{"no hints picks median", 0, 0, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectRecommended(available, tt.preferred, tt.bandwidth))
		})
	}

	assert.Equal(t, 128, SelectRecommended(nil, 0, 0))
	assert.Equal(t, 64, SelectRecommended([]int{64}, 0, 0))
}

func TestSegmentFileName(t *testing.T) {
	assert.Equal(t, "segment_000.ts", SegmentFileName(0))
	assert.Equal(t, "segment_042.ts", SegmentFileName(42))
	assert.Equal(t, "segment_123.ts", SegmentFileName(123))
}
