package hls

import (
	"fmt"
	"sort"
	"strings"
)

// MIME types for HLS artifacts.
const (
	PlaylistContentType = "application/vnd.apple.mpegurl"
	SegmentContentType  = "video/mp2t"
)

// AAC-LC codec tag used for all audio renditions.
const audioCodec = "mp4a.40.2"

// MasterPlaylist renders the top-level playlist for the given bitrates in
// ascending order. Bandwidth is bitrate kbps × 1000. When recommended
// matches one of the bitrates, that variant is annotated with
// RESOLUTION=0x0 so clients can spot the server's pick.
func MasterPlaylist(bitrates []int, recommended int) string {
	sorted := append([]int(nil), bitrates...)
	sort.Ints(sorted)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, bitrate := range sorted {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"%s\"", bitrate*1000, audioCodec))
		if bitrate == recommended {
			b.WriteString(",RESOLUTION=0x0")
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%dk/playlist.m3u8\n", bitrate))
	}
	return b.String()
}

// VariantPlaylist renders a variant playlist for the given segment file
// names, already in play order. Every segment is declared at the target
// duration; the playlist is closed with ENDLIST since renditions are
// complete before they are served.
func VariantPlaylist(segments []string, targetDuration int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration))
	b.WriteString("\n")

	for _, seg := range segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%d.0,\n", targetDuration))
		b.WriteString(seg + "\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// SelectRecommended picks the variant a client should start with.
//
// Order of preference: an explicitly requested bitrate that is available;
// the highest bitrate whose bandwidth fits the client's reported
// bandwidth (lowest when none fits); the median otherwise. 128 is the
// fallback when nothing is available to choose from.
func SelectRecommended(available []int, preferred int, clientBandwidth int64) int {
	if len(available) == 0 {
		return 128
	}
	sorted := append([]int(nil), available...)
	sort.Ints(sorted)

	if preferred > 0 {
		for _, b := range sorted {
			if b == preferred {
				return b
			}
		}
	}

	if clientBandwidth > 0 {
		best := 0
		for _, b := range sorted {
			if int64(b)*1000 <= clientBandwidth {
				best = b
			}
		}
		if best > 0 {
			return best
		}
		return sorted[0]
	}

	return sorted[len(sorted)/2]
}

// SegmentFileName formats the canonical segment name, e.g. "segment_003.ts".
func SegmentFileName(index int) string {
	return fmt.Sprintf("segment_%03d.ts", index)
}
