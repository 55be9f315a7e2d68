package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"abstream/logger"
)

// Encoder invokes ffmpeg to segment and transcode a source file into one
// HLS rendition. Each call spawns an isolated subprocess; cancelling the
// context kills it.
type Encoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewEncoder creates an Encoder using the configured binaries.
func NewEncoder(ffmpegPath, ffprobePath string) *Encoder {
	if ffprobePath == "" {
		ffprobePath = strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)
	}
	return &Encoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// EncodeParams describes one rendition encode.
type EncodeParams struct {
	InputPath       string
	OutputDir       string // local directory receiving playlist.m3u8 + segments
	Bitrate         int    // kbps
	SegmentDuration int    // seconds
	// OnProgress receives coarse percentages in [0,100]. May be nil.
	OnProgress func(percent int)
}

var timeRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// EncodeHLS runs ffmpeg with the fixed audio profile (AAC stereo 44.1 kHz)
// at the requested bitrate, writing playlist.m3u8 and segment_NNN.ts files
// into OutputDir.
func (e *Encoder) EncodeHLS(ctx context.Context, p EncodeParams) error {
	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", p.OutputDir, err)
	}

	duration, err := e.Duration(ctx, p.InputPath)
	if err != nil {
		logger.Warn("could not probe input duration, progress will be coarse",
			logger.String("input", p.InputPath),
			logger.ErrorField(err))
	}

	args := []string{
		"-y",
		"-i", p.InputPath,
		"-c:a", "aac",
		"-ac", "2",
		"-ar", "44100",
		"-b:a", fmt.Sprintf("%dk", p.Bitrate),
		"-f", "hls",
		"-hls_time", strconv.Itoa(p.SegmentDuration),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(p.OutputDir, "segment_%03d.ts"),
		"-hls_flags", "independent_segments",
		filepath.Join(p.OutputDir, "playlist.m3u8"),
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create ffmpeg stderr pipe: %w", err)
	}

	logger.Info("ffmpeg started",
		logger.String("input", p.InputPath),
		logger.Int("bitrate", p.Bitrate),
		logger.String("outputDir", p.OutputDir))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	tail := e.scanProgress(stderr, duration, p.OnProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed for %s: %w\n%s", p.InputPath, err, tail)
	}

	if p.OnProgress != nil {
		p.OnProgress(100)
	}
	return nil
}

// scanProgress reads ffmpeg stderr, emitting percentages from time= lines,
// and returns the last lines for error reporting.
func (e *Encoder) scanProgress(r io.Reader, duration float64, onProgress func(int)) string {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesOrCR)

	tail := make([]string, 0, 20)
	lastPercent := -1
	for scanner.Scan() {
		line := scanner.Text()
		if len(tail) == cap(tail) {
			tail = tail[1:]
		}
		tail = append(tail, line)

		if duration <= 0 || onProgress == nil {
			continue
		}
		m := timeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec, _ := strconv.ParseFloat(m[3], 64)
		elapsed := float64(h)*3600 + float64(min)*60 + sec

		percent := int(elapsed / duration * 100)
		if percent > 99 {
			percent = 99
		}
		if percent > lastPercent {
			lastPercent = percent
			onProgress(percent)
		}
	}
	return strings.Join(tail, "\n")
}

// ffmpeg writes status lines terminated by \r; split on either.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration uses ffprobe to measure the input length in seconds.
func (e *Encoder) Duration(ctx context.Context, inputFile string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w\n%s", inputFile, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("unmarshal ffprobe output for %s: %w", inputFile, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputFile)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q for %s: %w", probeData.Format.Duration, inputFile, err)
	}
	return duration, nil
}
