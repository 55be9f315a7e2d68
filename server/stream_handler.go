package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"abstream/cache"
	"abstream/config"
	"abstream/core/hls"
	"abstream/logger"
	"abstream/model"
	"abstream/repository"
	"abstream/storage"

	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"
)

// StreamHandler serves playlists and segments, reading through the cache
// to object storage and consulting the database for availability.
type StreamHandler struct {
	cfg        *config.Config
	jobs       repository.JobRepository
	renditions repository.RenditionRepository
	store      storage.Store
	streams    *cache.StreamCache

	// regen collapses concurrent cache-miss rebuilds of the same key into
	// one storage round trip.
	regen singleflight.Group
}

// NewStreamHandler creates the read-path handler.
func NewStreamHandler(
	cfg *config.Config,
	jobs repository.JobRepository,
	renditions repository.RenditionRepository,
	store storage.Store,
	streams *cache.StreamCache,
) *StreamHandler {
	return &StreamHandler{
		cfg:        cfg,
		jobs:       jobs,
		renditions: renditions,
		store:      store,
		streams:    streams,
	}
}

// GetMasterPlaylist generates the top-level playlist on the fly from the
// completed renditions, annotating the variant recommended for the
// caller's bandwidth.
func (h *StreamHandler) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	chapterID := mux.Vars(r)["chapter_id"]

	available, err := h.renditions.CompletedBitrates(r.Context(), chapterID)
	if err != nil {
		logger.Error("bitrate lookup failed",
			logger.String("chapterId", chapterID),
			logger.ErrorField(err))
		writeJSONError(w, http.StatusInternalServerError, "could not load renditions")
		return
	}
	if len(available) == 0 {
		writeJSONError(w, http.StatusNotFound, "no renditions available for chapter")
		return
	}

	preferred, _ := strconv.Atoi(r.URL.Query().Get("bitrate"))
	bandwidth, _ := strconv.ParseInt(r.URL.Query().Get("bandwidth"), 10, 64)
	defaultSelection := preferred == 0 && bandwidth == 0

	// Only the parameter-free default is served from and written to the
	// cache; a recommendation tuned to one caller must not leak to others.
	cacheKey := cache.MasterPlaylistKey(chapterID)
	if defaultSelection {
		if data := h.streams.Get(r.Context(), cacheKey); data != nil {
			writePlaylist(w, data, 300)
			return
		}
	}

	recommended := hls.SelectRecommended(available, preferred, bandwidth)
	content := []byte(hls.MasterPlaylist(available, recommended))

	if defaultSelection {
		h.streams.Set(r.Context(), cacheKey, content, hls.PlaylistContentType)
	}
	writePlaylist(w, content, 300)
}

// GetVariantPlaylist serves one bitrate's playlist, regenerating it from
// the stored segments on a cache miss.
func (h *StreamHandler) GetVariantPlaylist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chapterID := vars["chapter_id"]
	bitrate, err := strconv.Atoi(vars["bitrate"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bitrate must be numeric")
		return
	}

	rendition, err := h.requireCompletedRendition(w, r, chapterID, bitrate)
	if rendition == nil || err != nil {
		return
	}

	cacheKey := cache.PlaylistKey(chapterID, bitrate)
	if data := h.streams.Get(r.Context(), cacheKey); data != nil {
		writePlaylist(w, data, 60)
		return
	}

	result, err, _ := h.regen.Do(cacheKey, func() (interface{}, error) {
		objects, err := h.store.List(r.Context(), rendition.SegmentsPath+"/")
		if err != nil {
			return nil, fmt.Errorf("list segments: %w", err)
		}

		var segments []string
		for _, obj := range objects {
			name := obj.Key[strings.LastIndex(obj.Key, "/")+1:]
			if strings.HasPrefix(name, "segment_") && strings.HasSuffix(name, ".ts") {
				segments = append(segments, name)
			}
		}
		if len(segments) == 0 {
			return nil, storage.ErrNotFound
		}

		content := []byte(hls.VariantPlaylist(segments, h.cfg.HLSSegmentDuration))
		h.streams.Set(r.Context(), cacheKey, content, hls.PlaylistContentType)
		return content, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "no segments stored for rendition")
			return
		}
		logger.Error("segment listing failed",
			logger.String("chapterId", chapterID),
			logger.Int("bitrate", bitrate),
			logger.ErrorField(err))
		writeJSONError(w, http.StatusInternalServerError, "could not list segments")
		return
	}
	writePlaylist(w, result.([]byte), 60)
}

var segmentIDRe = regexp.MustCompile(`^(.+)_(\d+)_(\d{3})$`)

// segmentFile resolves a segment identifier to its object name. Both the
// canonical "{chapter}_{bitrate}_{NNN}" form and the raw file name
// "segment_NNN.ts" are accepted.
func segmentFile(segmentID string) (string, bool) {
	if strings.HasPrefix(segmentID, "segment_") && strings.HasSuffix(segmentID, ".ts") {
		return segmentID, true
	}
	if m := segmentIDRe.FindStringSubmatch(segmentID); m != nil {
		return "segment_" + m[3] + ".ts", true
	}
	return "", false
}

// GetSegment serves one MPEG-TS segment through the cache.
func (h *StreamHandler) GetSegment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chapterID := vars["chapter_id"]
	bitrate, err := strconv.Atoi(vars["bitrate"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bitrate must be numeric")
		return
	}
	segmentID := vars["segment_id"]

	fileName, ok := segmentFile(segmentID)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid segment id")
		return
	}
	// Cache keys always use the canonical chapter-scoped identifier.
	canonical := segmentID
	if strings.HasPrefix(segmentID, "segment_") {
		index, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fileName, "segment_"), ".ts"))
		canonical = model.SegmentID(chapterID, bitrate, index)
	}

	rendition, err := h.requireCompletedRendition(w, r, chapterID, bitrate)
	if rendition == nil || err != nil {
		return
	}

	cacheKey := cache.SegmentKey(canonical)
	if data := h.streams.Get(r.Context(), cacheKey); data != nil {
		writeSegment(w, data)
		return
	}

	result, err, _ := h.regen.Do(cacheKey, func() (interface{}, error) {
		data, err := h.store.Download(r.Context(), rendition.SegmentsPath+"/"+fileName)
		if err != nil {
			return nil, err
		}
		h.streams.Set(r.Context(), cacheKey, data, hls.SegmentContentType)
		return data, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "segment not found")
			return
		}
		logger.Error("segment download failed",
			logger.String("chapterId", chapterID),
			logger.String("segment", fileName),
			logger.ErrorField(err))
		writeJSONError(w, http.StatusInternalServerError, "could not load segment")
		return
	}
	writeSegment(w, result.([]byte))
}

// streamingStatus is the response body of GetStreamingStatus.
type streamingStatus struct {
	ChapterID          string `json:"chapter_id"`
	AvailableBitrates  []int  `json:"available_bitrates"`
	TranscodingStatus  string `json:"transcoding_status"`
	CanStream          bool   `json:"can_stream"`
	EstimatedBandwidth int64  `json:"estimated_bandwidth"`
}

// GetStreamingStatus reports availability for a chapter.
func (h *StreamHandler) GetStreamingStatus(w http.ResponseWriter, r *http.Request) {
	chapterID := mux.Vars(r)["chapter_id"]

	available, err := h.renditions.CompletedBitrates(r.Context(), chapterID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not load renditions")
		return
	}

	status := streamingStatus{
		ChapterID:         chapterID,
		AvailableBitrates: available,
		CanStream:         len(available) > 0,
	}
	if len(available) > 0 {
		max := available[len(available)-1]
		for _, b := range available {
			if b > max {
				max = b
			}
		}
		status.EstimatedBandwidth = int64(max) * 1000
	}

	status.TranscodingStatus = h.deriveStatus(r, chapterID, available)
	writeJSON(w, http.StatusOK, status)
}

// deriveStatus combines rendition availability with the latest job row. A
// chapter with some but not all configured bitrates is partial regardless
// of job state.
func (h *StreamHandler) deriveStatus(r *http.Request, chapterID string, available []int) string {
	if len(available) > 0 && len(available) < len(h.cfg.TranscodingBitrates) {
		return "partial"
	}
	if len(available) > 0 {
		return model.JobStatusCompleted
	}

	jobRow, err := h.jobs.LatestByChapter(r.Context(), chapterID)
	if err != nil || jobRow == nil {
		return "not_started"
	}
	return jobRow.Status
}

// PreloadChapter pushes a rendition's segments into the cache so first
// playback does not pay the storage round-trips.
func (h *StreamHandler) PreloadChapter(w http.ResponseWriter, r *http.Request) {
	chapterID := mux.Vars(r)["chapter_id"]

	var body struct {
		Bitrate int `json:"bitrate"`
	}
	if r.Body != nil {
		// An empty body selects the default bitrate.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	bitrate := body.Bitrate
	if bitrate == 0 {
		bitrate = 128
	}

	rendition, err := h.requireCompletedRendition(w, r, chapterID, bitrate)
	if rendition == nil || err != nil {
		return
	}

	objects, err := h.store.List(r.Context(), rendition.SegmentsPath+"/")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not list segments")
		return
	}

	loaded := 0
	for _, obj := range objects {
		if loaded >= h.cfg.PreloadSegmentCount {
			break
		}
		name := obj.Key[strings.LastIndex(obj.Key, "/")+1:]
		if !strings.HasPrefix(name, "segment_") || !strings.HasSuffix(name, ".ts") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "segment_"), ".ts"))
		if err != nil {
			continue
		}

		cacheKey := cache.SegmentKey(model.SegmentID(chapterID, bitrate, index))
		if h.streams.Exists(r.Context(), cacheKey) {
			loaded++
			continue
		}
		data, err := h.store.Download(r.Context(), obj.Key)
		if err != nil {
			logger.Warn("preload segment fetch failed",
				logger.String("key", obj.Key),
				logger.ErrorField(err))
			continue
		}
		h.streams.Set(r.Context(), cacheKey, data, hls.SegmentContentType)
		loaded++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chapter_id":      chapterID,
		"bitrate":         bitrate,
		"status":          "preloaded",
		"segments_loaded": loaded,
	})
}

// GetAnalytics reports the per-process cache counters, optionally scoped
// with the cached segment keys of one chapter.
func (h *StreamHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	stats := h.streams.Stats()
	resp := map[string]interface{}{
		"cache": stats,
	}

	if chapterID := r.URL.Query().Get("chapterId"); chapterID != "" {
		keys, err := h.streams.ChapterSegmentKeys(r.Context(), chapterID)
		if err != nil {
			logger.Warn("chapter cache listing failed",
				logger.String("chapterId", chapterID),
				logger.ErrorField(err))
		}
		resp["chapter_id"] = chapterID
		resp["cached_segments"] = len(keys)
		resp["cached_segment_keys"] = keys
	}

	writeJSON(w, http.StatusOK, resp)
}

// requireCompletedRendition loads the rendition and writes the error
// response itself when it is absent or not completed.
func (h *StreamHandler) requireCompletedRendition(w http.ResponseWriter, r *http.Request, chapterID string, bitrate int) (*model.Rendition, error) {
	rendition, err := h.renditions.Get(r.Context(), chapterID, bitrate)
	if err != nil {
		logger.Error("rendition lookup failed",
			logger.String("chapterId", chapterID),
			logger.Int("bitrate", bitrate),
			logger.ErrorField(err))
		writeJSONError(w, http.StatusInternalServerError, "could not load rendition")
		return nil, err
	}
	if rendition == nil || rendition.Status != model.RenditionStatusCompleted {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no completed %dk rendition for chapter", bitrate))
		return nil, nil
	}
	return rendition, nil
}

func writePlaylist(w http.ResponseWriter, data []byte, maxAge int) {
	w.Header().Set("Content-Type", hls.PlaylistContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	if _, err := w.Write(data); err != nil {
		logger.Error("write playlist failed", logger.ErrorField(err))
	}
}

func writeSegment(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", hls.SegmentContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := w.Write(data); err != nil {
		logger.Error("write segment failed", logger.ErrorField(err))
	}
}
