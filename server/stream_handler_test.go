package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"abstream/cache"
	"abstream/config"
	"abstream/model"
	"abstream/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobRepo keeps job rows in memory, newest last.
type fakeJobRepo struct {
	jobs []*model.TranscodingJob
}

func (f *fakeJobRepo) Create(ctx context.Context, job *model.TranscodingJob) error {
	job.CreatedAt = time.Now()
	f.jobs = append(f.jobs, job)
	return nil
}
func (f *fakeJobRepo) UpdateProgress(ctx context.Context, id int64, progress int) error { return nil }
func (f *fakeJobRepo) MarkCompleted(ctx context.Context, id int64) error                { return nil }
func (f *fakeJobRepo) MarkFailed(ctx context.Context, id int64, msg string) error       { return nil }
func (f *fakeJobRepo) LatestByChapter(ctx context.Context, chapterID string) (*model.TranscodingJob, error) {
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if f.jobs[i].ChapterID == chapterID {
			return f.jobs[i], nil
		}
	}
	return nil, nil
}

// fakeRenditionRepo keeps renditions keyed by chapter and bitrate.
type fakeRenditionRepo struct {
	rows map[string]map[int]*model.Rendition
}

func newFakeRenditionRepo() *fakeRenditionRepo {
	return &fakeRenditionRepo{rows: make(map[string]map[int]*model.Rendition)}
}

func (f *fakeRenditionRepo) put(r *model.Rendition) {
	if f.rows[r.ChapterID] == nil {
		f.rows[r.ChapterID] = make(map[int]*model.Rendition)
	}
	f.rows[r.ChapterID][r.Bitrate] = r
}

func (f *fakeRenditionRepo) Upsert(ctx context.Context, r *model.Rendition) error {
	f.put(r)
	return nil
}
func (f *fakeRenditionRepo) Get(ctx context.Context, chapterID string, bitrate int) (*model.Rendition, error) {
	return f.rows[chapterID][bitrate], nil
}
func (f *fakeRenditionRepo) ListByChapter(ctx context.Context, chapterID string) ([]model.Rendition, error) {
	var out []model.Rendition
	for _, b := range []int{64, 128, 256} {
		if r := f.rows[chapterID][b]; r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (f *fakeRenditionRepo) ListCompleted(ctx context.Context, chapterID string) ([]model.Rendition, error) {
	var out []model.Rendition
	for _, b := range []int{64, 128, 256} {
		if r := f.rows[chapterID][b]; r != nil && r.Status == model.RenditionStatusCompleted {
			out = append(out, *r)
		}
	}
	return out, nil
}
func (f *fakeRenditionRepo) CompletedBitrates(ctx context.Context, chapterID string) ([]int, error) {
	var out []int
	for _, b := range []int{64, 128, 256} {
		if r := f.rows[chapterID][b]; r != nil && r.Status == model.RenditionStatusCompleted {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakeRenditionRepo) DeleteByChapter(ctx context.Context, chapterID string) (int64, error) {
	n := int64(len(f.rows[chapterID]))
	delete(f.rows, chapterID)
	return n, nil
}

type testEnv struct {
	server     *Server
	store      *storage.LocalStore
	jobs       *fakeJobRepo
	renditions *fakeRenditionRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		StreamingPort:       "0",
		TranscodingBitrates: []int{64, 128, 256},
		HLSSegmentDuration:  10,
		PreloadSegmentCount: 5,
	}
	jobs := &fakeJobRepo{}
	renditions := newFakeRenditionRepo()

	srv := NewServer(Deps{
		Config:     cfg,
		Store:      store,
		Jobs:       jobs,
		Renditions: renditions,
		Streams:    cache.NewStreamCache(nil, time.Hour),
	})
	return &testEnv{server: srv, store: store, jobs: jobs, renditions: renditions}
}

// seedRendition stores a completed rendition with n segments.
func (e *testEnv) seedRendition(t *testing.T, chapterID string, bitrate, segments int) {
	t.Helper()
	ctx := context.Background()
	dir := model.BitrateOutputDir(chapterID, bitrate)

	for i := 0; i < segments; i++ {
		body := strings.Repeat("t", 16) + model.SegmentID(chapterID, bitrate, i)
		key := fmt.Sprintf("%s/segment_%03d.ts", dir, i)
		require.NoError(t, e.store.Upload(ctx, key, strings.NewReader(body), int64(len(body)), "video/mp2t"))
	}
	require.NoError(t, e.store.Upload(ctx, dir+"/playlist.m3u8", strings.NewReader("#EXTM3U\n"), 8, ""))

	e.renditions.put(&model.Rendition{
		ChapterID:       chapterID,
		Bitrate:         bitrate,
		SegmentsPath:    dir,
		PlaylistURL:     "/" + dir + "/playlist.m3u8",
		StorageProvider: "local",
		Status:          model.RenditionStatusCompleted,
	})
}

func (e *testEnv) request(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("user_id", "svc-1")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingUserIDRejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/chapters/ch1/status", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_WhitespaceUserIDRejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/chapters/ch1/status", nil)
	req.Header.Set("user_id", "   ")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetMasterPlaylist_NotFoundWithoutRenditions(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/master.m3u8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMasterPlaylist_BandwidthSelectsRecommended(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 64, 1)
	env.seedRendition(t, "ch1", 128, 1)
	env.seedRendition(t, "ch1", 256, 1)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/master.m3u8?bandwidth=150000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	body := rec.Body.String()
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.Contains(line, "RESOLUTION=0x0") {
			assert.Equal(t, "128k/playlist.m3u8", lines[i+1])
		}
	}
	assert.Contains(t, body, "BANDWIDTH=64000")
	assert.Contains(t, body, "BANDWIDTH=256000")
	assert.Equal(t, 1, strings.Count(body, "RESOLUTION=0x0"))
}

func TestGetVariantPlaylist_BadBitrate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/notanumber/playlist.m3u8", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetVariantPlaylist_NotCompleted(t *testing.T) {
	env := newTestEnv(t)
	env.renditions.put(&model.Rendition{
		ChapterID: "ch1",
		Bitrate:   128,
		Status:    model.RenditionStatusProcessing,
	})

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/128/playlist.m3u8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVariantPlaylist_RegeneratedFromStorage(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 128, 3)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/128/playlist.m3u8", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "#EXT-X-TARGETDURATION:10")
	assert.Contains(t, body, "segment_000.ts")
	assert.Contains(t, body, "segment_002.ts")
	assert.True(t, strings.HasSuffix(body, "#EXT-X-ENDLIST\n"))
	assert.Less(t, strings.Index(body, "segment_000.ts"), strings.Index(body, "segment_001.ts"))
}

func TestGetSegment_ByteEqualToStoredObject(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 128, 2)

	want, err := env.store.Download(context.Background(), "bit_transcode/ch1/128k/segment_001.ts")
	require.NoError(t, err)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/128/segments/ch1_128_001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, want, rec.Body.Bytes())

	// Raw file names resolve to the same object.
	rec = env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/128/segments/segment_001.ts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want, rec.Body.Bytes())
}

func TestGetSegment_Missing(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 128, 1)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/128/segments/ch1_128_009", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStreamingStatus_Partial(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 64, 1)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		ChapterID          string `json:"chapter_id"`
		AvailableBitrates  []int  `json:"available_bitrates"`
		TranscodingStatus  string `json:"transcoding_status"`
		CanStream          bool   `json:"can_stream"`
		EstimatedBandwidth int64  `json:"estimated_bandwidth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ch1", status.ChapterID)
	assert.Equal(t, []int{64}, status.AvailableBitrates)
	assert.Equal(t, "partial", status.TranscodingStatus)
	assert.True(t, status.CanStream)
	assert.Equal(t, int64(64000), status.EstimatedBandwidth)
}

func TestGetStreamingStatus_NotStartedAndJobDerived(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/status", "")
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "not_started", status["transcoding_status"])
	assert.Equal(t, false, status["can_stream"])

	require.NoError(t, env.jobs.Create(context.Background(), &model.TranscodingJob{
		ChapterID: "ch1",
		Status:    model.JobStatusProcessing,
	}))
	rec = env.request(t, http.MethodGet, "/api/v1/stream/chapters/ch1/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "processing", status["transcoding_status"])
}

func TestPreloadChapter_LoadsConfiguredCount(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 128, 8)

	rec := env.request(t, http.MethodPost, "/api/v1/stream/chapters/ch1/preload", `{"bitrate":128}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ChapterID      string `json:"chapter_id"`
		Bitrate        int    `json:"bitrate"`
		Status         string `json:"status"`
		SegmentsLoaded int    `json:"segments_loaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "preloaded", resp.Status)
	assert.Equal(t, 128, resp.Bitrate)
	assert.Equal(t, 5, resp.SegmentsLoaded)
}

func TestPreloadChapter_DefaultsTo128(t *testing.T) {
	env := newTestEnv(t)
	env.seedRendition(t, "ch1", 128, 2)

	rec := env.request(t, http.MethodPost, "/api/v1/stream/chapters/ch1/preload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(128), resp["bitrate"])
	assert.Equal(t, float64(2), resp["segments_loaded"])
}

func TestGetAnalytics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/stream/analytics?chapterId=ch1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "cache")
	assert.Equal(t, "ch1", resp["chapter_id"])
}

func TestSegmentFileParsing(t *testing.T) {
	name, ok := segmentFile("ch1_128_007")
	require.True(t, ok)
	assert.Equal(t, "segment_007.ts", name)

	name, ok = segmentFile("segment_012.ts")
	require.True(t, ok)
	assert.Equal(t, "segment_012.ts", name)

	_, ok = segmentFile("../../etc/passwd")
	assert.False(t, ok)
}
