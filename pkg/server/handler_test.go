package server

import (
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxview/internal/testutil"
	"voxview/pkg/decoder"
	"voxview/pkg/metrics"
	"voxview/pkg/provider"
)

type fixture struct {
	root    string
	router  http.Handler
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	testutil.WriteHeaderedRaw(t, root, "vol.bin", 4, 3, 2, testutil.Ramp(24))
	testutil.WriteFile(t, root, "junk.bin", make([]byte, 37))
	testutil.WriteFile(t, root, "readme.txt", []byte("hi"))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := decoder.Default(decoder.Options{}, decoder.WithObserver(m))
	p := provider.New(registry, provider.WithMetrics(m))
	h := New(p, Options{Root: root}, nil)
	return &fixture{root: root, router: NewRouter(h, reg), metrics: m}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHandleFiles(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/files")
	require.Equal(t, http.StatusOK, w.Code)

	var resp FilesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"./junk.bin", "./vol.bin"}, resp.Files)
}

func TestHandleVolume(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/volume?path=./vol.bin")
	require.Equal(t, http.StatusOK, w.Code)

	var resp VolumeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "raw-header", resp.Decoder)
	assert.Equal(t, SizeResponse{X: 4, Y: 3, Z: 2}, resp.Size)
	assert.Equal(t, map[string]int{"axial": 2, "coronal": 3, "sagittal": 4}, resp.Slices)
	assert.Empty(t, resp.Aspect)
}

func TestHandleVolumeErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/volume?path=missing.bin")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/volume")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/volume?path=vol.bin&size=1,2")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/volume?path=junk.bin")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unsupported_volume", resp.Error)
	assert.Equal(t, int64(37), resp.Bytes)
	assert.Len(t, resp.Failures, 3)
}

func TestHandleSlice(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=coronal&index=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=2")
	assert.Equal(t, http.StatusBadRequest, w.Code, "index is never clamped")

	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=oblique&index=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=0&format=jpeg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestHandleSliceColormap(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=0&colormap=gray")
	require.Equal(t, http.StatusOK, w.Code)
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.IsType(t, &image.Gray16{}, img)

	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=0&colorbar=true")
	require.Equal(t, http.StatusOK, w.Code)
	img, err = png.Decode(w.Body)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 4)
	assert.IsType(t, &image.RGBA{}, img)

	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=0&colormap=jet")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodGet, "/api/slice?path=vol.bin&orientation=axial&index=0&colorbar=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestPathsStayBelowRoot verifies ".." cannot reach outside the root
func TestPathsStayBelowRoot(t *testing.T) {
	h := New(nil, Options{Root: "/data/volumes"}, nil)
	assert.Equal(t, "/data/volumes/vol.bin", h.resolve("../../vol.bin"))
	assert.Equal(t, "/data/volumes/a/b.mat", h.resolve("./a/b.mat"))
}

func TestResetAndMetrics(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodGet, "/api/volume?path=vol.bin")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/reset")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/api/volume?path=vol.bin")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "voxview_cache_misses_total 2")
	assert.Contains(t, body, `voxview_decode_duration_seconds_count{decoder="raw-header"} 2`)
}
