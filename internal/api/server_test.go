package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
	"github.com/KudcraftsHQ/mediacache/internal/ingest"
	"github.com/KudcraftsHQ/mediacache/internal/pipeline"
	"github.com/KudcraftsHQ/mediacache/internal/resolver"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeSigner struct{}

func (fakeSigner) SignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (fakeSigner) PublicURL(key string) (string, error) {
	return "https://cdn.example/" + key, nil
}

func newTestServer(t *testing.T) (*httptest.Server, asset.Store) {
	t.Helper()

	store := asset.NewMemStore()
	objects := &fakeObjects{objects: map[string][]byte{}}
	log := zerolog.Nop()

	worker := pipeline.NewWorker(store, objects, pipeline.Options{}, log)
	gate := ingest.NewGate(store, objects, -1, log)
	res, err := resolver.New(store, fakeSigner{}, time.Hour, log)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(worker, gate, res, log).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: uint8(4 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestCreateAssetIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)

	var first createAssetResponse
	resp := postJSON(t, srv.URL+"/assets", createAssetRequest{OriginalURL: "https://origin.example/a.jpg"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &first)
	assert.True(t, first.Created)
	assert.Equal(t, "PENDING", first.Status)

	var second createAssetResponse
	decode(t, postJSON(t, srv.URL+"/assets", createAssetRequest{OriginalURL: "https://origin.example/a.jpg"}), &second)
	assert.False(t, second.Created)
	assert.Equal(t, first.AssetID, second.AssetID)
}

func TestCreateAssetValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/assets", createAssetRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadAndDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	data := pngBytes(t)

	upload := func() uploadResponse {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload?folder=uploads", bytes.NewReader(data))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "image/png")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out uploadResponse
		decode(t, resp, &out)
		return out
	}

	first := upload()
	assert.False(t, first.Duplicate)

	second := upload()
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.AssetID, second.AssetID)
}

func TestUploadRejectsOversizeBody(t *testing.T) {
	srv, store := newTestServer(t)

	body := bytes.NewReader(make([]byte, maxUploadBytes+1))
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload?folder=uploads", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "video/mp4")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	refs, err := store.ListFingerprints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs, "a rejected upload must not be recorded")
}

func TestResolveEndpointNeverErrors(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	a, _, err := store.GetOrCreate(ctx, "https://origin.example/pending.jpg")
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "pending asset degrades to origin", query: "ref=" + a.ID, want: "https://origin.example/pending.jpg"},
		{name: "unknown legacy key still signs", query: "ref=legacy/1-a.jpg", want: "https://signed.example/legacy/1-a.jpg"},
		{name: "no ref falls back to caller url", query: "originalUrl=https://origin.example/x.jpg", want: "https://origin.example/x.jpg"},
		{name: "nothing at all is empty, not an error", query: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/resolve?" + tc.query)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var out map[string]string
			decode(t, resp, &out)
			assert.Equal(t, tc.want, out["url"])
		})
	}
}

func TestResolveBatchPreservesOrder(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	a, err := store.CreateCached(ctx, "https://origin.example/a.png", "media/1-a.png", "image/png", 1)
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/resolve/batch", resolveBatchRequest{
		Refs:         []string{a.ID, "", "legacy/2-b.jpg"},
		OriginalURLs: []string{"", "https://origin.example/b.jpg"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string][]string
	decode(t, resp, &out)
	require.Len(t, out["urls"], 3)
	assert.Equal(t, "https://signed.example/media/1-a.png", out["urls"][0])
	assert.Equal(t, "https://origin.example/b.jpg", out["urls"][1])
	assert.Equal(t, "https://signed.example/legacy/2-b.jpg", out["urls"][2])
}

func TestRequeueEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	a, _, err := store.GetOrCreate(ctx, "https://origin.example/r.jpg")
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/assets/"+a.ID+"/requeue", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "only FAILED assets are requeueable")

	_, err = store.Claim(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, a.ID, "boom"))

	resp = postJSON(t, srv.URL+"/assets/"+a.ID+"/requeue", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/assets/"+"does-not-exist"+"/requeue", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}
