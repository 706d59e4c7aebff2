package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holocam-go/internal/broadcast"
	"holocam-go/internal/camera"
	"holocam-go/internal/config"
	"holocam-go/internal/holography"
	"holocam-go/internal/settings"
	"holocam-go/internal/wifi"
)

type stubBackend struct {
	state    wifi.State
	networks []wifi.Network
	scanErr  error
}

func (b *stubBackend) Status(context.Context) (wifi.State, error) {
	return b.state, nil
}

func (b *stubBackend) Scan(context.Context) ([]wifi.Network, error) {
	if b.scanErr != nil {
		return nil, b.scanErr
	}
	return b.networks, nil
}

type stubApplier struct {
	err     error
	applied []wifi.IntendedConfiguration
}

func (a *stubApplier) Apply(_ context.Context, cfg wifi.IntendedConfiguration) error {
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, cfg)
	return nil
}

func newTestServer(t *testing.T, backend wifi.Backend, applier wifi.Applier) (*Server, *httptest.Server) {
	t.Helper()
	src := camera.NewSynthetic(64, 64)
	frames := broadcast.New(src, 20)
	recon := holography.DefaultParameters()
	recon.Crop = 0 // test frames are smaller than the default crop window
	registry := settings.NewRegistry(src, camera.Settings{ExposureUs: 10000, Gain: 1.0}, recon)
	manager := wifi.NewManager(backend, applier, "wlan0")

	srv := New(config.AppConfig{
		Port:        8080,
		FrameWidth:  64,
		FrameHeight: 64,
		FrameRate:   20,
		Workers:     2,
		Interface:   "wlan0",
	}, frames, registry, holography.NewEngine(), manager)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestSnapshotReturnsJPEG(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp, err := http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestSnapshotProcessed(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp, err := http.Get(ts.URL + "/snapshot?processed=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestSnapshotFollowsEnabledFlag(t *testing.T) {
	srv, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	enabled := true
	_, err := srv.registry.UpdateReconstruction(settings.ReconstructionPatch{Enabled: &enabled})
	require.NoError(t, err)

	// No explicit parameter: the enabled flag routes through reconstruction.
	resp, err := http.Get(ts.URL + "/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), srv.reconRuns.Load())

	// An explicit processed=0 overrides the flag.
	resp, err = http.Get(ts.URL + "/snapshot?processed=0")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), srv.reconRuns.Load())
}

func TestStreamServesMultipartFrames(t *testing.T) {
	srv, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.frames.Start(ctx)
	defer srv.frames.Stop()

	reqCtx, cancelReq := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelReq()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, "frame", params["boundary"])

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		payload, err := io.ReadAll(part)
		require.NoError(t, err)
		_, err = jpeg.Decode(bytes.NewReader(payload))
		require.NoError(t, err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp := postJSON(t, ts.URL+"/settings", `{"exposure_us": 20000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decodeBody(t, resp)
	assert.Equal(t, float64(20000), applied["exposure_us"])
	assert.Equal(t, float64(1), applied["gain"])

	resp, err := http.Get(ts.URL + "/settings")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := decodeBody(t, resp)
	assert.Equal(t, float64(20000), current["exposure_us"])
}

func TestSettingsRejectedLeavesCurrentUntouched(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp := postJSON(t, ts.URL+"/settings", `{"exposure_us": -5}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Contains(t, body["error"], "exposure_us")

	resp, err := http.Get(ts.URL + "/settings")
	require.NoError(t, err)
	current := decodeBody(t, resp)
	assert.Equal(t, float64(10000), current["exposure_us"])
}

func TestSettingsMalformedBody(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp := postJSON(t, ts.URL+"/settings", `{"exposure_us": `)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSettingsMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/settings", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))
}

func TestReconstructionUpdate(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp := postJSON(t, ts.URL+"/reconstruction", `{"distance_mm": 7.5, "enabled": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decodeBody(t, resp)
	assert.Equal(t, 7.5, applied["distance_mm"])
	assert.Equal(t, true, applied["enabled"])

	resp = postJSON(t, ts.URL+"/reconstruction", `{"wavelength_nm": 900}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody(t, resp)
	assert.Equal(t, float64(64), stats["width"])
	assert.Equal(t, float64(64), stats["height"])
	mean := stats["mean"].(float64)
	assert.Greater(t, mean, 0.0)
	assert.LessOrEqual(t, stats["min"].(float64), mean)
	assert.GreaterOrEqual(t, stats["max"].(float64), mean)
}

func TestWifiScan(t *testing.T) {
	backend := &stubBackend{networks: []wifi.Network{
		{SSID: "lab", Encrypted: true, SignalQuality: 82},
		{SSID: "guest", Encrypted: false, SignalQuality: 40},
	}}
	_, ts := newTestServer(t, backend, &stubApplier{})

	resp, err := http.Get(ts.URL + "/wifi/scan")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	networks := body["networks"].([]any)
	require.Len(t, networks, 2)
	first := networks[0].(map[string]any)
	assert.Equal(t, "lab", first["ssid"])
}

func TestWifiScanBackendFailure(t *testing.T) {
	backend := &stubBackend{scanErr: errors.New("iwlist: device busy")}
	_, ts := newTestServer(t, backend, &stubApplier{})

	resp, err := http.Get(ts.URL + "/wifi/scan")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWifiConnect(t *testing.T) {
	applier := &stubApplier{}
	_, ts := newTestServer(t, &stubBackend{}, applier)

	resp := postJSON(t, ts.URL+"/wifi/connect", `{"ssid": "lab", "password": "hunter22"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["message"], "Reboot required")
	require.Len(t, applier.applied, 1)
	assert.Equal(t, "lab", applier.applied[0].SSID)

	state := body["state"].(map[string]any)
	assert.Equal(t, true, state["reboot_required"])
}

func TestWifiConnectBadCredentials(t *testing.T) {
	applier := &stubApplier{}
	_, ts := newTestServer(t, &stubBackend{}, applier)

	resp := postJSON(t, ts.URL+"/wifi/connect", `{"ssid": "lab", "password": ""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
	assert.Empty(t, applier.applied)
}

func TestWifiConnectApplyFailure(t *testing.T) {
	applier := &stubApplier{err: errors.New("script exited 1")}
	_, ts := newTestServer(t, &stubBackend{}, applier)

	resp := postJSON(t, ts.URL+"/wifi/connect", `{"ssid": "lab", "password": "hunter22"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp.Body.Close()
}

func TestWifiAccessPoint(t *testing.T) {
	applier := &stubApplier{}
	_, ts := newTestServer(t, &stubBackend{}, applier)

	resp := postJSON(t, ts.URL+"/wifi/access_point", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "success", body["status"])
	require.Len(t, applier.applied, 1)
	assert.Equal(t, wifi.ModeAccessPoint, applier.applied[0].Mode)
}

func TestWifiStatus(t *testing.T) {
	backend := &stubBackend{state: wifi.State{Mode: wifi.ModeClient, SSID: "lab", IPAddress: "10.0.0.7"}}
	_, ts := newTestServer(t, backend, &stubApplier{})

	resp, err := http.Get(ts.URL + "/wifi/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, string(wifi.ModeClient), body["mode"])
	assert.Equal(t, "lab", body["ssid"])
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(payload))
}

func TestStatusPayload(t *testing.T) {
	_, ts := newTestServer(t, &stubBackend{}, &stubApplier{})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "status", body["type"])
	require.Contains(t, body, "metrics")
	metrics := body["metrics"].(map[string]any)
	assert.Contains(t, metrics, "frames_published_total")
	assert.Contains(t, metrics, "snapshots_total")
}
