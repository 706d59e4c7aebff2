package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"holocam-go/internal/camera"
	"holocam-go/internal/holography"
	"holocam-go/internal/settings"
	"holocam-go/internal/wifi"
)

const streamBoundary = "frame"

// handleStream serves an MJPEG multipart stream, one long-lived
// connection per viewer. A viewer that cannot keep up silently skips
// frames; disconnecting releases its subscription immediately.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported by connection"))
		return
	}

	sub := s.frames.Subscribe()
	defer s.frames.Unsubscribe(sub.ID)
	s.streamClients.Add(1)
	defer s.streamClients.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := encodeJPEG(frame)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(payload)); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleSnapshot serves a single JPEG. With ?processed=1 (or when
// reconstruction is enabled and the parameter is absent) the frame is
// routed through the reconstruction engine first.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	frame, err := s.frames.Snapshot(ctx)
	if err != nil {
		writeError(w, captureStatus(err), err)
		return
	}
	s.snapshots.Add(1)

	_, recon := s.registry.Current()
	processed := recon.Enabled
	if raw := r.URL.Query().Get("processed"); raw != "" {
		processed, _ = strconv.ParseBool(raw)
	}
	if processed {
		frame, err = s.reconstruct(frame, recon)
		if err != nil {
			writeError(w, reconStatus(err), err)
			return
		}
	}

	payload, err := encodeJPEG(frame)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cam, _ := s.registry.Current()
		writeJSON(w, http.StatusOK, cam)
	case http.MethodPost:
		var patch settings.CameraPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("malformed settings body: %w", err))
			return
		}
		applied, err := s.registry.UpdateCamera(patch)
		if err != nil {
			writeError(w, settingsStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, applied)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (s *Server) handleReconstruction(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		_, recon := s.registry.Current()
		writeJSON(w, http.StatusOK, recon)
	case http.MethodPost:
		var patch settings.ReconstructionPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("malformed reconstruction body: %w", err))
			return
		}
		applied, err := s.registry.UpdateReconstruction(patch)
		if err != nil {
			writeError(w, settingsStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, applied)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleStats reports pixel statistics of the latest frame, capturing
// one when no stream has run yet.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	frame := s.frames.Latest()
	if frame == nil {
		ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
		defer cancel()
		var err error
		frame, err = s.frames.Snapshot(ctx)
		if err != nil {
			writeError(w, captureStatus(err), err)
			return
		}
	}
	stats := frame.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"min":       stats.Min,
		"max":       stats.Max,
		"mean":      stats.Mean,
		"width":     frame.Width,
		"height":    frame.Height,
		"seq":       frame.Seq,
		"timestamp": frame.Timestamp.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleWifiStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.network.Status(r.Context()))
}

func (s *Server) handleWifiScan(w http.ResponseWriter, r *http.Request) {
	networks, err := s.network.Scan(r.Context())
	if err != nil {
		writeError(w, wifiStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"networks": networks})
}

func (s *Server) handleWifiConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed connect body: %w", err))
		return
	}
	state, err := s.network.Connect(r.Context(), req.SSID, req.Password)
	if err != nil {
		writeError(w, wifiStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("WiFi configuration updated for %s. Reboot required.", req.SSID),
		"state":   state,
	})
}

func (s *Server) handleWifiAccessPoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	state, err := s.network.EnableAccessPoint(r.Context())
	if err != nil {
		writeError(w, wifiStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Access point configured. Reboot required.",
		"state":   state,
	})
}

func encodeJPEG(frame *camera.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Gray(), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func captureStatus(err error) int {
	if errors.Is(err, camera.ErrCaptureTimeout) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func reconStatus(err error) int {
	if errors.Is(err, holography.ErrInvalidParameters) || errors.Is(err, holography.ErrDimensionMismatch) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func settingsStatus(err error) int {
	if errors.Is(err, settings.ErrValidation) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func wifiStatusCode(err error) int {
	switch {
	case errors.Is(err, wifi.ErrBadCredentials):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wifi.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, wifi.ErrOperationTimedOut):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
