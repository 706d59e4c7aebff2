package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pebbe/zmq4"
)

// RemoteSource pulls frames from a sensor daemon over a ZMQ PUSH/PULL
// pair and drives settings through the daemon's HTTP control API. The
// reader keeps only the most recent frame: capture is a rendezvous with
// the live stream, not a queue.
type RemoteSource struct {
	endpoint   string
	controlURL string
	client     *http.Client

	cancel context.CancelFunc
	frames chan *Frame

	mu       sync.Mutex
	settings Settings
	closed   bool
}

const controlTimeout = 900 * time.Millisecond

// firstFrameWait bounds the startup rendezvous used when no control URL
// is available to probe. Shortened in tests.
var firstFrameWait = 3 * time.Second

// OpenRemote connects to the sensor daemon. An absent daemon must
// surface as ErrDeviceUnavailable at startup instead of an endless
// silent stream: the control URL is probed when configured, otherwise
// the stream itself is, by waiting a bounded time for the first frame.
// ZMQ connects lazily, so a successful Connect proves nothing.
func OpenRemote(endpoint, controlURL string) (*RemoteSource, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := socket.SetRcvtimeo(500 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	client := &http.Client{Timeout: controlTimeout}
	if controlURL != "" {
		if err := probeControl(client, controlURL); err != nil {
			_ = socket.Close()
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	src := &RemoteSource{
		endpoint:   endpoint,
		controlURL: strings.TrimRight(controlURL, "/"),
		client:     client,
		cancel:     cancel,
		frames:     make(chan *Frame, 1),
		settings: Settings{
			ExposureUs: 10000,
			Gain:       1.0,
		},
	}
	go src.readLoop(ctx, socket)

	if controlURL == "" {
		select {
		case frame := <-src.frames:
			// Hand the frame back for the first capture.
			select {
			case src.frames <- frame:
			default:
			}
		case <-time.After(firstFrameWait):
			_ = src.Close()
			return nil, fmt.Errorf("%w: no frame from %s within %s", ErrDeviceUnavailable, endpoint, firstFrameWait)
		}
	}
	return src, nil
}

func probeControl(client *http.Client, controlURL string) error {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(controlURL, "/")+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control probe returned http_%d", resp.StatusCode)
	}
	return nil
}

func (s *RemoteSource) readLoop(ctx context.Context, socket *zmq4.Socket) {
	defer socket.Close()
	var seq uint64
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := socket.RecvBytes(0)
		if err != nil {
			// Receive timeout keeps the loop responsive to shutdown.
			continue
		}
		frame, ok := decodeFrameMessage(msg)
		if !ok {
			continue
		}
		seq++
		frame.Seq = seq

		// Latest wins: replace a stale undelivered frame.
		select {
		case s.frames <- frame:
		default:
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

func (s *RemoteSource) CaptureFrame(ctx context.Context) (*Frame, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrCaptureTimeout
		}
		return nil, ctx.Err()
	}
}

func (s *RemoteSource) ApplySettings(req Settings) (Settings, error) {
	b := s.Bounds()
	if req.ExposureUs < b.ExposureMinUs || req.ExposureUs > b.ExposureMaxUs {
		return Settings{}, boundsError("exposure_us", b.ExposureMinUs, b.ExposureMaxUs, req.ExposureUs)
	}
	if req.Gain < b.GainMin || req.Gain > b.GainMax {
		return Settings{}, boundsError("gain", b.GainMin, b.GainMax, req.Gain)
	}

	applied := req
	if s.controlURL != "" {
		var err error
		applied, err = s.pushSettings(req)
		if err != nil {
			return Settings{}, err
		}
	}
	s.mu.Lock()
	s.settings = applied
	s.mu.Unlock()
	return applied, nil
}

// pushSettings PUTs the requested values to the daemon and returns what
// the daemon reports as applied; the device may round.
func (s *RemoteSource) pushSettings(req Settings) (Settings, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Settings{}, err
	}
	httpReq, err := http.NewRequest(http.MethodPut, s.controlURL+"/settings", bytes.NewReader(body))
	if err != nil {
		return Settings{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Settings{}, fmt.Errorf("sensor control unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Settings{}, fmt.Errorf("sensor control returned http_%d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Settings{}, err
	}
	applied := req
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &applied); err != nil {
			log.Printf("camera: unparsable control response, assuming exact echo: %v", err)
			applied = req
		}
	}
	return applied, nil
}

func (s *RemoteSource) Bounds() Bounds {
	// Matches the picamera-class sensors the daemon fronts.
	return Bounds{
		ExposureMinUs: 100,
		ExposureMaxUs: 1000000,
		GainMin:       1.0,
		GainMax:       16.0,
	}
}

func (s *RemoteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}
