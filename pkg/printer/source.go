package printer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Printer status values reported by the status signal.
const (
	StatusIdle    = "idle"
	StatusPrepare = "prepare"
	StatusRunning = "running"
	StatusFinish  = "finish"
	StatusOffline = "offline"
)

// Signal id suffixes used to resolve a device's signals. Only the
// status signal is mandatory.
const (
	SuffixStatus        = "_print_status"
	SuffixEndTime       = "_end_time"
	SuffixTaskName      = "_task_name"
	SuffixGcodeFilename = "_gcode_filename"
)

// SignalSource exposes an external printer's observable signals. A
// signal is a named string value; absent or stale values come back as
// the "unknown"/"unavailable" sentinels rather than errors.
type SignalSource interface {
	// Signals lists the signal ids attached to a device.
	Signals(deviceID string) ([]string, error)
	// Read returns the current value of a signal.
	Read(signalID string) (string, error)
}

// isSentinel reports whether a signal value carries no information.
func isSentinel(v string) bool {
	return v == "" || v == "unknown" || v == "unavailable"
}

// HTTPSource reads printer signals from a bridge exposing them over
// REST (one JSON document per device). Reads are served from the last
// fetched document; the poll loop refreshes it while other goroutines
// read, so the cache is lock-guarded.
type HTTPSource struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	values map[string]string // last fetched document, keyed by signal id
}

// NewHTTPSource creates a source against the given bridge base URL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		values:  map[string]string{},
	}
}

type signalsResponse struct {
	Signals map[string]string `json:"signals"`
}

func (s *HTTPSource) fetch(deviceID string) (map[string]string, error) {
	url := fmt.Sprintf("%s/api/v1/devices/%s/signals", s.baseURL, deviceID)
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signals: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal fetch returned status %d", resp.StatusCode)
	}

	var payload signalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode signals: %w", err)
	}
	return payload.Signals, nil
}

func (s *HTTPSource) Signals(deviceID string) ([]string, error) {
	values, err := s.fetch(deviceID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()

	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *HTTPSource) Read(signalID string) (string, error) {
	s.mu.RLock()
	v, ok := s.values[signalID]
	s.mu.RUnlock()

	if ok {
		return v, nil
	}
	return "unavailable", nil
}

// Refresh re-fetches the device document so subsequent reads see
// current values.
func (s *HTTPSource) Refresh(deviceID string) error {
	values, err := s.fetch(deviceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}
