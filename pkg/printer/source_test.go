package printer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignalServer(t *testing.T, signals map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(signalsResponse{Signals: signals})
	}))
}

func TestHTTPSourceSignalsAndRead(t *testing.T) {
	srv := newSignalServer(t, map[string]string{
		"x1c_print_status": "idle",
		"x1c_task_name":    "bracket.gcode",
	})
	defer srv.Close()

	source := NewHTTPSource(srv.URL)

	ids, err := source.Signals("x1c")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	v, err := source.Read("x1c_print_status")
	require.NoError(t, err)
	assert.Equal(t, "idle", v)

	v, err = source.Read("x1c_missing")
	require.NoError(t, err)
	assert.Equal(t, "unavailable", v)
}

func TestHTTPSourceFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL)
	_, err := source.Signals("x1c")
	assert.Error(t, err)
	assert.Error(t, source.Refresh("x1c"))
}

// The poll loop refreshes the cached document while the coordinator
// reads end-time signals from other goroutines.
func TestHTTPSourceConcurrentRefreshAndRead(t *testing.T) {
	srv := newSignalServer(t, map[string]string{
		"x1c_print_status": "running",
		"x1c_end_time":     "2026-03-02T18:00:00Z",
	})
	defer srv.Close()

	source := NewHTTPSource(srv.URL)
	_, err := source.Signals("x1c")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, source.Refresh("x1c"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				v, err := source.Read("x1c_end_time")
				require.NoError(t, err)
				assert.Equal(t, "2026-03-02T18:00:00Z", v)
			}
		}()
	}
	wg.Wait()
}
