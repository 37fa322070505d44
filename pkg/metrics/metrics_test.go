package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposed(t *testing.T) {
	Register()

	// Vectors only appear in the exposition once a label combination has
	// been observed.
	PushesTotal.WithLabelValues("ok").Inc()
	ReceivesTotal.WithLabelValues("ok").Inc()
	DatasetsTotal.Set(1)
	BytesSentTotal.Add(42)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}

	for _, name := range []string{
		"cove_datasets_total",
		"cove_stream_bytes_sent_total",
		"cove_pushes_total",
		"cove_receives_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("exposition missing metric %s", name)
		}
	}
}
