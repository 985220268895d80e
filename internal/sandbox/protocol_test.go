package sandbox

import (
	"strings"
	"testing"
)

func TestWrapAndParseMarkedResponse_RoundTrips(t *testing.T) {
	result := "hello world"
	resp := Response{Status: ResponseOK, Result: &result, Model: "claude-sonnet", LatencyMs: 42}

	wrapped, err := wrapMarked(resp)
	if err != nil {
		t.Fatalf("wrapMarked: %v", err)
	}

	// Simulate interleaved agent-runtime log lines sharing the same stdout.
	noisy := "booting runtime\nloading tools\n" + string(wrapped) + "\nshutdown complete\n"

	got, err := parseMarkedResponse([]byte(noisy))
	if err != nil {
		t.Fatalf("parseMarkedResponse: %v", err)
	}
	if got.Status != ResponseOK || got.Model != "claude-sonnet" || got.LatencyMs != 42 {
		t.Fatalf("unexpected response: %+v", got)
	}
	if got.Result == nil || *got.Result != result {
		t.Fatalf("expected result %q, got %v", result, got.Result)
	}
}

func TestParseMarkedResponse_MissingMarkersErrors(t *testing.T) {
	if _, err := parseMarkedResponse([]byte("no markers here")); err == nil {
		t.Fatal("expected error for missing markers")
	}
	if _, err := parseMarkedResponse([]byte(outputStartMarker + "\n{}\n")); err == nil {
		t.Fatal("expected error for missing end marker")
	}
}

func TestParseMarkedResponse_IgnoresSurroundingNoise(t *testing.T) {
	resp := Response{Status: ResponseError, Error: "boom"}
	wrapped, _ := wrapMarked(resp)
	if !strings.Contains(string(wrapped), outputStartMarker) {
		t.Fatal("expected wrapped output to contain start marker")
	}
}
