package recording

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testSecret = "shared-recording-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	bridge, _ := newLiveRoom(t, "r1")
	mux := http.NewServeMux()
	NewHandlers(bridge, testSecret, discardLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateRecordingTransport(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/create-recording-transport", testSecret,
		`{"roomId":"r1","recordingIp":"10.0.0.9","audioPort":5004,"videoPort":5006}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.TransportID == "" {
		t.Error("empty transportId")
	}
	if !strings.Contains(body.SDP, "m=audio 5004") || !strings.Contains(body.SDP, "m=video 5006") {
		t.Errorf("unexpected SDP:\n%s", body.SDP)
	}

	// Same room again is a conflict.
	resp = post(t, srv.URL+"/create-recording-transport", testSecret,
		`{"roomId":"r1","recordingIp":"10.0.0.9","audioPort":5004,"videoPort":5006}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateRecordingTransportErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
	}{
		{"bad token", "wrong", `{"roomId":"r1","recordingIp":"10.0.0.9","audioPort":5004,"videoPort":5006}`, http.StatusUnauthorized},
		{"no token", "", `{"roomId":"r1","recordingIp":"10.0.0.9","audioPort":5004,"videoPort":5006}`, http.StatusUnauthorized},
		{"not json", testSecret, `{{{`, http.StatusBadRequest},
		{"missing ports", testSecret, `{"roomId":"r1","recordingIp":"10.0.0.9"}`, http.StatusBadRequest},
		{"unknown room", testSecret, `{"roomId":"ghost","recordingIp":"10.0.0.9","audioPort":5004,"videoPort":5006}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/create-recording-transport", tt.token, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRecordingEndpointsArePostOnly(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/create-recording-transport", "/close-recording-transport"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+testSecret)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("GET %s status = %d, want 405", path, resp.StatusCode)
		}
	}
}

func TestCloseRecordingTransport(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/create-recording-transport", testSecret,
		`{"roomId":"r1","recordingIp":"10.0.0.9","audioPort":5004,"videoPort":5006}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	resp = post(t, srv.URL+"/close-recording-transport", testSecret, `{"roomId":"r1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d, want 200", resp.StatusCode)
	}
	var body closeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode close response: %v", err)
	}
	if !body.Success {
		t.Error("close reported success=false")
	}

	resp = post(t, srv.URL+"/close-recording-transport", testSecret, `{"roomId":"r1"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat close status = %d, want 404", resp.StatusCode)
	}
	var repeat closeResponse
	if err := json.NewDecoder(resp.Body).Decode(&repeat); err != nil {
		t.Fatalf("decode repeat close: %v", err)
	}
	if repeat.Success {
		t.Error("repeat close reported success=true")
	}
}
