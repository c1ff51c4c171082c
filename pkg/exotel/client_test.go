package exotel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestParseConnectResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantSID    string
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "json envelope",
			body:       `{"Call": {"Sid": "CA111", "Status": "in-progress"}}`,
			wantSID:    "CA111",
			wantStatus: "in-progress",
		},
		{
			name:       "xml envelope",
			body:       `<?xml version="1.0"?><TwilioResponse><Call><Sid>CA222</Sid><Status>queued</Status></Call></TwilioResponse>`,
			wantSID:    "CA222",
			wantStatus: "queued",
		},
		{
			name:    "xml with whitespace around sid",
			body:    "<Call><Sid>\n  CA333\n</Sid></Call>",
			wantSID: "CA333",
		},
		{
			name:    "no sid anywhere",
			body:    `{"RestException": {"Message": "Invalid number"}}`,
			wantErr: true,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseConnectResponse([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Error("parseConnectResponse() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConnectResponse() error = %v", err)
			}
			if resp.SID != tt.wantSID {
				t.Errorf("SID = %q, want %q", resp.SID, tt.wantSID)
			}
			if tt.wantStatus != "" && resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestConnectCall_FormFields(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "key" || pass != "token" {
			t.Errorf("basic auth = %s/%s, want key/token", user, pass)
		}
		r.ParseForm()
		gotForm = map[string]string{
			"From":           r.PostFormValue("From"),
			"CallerId":       r.PostFormValue("CallerId"),
			"Url":            r.PostFormValue("Url"),
			"CallType":       r.PostFormValue("CallType"),
			"StatusCallback": r.PostFormValue("StatusCallback"),
		}
		w.Write([]byte(`{"Call": {"Sid": "CA123", "Status": "in-progress"}}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "troika1", "key", "token")
	resp, err := client.ConnectCall(context.Background(), &ConnectCallRequest{
		To:             "+911234567890",
		CallerID:       "08069451234",
		AppID:          "987654",
		StatusCallback: "https://bot.example.com/webhooks/exotel",
	})
	if err != nil {
		t.Fatalf("ConnectCall() error = %v", err)
	}
	if resp.SID != "CA123" {
		t.Errorf("SID = %q, want CA123", resp.SID)
	}

	// The customer goes in From; the bot leg comes from the applet URL
	if gotForm["From"] != "+911234567890" {
		t.Errorf("From = %q, want customer number", gotForm["From"])
	}
	if gotForm["CallerId"] != "08069451234" {
		t.Errorf("CallerId = %q, want exophone", gotForm["CallerId"])
	}
	if gotForm["Url"] != "http://my.exotel.com/troika1/exoml/start_voice/987654" {
		t.Errorf("Url = %q, want applet URL", gotForm["Url"])
	}
	if gotForm["CallType"] != "trans" {
		t.Errorf("CallType = %q, want trans", gotForm["CallType"])
	}
	if gotForm["StatusCallback"] != "https://bot.example.com/webhooks/exotel" {
		t.Errorf("StatusCallback = %q", gotForm["StatusCallback"])
	}
}

func TestConnectCall_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"Call": {"Sid": "CA123"}}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "troika1", "key", "token")
	resp, err := client.ConnectCall(context.Background(), &ConnectCallRequest{To: "+911234567890"})
	if err != nil {
		t.Fatalf("ConnectCall() error = %v", err)
	}
	if resp.SID != "CA123" {
		t.Errorf("SID = %q, want CA123", resp.SID)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one retry after 502)", attempts)
	}
}

func TestGetCallDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/Accounts/troika1/Calls/CA123.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"Call": {
			"Sid": "CA123",
			"Status": "completed",
			"Direction": "outbound-api",
			"Duration": "83",
			"RecordingUrl": "https://recordings.exotel.com/troika1/CA123.mp3"
		}}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "troika1", "key", "token")
	details, err := client.GetCallDetails(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("GetCallDetails() error = %v", err)
	}
	if details.Status != "completed" {
		t.Errorf("Status = %q, want completed", details.Status)
	}
	if details.RecordingURL == "" {
		t.Error("RecordingURL is empty, want populated")
	}
}

func TestGetCallDetails_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"RestException": {"Message": "not found"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "troika1", "key", "token")
	_, err := client.GetCallDetails(context.Background(), "CA-missing")
	if err == nil {
		t.Error("GetCallDetails() expected error on 404")
	}
}

func TestDownloadRecording(t *testing.T) {
	payload := []byte("fake-mp3-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("recording fetch missing basic auth")
		}
		w.Write(payload)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "troika1", "key", "token")
	dir := t.TempDir()
	path, err := client.DownloadRecording(context.Background(), server.URL+"/rec.mp3", dir)
	if err != nil {
		t.Fatalf("DownloadRecording() error = %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("downloaded content does not match served payload")
	}
}

func TestDownloadRecording_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "troika1", "key", "token")
	_, err := client.DownloadRecording(context.Background(), server.URL+"/rec.mp3", t.TempDir())
	if err == nil {
		t.Error("DownloadRecording() expected error on 404")
	}
}
