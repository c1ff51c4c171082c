package exotel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/troikatech/crm-voicebot/pkg/retry"
)

type Client struct {
	subdomain  string
	accountSID string
	apiKey     string
	apiToken   string
	baseURL    string // Overridable for tests
	httpClient *http.Client
}

// normalizeSubdomain removes .exotel.com if already present in subdomain
func normalizeSubdomain(subdomain string) string {
	if strings.Contains(subdomain, ".exotel.com") {
		return strings.ReplaceAll(subdomain, ".exotel.com", "")
	}
	return subdomain
}

func NewClient(subdomain, accountSID, apiKey, apiToken string) *Client {
	sub := normalizeSubdomain(subdomain)
	return &Client{
		subdomain:  sub,
		accountSID: accountSID,
		apiKey:     apiKey,
		apiToken:   apiToken,
		baseURL:    fmt.Sprintf("https://%s.exotel.com", sub),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL is used by tests to point the client at a local server.
func NewClientWithBaseURL(baseURL, accountSID, apiKey, apiToken string) *Client {
	return &Client{
		accountSID: accountSID,
		apiKey:     apiKey,
		apiToken:   apiToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type ConnectCallRequest struct {
	To             string // Customer's number, E.164
	CallerID       string // Virtual Exophone
	AppID          string // Voicebot applet in the Exotel flow builder
	StatusCallback string
}

type ConnectCallResponse struct {
	SID    string
	Status string
}

// connectJSONBody matches the Calls/connect JSON envelope when Exotel
// honors the .json suffix.
type connectJSONBody struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
}

var (
	xmlSidPattern    = regexp.MustCompile(`<Sid>\s*([^<\s]+)\s*</Sid>`)
	xmlStatusPattern = regexp.MustCompile(`<Status>\s*([^<]+?)\s*</Status>`)
)

// ConnectCall dials the customer and bridges the answered leg into the
// voicebot applet. Exotel has been observed returning XML from this
// endpoint even with a .json suffix, so the response is parsed as JSON
// first and scraped for <Sid> as a fallback. A response with no SID at
// all is an error: without the SID the media session can never be
// correlated back to its context.
func (c *Client) ConnectCall(ctx context.Context, req *ConnectCallRequest) (*ConnectCallResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/Accounts/%s/Calls/connect.json", c.baseURL, c.accountSID)

	data := url.Values{}
	// From is the customer; the applet URL carries the bot leg.
	data.Set("From", req.To)
	data.Set("CallerId", req.CallerID)
	data.Set("Url", fmt.Sprintf("http://my.exotel.com/%s/exoml/start_voice/%s", c.accountSID, req.AppID))
	data.Set("CallType", "trans")
	if req.StatusCallback != "" {
		data.Set("StatusCallback", req.StatusCallback)
		data.Set("StatusCallbackContentType", "application/json")
	}

	var body []byte
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
		if err != nil {
			return err
		}
		httpReq.SetBasicAuth(c.apiKey, c.apiToken)
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("exotel API error: %s (status %d)", string(body), resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect call failed: %w", err)
	}

	return parseConnectResponse(body)
}

func parseConnectResponse(body []byte) (*ConnectCallResponse, error) {
	var jsonBody connectJSONBody
	if err := json.Unmarshal(body, &jsonBody); err == nil && jsonBody.Call.Sid != "" {
		return &ConnectCallResponse{SID: jsonBody.Call.Sid, Status: jsonBody.Call.Status}, nil
	}

	// XML fallback: scrape the first <Sid> element.
	if m := xmlSidPattern.FindSubmatch(body); m != nil {
		resp := &ConnectCallResponse{SID: string(m[1])}
		if s := xmlStatusPattern.FindSubmatch(body); s != nil {
			resp.Status = string(s[1])
		}
		return resp, nil
	}

	return nil, fmt.Errorf("no call SID in exotel response: %s", truncate(string(body), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type CallDetails struct {
	SID          string
	Status       string
	Direction    string
	From         string
	To           string
	StartTime    string
	EndTime      string
	Duration     string
	RecordingURL string
}

type callDetailsBody struct {
	Call struct {
		Sid          string `json:"Sid"`
		Status       string `json:"Status"`
		Direction    string `json:"Direction"`
		From         string `json:"From"`
		To           string `json:"To"`
		StartTime    string `json:"StartTime"`
		EndTime      string `json:"EndTime"`
		Duration     string `json:"Duration"`
		RecordingUrl string `json:"RecordingUrl"`
	} `json:"Call"`
}

// GetCallDetails fetches the current state of a call, including the
// recording URL once Exotel has generated it.
func (c *Client) GetCallDetails(ctx context.Context, callSID string) (*CallDetails, error) {
	endpoint := fmt.Sprintf("%s/v1/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.SetBasicAuth(c.apiKey, c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exotel API error: %s (status %d)", truncate(string(body), 200), resp.StatusCode)
	}

	var parsed callDetailsBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &CallDetails{
		SID:          parsed.Call.Sid,
		Status:       parsed.Call.Status,
		Direction:    parsed.Call.Direction,
		From:         parsed.Call.From,
		To:           parsed.Call.To,
		StartTime:    parsed.Call.StartTime,
		EndTime:      parsed.Call.EndTime,
		Duration:     parsed.Call.Duration,
		RecordingURL: parsed.Call.RecordingUrl,
	}, nil
}

// DownloadRecording fetches a call recording into a temp file under dir
// and returns its path. The caller owns the file and must remove it.
// Recording URLs require the same basic auth as the REST API.
func (c *Client) DownloadRecording(ctx context.Context, recordingURL, dir string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.SetBasicAuth(c.apiKey, c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recording fetch failed with status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(dir, "recording-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close recording file: %w", err)
	}

	return f.Name(), nil
}
