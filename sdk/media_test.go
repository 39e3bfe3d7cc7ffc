package atlas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testOperationName = "models/veo-test/operations/op-123"

// newVideoTestServer serves the submit endpoint plus an operation that
// reports pending for pendingPolls checks before finishing with resultURI.
func newVideoTestServer(t *testing.T, pendingPolls int, resultURI string, polls *atomic.Int64) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, ":predictLongRunning"):
			fmt.Fprintf(w, `{"name":%q}`, testOperationName)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "op-123"):
			n := polls.Add(1)
			if int(n) <= pendingPolls {
				fmt.Fprint(w, `{"name":"op","done":false}`)
				return
			}
			fmt.Fprintf(w, `{"name":"op","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":%q}}]}}}`, resultURI)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL))
}

func submitTestJob(t *testing.T, client *Client) *VideoJob {
	t.Helper()
	job, err := client.Media.GenerateVideo(context.Background(), &VideoRequest{
		Prompt:      "a calm ocean",
		AspectRatio: "16:9",
		Resolution:  "720p",
	})
	if err != nil {
		t.Fatalf("GenerateVideo error: %v", err)
	}
	if job.Name() != testOperationName {
		t.Fatalf("operation name = %q, want %q", job.Name(), testOperationName)
	}
	return job
}

func TestPollUntilDoneFourPollsThreeSleeps(t *testing.T) {
	t.Parallel()

	var polls atomic.Int64
	client := newVideoTestServer(t, 3, "uri://x", &polls)

	job := submitTestJob(t, client)
	var sleeps int
	job.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	uri, err := job.PollUntilDone(context.Background(), time.Second, 0)
	if err != nil {
		t.Fatalf("PollUntilDone error: %v", err)
	}
	if uri != "uri://x" {
		t.Fatalf("result = %q, want uri://x", uri)
	}
	if got := polls.Load(); got != 4 {
		t.Fatalf("poll count = %d, want 4", got)
	}
	if sleeps != 3 {
		t.Fatalf("sleep count = %d, want 3", sleeps)
	}
}

func TestPollUntilDonePollsAtLeastOnce(t *testing.T) {
	t.Parallel()

	var polls atomic.Int64
	client := newVideoTestServer(t, 0, "uri://done", &polls)

	job := submitTestJob(t, client)
	job.sleep = func(ctx context.Context, d time.Duration) error {
		t.Errorf("no sleep expected for an already-done job")
		return nil
	}

	uri, err := job.PollUntilDone(context.Background(), time.Second, 1)
	if err != nil {
		t.Fatalf("PollUntilDone error: %v", err)
	}
	if uri != "uri://done" {
		t.Fatalf("result = %q, want uri://done", uri)
	}
	if got := polls.Load(); got != 1 {
		t.Fatalf("poll count = %d, want exactly 1", got)
	}
}

func TestPollUntilDoneTimesOut(t *testing.T) {
	t.Parallel()

	var polls atomic.Int64
	client := newVideoTestServer(t, 1000, "", &polls)

	job := submitTestJob(t, client)
	job.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := job.PollUntilDone(context.Background(), time.Second, 3)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("error = %v, want timeout classification", err)
	}
	if got := polls.Load(); got != 3 {
		t.Fatalf("poll count = %d, want 3", got)
	}
}

func TestPollOnceReportsServerFailure(t *testing.T) {
	t.Parallel()

	var polls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprintf(w, `{"name":%q}`, testOperationName)
			return
		}
		polls.Add(1)
		fmt.Fprint(w, `{"name":"op","done":true,"error":{"code":3,"message":"prompt rejected"}}`)
	}))
	t.Cleanup(server.Close)
	client := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL))

	job := submitTestJob(t, client)
	done, _, err := job.PollOnce(context.Background())
	if !done {
		t.Fatalf("failed job must report done")
	}
	if err == nil || !strings.Contains(err.Error(), "prompt rejected") {
		t.Fatalf("error = %v, want server failure reason", err)
	}

	// The failure is terminal; polling again reports it without re-querying
	// the finished operation.
	done, _, again := job.PollOnce(context.Background())
	if !done || again == nil || !strings.Contains(again.Error(), "prompt rejected") {
		t.Fatalf("second poll = (%v, %v), want cached failure", done, again)
	}
	if got := polls.Load(); got != 1 {
		t.Fatalf("operation GET count = %d, want 1", got)
	}
}

func TestGenerateImageSurfacesRefusalText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"cannot depict that"}]}}]}`)
	}))
	t.Cleanup(server.Close)
	client := NewClient(WithAPIKey("test-key"), WithBaseURL(server.URL))

	_, err := client.Media.GenerateImage(context.Background(), &ImageRequest{Prompt: "a city"})
	if err == nil {
		t.Fatalf("expected error for text-only response")
	}
	if !strings.Contains(err.Error(), "cannot depict that") {
		t.Fatalf("error = %v, want the model's refusal text", err)
	}
}

func TestDownloadAppendsCredential(t *testing.T) {
	t.Parallel()

	var polls atomic.Int64
	client := newVideoTestServer(t, 0, "", &polls)
	job := submitTestJob(t, client)

	asset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("asset request missing key parameter")
		}
		fmt.Fprint(w, "video-bytes")
	}))
	t.Cleanup(asset.Close)

	data, err := job.Download(context.Background(), asset.URL+"/files/video.mp4")
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Fatalf("asset = %q, want video-bytes", data)
	}
}
