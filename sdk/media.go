package atlas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hellohealthy/atlas/pkg/audio"
	"github.com/hellohealthy/atlas/pkg/core"
	"github.com/hellohealthy/atlas/pkg/core/gemini"
)

// Media defaults.
const (
	DefaultImageModel = "gemini-3-pro-image-preview"
	DefaultVideoModel = "veo-3.1-fast-generate-preview"

	// DefaultPollInterval matches the service's suggested operation poll
	// cadence.
	DefaultPollInterval = 10 * time.Second
)

// MediaService generates images and videos.
type MediaService struct {
	client *Client
}

// ImageRequest configures one image generation call.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	ImageSize   string
	Model       string
}

// Image is a generated image.
type Image struct {
	Data     []byte
	MIMEType string
}

// GenerateImage renders a single image synchronously.
func (s *MediaService) GenerateImage(ctx context.Context, req *ImageRequest) (*Image, error) {
	if req == nil || req.Prompt == "" {
		return nil, core.NewInvalidRequestError("prompt must not be empty")
	}

	ctx, span := s.client.startSpan(ctx, "atlas.media.generate_image")

	provider, err := s.client.provider(ctx)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = DefaultImageModel
	}
	wireReq := &gemini.Request{
		Contents: []gemini.Content{{
			Role:  string(RoleUser),
			Parts: []gemini.Part{{Text: req.Prompt}},
		}},
	}
	if req.AspectRatio != "" || req.ImageSize != "" {
		wireReq.GenerationConfig = &gemini.GenerationConfig{
			ImageConfig: &gemini.ImageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.ImageSize,
			},
		}
	}

	resp, err := provider.GenerateContent(ctx, model, wireReq)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	inline := resp.InlineData()
	if inline == nil {
		// A refusal comes back as text instead of image data.
		msg := "image response contained no inline data"
		if text := resp.Text(); text != "" {
			msg = fmt.Sprintf("%s: %s", msg, text)
		}
		err := core.NewAPIError(msg)
		endSpan(span, err)
		return nil, err
	}
	data, err := audio.DecodeBase64(inline.Data)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	endSpan(span, nil)
	return &Image{Data: data, MIMEType: inline.MIMEType}, nil
}

// VideoRequest configures one long-running video generation call.
type VideoRequest struct {
	Prompt      string
	AspectRatio string
	Resolution  string
	Model       string
}

// VideoJob tracks one submitted video generation operation through
// submit → poll → download.
type VideoJob struct {
	client   *Client
	provider *gemini.Provider
	name     string

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// pollMu guarantees no two polls for this job ever overlap.
	pollMu    sync.Mutex
	done      bool
	resultURI string
	failure   error
}

// GenerateVideo submits a video generation request. The returned job is
// polled to completion by the caller.
func (s *MediaService) GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoJob, error) {
	if req == nil || req.Prompt == "" {
		return nil, core.NewInvalidRequestError("prompt must not be empty")
	}

	ctx, span := s.client.startSpan(ctx, "atlas.media.generate_video")

	provider, err := s.client.provider(ctx)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = DefaultVideoModel
	}
	op, err := provider.GenerateVideos(ctx, model, &gemini.VideoRequest{
		Instances: []gemini.VideoInstance{{Prompt: req.Prompt}},
		Parameters: gemini.VideoParameters{
			AspectRatio:    req.AspectRatio,
			Resolution:     req.Resolution,
			NumberOfVideos: 1,
		},
	})
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if op.Name == "" {
		err := core.NewAPIError("video submission returned no operation name")
		endSpan(span, err)
		return nil, err
	}

	endSpan(span, nil)
	return &VideoJob{
		client:   s.client,
		provider: provider,
		name:     op.Name,
		sleep:    sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Name returns the operation name of the job.
func (j *VideoJob) Name() string {
	return j.name
}

// PollOnce checks the operation once. When the job has finished, done is
// true and resultURI points at the generated asset.
func (j *VideoJob) PollOnce(ctx context.Context) (done bool, resultURI string, err error) {
	j.pollMu.Lock()
	defer j.pollMu.Unlock()
	return j.pollOnceLocked(ctx)
}

func (j *VideoJob) pollOnceLocked(ctx context.Context) (bool, string, error) {
	if j.done {
		return true, j.resultURI, j.failure
	}

	op, err := j.provider.GetOperation(ctx, j.name)
	if err != nil {
		return false, "", err
	}
	if !op.Done {
		return false, "", nil
	}
	if op.Error != nil {
		// Terminal states stick so later polls do not re-query a finished
		// operation.
		j.done = true
		j.failure = core.NewAPIError(fmt.Sprintf("video generation failed: %s", op.Error.Message))
		return true, "", j.failure
	}

	uri := ""
	if op.Response != nil && op.Response.GenerateVideoResponse != nil {
		for _, sample := range op.Response.GenerateVideoResponse.GeneratedSamples {
			if sample.Video != nil && sample.Video.URI != "" {
				uri = sample.Video.URI
				break
			}
		}
	}
	if uri == "" {
		j.done = true
		j.failure = core.NewAPIError("video generation finished without an asset")
		return true, "", j.failure
	}

	j.done = true
	j.resultURI = uri
	return true, uri, nil
}

// PollUntilDone polls at the given interval until the job finishes. It
// always performs at least one poll, sleeps interval between polls, and
// fails with a timeout error once maxAttempts polls have been spent
// (maxAttempts <= 0 means unbounded).
func (j *VideoJob) PollUntilDone(ctx context.Context, interval time.Duration, maxAttempts int) (string, error) {
	ctx, span := j.client.startSpan(ctx, "atlas.media.poll_until_done")

	j.pollMu.Lock()
	defer j.pollMu.Unlock()

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for attempt := 1; ; attempt++ {
		done, uri, err := j.pollOnceLocked(ctx)
		if err != nil {
			endSpan(span, err)
			return "", err
		}
		if done {
			endSpan(span, nil)
			return uri, nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			err := core.NewTimeoutError(fmt.Sprintf("video generation still pending after %d polls", attempt))
			endSpan(span, err)
			return "", err
		}
		j.client.logger.Debug("video generation pending", "operation", j.name, "attempt", attempt)
		if err := j.sleep(ctx, interval); err != nil {
			endSpan(span, err)
			return "", err
		}
	}
}

// Download fetches the generated asset. The credential is appended to the
// asset URL as the service requires.
func (j *VideoJob) Download(ctx context.Context, uri string) ([]byte, error) {
	ctx, span := j.client.startSpan(ctx, "atlas.media.download")
	data, err := j.provider.DownloadAsset(ctx, uri)
	endSpan(span, err)
	return data, err
}
