package proctor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrClassifierUnavailable = errors.New("classifier unavailable")

// FrameClassifier counts faces in a frame. It is not expected to identify anyone.
type FrameClassifier interface {
	CountFaces(ctx context.Context, frame Frame) (int, error)
}

// Loader prepares a classifier; loading may be slow or fail.
type Loader interface {
	Load(ctx context.Context) (FrameClassifier, error)
}

type LoaderFunc func(ctx context.Context) (FrameClassifier, error)

func (f LoaderFunc) Load(ctx context.Context) (FrameClassifier, error) { return f(ctx) }

// Ready wraps an already constructed classifier as a Loader.
func Ready(c FrameClassifier) Loader {
	return LoaderFunc(func(context.Context) (FrameClassifier, error) { return c, nil })
}

type scriptStep struct {
	count int
	err   error
}

// ScriptedClassifier replays queued results, then keeps returning the
// current count. Safe for concurrent use.
type ScriptedClassifier struct {
	mu      sync.Mutex
	script  []scriptStep
	current int
	calls   int
}

func NewScriptedClassifier(initial int) *ScriptedClassifier {
	return &ScriptedClassifier{current: initial}
}

// SetCount changes the steady-state answer.
func (c *ScriptedClassifier) SetCount(n int) {
	c.mu.Lock()
	c.current = n
	c.mu.Unlock()
}

// Push queues one-shot results consumed before the steady-state count.
func (c *ScriptedClassifier) Push(counts ...int) {
	c.mu.Lock()
	for _, n := range counts {
		c.script = append(c.script, scriptStep{count: n})
	}
	c.mu.Unlock()
}

// PushError queues a failing tick.
func (c *ScriptedClassifier) PushError(err error) {
	c.mu.Lock()
	c.script = append(c.script, scriptStep{err: err})
	c.mu.Unlock()
}

func (c *ScriptedClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *ScriptedClassifier) CountFaces(ctx context.Context, _ Frame) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	if len(c.script) > 0 {
		step := c.script[0]
		c.script = c.script[1:]
		return step.count, step.err
	}
	return c.current, nil
}

// RemoteClassifier posts frames to an HTTP face detector that answers {"faces": n}.
type RemoteClassifier struct {
	url        string
	retryCount int
	retryDelay time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

func NewRemoteClassifier(url string, timeout time.Duration, retryCount int, retryDelay time.Duration, logger zerolog.Logger) *RemoteClassifier {
	return &RemoteClassifier{
		url:        url,
		retryCount: retryCount,
		retryDelay: retryDelay,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type detectResponse struct {
	Faces int `json:"faces"`
}

func (c *RemoteClassifier) CountFaces(ctx context.Context, frame Frame) (int, error) {
	var lastErr error

	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Debug().Int("attempt", i).Msg("Retrying face detection")
			if err := sleepCtx(ctx, c.retryDelay*time.Duration(i)); err != nil {
				return 0, err
			}
		}

		n, err := c.detect(ctx, frame)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}

	return 0, fmt.Errorf("face detection failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *RemoteClassifier) detect(ctx context.Context, frame Frame) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(frame.Data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, string(body))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode detector response: %w", err)
	}
	if out.Faces < 0 {
		return 0, fmt.Errorf("detector returned negative face count %d", out.Faces)
	}
	return out.Faces, nil
}

// RemoteLoader checks the detector's health endpoint before handing out the classifier.
func RemoteLoader(c *RemoteClassifier, healthURL string) Loader {
	return LoaderFunc(func(ctx context.Context) (FrameClassifier, error) {
		if healthURL == "" {
			return c, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: health status %d", ErrClassifierUnavailable, resp.StatusCode)
		}
		return c, nil
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
