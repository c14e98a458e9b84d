package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/tennis-onboard/internal/metrics"
)

// speechFlightTimeout bounds a shared synthesis call once it no longer
// follows the context of the caller that started it.
const speechFlightTimeout = 30 * time.Second

// SpeechCache memoizes synthesized audio per message identifier. Concurrent
// requests for the same message share one upstream call. Failures are not
// cached.
type SpeechCache struct {
	speech SpeechGateway

	mu    sync.RWMutex
	audio map[string][]byte
	group singleflight.Group
}

// NewSpeechCache wraps a speech gateway.
func NewSpeechCache(speech SpeechGateway) *SpeechCache {
	return &SpeechCache{speech: speech, audio: make(map[string][]byte)}
}

// Get returns cached audio for messageID or synthesizes it with req. A
// caller whose ctx ends stops waiting, but the shared synthesis keeps
// running for the other callers and fills the cache.
func (c *SpeechCache) Get(ctx context.Context, messageID string, req SpeechRequest) ([]byte, error) {
	c.mu.RLock()
	audio, ok := c.audio[messageID]
	c.mu.RUnlock()
	if ok {
		metrics.SpeechCacheHits.Inc()
		return audio, nil
	}

	flight := c.group.DoChan(messageID, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.audio[messageID]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		metrics.SpeechCacheMisses.Inc()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), speechFlightTimeout)
		defer cancel()
		out, err := c.speech.Synthesize(sctx, req)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.audio[messageID] = out
		c.mu.Unlock()
		return out, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Len returns the number of cached entries.
func (c *SpeechCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.audio)
}
