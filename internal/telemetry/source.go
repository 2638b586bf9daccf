package telemetry

import (
	"sync"

	"github.com/example/courier-dispatch/internal/models"
)

// SampleCache is the bridge between the device GPS layer and the
// publisher: the device pushes samples in, the publisher reads the latest
// out. Only the newest sample is retained locally.
type SampleCache struct {
	mu     sync.RWMutex
	sample models.LocationSample
	valid  bool
}

func NewSampleCache() *SampleCache {
	return &SampleCache{}
}

func (c *SampleCache) Update(s models.LocationSample) {
	c.mu.Lock()
	c.sample = s
	c.valid = true
	c.mu.Unlock()
}

func (c *SampleCache) Latest() (models.LocationSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample, c.valid
}
