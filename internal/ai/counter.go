package ai

import "sync/atomic"

// CallCounter counts model call attempts per tier. Only counts are kept.
type CallCounter struct {
	local atomic.Int64
	cloud atomic.Int64
}

// ProcessCallCounter is shared by every gateway that is not given its own counter
var ProcessCallCounter = NewCallCounter()

// NewCallCounter creates a zeroed counter
func NewCallCounter() *CallCounter {
	return &CallCounter{}
}

// Inc records one attempt at the given tier
func (c *CallCounter) Inc(tier Tier) int64 {
	if tier == TierCloud {
		return c.cloud.Add(1)
	}
	return c.local.Add(1)
}

// Cloud returns the number of cloud attempts so far
func (c *CallCounter) Cloud() int64 {
	return c.cloud.Load()
}

// Local returns the number of local attempts so far
func (c *CallCounter) Local() int64 {
	return c.local.Load()
}
