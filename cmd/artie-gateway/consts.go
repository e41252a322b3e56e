package main

import "time"

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond

	// pollWindow bounds each blocking Receive call in the main loop so it
	// can periodically check ctx.Done() without a dedicated cancel-watcher
	// goroutine funneling frames on this node's behalf.
	pollWindow = 200 * time.Millisecond
)
