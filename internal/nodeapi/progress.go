package nodeapi

import "time"

// Progress is delivered to an upload's progress sink, throttled to at most
// one update per percent or per megabyte, whichever is less frequent.
type Progress struct {
	BytesSent int64
	Total     int64
	Percent   int
}

// ProgressFunc receives throttled upload progress updates. May be nil.
type ProgressFunc func(Progress)

const progressThrottleBytes = 1 << 20 // 1 MiB

// progressThrottle decides whether a new progress update is due, comparing
// both the percent-complete delta and the raw byte delta since the last
// reported update — whichever threshold is reached less often governs, so a
// huge file doesn't spam at 1%-per-10MB while a small one doesn't spam at
// every byte.
type progressThrottle struct {
	total        int64
	lastReported int64
	lastPercent  int
}

func newProgressThrottle(total int64) *progressThrottle {
	return &progressThrottle{total: total, lastPercent: -1}
}

// maybeReport invokes fn if enough progress has accumulated since the last
// report, or unconditionally if done is true (always report the final
// update so callers see 100%).
func (t *progressThrottle) maybeReport(fn ProgressFunc, sent int64, done bool) {
	if fn == nil {
		return
	}

	percent := 0
	if t.total > 0 {
		percent = int(sent * 100 / t.total)
	}

	byteDelta := sent - t.lastReported
	percentDelta := percent - t.lastPercent

	if !done && (byteDelta < progressThrottleBytes || percentDelta < 1) {
		return
	}

	t.lastReported = sent
	t.lastPercent = percent

	fn(Progress{BytesSent: sent, Total: t.total, Percent: percent})
}

// uploadTimeout computes the dynamic upload timeout: at
// least 300s, or bytes / (10 MiB/s), whichever is larger.
func uploadTimeout(size int64) time.Duration {
	const minTimeout = 300 * time.Second

	const bytesPerSecond = 10 * 1024 * 1024

	computed := time.Duration(size/bytesPerSecond) * time.Second
	if computed > minTimeout {
		return computed
	}

	return minTimeout
}
