// ABOUTME: Client-side clock synchronization with drift compensation
// ABOUTME: Maps local time to the ingest server clock for frame timestamps
package ingest

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

const (
	maxSyncRTT      = 100000 // 100ms
	maxSyncResidual = 50000  // 50ms
	degradedRTT     = 50000
	syncStaleAfter  = 5 * time.Second
)

// ClockSync tracks offset and drift between the local clock and the server.
// All times are microseconds; local times are Unix, server times count from
// server start.
type ClockSync struct {
	mu             sync.RWMutex
	offset         int64   // server - client
	drift          float64 // μs/μs
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // client time of the last accepted sample
	sampleCount    int
	smoothingRate  float64
}

// NewClockSync creates a new clock synchronizer
func NewClockSync() *ClockSync {
	return &ClockSync{
		smoothingRate: 0.1,
		quality:       QualityLost,
	}
}

// ProcessSyncResponse folds one server/time round into the estimate.
// t1 and t4 are local send and receive times, t2 and t3 the server's.
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measuredOffset := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.lastSync = time.Now()

	if rtt > maxSyncRTT {
		log.Debugf("clock: discarding sample with rtt %dμs", rtt)
		return
	}

	switch cs.sampleCount {
	case 0:
		cs.offset = measuredOffset
	case 1:
		if dt := float64(t4 - cs.lastSyncMicros); dt > 0 {
			cs.drift = float64(measuredOffset-cs.offset) / dt
		}
		cs.offset = measuredOffset
	default:
		dt := float64(t4 - cs.lastSyncMicros)
		if dt <= 0 {
			log.Debugf("clock: discarding non-monotonic sample")
			return
		}
		predicted := cs.offset + int64(cs.drift*dt)
		residual := measuredOffset - predicted
		if residual > maxSyncResidual || residual < -maxSyncResidual {
			log.Debugf("clock: discarding sample with residual %dμs", residual)
			return
		}
		// Fixed-gain Kalman update
		cs.offset = predicted + int64(cs.smoothingRate*float64(residual))
		cs.drift += cs.smoothingRate * float64(residual) / dt
	}

	cs.lastSyncMicros = t4
	cs.sampleCount++
	if rtt < degradedRTT {
		cs.quality = QualityGood
	} else {
		cs.quality = QualityDegraded
	}
	log.Debugf("clock: sync #%d offset=%dμs drift=%.9f rtt=%dμs", cs.sampleCount, cs.offset, cs.drift, rtt)
}

// calculateOffset computes RTT and clock offset
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Synced reports whether at least one sample was accepted.
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.sampleCount > 0
}

// GetStats returns sync statistics
func (cs *ClockSync) GetStats() (offset, rtt int64, quality Quality) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset, cs.rtt, cs.quality
}

// CheckQuality marks the sync lost when no sample arrived recently.
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if time.Since(cs.lastSync) > syncStaleAfter {
		cs.quality = QualityLost
	}
	return cs.quality
}

// ServerMicros converts a local Unix time in microseconds to server time.
// Before the first sample it returns 0, meaning unknown.
func (cs *ClockSync) ServerMicros(localMicros int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.sampleCount == 0 {
		return 0
	}
	dt := localMicros - cs.lastSyncMicros
	return localMicros + cs.offset + int64(cs.drift*float64(dt))
}

// LocalMicros returns the local Unix time in microseconds.
func LocalMicros() int64 {
	return time.Now().UnixMicro()
}
