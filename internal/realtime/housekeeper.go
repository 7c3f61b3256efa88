package realtime

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pulse/internal/metrics"
)

const bucketIdleWindow = 10 * time.Minute

// Housekeeper runs the periodic maintenance the realtime core needs to
// stay bounded: deleting rooms empty past the grace window, releasing
// leaked locks, dropping idle rate-limit buckets, and shedding caches
// under memory pressure.
type Housekeeper struct {
	hub    *Hub
	logger zerolog.Logger

	interval      time.Duration
	pressureBytes int64

	pressure chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// NewHousekeeper creates a housekeeper sweeping every interval.
// pressureBytes is the heap size above which a pressure sweep is run; 0
// disables the memory watch.
func NewHousekeeper(hub *Hub, interval time.Duration, pressureBytes int64, logger zerolog.Logger) *Housekeeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Housekeeper{
		hub:           hub,
		logger:        logger.With().Str("component", "housekeeper").Logger(),
		interval:      interval,
		pressureBytes: pressureBytes,
		pressure:      make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (k *Housekeeper) Start() {
	go k.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (k *Housekeeper) Stop() {
	close(k.stop)
	<-k.done
}

// TriggerPressure requests an immediate pressure sweep. Non-blocking;
// coalesces with an already pending request.
func (k *Housekeeper) TriggerPressure() {
	select {
	case k.pressure <- struct{}{}:
	default:
	}
}

func (k *Housekeeper) run() {
	defer close(k.done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.Sweep(time.Now())
			if k.underPressure() {
				k.SweepPressure()
			}
		case <-k.pressure:
			k.SweepPressure()
		case <-k.stop:
			return
		}
	}
}

func (k *Housekeeper) underPressure() bool {
	if k.pressureBytes <= 0 {
		return false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc) > k.pressureBytes
}

// Sweep runs one regular maintenance pass.
func (k *Housekeeper) Sweep(now time.Time) {
	metrics.HousekeeperSweeps.WithLabelValues("interval").Inc()

	for _, roomID := range k.hub.rooms.sweepEmpty(now) {
		k.hub.tracker.ClearRoom(roomID)
		k.hub.broker.DropRoom(roomID)
	}

	for _, lock := range k.hub.engine.sweepExpired(now) {
		k.hub.BroadcastToRoom("document:"+lock.DocumentID, EventLockReleased, lock, "")
	}

	if removed := k.hub.guard.sweep(bucketIdleWindow); removed > 0 {
		k.logger.Debug().Int("count", removed).Msg("dropped idle rate-limit buckets")
	}
}

// SweepPressure sheds memory beyond the regular sweep: transform history
// for unlocked documents, excess cursor entries, and in-memory message
// history. All of it is reconstructible or advisory state.
func (k *Housekeeper) SweepPressure() {
	metrics.HousekeeperSweeps.WithLabelValues("pressure").Inc()

	dropped := k.hub.engine.dropIdleHistory()
	cursors := k.hub.tracker.trimCursors(k.hub.rooms.Count() * 8)
	trimmed := k.hub.broker.TrimHistory(defaultHistoryLimit / 2)

	k.logger.Warn().
		Int("op_histories_dropped", dropped).
		Int("cursors_evicted", cursors).
		Int("messages_trimmed", trimmed).
		Msg("memory pressure sweep completed")
}
