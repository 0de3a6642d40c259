package scrollstate

import "github.com/scrollcore/viewport/viewportmsg"

// sampleWindow is how far back SpeedTracker looks when averaging
// position deltas into a velocity.
const sampleWindow = 100 // ms

type posSample struct {
	position float64
	timeMS   float64
}

// SpeedTracker converts a stream of (position, time) observations into
// a signed pixels/ms velocity and a direction, averaged over a rolling
// window so a single noisy sample doesn't whipsaw the velocity gate the
// scheduler reads.
type SpeedTracker struct {
	velocity  float64
	direction viewportmsg.Direction
	lastPos   float64
	lastTime  float64
	hasLast   bool
	samples   []posSample
}

// NewSpeedTracker returns a zeroed tracker: zero velocity, forward
// direction, no history.
func NewSpeedTracker() *SpeedTracker {
	return &SpeedTracker{}
}

// Update folds in a new (position, time) observation. now is in the
// same unit as every other time value this package receives — unix
// nanoseconds from the caller, converted here to milliseconds since
// that's the unit velocity is expressed in throughout this package.
func (t *SpeedTracker) Update(position float64, nowNanos int64) {
	now := float64(nowNanos) / 1e6

	if !t.hasLast {
		t.lastPos, t.lastTime, t.hasLast = position, now, true
		t.samples = append(t.samples, posSample{position: position, timeMS: now})
		return
	}

	timeDelta := now - t.lastTime
	if timeDelta == 0 {
		return
	}
	posDelta := position - t.lastPos
	instant := posDelta / timeDelta

	t.samples = append(t.samples, posSample{position: position, timeMS: now})
	cutoff := now - sampleWindow
	kept := t.samples[:0]
	for _, s := range t.samples {
		if s.timeMS >= cutoff {
			kept = append(kept, s)
		}
	}
	t.samples = kept

	if len(t.samples) >= 2 {
		oldest, newest := t.samples[0], t.samples[len(t.samples)-1]
		if dt := newest.timeMS - oldest.timeMS; dt != 0 {
			t.velocity = (newest.position - oldest.position) / dt
		} else {
			t.velocity = instant
		}
	} else {
		t.velocity = instant
	}

	if posDelta >= 0 {
		t.direction = viewportmsg.DirectionForward
	} else {
		t.direction = viewportmsg.DirectionBackward
	}
	t.lastPos, t.lastTime = position, now
}

// Velocity returns the signed pixels/ms velocity from the most recent
// Update.
func (t *SpeedTracker) Velocity() float64 {
	return t.velocity
}

// Direction returns the sign of the most recent position delta.
func (t *SpeedTracker) Direction() viewportmsg.Direction {
	return t.direction
}

// Reset zeroes the tracker, used once an idle gesture is detected so
// a later wheel event starts a fresh velocity reading instead of
// averaging across the gap.
func (t *SpeedTracker) Reset() {
	*t = SpeedTracker{}
}
