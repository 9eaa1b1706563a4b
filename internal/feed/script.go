package feed

import (
	"context"
	"io"
	"math/rand/v2"
	"time"

	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/tracker"
)

// Visit is one subject's stay in a scripted scene, covering frames
// [From, To). Every DropEvery-th frame of the stay is missed by the
// classifier when DropEvery is positive.
type Visit struct {
	Identity   string
	Confidence float64
	From, To   int
	DropEvery  int
	Region     event.Region
}

// Script describes a synthetic scene.
type Script struct {
	Frames  int
	Cadence time.Duration
	// Jitter is the maximum random deviation applied to each confidence.
	Jitter float64
	Visits []Visit
}

// DemoScript is the stock scene used by "greeter simulate": Alice arrives
// and is joined by Bob and a stranger, Carol flickers past too briefly to be
// announced, then everybody leaves. At the default thresholds every visit
// except Carol's is announced and departs.
func DemoScript() Script {
	return Script{
		Frames:  110,
		Cadence: 100 * time.Millisecond,
		Jitter:  0.04,
		Visits: []Visit{
			{Identity: "Alice", Confidence: 0.92, From: 5, To: 70,
				Region: event.Region{Top: 80, Right: 260, Bottom: 240, Left: 120}},
			{Identity: "Bob", Confidence: 0.78, From: 15, To: 60,
				Region: event.Region{Top: 90, Right: 480, Bottom: 250, Left: 340}},
			{Identity: event.UnknownIdentity, Confidence: 0.35, From: 25, To: 60,
				Region: event.Region{Top: 60, Right: 620, Bottom: 200, Left: 500}},
			{Identity: "Carol", Confidence: 0.55, From: 30, To: 32,
				Region: event.Region{Top: 70, Right: 100, Bottom: 210, Left: 0}},
		},
	}
}

// Batches renders the script into one batch per frame, starting at cycle 1
// and time start. A nil rng disables jitter.
func (s Script) Batches(start time.Time, rng *rand.Rand) []tracker.Batch {
	out := make([]tracker.Batch, 0, s.Frames)
	for frame := range s.Frames {
		b := tracker.Batch{
			Cycle: uint64(frame + 1),
			At:    start.Add(time.Duration(frame) * s.Cadence),
		}
		for _, v := range s.Visits {
			if frame < v.From || frame >= v.To {
				continue
			}
			if v.DropEvery > 0 && (frame-v.From)%v.DropEvery == v.DropEvery-1 {
				continue
			}
			conf := v.Confidence
			if rng != nil && s.Jitter > 0 {
				conf += (rng.Float64()*2 - 1) * s.Jitter
			}
			region := v.Region
			b.Observations = append(b.Observations, tracker.Observation{
				Identity:   v.Identity,
				Confidence: min(max(conf, 0), 1),
				Region:     &region,
			})
		}
		out = append(out, b)
	}
	return out
}

// Replay serves a fixed list of batches. When paced it waits between batches
// for the gap between their timestamps.
type Replay struct {
	batches []tracker.Batch
	pace    bool
	next    int
}

// NewReplay creates a replay source.
func NewReplay(batches []tracker.Batch, pace bool) *Replay {
	return &Replay{batches: batches, pace: pace}
}

// Next implements Source.
func (r *Replay) Next(ctx context.Context) (tracker.Batch, error) {
	if err := ctx.Err(); err != nil {
		return tracker.Batch{}, err
	}
	if r.next >= len(r.batches) {
		return tracker.Batch{}, io.EOF
	}
	b := r.batches[r.next]
	if r.pace && r.next > 0 {
		if gap := b.At.Sub(r.batches[r.next-1].At); gap > 0 {
			t := time.NewTimer(gap)
			select {
			case <-ctx.Done():
				t.Stop()
				return tracker.Batch{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	r.next++
	return b, nil
}

// Remaining reports how many batches are left.
func (r *Replay) Remaining() int {
	return len(r.batches) - r.next
}
