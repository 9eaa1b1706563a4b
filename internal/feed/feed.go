// Package feed supplies observation batches to the tracker.
//
// Batches travel as JSON lines:
//
//	{"cycle":1,"at":"2025-03-14T09:30:00.1Z","observations":[{"identity":"Alice","confidence":0.91,"region":[10,90,120,20]}]}
//
// "at" is optional; regions are [top, right, bottom, left] in pixels. Blank
// lines and lines starting with '#' are ignored.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/tracker"
)

// maxLine bounds one JSON line.
const maxLine = 1 << 20

// Source yields batches in cycle order. Next returns io.EOF once the source
// is exhausted.
type Source interface {
	Next(ctx context.Context) (tracker.Batch, error)
}

type wireObservation struct {
	Identity   string  `json:"identity"`
	Confidence float64 `json:"confidence"`
	Region     []int   `json:"region,omitempty"`
}

type wireBatch struct {
	Cycle        uint64            `json:"cycle"`
	At           *time.Time        `json:"at,omitempty"`
	Observations []wireObservation `json:"observations"`
}

// ParseLine decodes one JSON line.
func ParseLine(line []byte) (tracker.Batch, error) {
	var w wireBatch
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return tracker.Batch{}, errors.NewValidationError("malformed batch").WithCause(err)
	}
	if w.Cycle == 0 {
		return tracker.Batch{}, errors.NewValidationError("cycle must be positive").WithField("cycle")
	}

	b := tracker.Batch{Cycle: w.Cycle, Observations: make([]tracker.Observation, 0, len(w.Observations))}
	if w.At != nil {
		b.At = *w.At
	}
	for i, o := range w.Observations {
		obs := tracker.Observation{Identity: o.Identity, Confidence: o.Confidence}
		if o.Region != nil {
			if len(o.Region) != 4 {
				return tracker.Batch{}, errors.NewValidationError("region needs four values").
					WithField(fmt.Sprintf("observations[%d].region", i)).
					WithValue(o.Region)
			}
			obs.Region = &event.Region{Top: o.Region[0], Right: o.Region[1], Bottom: o.Region[2], Left: o.Region[3]}
		}
		b.Observations = append(b.Observations, obs)
	}
	return b, nil
}

// MarshalLine encodes b as one JSON line without the trailing newline.
func MarshalLine(b tracker.Batch) ([]byte, error) {
	w := wireBatch{Cycle: b.Cycle, Observations: make([]wireObservation, 0, len(b.Observations))}
	if !b.At.IsZero() {
		at := b.At.UTC()
		w.At = &at
	}
	for _, o := range b.Observations {
		wo := wireObservation{Identity: o.Identity, Confidence: o.Confidence}
		if r := o.Region; r != nil {
			wo.Region = []int{r.Top, r.Right, r.Bottom, r.Left}
		}
		w.Observations = append(w.Observations, wo)
	}
	return json.Marshal(w)
}

func skippable(line []byte) bool {
	line = bytes.TrimSpace(line)
	return len(line) == 0 || line[0] == '#'
}

// Decoder reads batches from a stream of JSON lines. Reads happen on a
// background goroutine so Next can return as soon as its context ends, even
// when the underlying reader is blocked.
type Decoder struct {
	r       *bufio.Reader
	results chan scanResult
	stop    chan struct{}
	start   sync.Once
	closed  sync.Once
	line    int
	err     error
}

type scanResult struct {
	line    []byte
	tooLong bool
	err     error
}

// NewDecoder creates a decoder reading from r. Call Close when abandoning the
// decoder before it reaches the end of r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       bufio.NewReaderSize(r, 64*1024),
		results: make(chan scanResult),
		stop:    make(chan struct{}),
	}
}

// Next returns the next batch. A malformed or oversized line is reported with
// its line number; decoding can continue after it.
func (d *Decoder) Next(ctx context.Context) (tracker.Batch, error) {
	if d.err != nil {
		return tracker.Batch{}, d.err
	}
	d.start.Do(func() { go d.read() })

	for {
		if err := ctx.Err(); err != nil {
			return tracker.Batch{}, err
		}
		select {
		case <-d.stop:
			d.err = io.EOF
			return tracker.Batch{}, d.err
		default:
		}

		var res scanResult
		var ok bool
		select {
		case <-ctx.Done():
			return tracker.Batch{}, ctx.Err()
		case <-d.stop:
			d.err = io.EOF
			return tracker.Batch{}, d.err
		case res, ok = <-d.results:
		}

		switch {
		case !ok || errors.Is(res.err, io.EOF):
			d.err = io.EOF
			return tracker.Batch{}, d.err
		case res.err != nil:
			d.err = fmt.Errorf("read feed: %w", res.err)
			return tracker.Batch{}, d.err
		}

		d.line++
		if res.tooLong {
			return tracker.Batch{}, fmt.Errorf("line %d: %w", d.line,
				errors.NewValidationError(fmt.Sprintf("line exceeds %d bytes", maxLine)))
		}
		if skippable(res.line) {
			continue
		}
		b, err := ParseLine(res.line)
		if err != nil {
			return tracker.Batch{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return b, nil
	}
}

// Close stops the background reader. A Read already blocked in the
// underlying reader is not interrupted; the goroutine exits once it returns.
func (d *Decoder) Close() error {
	d.closed.Do(func() { close(d.stop) })
	return nil
}

func (d *Decoder) read() {
	defer close(d.results)
	for {
		line, tooLong, err := readLine(d.r)
		select {
		case d.results <- scanResult{line: line, tooLong: tooLong, err: err}:
		case <-d.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLine are consumed and discarded, and reported through tooLong.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLine+1 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(line) > 0 || tooLong):
			return trimEOL(line), tooLong, nil
		case err != nil:
			return nil, false, err
		}
		return trimEOL(line), tooLong, nil
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// Encoder writes batches as JSON lines.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w. Call Flush when done.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one batch.
func (e *Encoder) Encode(b tracker.Batch) error {
	line, err := MarshalLine(b)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	return e.w.WriteByte('\n')
}

// Flush writes any buffered data.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}
