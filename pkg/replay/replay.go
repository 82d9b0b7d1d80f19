// Package replay sends recorded sessions as telemetry datagrams.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/frame"
	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

var ErrEmptySession = errors.New("session file contains no samples")

type (
	// Task replays samples to a writer, one datagram per Write call.
	Task struct {
		w           io.Writer
		speed       int
		fastForward time.Duration
		noEnd       bool
		l           *log.Logger
		sleep       func(ctx context.Context, d time.Duration) error
		progress    func(sent int)
	}
	Option func(*Task)
)

func NewTask(w io.Writer, opts ...Option) *Task {
	ret := &Task{
		w:     w,
		speed: 1,
		l:     log.Default().Named("replay"),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// WithSpeed sets the replay speed factor. 0 sends as fast as possible.
func WithSpeed(speed int) Option {
	return func(t *Task) {
		t.speed = speed
	}
}

// WithFastForward sends the first d of the session without delays.
func WithFastForward(d time.Duration) Option {
	return func(t *Task) {
		t.fastForward = d
	}
}

// WithoutEnd suppresses the final frame with race position 0.
func WithoutEnd() Option {
	return func(t *Task) {
		t.noEnd = true
	}
}

func WithLogger(l *log.Logger) Option {
	return func(t *Task) {
		t.l = l
	}
}

// WithProgress registers a callback which receives the number of sent frames.
func WithProgress(cb func(sent int)) Option {
	return func(t *Task) {
		t.progress = cb
	}
}

// ReadSession reads all samples of a session file.
func ReadSession(r io.Reader) ([]*model.Sample, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptySession
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	ret := []*model.Sample{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s, err := model.ParseRecord(header, rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ret = append(ret, s)
	}
	if len(ret) == 0 {
		return nil, ErrEmptySession
	}
	return ret, nil
}

// Replay sends samples, paced by their timestamps. Unless disabled a final
// frame with race position 0 follows, which ends the session at the
// receiver. It returns the number of sent frames.
func (t *Task) Replay(ctx context.Context, samples []*model.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, ErrEmptySession
	}
	sent := 0
	var elapsed time.Duration
	for i, s := range samples {
		if i > 0 {
			delta := timestampDelta(samples[i-1], s)
			elapsed += delta
			if err := t.wait(ctx, delta, elapsed); err != nil {
				return sent, err
			}
		}
		if err := t.send(s); err != nil {
			return sent, err
		}
		sent++
		if t.progress != nil {
			t.progress(sent)
		}
	}
	if t.noEnd {
		return sent, nil
	}
	end := *samples[len(samples)-1]
	end.RacePosition = 0
	if err := t.send(&end); err != nil {
		return sent, err
	}
	t.l.Debug("session end sent", log.Int("frames", sent+1))
	return sent + 1, nil
}

func (t *Task) wait(ctx context.Context, delta, elapsed time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if delta <= 0 || t.speed <= 0 || elapsed <= t.fastForward {
		return nil
	}
	return t.sleep(ctx, delta/time.Duration(t.speed))
}

func (t *Task) send(s *model.Sample) error {
	data, err := frame.Encode(s)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// timestampDelta handles the wrap around of the millisecond counter.
func timestampDelta(prev, cur *model.Sample) time.Duration {
	return time.Duration(cur.TimestampMS-prev.TimestampMS) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
