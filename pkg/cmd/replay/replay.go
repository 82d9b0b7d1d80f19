package replay

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/cmd/util"
	"github.com/mpapenbr/forza-session-recorder/pkg/replay"
)

var (
	target       string
	speed        int
	fastForward  string
	noEnd        bool
	showProgress bool
)

func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <session file>",
		Short: "sends a recorded session as telemetry datagrams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(os.Stderr); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()
			return replayFile(ctx, args[0])
		},
	}
	cmd.Flags().StringVar(&target,
		"target",
		"localhost:9999",
		"udp address of the recorder")
	cmd.Flags().IntVar(&speed,
		"speed",
		1,
		"Replay speed (0 means: go as fast as possible)")
	cmd.Flags().StringVar(&fastForward,
		"fast-forward",
		"",
		"replay this duration with max speed")
	cmd.Flags().BoolVar(&noEnd,
		"no-end",
		false,
		"do not send the final frame which ends the session")
	cmd.Flags().BoolVar(&showProgress,
		"progress",
		false,
		"show a progress bar")
	return cmd
}

func replayFile(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	samples, err := replay.ReadSession(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	conn, err := net.Dial("udp", target)
	if err != nil {
		return err
	}
	defer conn.Close()

	opts := []replay.Option{replay.WithSpeed(speed)}
	if fastForward != "" {
		d, err := time.ParseDuration(fastForward)
		if err != nil {
			return fmt.Errorf("fast-forward: %w", err)
		}
		opts = append(opts, replay.WithFastForward(d))
	}
	if noEnd {
		opts = append(opts, replay.WithoutEnd())
	}
	if showProgress {
		pw, tracker := newProgress(int64(len(samples)))
		go pw.Render()
		defer func() {
			tracker.MarkAsDone()
			time.Sleep(150 * time.Millisecond) // last render
			pw.Stop()
		}()
		opts = append(opts, replay.WithProgress(func(sent int) {
			tracker.SetValue(int64(sent))
		}))
	}

	log.Info("Replaying session",
		log.String("file", file),
		log.Int("samples", len(samples)),
		log.String("target", target),
		log.Int("speed", speed))
	n, err := replay.NewTask(conn, opts...).Replay(ctx, samples)
	log.Info("Replay finished", log.Int("frames", n))
	return err
}

func newProgress(total int64) (progress.Writer, *progress.Tracker) {
	pw := progress.NewWriter()
	pw.SetAutoStop(false)
	pw.SetTrackerLength(40)
	pw.SetStyle(progress.StyleDefault)
	pw.SetTrackerPosition(progress.PositionRight)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Speed = true
	tracker := &progress.Tracker{Message: "samples", Total: total, Units: progress.UnitsDefault}
	pw.AppendTracker(tracker)
	return pw, tracker
}
