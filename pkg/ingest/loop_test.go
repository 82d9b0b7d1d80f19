//nolint:funlen // ok for tests
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mpapenbr/forza-session-recorder/pkg/frame"
	"github.com/mpapenbr/forza-session-recorder/pkg/metrics"
	"github.com/mpapenbr/forza-session-recorder/pkg/model"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
	"github.com/mpapenbr/forza-session-recorder/pkg/sink"
	"github.com/mpapenbr/forza-session-recorder/pkg/snapshot"
	"github.com/mpapenbr/forza-session-recorder/testsupport/metricstest"
)

type item struct {
	data []byte
	err  error
}

// fakeConn hands out the queued items. Once drained it blocks until the
// read deadline is set, or returns net.ErrClosed if closeWhenDrained is set.
type fakeConn struct {
	mu               sync.Mutex
	items            []item
	closeWhenDrained bool
	drained          chan struct{}
	wake             chan struct{}
	drainOnce        sync.Once
	wakeOnce         sync.Once
}

func newFakeConn(items ...item) *fakeConn {
	return &fakeConn{
		items:   items,
		drained: make(chan struct{}),
		wake:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	if len(c.items) > 0 {
		it := c.items[0]
		c.items = c.items[1:]
		c.mu.Unlock()
		if it.err != nil {
			return 0, nil, it.err
		}
		return copy(p, it.data), c.LocalAddr(), nil
	}
	c.mu.Unlock()
	c.drainOnce.Do(func() { close(c.drained) })
	if c.closeWhenDrained {
		return 0, nil, net.ErrClosed
	}
	<-c.wake
	return 0, nil, os.ErrDeadlineExceeded
}

func (c *fakeConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	return len(p), nil
}

func (c *fakeConn) Close() error {
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
}

func (c *fakeConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *fakeConn) SetReadDeadline(time.Time) error {
	c.wakeOnce.Do(func() { close(c.wake) })
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

type recordingObserver struct {
	started   []string
	committed []string
	failed    []string
}

func (o *recordingObserver) SessionStarted(s *session.Session) {
	o.started = append(o.started, s.ID)
}

func (o *recordingObserver) SessionCommitted(_ *session.Session, path string) {
	o.committed = append(o.committed, path)
}

func (o *recordingObserver) SessionFailed(s *session.Session, _ error) {
	o.failed = append(o.failed, s.ID)
}

func datagram(t *testing.T, raceOn int32, pos uint8, class, ordinal int32) item {
	t.Helper()
	data, err := frame.Encode(&model.Sample{
		IsRaceOn:     raceOn,
		RacePosition: pos,
		CarClass:     class,
		CarOrdinal:   ordinal,
		PositionX:    float32(pos),
		PositionY:    1,
		PositionZ:    2,
	})
	require.NoError(t, err)
	return item{data: data}
}

func empty() item {
	return item{data: []byte{}}
}

func fixedFactory() *session.Factory {
	return session.NewFactory(session.WithClock(func() time.Time {
		return time.Date(2024, 3, 17, 13, 5, 9, 0, time.UTC)
	}))
}

func readSession(t *testing.T, path string) []*model.Sample {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, model.Columns(), records[0])
	ret := make([]*model.Sample, 0, len(records)-1)
	for _, r := range records[1:] {
		s, err := model.ParseRecord(records[0], r)
		require.NoError(t, err)
		ret = append(ret, s)
	}
	return ret
}

func positions(samples []*model.Sample) []uint8 {
	ret := make([]uint8, len(samples))
	for i, s := range samples {
		ret[i] = s.RacePosition
	}
	return ret
}

type testEnv struct {
	dir     string
	sink    sink.Sink
	obs     *recordingObserver
	metrics *metricstest.Collector
	pos     *snapshot.Position
}

func newEnv(t *testing.T, mode sink.Mode) *testEnv {
	t.Helper()
	dir := t.TempDir()
	snk, err := sink.New(mode, dir)
	require.NoError(t, err)
	return &testEnv{
		dir:     dir,
		sink:    snk,
		obs:     &recordingObserver{},
		metrics: metricstest.New(),
		pos:     &snapshot.Position{},
	}
}

func (e *testEnv) loop(t *testing.T, conn net.PacketConn, opts ...Option) *Loop {
	t.Helper()
	m, err := metrics.NewIngestWithMeter(e.metrics.Meter)
	require.NoError(t, err)
	base := []Option{
		WithSessionFactory(fixedFactory()),
		WithObserver(e.obs),
		WithMetrics(m),
		WithPosition(e.pos),
		WithExitOnEmpty(true),
	}
	return NewLoop(conn, e.sink, append(base, opts...)...)
}

func (e *testEnv) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	ret := []string{}
	for _, entry := range entries {
		ret = append(ret, entry.Name())
	}
	return ret
}

func TestLoop_RecordsSession(t *testing.T) {
	for _, mode := range []sink.Mode{sink.ModeBuffered, sink.ModeStream} {
		t.Run(string(mode), func(t *testing.T) {
			env := newEnv(t, mode)
			conn := newFakeConn(
				datagram(t, 1, 0, 5, 2),
				datagram(t, 1, 0, 5, 2),
				datagram(t, 1, 3, 5, 2),
				datagram(t, 1, 2, 5, 2),
				datagram(t, 1, 0, 5, 2),
				empty(),
			)
			require.NoError(t, env.loop(t, conn).Run(context.Background()))

			want := "5_2_20240317T130509_001.csv"
			assert.Equal(t, []string{want}, env.files(t))
			samples := readSession(t, filepath.Join(env.dir, want))
			assert.Equal(t, []uint8{3, 2}, positions(samples))
			assert.Equal(t, int32(5), samples[0].CarClass)
			assert.Equal(t, int32(2), samples[0].CarOrdinal)

			assert.Equal(t, []string{"5_2_20240317T130509_001"}, env.obs.started)
			assert.Equal(t, []string{filepath.Join(env.dir, want)}, env.obs.committed)
			assert.Empty(t, env.obs.failed)

			assert.Equal(t, int64(5), env.metrics.Sum(t, "fsr.datagrams.received"))
			assert.Equal(t, int64(2), env.metrics.Sum(t, "fsr.samples.recorded"))
			assert.Equal(t, int64(1), env.metrics.Sum(t, "fsr.sessions",
				attribute.String("state", "committed")))
		})
	}
}

func TestLoop_ConsecutiveSessions(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(
		datagram(t, 1, 4, 5, 2),
		datagram(t, 1, 0, 5, 2),
		datagram(t, 1, 1, 7, 9),
		datagram(t, 1, 1, 7, 9),
		datagram(t, 1, 0, 7, 9),
		empty(),
	)
	require.NoError(t, env.loop(t, conn).Run(context.Background()))
	assert.Equal(t, []string{
		"5_2_20240317T130509_001.csv",
		"7_9_20240317T130509_002.csv",
	}, env.files(t))
	assert.Len(t, readSession(t, filepath.Join(env.dir, "7_9_20240317T130509_002.csv")), 2)
}

func TestLoop_IgnoresInactiveAndRejected(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(
		item{data: []byte{1, 2, 3}},
		item{data: make([]byte, frame.RecordWidth+1)},
		datagram(t, 0, 5, 5, 2),
		empty(),
	)
	l := env.loop(t, conn)
	require.NoError(t, l.Run(context.Background()))
	assert.Empty(t, env.files(t))
	assert.Empty(t, env.obs.started)
	assert.Nil(t, l.Current())
	assert.Equal(t, int64(2), env.metrics.Sum(t, "fsr.datagrams.rejected"))

	// position is updated even if no race is active
	v, ok := env.pos.Get()
	require.True(t, ok)
	assert.Equal(t, snapshot.Vec3{X: 5, Y: 1, Z: 2}, v)
}

func TestLoop_InactiveSamplesDoNotEndSession(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(
		datagram(t, 1, 3, 5, 2),
		datagram(t, 0, 0, 5, 2),
		datagram(t, 1, 2, 5, 2),
		datagram(t, 1, 0, 5, 2),
		empty(),
	)
	require.NoError(t, env.loop(t, conn).Run(context.Background()))
	require.Len(t, env.files(t), 1)
	samples := readSession(t, filepath.Join(env.dir, env.files(t)[0]))
	assert.Equal(t, []uint8{3, 2}, positions(samples))
}

func TestLoop_MalformedMidSession(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(
		datagram(t, 1, 3, 5, 2),
		datagram(t, 2, 3, 5, 2), // race flag out of range
		datagram(t, 1, 2, 5, 2),
		datagram(t, 1, 0, 5, 2),
		empty(),
	)
	require.NoError(t, env.loop(t, conn).Run(context.Background()))
	require.Len(t, env.files(t), 1)
	samples := readSession(t, filepath.Join(env.dir, env.files(t)[0]))
	assert.Equal(t, []uint8{3, 2}, positions(samples))
	assert.Equal(t, int64(1), env.metrics.Sum(t, "fsr.datagrams.malformed"))
}

func TestLoop_TransientReceiveError(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(
		datagram(t, 1, 3, 5, 2),
		item{err: errors.New("connection refused")},
		datagram(t, 1, 2, 5, 2),
		datagram(t, 1, 0, 5, 2),
		empty(),
	)
	require.NoError(t, env.loop(t, conn).Run(context.Background()))
	require.Len(t, env.files(t), 1)
	assert.Equal(t, int64(1), env.metrics.Sum(t, "fsr.datagrams.errors"))
}

func TestLoop_EmptyDatagramWithoutExit(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(
		empty(),
		datagram(t, 1, 3, 5, 2),
		datagram(t, 1, 0, 5, 2),
	)
	conn.closeWhenDrained = true
	err := env.loop(t, conn, WithExitOnEmpty(false)).Run(context.Background())
	require.ErrorIs(t, err, net.ErrClosed)
	assert.Len(t, env.files(t), 1)
}

func TestLoop_CommitFailure(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	existing := filepath.Join(env.dir, "5_2_20240317T130509_001.csv")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o600))

	conn := newFakeConn(
		datagram(t, 1, 3, 5, 2),
		datagram(t, 1, 0, 5, 2),
		datagram(t, 1, 1, 5, 2),
		datagram(t, 1, 0, 5, 2),
		empty(),
	)
	require.NoError(t, env.loop(t, conn).Run(context.Background()))

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.Equal(t, []string{"5_2_20240317T130509_001"}, env.obs.failed)
	// the loop went on with the next race
	assert.Equal(t, []string{
		"5_2_20240317T130509_001.csv",
		"5_2_20240317T130509_002.csv",
	}, env.files(t))
	assert.Equal(t, int64(1), env.metrics.Sum(t, "fsr.sessions",
		attribute.String("state", "failed")))
}

func TestLoop_Shutdown(t *testing.T) {
	tests := []struct {
		name      string
		commit    bool
		wantFiles int
	}{
		{"commit open session", true, 1},
		{"discard open session", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, sink.ModeStream)
			conn := newFakeConn(
				datagram(t, 1, 3, 5, 2),
				datagram(t, 1, 2, 5, 2),
			)
			l := env.loop(t, conn, WithCommitOnShutdown(tt.commit))
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error)
			go func() { done <- l.Run(ctx) }()

			<-conn.drained
			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("loop did not stop")
			}
			assert.Len(t, env.files(t), tt.wantFiles)
			assert.Nil(t, l.Current())
			if tt.commit {
				samples := readSession(t, filepath.Join(env.dir, env.files(t)[0]))
				assert.Equal(t, []uint8{3, 2}, positions(samples))
			}
		})
	}
}

func TestLoop_SocketClosed(t *testing.T) {
	env := newEnv(t, sink.ModeBuffered)
	conn := newFakeConn(datagram(t, 1, 3, 5, 2))
	conn.closeWhenDrained = true
	err := env.loop(t, conn).Run(context.Background())
	require.ErrorIs(t, err, net.ErrClosed)
	// the open session is stored before giving up
	assert.Len(t, env.files(t), 1)
}
