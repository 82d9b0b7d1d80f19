package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/snapshot"
)

const positionSize = 12

// EncodePosition returns x, y and z as little endian float32 values.
func EncodePosition(v snapshot.Vec3) []byte {
	var buf bytes.Buffer
	buf.Grow(positionSize)
	//nolint:errcheck // writing to bytes.Buffer does not fail
	binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func DecodePosition(data []byte) (snapshot.Vec3, error) {
	var v snapshot.Vec3
	if len(data) != positionSize {
		return v, fmt.Errorf("position payload has %d bytes, want %d", len(data), positionSize)
	}
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &v)
	return v, err
}

// PublishPositions publishes the position every interval until ctx is done.
// Nothing is sent while no position is known or the position did not change.
//
//nolint:whitespace // editor/linter issue
func (n *Notifier) PublishPositions(
	ctx context.Context, pos *snapshot.Position, interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last snapshot.Vec3
	sent := false
	subj := n.PositionSubject()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, ok := pos.Get()
			if !ok || (sent && v == last) {
				continue
			}
			if err := n.pub.Publish(subj, EncodePosition(v)); err != nil {
				n.l.Debug("could not publish position", log.ErrorField(err))
				continue
			}
			last = v
			sent = true
		}
	}
}
