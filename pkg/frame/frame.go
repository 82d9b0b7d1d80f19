package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

const (
	// RecordWidth is the size of a Forza Horizon "Data Out" datagram.
	RecordWidth = 324
	// MaxDatagramSize is the receive buffer size. Anything larger than
	// RecordWidth is rejected anyway, we just need to be able to see it.
	MaxDatagramSize = 2048
)

var (
	// ErrRejected is returned for datagrams with an unexpected length.
	// This is normal operation (other game modes, other senders on the port)
	// and should be ignored by the caller.
	ErrRejected = errors.New("datagram rejected")
	// ErrMalformed is returned if a datagram has the expected length but
	// does not contain a plausible record.
	ErrMalformed = errors.New("malformed record")
)

func init() {
	if size := binary.Size(model.Sample{}); size != RecordWidth {
		panic(fmt.Sprintf("model.Sample has wire size %d, want %d", size, RecordWidth))
	}
}

// Decode validates and decodes a single datagram.
func Decode(data []byte) (*model.Sample, error) {
	if len(data) != RecordWidth {
		return nil, fmt.Errorf("%w: length %d", ErrRejected, len(data))
	}
	var s model.Sample
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &s); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	if s.IsRaceOn != 0 && s.IsRaceOn != 1 {
		return nil, fmt.Errorf("%w: is_race_on=%d", ErrMalformed, s.IsRaceOn)
	}
	return &s, nil
}

// Encode produces the wire representation of s.
func Encode(s *model.Sample) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, RecordWidth))
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		return nil, fmt.Errorf("error encoding sample: %w", err)
	}
	return buf.Bytes(), nil
}
