package frame

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

func TestDecode_Length(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"motorsport sled", 232},
		{"motorsport dash", 311},
		{"one short", RecordWidth - 1},
		{"one too many", RecordWidth + 1},
		{"max datagram", MaxDatagramSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(make([]byte, tt.size))
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrRejected)
			assert.NotErrorIs(t, err, ErrMalformed)
		})
	}
}

// builds a datagram by hand to verify the offsets independent of Encode
func TestDecode_Offsets(t *testing.T) {
	data := make([]byte, RecordWidth)
	le := binary.LittleEndian
	le.PutUint32(data[0:], 1)                           // IsRaceOn
	le.PutUint32(data[4:], 123456)                      // TimestampMS
	le.PutUint32(data[16:], math.Float32bits(7500))     // CurrentEngineRpm
	le.PutUint32(data[212:], 2)                         // CarOrdinal
	le.PutUint32(data[216:], 5)                         // CarClass
	le.PutUint32(data[220:], 801)                       // CarPerformanceIndex
	le.PutUint32(data[244:], math.Float32bits(10.5))    // PositionX
	le.PutUint32(data[248:], math.Float32bits(-2))      // PositionY
	le.PutUint32(data[252:], math.Float32bits(1024.25)) // PositionZ
	le.PutUint32(data[256:], math.Float32bits(55.5))    // Speed
	le.PutUint32(data[308:], math.Float32bits(95.125))  // CurrentRaceTime
	le.PutUint16(data[312:], 3)                         // LapNumber
	data[314] = 4                                       // RacePosition
	data[315] = 255                                     // Accel
	data[319] = 6                                       // Gear
	data[320] = byte(0xF6)                              // Steer (-10)
	data[322] = byte(0x7F)                              // NormalizedAIBrakeDifference
	copy(data[232:244], []byte("horizonstuff"))         // must be skipped
	data[323] = 0xAA                                    // must be skipped

	s, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, s.RaceActive())
	assert.Equal(t, uint32(123456), s.TimestampMS)
	assert.Equal(t, float32(7500), s.CurrentEngineRpm)
	assert.Equal(t, model.Vehicle{Class: 5, Ordinal: 2}, s.Vehicle())
	assert.Equal(t, int32(801), s.CarPerformanceIndex)
	assert.Equal(t, float32(10.5), s.PositionX)
	assert.Equal(t, float32(-2), s.PositionY)
	assert.Equal(t, float32(1024.25), s.PositionZ)
	assert.Equal(t, float32(55.5), s.Speed)
	assert.Equal(t, float32(95.125), s.CurrentRaceTime)
	assert.Equal(t, uint16(3), s.LapNumber)
	assert.Equal(t, uint8(4), s.TrackPosition())
	assert.Equal(t, uint8(255), s.Accel)
	assert.Equal(t, uint8(6), s.Gear)
	assert.Equal(t, int8(-10), s.Steer)
	assert.Equal(t, int8(127), s.NormalizedAIBrakeDifference)
}

func TestDecode_Malformed(t *testing.T) {
	data := make([]byte, RecordWidth)
	binary.LittleEndian.PutUint32(data[0:], 7)
	s, err := Decode(data)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestEncodeDecode(t *testing.T) {
	orig := &model.Sample{
		IsRaceOn:              1,
		TimestampMS:           99,
		TireTempRearRight:     88.5,
		SurfaceRumbleRearLeft: 0.25,
		LapNumber:             12,
		RacePosition:          1,
		NormalizedDrivingLine: -5,
		CarClass:              6,
		CarOrdinal:            3456,
	}
	data, err := Encode(orig)
	require.NoError(t, err)
	assert.Len(t, data, RecordWidth)

	got, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(orig, got, cmpopts.IgnoreUnexported(model.Sample{})); diff != "" {
		t.Errorf("Decode(Encode()) mismatch (-want +got):\n%s", diff)
	}
}
