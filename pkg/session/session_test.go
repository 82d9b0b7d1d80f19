package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 17, 14, 5, 9, 0, time.FixedZone("CET", 3600))
}

func TestFactory_New(t *testing.T) {
	f := NewFactory(WithClock(fixedClock))
	first := &model.Sample{IsRaceOn: 1, RacePosition: 3, CarClass: 5, CarOrdinal: 2}

	s1 := f.New(first)
	s2 := f.New(first)

	assert.Equal(t, "5_2_20240317T130509_001", s1.ID)
	assert.Equal(t, "5_2_20240317T130509_002", s2.ID)
	assert.NotEqual(t, s1.ID, s2.ID, "same car, same second must still be unique")
	assert.Equal(t, model.Vehicle{Class: 5, Ordinal: 2}, s1.Vehicle)
	assert.Equal(t, Open, s1.Status())
	assert.Equal(t, 0, s1.Rows)
}

func TestSession_MarkCommitted(t *testing.T) {
	s := NewFactory().New(&model.Sample{})
	require.NoError(t, s.MarkCommitted())
	assert.Equal(t, Committed, s.Status())
	assert.ErrorIs(t, s.MarkCommitted(), ErrAlreadyCommitted)
}

func TestParseID(t *testing.T) {
	start := fixedClock()
	id := FormatID(model.Vehicle{Class: 7, Ordinal: 1234}, start, 12)
	info, err := ParseID(id)
	require.NoError(t, err)
	assert.Equal(t, model.Vehicle{Class: 7, Ordinal: 1234}, info.Vehicle)
	assert.True(t, start.Equal(info.StartedAt))
	assert.Equal(t, uint64(12), info.Seq)

	for _, invalid := range []string{"", "5_2", "5_2_2024_1", "a_b_20240317T130509_001"} {
		_, err := ParseID(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestNewEvent(t *testing.T) {
	s := NewFactory(WithClock(fixedClock)).New(
		&model.Sample{IsRaceOn: 1, RacePosition: 1, CarClass: 3, CarOrdinal: 99})
	s.Rows = 10
	e := NewEvent(KindCommitted, s, fixedClock())
	assert.Equal(t, KindCommitted, e.Kind)
	assert.Equal(t, s.ID, e.Session)
	assert.Equal(t, int32(3), e.Class)
	assert.Equal(t, int32(99), e.Ordinal)
	assert.Equal(t, 10, e.Rows)
	assert.Equal(t, time.UTC, e.Time.Location())
	assert.NotEqual(t, e.ID, NewEvent(KindCommitted, s, fixedClock()).ID)
}
