package vat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarFrozenClock(t *testing.T) {
	at := time.Date(2024, time.May, 1, 23, 30, 0, 0, time.UTC)
	cal, err := NewCalendarAt("UTC", at)
	require.NoError(t, err)

	assert.True(t, cal.Now().Equal(at))
	assert.True(t, cal.Today().Equal(date(2024, time.May, 1)))
}

func TestCalendarRejectsUnknownZone(t *testing.T) {
	_, err := NewCalendar("Mars/Olympus_Mons")
	require.Error(t, err)
}

func TestCivilDate(t *testing.T) {
	instant := time.Date(2024, time.February, 29, 18, 45, 12, 0, time.UTC)
	assert.True(t, CivilDate(instant).Equal(date(2024, time.February, 29)))
}
