package hardware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/olfacto/internal/clock"
)

var testMap = LineMap{
	RewardValve:    4,
	PresenceSensor: 27,
	LickSensor:     17,
	DeliveryValve:  21,
	Odors:          map[int]int{5: 5, 9: 6},
}

func newTestController(t *testing.T) (*Controller, *Sim) {
	t.Helper()
	sim := NewSim(clock.NewFake(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)))
	return OpenSim(sim, testMap), sim
}

func TestLineMap(t *testing.T) {
	assert.Equal(t, []int{4, 5, 6, 21}, testMap.Outputs())
	assert.Equal(t, []int{27, 17}, testMap.Inputs())

	line, err := testMap.OdorLine(9)
	require.NoError(t, err)
	assert.Equal(t, 6, line)

	_, err = testMap.OdorLine(3)
	assert.ErrorIs(t, err, ErrUnknownLine)
}

func TestController_SingleWriter(t *testing.T) {
	c, sim := newTestController(t)

	w, err := c.AcquireWriter()
	require.NoError(t, err)

	_, err = c.AcquireWriter()
	assert.ErrorIs(t, err, ErrWriterHeld)

	require.NoError(t, w.On(4))
	assert.Equal(t, High, sim.Output(4))

	w.Release()
	assert.ErrorIs(t, w.Off(4), ErrWriterReleased)

	w2, err := c.AcquireWriter()
	require.NoError(t, err, "writer must be available again after release")
	require.NoError(t, w2.Off(4))
	assert.Equal(t, Low, sim.Output(4))
}

func TestController_AllOffAttemptsEveryLine(t *testing.T) {
	c, sim := newTestController(t)
	w, err := c.AcquireWriter()
	require.NoError(t, err)
	for _, line := range testMap.Outputs() {
		require.NoError(t, w.On(line))
	}

	sim.FailWrites(func(line int, level Level) error {
		if line == 5 {
			return errors.New("line 5 stuck")
		}
		return nil
	})
	err = c.AllOff()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 5 stuck")

	assert.Equal(t, Low, sim.Output(4))
	assert.Equal(t, Low, sim.Output(6))
	assert.Equal(t, Low, sim.Output(21))
}

func TestController_CloseReleasesBackends(t *testing.T) {
	c, sim := newTestController(t)
	w, err := c.AcquireWriter()
	require.NoError(t, err)
	require.NoError(t, w.On(21))

	require.NoError(t, c.Close())
	assert.Equal(t, Low, sim.Output(21))
	assert.True(t, sim.Closed())
}

func TestReader_Sensors(t *testing.T) {
	c, sim := newTestController(t)
	r := c.Reader()

	sim.QueueInputs(27, Low, High)
	sim.SetInput(17, High)

	v, err := r.Presence()
	require.NoError(t, err)
	assert.Equal(t, Low, v)
	v, err = r.Presence()
	require.NoError(t, err)
	assert.Equal(t, High, v)
	v, err = r.Presence()
	require.NoError(t, err)
	assert.Equal(t, Low, v, "steady level after the queue drains")

	v, err = r.Lick()
	require.NoError(t, err)
	assert.Equal(t, High, v)
}

func TestReader_Tags(t *testing.T) {
	c, sim := newTestController(t)
	r := c.Reader()

	_, ok, err := r.ReadTag()
	require.NoError(t, err)
	assert.False(t, ok)

	sim.SendTag("M17  ")
	sim.SendRaw([]byte{0xff, 0xfe, '\n'})
	sim.SendTag("M18")

	tag, ok, err := r.ReadTag()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "M17", tag)

	_, ok, err = r.ReadTag()
	assert.ErrorIs(t, err, ErrDecode)
	assert.False(t, ok)

	tag, ok, err = r.ReadTag()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "M18", tag, "decode failure must not swallow the following line")

	sim.SendTag("M19")
	require.NoError(t, r.FlushTags())
	_, ok, err = r.ReadTag()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, sim.Flushes())
}

func TestLineBuffer(t *testing.T) {
	t.Run("partial lines wait for newline", func(t *testing.T) {
		var b lineBuffer
		b.write([]byte("M1"))
		_, ok, err := b.next()
		require.NoError(t, err)
		assert.False(t, ok)

		b.write([]byte("7\r\nM2"))
		line, ok, err := b.next()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "M17", line)
		assert.False(t, b.complete())
	})

	t.Run("overflow without newline", func(t *testing.T) {
		var b lineBuffer
		b.write(make([]byte, maxLineBytes+1))
		_, ok, err := b.next()
		assert.ErrorIs(t, err, ErrLineTooLong)
		assert.False(t, ok)
		assert.Empty(t, b.buf)
	})
}

func TestSim_JournalTimestamps(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	sim := NewSim(clk)

	require.NoError(t, sim.SetOutput(4, High))
	clk.Advance(50 * time.Millisecond)
	require.NoError(t, sim.SetOutput(4, Low))

	j := sim.Journal()
	require.Len(t, j, 2)
	assert.Equal(t, 50*time.Millisecond, j[1].At.Sub(j[0].At))
}
