package printer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdout, stderr
	SetOutput(out, errOut)
	t.Cleanup(func() { SetOutput(prevOut, prevErr) })
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title only", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("invalid configuration", "rig name is required", nil)
		require.Error(t, err)
		assert.Equal(t, "invalid configuration", err.Error())
		assert.Contains(t, errOut.String(), "rig name is required")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, errOut := capture(t)
		Error("no tag reader", "No serial device found.", []string{"Plug in the reader"})
		assert.Contains(t, errOut.String(), "\nPlug in the reader\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		Error("no tag reader", "", []string{"Plug in the reader", "Set serial_port"})
		assert.Contains(t, errOut.String(), "Either:")
		assert.Contains(t, errOut.String(), "  1. Plug in the reader")
		assert.Contains(t, errOut.String(), "  2. Set serial_port")
	})
}

func TestErrorWithContext_SortsKeys(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("trial log unavailable", "open failed", map[string]string{
		"path":   "trials.txt",
		"driver": "csv",
	}, nil)
	assert.Equal(t, "trial log unavailable", err.Error())

	s := errOut.String()
	assert.Less(t, bytes.Index([]byte(s), []byte("driver: csv")), bytes.Index([]byte(s), []byte("path: trials.txt")))
}

func TestSuccessAndWarning(t *testing.T) {
	out, errOut := capture(t)
	Success("loaded %d levels\n", 3)
	Success("✓ already marked\n")
	Warning("no noise file\n")

	assert.Contains(t, out.String(), "✓ loaded 3 levels")
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("✓")))
	assert.Contains(t, errOut.String(), "no noise file")
}
