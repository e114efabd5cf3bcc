package co2probe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The same raw value 473 as an ASCII frame with multiplier=10 and as a
// binary frame: only the ASCII reading is scaled.
func TestParseFrame_ASCIIScaledByMultiplierBinaryNot(t *testing.T) {
	ascii := []byte(" Z 00473\r\n")
	v, err := parseFrame(ascii, 10)
	require.NoError(t, err)
	assert.Equal(t, 4730, v)

	binary := []byte{0xFE, 0, 0, 0x01, 0xD9, 0, 0}
	v, err = parseFrame(binary, 10)
	require.NoError(t, err)
	assert.Equal(t, 473, v)
}

func TestParseFrame_ASCIIRoundTrip(t *testing.T) {
	for _, m := range []int{1, 10, 100} {
		for _, ppm := range []int{0, 1, 42, 473, 12345, 99999} {
			frame := []byte(fmt.Sprintf("Z %05d\r\n", ppm))
			got, err := parseFrame(frame, m)
			require.NoError(t, err)
			assert.Equal(t, ppm*m, got)
		}
	}
}

func TestParseFrame_Binary_IndependentOfMultiplier(t *testing.T) {
	frame := []byte{0xFE, 0x00, 0x00, 0x01, 0xD9, 0x00, 0x00}
	for _, m := range []int{1, 10, 100} {
		got, err := parseFrame(frame, m)
		require.NoError(t, err)
		assert.Equal(t, 473, got)
	}
}

func TestParseMultiplier_ZeroBecomesOne(t *testing.T) {
	v, err := parseMultiplier([]byte("M 0\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = parseMultiplier([]byte("M 10\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}
