package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/nextpyp/procbridge/lib/wire"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	cases := [][]byte{
		nil,
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 70000),
	}
	for _, payload := range cases {
		var buf bytes.Buffer
		require.NoError(t, wire.WriteFrame(&buf, payload))
		got, err := wire.ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, len(payload), len(got))
	}
}

func TestReadFrameCleanEOFOnFreshStream(t *testing.T) {
	t.Parallel()
	_, err := wire.ReadFrame(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameShortMidPayloadIsError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, []byte("hello world")))
	truncated := buf.Bytes()[:6]
	_, err := wire.ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestReadFrameLimitRejectsOversizedPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, []byte("hello world")))
	_, err := wire.ReadFrameLimit(&buf, 4)
	require.ErrorIs(t, err, wire.ErrFrameTooLarge)
}

func TestPrimitivesRoundTrip(t *testing.T) {
	t.Parallel()

	e := wire.NewEncoder()
	e.Bool(true)
	e.Bool(false)
	e.U32(42)
	e.U64(1 << 40)
	e.I32(-7)
	e.RawBytes([]byte{1, 2, 3})
	e.UTF8("hello, \xffworld")
	e.VecLen(2)
	e.U32(10)
	e.U32(20)
	e.OptionSome()
	e.UTF8("present")

	d := wire.NewDecoder(e.Bytes())

	b1, err := d.Bool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := d.Bool()
	require.NoError(t, err)
	require.False(t, b2)

	u32, err := d.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), u32)

	u64, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), u64)

	i32, err := d.I32()
	require.NoError(t, err)
	require.Equal(t, int32(-7), i32)

	rb, err := d.RawBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, rb)

	s, err := d.UTF8()
	require.NoError(t, err)
	require.Contains(t, s, "hello, ")

	n, err := d.VecLen()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for range n {
		_, err := d.U32()
		require.NoError(t, err)
	}

	some, err := d.OptionTag()
	require.NoError(t, err)
	require.True(t, some)
	payload, err := d.UTF8()
	require.NoError(t, err)
	require.Equal(t, "present", payload)

	require.Equal(t, 0, d.Remaining())
}

func TestInvalidBoolByteRejected(t *testing.T) {
	t.Parallel()
	d := wire.NewDecoder([]byte{5})
	_, err := d.Bool()
	require.ErrorIs(t, err, wire.ErrInvalidBool)
}

func TestInvalidOptionTagRejected(t *testing.T) {
	t.Parallel()
	e := wire.NewEncoder()
	e.U32(3)
	d := wire.NewDecoder(e.Bytes())
	_, err := d.OptionTag()
	require.ErrorIs(t, err, wire.ErrInvalidOption)
}
