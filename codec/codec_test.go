package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/touchhouse/touchhouse/codec"
)

func TestSnappyRoundTrip(t *testing.T) {
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	src := bytes.Repeat([]byte("touchhouse"), 1000)
	enc := c.Encode(src)
	dec, err := c.Decode(enc, len(src))
	require.NoError(t, err)
	require.Equal(t, src, dec)
}

func TestDecodeErrorOnTruncation(t *testing.T) {
	c, err := codec.ByID(codec.Snappy)
	require.NoError(t, err)

	src := bytes.Repeat([]byte("x"), 500)
	enc := c.Encode(src)
	_, err = c.Decode(enc[:len(enc)/2], len(src))
	require.Error(t, err)
}

func TestUnknownCodecID(t *testing.T) {
	_, err := codec.ByID(codec.ID(200))
	require.Error(t, err)
}
