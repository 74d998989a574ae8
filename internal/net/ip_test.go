package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareLink(t *testing.T) {
	assert.Equal(t, "ws://192.168.1.20:8888/ws", ShareLink("192.168.1.20", 8888))
}

func TestJoinURL(t *testing.T) {
	cases := map[string]string{
		"192.168.1.20:8888":          "ws://192.168.1.20:8888/ws?item=hymn-12",
		"ws://192.168.1.20:8888/ws":  "ws://192.168.1.20:8888/ws?item=hymn-12",
		"http://localhost:8888":      "ws://localhost:8888/ws?item=hymn-12",
		"https://board.example.org/": "wss://board.example.org/ws?item=hymn-12",
		"localhost:8888":             "ws://localhost:8888/ws?item=hymn-12",
	}
	for in, want := range cases {
		got, err := JoinURL(in, "hymn-12")
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := JoinURL("ftp://host:21", "x")
	assert.Error(t, err)
}

func TestHTTPBase(t *testing.T) {
	got, err := HTTPBase("ws://192.168.1.20:8888/ws?item=a")
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.20:8888", got)

	got, err = HTTPBase("192.168.1.20:8888")
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.20:8888", got)
}
