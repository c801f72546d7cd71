package qlogging

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLogWriterUnsetReturnsNil(t *testing.T) {
	t.Setenv("SSLKEYLOGFILE", "")
	w, closeFn, err := KeyLogWriter()
	require.NoError(t, err)
	assert.Nil(t, w)
	require.NoError(t, closeFn())
}

func TestKeyLogWriterOpensFile(t *testing.T) {
	path := t.TempDir() + "/keys.log"
	t.Setenv("SSLKEYLOGFILE", path)

	w, closeFn, err := KeyLogWriter()
	require.NoError(t, err)
	require.NotNil(t, w)
	_, err = w.Write([]byte("CLIENT_RANDOM deadbeef\n"))
	require.NoError(t, err)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "CLIENT_RANDOM")
}

func TestNewQLogFileEmptyDirReturnsNil(t *testing.T) {
	f, err := NewQLogFile("", "scid", "client", time.Now())
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestNewQLogFileWritesCompressedStream(t *testing.T) {
	dir := t.TempDir()
	f, err := NewQLogFile(dir, "abc123", "client", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = f.Write([]byte(`{"qlog_version":"0.3"}`))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "abc123-client.sqlog.zst")
}
