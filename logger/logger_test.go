package logger

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_ConsoleOnly(t *testing.T) {
	writer, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, writer)
}

func TestSetup_WritesDatedFile(t *testing.T) {
	dir := t.TempDir()

	writer, err := Setup(Config{Dir: dir})
	require.NoError(t, err)
	require.NotNil(t, writer)
	defer writer.Close()

	log.Printf("hello from the test")

	path := filepath.Join(dir, "secore-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
}

func TestWriter_CloseRestoresStderr(t *testing.T) {
	dir := t.TempDir()

	writer, err := Setup(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	// Writes after close must not panic; output goes back to stderr.
	log.Printf("after close")
}
