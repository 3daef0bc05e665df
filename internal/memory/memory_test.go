package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/aihelper/internal/ai"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "memory.txt"))
	assert.Equal(t, "", s.Load())
}

func TestSaveLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "memory.txt"))
	require.NoError(t, s.Save("I am a radiologist."))
	assert.Equal(t, "I am a radiologist.", s.Load())
}

func TestLoadUnreadableIsEmpty(t *testing.T) {
	dir := t.TempDir()
	// a directory cannot be read as a file
	require.NoError(t, os.Mkdir(filepath.Join(dir, "memory.txt"), 0o755))
	assert.Equal(t, "", New(filepath.Join(dir, "memory.txt")).Load())
}

func TestComposeRoundTripsThroughSplit(t *testing.T) {
	composed := Compose("  I am a radiologist.\n", "Describe this image")
	assert.Equal(t, "<USER_BACKGROUND>\nI am a radiologist.\n</USER_BACKGROUND>\n---\nDescribe this image", composed)

	system, user, ok := ai.SplitBackground(composed)
	require.True(t, ok)
	assert.Equal(t, "I am a radiologist.", system)
	assert.Equal(t, "Describe this image", user)
}

func TestComposeBlankMemory(t *testing.T) {
	assert.Equal(t, "Describe", Compose("   \n", "Describe"))
}

func TestStoreCompose(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "memory.txt"))
	assert.Equal(t, "hi", s.Compose("hi"))
	require.NoError(t, s.Save("bg"))
	assert.Contains(t, s.Compose("hi"), "<USER_BACKGROUND>\nbg\n")
}
