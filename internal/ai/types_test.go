package ai

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/aihelper/internal/imagerender"
)

func TestPreparedTaskReusesEncodedImages(t *testing.T) {
	path := writePNG(t, true)
	opts := imagerender.Options{MaxDimension: 64}

	task, parts, err := Prepare("Describe this image", NewImageTask("Describe this image", path), opts)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.True(t, parts[1].IsImage())

	// The file is gone; only the cached parts can satisfy the provider.
	require.NoError(t, os.Remove(path))
	again, err := UserParts("Describe this image", task, opts)
	require.NoError(t, err)
	assert.Equal(t, parts[1].Image.Data, again[1].Image.Data)

	_, err = UserParts("Another prompt", task, opts)
	assert.Equal(t, CallPayload, KindOf(err))
	_, err = UserParts("Describe this image", task, imagerender.Options{MaxDimension: 32})
	assert.Equal(t, CallPayload, KindOf(err))
}

func TestPrepareSurfacesPayloadErrors(t *testing.T) {
	task := NewImageTask("p", "/nonexistent/shot.png")
	out, parts, err := Prepare("p", task, imagerender.Options{})
	assert.Equal(t, CallPayload, KindOf(err))
	assert.Nil(t, parts)
	assert.Equal(t, task.Payload, out.Payload)
}
