package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/aihelper/internal/ai"
)

// memBucket implements both uploader and objectGetter over a map.
type memBucket struct {
	objects map[string][]byte
	meta    map[string]map[string]string
	err     error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*in.Key] = data
	m.meta[*in.Key] = in.Metadata
	return &manager.UploadOutput{Key: in.Key}, nil
}

func (m *memBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func sampleTurns() []ai.Turn {
	return []ai.Turn{
		{Role: ai.RoleUser, Parts: []ai.Part{
			ai.TextPart("Describe this"),
			ai.ImagePart(ai.Image{Data: []byte{1, 2, 3}, MIME: "image/jpeg"}),
		}},
		{Role: ai.RoleModel, Parts: []ai.Part{ai.TextPart("A blue circle.")}},
	}
}

func fixedArchiver(b *memBucket, password string) *Archiver {
	a := newArchiver(b, b, "transcripts-bucket", password)
	a.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }
	return a
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := Encrypt([]byte("secret transcript"), "pw")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.Len(t, enc, minEncryptedSz+len("secret transcript"))

	plain, err := Decrypt(enc, "pw")
	require.NoError(t, err)
	assert.Equal(t, "secret transcript", string(plain))

	_, err = Decrypt(enc, "wrong")
	assert.Error(t, err)

	_, err = Decrypt([]byte("plain text"), "pw")
	assert.ErrorIs(t, err, ErrNotEncrypted)

	_, err = Decrypt([]byte(gcmMagic+"short"), "pw")
	assert.ErrorContains(t, err, "too short")
}

func TestKey(t *testing.T) {
	at := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "transcripts/2026/01/abc.md", Key("abc", at))
}

func TestArchivePlain(t *testing.T) {
	b := newMemBucket()
	a := fixedArchiver(b, "")
	require.NoError(t, a.Archive(context.Background(), "s1", sampleTurns()))

	data, ok := b.objects["transcripts/2026/03/s1.md"]
	require.True(t, ok)
	md := string(data)
	assert.Contains(t, md, "# Session s1")
	assert.Contains(t, md, "## User\n\nDescribe this\n")
	assert.Contains(t, md, "_[image 1: image/jpeg, 3 bytes]_")
	assert.Contains(t, md, "## Assistant\n\nA blue circle.\n")
	assert.Equal(t, "2", b.meta["transcripts/2026/03/s1.md"]["turns"])

	got, err := a.Fetch(context.Background(), "transcripts/2026/03/s1.md")
	require.NoError(t, err)
	assert.Equal(t, md, got)
}

func TestArchiveEncrypted(t *testing.T) {
	b := newMemBucket()
	a := fixedArchiver(b, "hunter2")
	require.NoError(t, a.Archive(context.Background(), "s2", sampleTurns()))

	key := "transcripts/2026/03/s2.md"
	assert.True(t, IsEncrypted(b.objects[key]))
	assert.Equal(t, gcmMagic, b.meta[key]["encryption-format"])

	got, err := a.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Contains(t, got, "A blue circle.")

	noPw := fixedArchiver(b, "")
	_, err = noPw.Fetch(context.Background(), key)
	assert.ErrorContains(t, err, "no password")
}

func TestArchiveSkipsEmptyAndReportsUploadErrors(t *testing.T) {
	b := newMemBucket()
	a := fixedArchiver(b, "")
	require.NoError(t, a.Archive(context.Background(), "empty", nil))
	assert.Empty(t, b.objects)

	b.err = errors.New("access denied")
	err := a.Archive(context.Background(), "s3", sampleTurns())
	assert.ErrorContains(t, err, "access denied")
}

func TestNewArchiverRequiresBucket(t *testing.T) {
	_, err := NewArchiver(context.Background(), Options{})
	assert.Error(t, err)
}
