package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type recognizerFunc func(ctx context.Context, image []byte, mimeType string) (string, error)

func (f recognizerFunc) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	return f(ctx, image, mimeType)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileSourceCapture(t *testing.T) {
	path := writeFile(t, "shot.png", pngHeader)
	var gotMIME string
	src := NewFileSource(path, WithLogger(logging.Discard()), WithRecognizer(recognizerFunc(func(_ context.Context, _ []byte, m string) (string, error) {
		gotMIME = m
		return "  Total: $42 \n", nil
	})))

	c, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image/png", c.MIMEType)
	assert.Equal(t, "image/png", gotMIME)
	assert.Equal(t, "Total: $42", c.Text)
	assert.Equal(t, pngHeader, c.Image)

	_, err = os.Stat(c.Path)
	require.NoError(t, err, "temp file exists until cleanup")

	require.NoError(t, c.Cleanup())
	_, err = os.Stat(c.Path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, c.Cleanup(), "cleanup is idempotent")
}

func TestFileSourceRecognitionFailureKeepsImage(t *testing.T) {
	path := writeFile(t, "shot.png", pngHeader)
	src := NewFileSource(path, WithLogger(logging.Discard()), WithRecognizer(recognizerFunc(func(context.Context, []byte, string) (string, error) {
		return "", errors.New("quota exceeded")
	})))

	c, err := src.Capture(context.Background())
	require.NoError(t, err)
	defer c.Cleanup()
	assert.Empty(t, c.Text)
	assert.NotEmpty(t, c.Image)
}

func TestFileSourceRejectsNonImage(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("just text"))
	_, err := NewFileSource(path, WithLogger(logging.Discard())).Capture(context.Background())
	assert.ErrorIs(t, err, shardErrors.ErrInvalidInput)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.png")).Capture(context.Background())
	assert.Error(t, err)
}

func TestCaptureMessage(t *testing.T) {
	c := &Capture{Image: pngHeader, MIMEType: "image/png", Text: "Error 404"}
	msg := c.Message("What does this mean?")

	assert.Equal(t, message.RoleUser, msg.Role)
	assert.Contains(t, msg.Content, "What does this mean?")
	assert.Contains(t, msg.Content, "Error 404")
	require.NotNil(t, msg.Image)
	assert.Equal(t, "image/png", msg.Image.MIMEType)

	payload := c.Payload()
	assert.Equal(t, pngHeader, payload.Data)
}
