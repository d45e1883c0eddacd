// Package capture defines the screen-capture collaborator: something that
// produces an image, the text recognized in it and a temporary file that
// must be released once the turn using it is submitted.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
)

// Capture is one captured image.
type Capture struct {
	Image    []byte
	MIMEType string
	Text     string
	// Path is the temporary file holding Image until Cleanup.
	Path string

	once    sync.Once
	cleanup func() error
	err     error
}

// Cleanup removes the temporary file. It is safe to call more than once.
func (c *Capture) Cleanup() error {
	c.once.Do(func() {
		if c.cleanup != nil {
			c.err = c.cleanup()
		}
	})
	return c.err
}

// Payload returns the image in the form a turn carries it.
func (c *Capture) Payload() *message.Image {
	return &message.Image{Data: c.Image, MIMEType: c.MIMEType}
}

// Message builds a user turn from prompt and the capture. Recognized text is
// appended so text-only models can still use it.
func (c *Capture) Message(prompt string) *message.Message {
	content := strings.TrimSpace(prompt)
	if c.Text != "" {
		if content != "" {
			content += "\n\n"
		}
		content += "Text recognized in the attached image:\n" + c.Text
	}
	return message.NewImageMessage(content, c.Image, c.MIMEType)
}

// Source produces captures.
type Source interface {
	Capture(ctx context.Context) (*Capture, error)
}

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType string) (string, error)
}

// FileSource captures an image file from disk.
type FileSource struct {
	path       string
	recognizer Recognizer
	logger     *slog.Logger
}

// Option configures a FileSource.
type Option func(*FileSource)

// WithRecognizer enables text recognition.
func WithRecognizer(r Recognizer) Option {
	return func(s *FileSource) {
		s.recognizer = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *FileSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileSource creates a source reading path.
func NewFileSource(path string, opts ...Option) *FileSource {
	s := &FileSource{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("capture")
	}
	return s
}

// Capture reads the image, copies it to a temporary file and recognizes its
// text. A recognition failure leaves Text empty.
func (s *FileSource) Capture(ctx context.Context) (*Capture, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", s.path, err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s is %s, not an image", errors.ErrInvalidInput, s.path, mimeType)
	}

	ext := ""
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = exts[0]
	}
	tmp, err := os.CreateTemp("", "shard-capture-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("capture: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("capture: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("capture: close temp file: %w", err)
	}

	c := &Capture{
		Image:    data,
		MIMEType: mimeType,
		Path:     tmp.Name(),
		cleanup:  func() error { return os.Remove(tmp.Name()) },
	}
	if s.recognizer != nil {
		text, err := s.recognizer.Recognize(ctx, data, mimeType)
		if err != nil {
			s.logger.Warn("text recognition failed", "path", s.path, "error", err)
		} else {
			c.Text = strings.TrimSpace(text)
		}
	}
	s.logger.Debug("image captured", "path", s.path, "mime", mimeType, "bytes", len(data), "text_len", len(c.Text))
	return c, nil
}
