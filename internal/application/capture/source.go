package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/bryanwahyu/labelscan/internal/domain/scans"
)

// CameraMimeType is the fixed encoding assigned to camera frames.
const CameraMimeType = "image/jpeg"

// DefaultMaxImageBytes caps a single upload or frame.
const DefaultMaxImageBytes int64 = 10 << 20

var (
	ErrTooLarge  = errors.New("image exceeds size limit")
	ErrNotImage  = errors.New("content is not an image")
	ErrBadFrame  = errors.New("frame is not valid base64")
	ErrNoPreview = errors.New("preview store is not configured")
)

// Upload is a file handed over by the upload control.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Source normalizes uploads and camera frames into CapturedImage values.
type Source struct {
	previews scans.PreviewStore
	maxBytes int64
	newKey   func() string
}

func NewSource(previews scans.PreviewStore, maxBytes int64) *Source {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Source{
		previews: previews,
		maxBytes: maxBytes,
		newKey:   func() string { return uuid.New().String() },
	}
}

// FromUpload reads an uploaded file. The content must sniff as an image. The
// declared mime type is kept; when it is missing or generic the sniffed one is
// used.
func (s *Source) FromUpload(ctx context.Context, u Upload) (scans.CapturedImage, error) {
	if u.Body == nil {
		return scans.CapturedImage{}, invalid(scans.ErrEmptyImage)
	}
	data, err := s.read(u.Body)
	if err != nil {
		return scans.CapturedImage{}, err
	}

	detected, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	mt := declaredType(u.ContentType)
	if mt == "" {
		mt = detected
	}
	for _, t := range []string{mt, detected} {
		if !strings.HasPrefix(t, "image/") {
			return scans.CapturedImage{}, invalid(fmt.Errorf("%w: %s", ErrNotImage, t))
		}
	}
	return s.build(ctx, data, mt)
}

// FromCapture wraps a camera frame buffer. Frames always get CameraMimeType.
func (s *Source) FromCapture(ctx context.Context, frame []byte) (scans.CapturedImage, error) {
	if len(frame) == 0 {
		return scans.CapturedImage{}, invalid(scans.ErrEmptyImage)
	}
	if int64(len(frame)) > s.maxBytes {
		return scans.CapturedImage{}, invalid(ErrTooLarge)
	}
	return s.build(ctx, frame, CameraMimeType)
}

func (s *Source) read(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, invalid(fmt.Errorf("read image: %w", err))
	}
	if len(data) == 0 {
		return nil, invalid(scans.ErrEmptyImage)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, invalid(ErrTooLarge)
	}
	return data, nil
}

func (s *Source) build(ctx context.Context, data []byte, mimeType string) (scans.CapturedImage, error) {
	if s.previews == nil {
		return scans.CapturedImage{}, ErrNoPreview
	}
	ref, err := s.previews.Put(ctx, s.newKey(), data, mimeType)
	if err != nil {
		return scans.CapturedImage{}, fmt.Errorf("store preview: %w", err)
	}
	return scans.NewCapturedImage(data, mimeType, ref)
}

// DecodeFrame accepts what camera widgets hand over: a data URL
// ("data:image/jpeg;base64,...") or a bare base64 string.
func DecodeFrame(frame string) ([]byte, error) {
	frame = strings.TrimSpace(frame)
	if frame == "" {
		return nil, invalid(scans.ErrEmptyImage)
	}
	if strings.HasPrefix(frame, "data:") {
		_, payload, ok := strings.Cut(frame, ",")
		if !ok {
			return nil, invalid(ErrBadFrame)
		}
		frame = payload
	}
	data, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		// some widgets strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(frame, "="))
		if err != nil {
			return nil, invalid(ErrBadFrame)
		}
	}
	if len(data) == 0 {
		return nil, invalid(scans.ErrEmptyImage)
	}
	return data, nil
}

func declaredType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func invalid(err error) error {
	return &scans.Error{Kind: scans.KindInvalidImage, Stage: scans.StageCapture, Err: err}
}

// Discard releases the preview of an image that never entered a run.
func (s *Source) Discard(ctx context.Context, img scans.CapturedImage) error {
	key := img.Preview().Key
	if key == "" || s.previews == nil {
		return nil
	}
	return s.previews.Delete(ctx, key)
}
