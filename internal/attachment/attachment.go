// Package attachment decodes image payloads sent inline in chat frames and
// writes them to object storage.
package attachment

import (
	"clinicmsg/backend/internal/config"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidDataURL     = errors.New("attachment: invalid data url")
	ErrAttachmentTooLarge = errors.New("attachment: payload too large")
)

// Attachment is a decoded image ready to be stored.
type Attachment struct {
	MIME string
	Data []byte
}

// Store persists attachment bytes under a key and returns the public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/heic": "heic",
}

// Decode parses "data:<mime>;base64,<payload>". The mime type must be image/*
// and the decoded payload must stay below config.MaxAttachmentBytes.
func Decode(dataURL string) (*Attachment, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, ErrInvalidDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ErrInvalidDataURL
	}
	mime, enc, ok := strings.Cut(header, ";")
	if !ok || enc != "base64" {
		return nil, ErrInvalidDataURL
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if !strings.HasPrefix(mime, "image/") || len(mime) == len("image/") {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidDataURL, mime)
	}

	// reject before allocating when even the smallest decoding is over the ceiling
	if base64.StdEncoding.DecodedLen(len(payload))-2 >= config.MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) >= config.MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}
	if len(data) == 0 {
		return nil, ErrInvalidDataURL
	}

	return &Attachment{MIME: mime, Data: data}, nil
}

// Ext returns the file extension for the attachment's mime type.
func (a *Attachment) Ext() string {
	if ext, ok := extensions[a.MIME]; ok {
		return ext
	}
	sub := strings.TrimPrefix(a.MIME, "image/")
	if i := strings.IndexAny(sub, "+;. "); i >= 0 {
		sub = sub[:i]
	}
	if sub == "" {
		return "bin"
	}
	return sub
}

// NewKey builds a fresh object key under the chat image prefix.
func (a *Attachment) NewKey() string {
	return fmt.Sprintf("%s/%s.%s", config.AttachmentPrefix, uuid.New().String(), a.Ext())
}
