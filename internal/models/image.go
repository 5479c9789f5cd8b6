package models

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// MaxImageBytes is the largest image a client uploads.
const MaxImageBytes = 5 * 1024 * 1024

var (
	ErrUnsupportedImageType = errors.New("unsupported image type")
	ErrInvalidImageData     = errors.New("image data is not valid base64")
	ErrImageTooLarge        = errors.New("image exceeds 5MB")
)

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

func AllowedImageType(mimeType string) bool {
	_, ok := allowedImageTypes[mimeType]
	return ok
}

// ImageInput is an attachment as sent by a client.
type ImageInput struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (in ImageInput) Validate() error {
	if !AllowedImageType(in.MimeType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedImageType, in.MimeType)
	}
	if _, err := base64.StdEncoding.DecodeString(in.Data); err != nil {
		return ErrInvalidImageData
	}
	return nil
}
