package chatclient

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/RichardoC/padi-code/internal/models"
)

// NewImageAttachment checks an image before upload and encodes it. An empty
// mimeType is sniffed from data.
func NewImageAttachment(data []byte, mimeType string) (models.ImageInput, error) {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !models.AllowedImageType(mimeType) {
		return models.ImageInput{}, fmt.Errorf("%w: %q", models.ErrUnsupportedImageType, mimeType)
	}
	if len(data) > models.MaxImageBytes {
		return models.ImageInput{}, models.ErrImageTooLarge
	}
	return models.ImageInput{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}, nil
}

// LoadImage reads an image file and attaches it.
func LoadImage(path string) (models.ImageInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.ImageInput{}, err
	}
	if info.Size() > models.MaxImageBytes {
		return models.ImageInput{}, models.ErrImageTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ImageInput{}, err
	}
	return NewImageAttachment(data, "")
}
