// Package media converts between URLs, raw bytes and base64 data URLs.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
)

const (
	// DefaultMIMEType is used when a response does not declare a Content-Type.
	DefaultMIMEType = "application/octet-stream"

	dataPrefix = "data:"
	base64Sep  = ";base64,"
)

var (
	ErrInvalidDataURL   = errors.New("invalid data URL")
	ErrInvalidMediaType = errors.New("invalid media type")
)

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// DataURL is a decoded base64 data URL.
type DataURL struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the payload encoded as standard base64.
func (d *DataURL) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Data)
}

// String renders the data URL back to its textual form.
func (d *DataURL) String() string {
	return Encode(d.MIMEType, d.Data)
}

// Extension is the MIME subtype, used as a file extension ("image/png" -> "png").
func (d *DataURL) Extension() string {
	_, sub, ok := strings.Cut(MediaType(d.MIMEType), "/")
	if !ok || sub == "" {
		return "bin"
	}
	if i := strings.IndexAny(sub, "+."); i > 0 {
		sub = sub[:i]
	}
	return sub
}

// Encode builds "data:<mime>;base64,<payload>".
func Encode(mimeType string, data []byte) string {
	return dataPrefix + mimeType + base64Sep + base64.StdEncoding.EncodeToString(data)
}

// IsDataURL reports whether s looks like a data URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, dataPrefix)
}

// Decode splits a data URL on its first ";base64," delimiter.
func Decode(s string) (*DataURL, error) {
	if !IsDataURL(s) {
		return nil, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	head, payload, ok := strings.Cut(strings.TrimPrefix(s, dataPrefix), base64Sep)
	if !ok {
		return nil, fmt.Errorf("%w: missing base64 delimiter", ErrInvalidDataURL)
	}
	if head == "" {
		return nil, fmt.Errorf("%w: missing media type", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return &DataURL{MIMEType: head, Data: data}, nil
}

// MediaType strips parameters from a Content-Type value.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
		return strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

// IsSupportedImage reports whether the MIME type is on the image allow-list.
func IsSupportedImage(mimeType string) bool {
	return imageTypes[MediaType(mimeType)]
}

// ValidateImageType returns ErrInvalidMediaType for anything off the allow-list.
func ValidateImageType(mimeType string) error {
	if !IsSupportedImage(mimeType) {
		return fmt.Errorf("%w: %q", ErrInvalidMediaType, mimeType)
	}
	return nil
}
