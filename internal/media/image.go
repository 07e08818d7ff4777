// Package media stores uploaded images and hands back the URL the editor embeds.
package media

import (
	"bytes"
	"fmt"
	"image"
	"net/http"

	"github.com/disintegration/imaging"

	"blogdesk/api/internal/errs"
)

const (
	// MaxUploadBytes caps the size of an uploaded image.
	MaxUploadBytes = 10 << 20
	// MaxStoredWidth is the widest image kept; wider uploads are scaled down.
	MaxStoredWidth = 1600
	jpegQuality    = 85
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Prepared is an image ready to be stored.
type Prepared struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Prepare checks an upload and scales JPEG and PNG images down to MaxStoredWidth. GIF and
// WebP images are stored as uploaded.
func Prepare(data []byte, contentType string) (Prepared, error) {
	const op = "media.prepare"
	if len(data) == 0 {
		return Prepared{}, errs.Validationf(op, "image is empty")
	}
	if len(data) > MaxUploadBytes {
		return Prepared{}, errs.Validationf(op, "image is %d bytes, limit is %d", len(data), MaxUploadBytes)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	ext, ok := extensions[contentType]
	if !ok {
		return Prepared{}, errs.Validationf(op, "unsupported image type %q", contentType)
	}
	out := Prepared{Data: data, ContentType: contentType, Ext: ext}
	if contentType != "image/jpeg" && contentType != "image/png" {
		return out, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Prepared{}, errs.E(errs.Validation, op, "image cannot be decoded", err)
	}
	bounds := img.Bounds()
	out.Width, out.Height = bounds.Dx(), bounds.Dy()
	if out.Width <= MaxStoredWidth {
		return out, nil
	}

	resized := imaging.Resize(img, MaxStoredWidth, 0, imaging.Lanczos)
	encoded, err := encode(resized, contentType)
	if err != nil {
		return Prepared{}, fmt.Errorf("%s: %w", op, err)
	}
	out.Data = encoded
	out.Width, out.Height = resized.Bounds().Dx(), resized.Bounds().Dy()
	return out, nil
}

func encode(img image.Image, contentType string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if contentType == "image/png" {
		err = imaging.Encode(&buf, img, imaging.PNG)
	} else {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
