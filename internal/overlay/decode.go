package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decoder turns one encoded payload into an image.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, data []byte) (image.Image, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (image.Image, error) {
	return f(ctx, data)
}

// ImageDecoder decodes any registered format (JPEG, PNG, WebP, BMP).
type ImageDecoder struct{}

func (ImageDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame (%d bytes): %w", len(data), err)
	}
	return img, nil
}
