package qrcode

import (
	"bytes"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// DefaultImageSize is the edge length in pixels of rendered codes.
const DefaultImageSize = 512

// RenderPNG encodes content as a QR symbol scaled to size x size pixels.
func RenderPNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	sym, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(sym, size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
