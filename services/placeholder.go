package services

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Placeholder messages keyed by capture status.
const (
	msgWaiting = "Waiting for first frame..."
	msgError   = "Error: Could not capture frame"
	msgNoImage = "No image available"
)

// PlaceholderMessage picks the human-readable message for a capture status.
func PlaceholderMessage(status string) string {
	switch status {
	case StatusInitializing:
		return msgWaiting
	case StatusError:
		return msgError
	default:
		return msgNoImage
	}
}

// RenderPlaceholder draws a black frame with the status message and the
// current timestamp, encoded as JPEG. It always returns a valid non-empty
// image; dimensions <= 0 fall back to 640x480.
func RenderPlaceholder(width, height int, message string) []byte {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	drawText(img, 50, height/2, message)
	drawText(img, 50, height/2+20, time.Now().Format("2006-01-02 15:04:05"))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		// Encoding an in-memory RGBA cannot realistically fail; keep the
		// guarantee anyway with a minimal gray JPEG.
		buf.Reset()
		jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 64, 48)), nil)
	}
	return buf.Bytes()
}

func drawText(dst draw.Image, x, y int, text string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
