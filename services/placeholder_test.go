package services

import (
	"bytes"
	"image/jpeg"
	"testing"
)

func TestRenderPlaceholder_ProducesValidJPEG(t *testing.T) {
	data := RenderPlaceholder(320, 240, "test message")
	if len(data) == 0 {
		t.Fatal("RenderPlaceholder() returned empty data")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 320 || bounds.Dy() != 240 {
		t.Errorf("dimensions = %dx%d, want 320x240", bounds.Dx(), bounds.Dy())
	}
}

func TestRenderPlaceholder_DefaultDimensions(t *testing.T) {
	data := RenderPlaceholder(0, -1, "msg")

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a decodable JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 640 || bounds.Dy() != 480 {
		t.Errorf("dimensions = %dx%d, want 640x480", bounds.Dx(), bounds.Dy())
	}
}

func TestPlaceholderMessage(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{StatusInitializing, "Waiting for first frame..."},
		{StatusError, "Error: Could not capture frame"},
		{StatusOK, "No image available"},
		{"", "No image available"},
	}
	for _, tt := range tests {
		if got := PlaceholderMessage(tt.status); got != tt.want {
			t.Errorf("PlaceholderMessage(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
