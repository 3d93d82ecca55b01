package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// gradient - тестовое изображение с горизонтальным градиентом.
func gradient(w, h int, invert bool) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		v := uint8(x * 255 / w)
		if invert {
			v = 255 - v
		}
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	_ = png.Encode(buf, img)
	return buf.Bytes()
}

func TestPHash(t *testing.T) {
	img, err := Decode(gradient(640, 480, false))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	h1, err := PHash(img)
	if err != nil {
		t.Fatalf("PHash: %v", err)
	}
	if len(h1) != 16 {
		t.Errorf("длина phash = %d, ожидается 16", len(h1))
	}

	// Уменьшенная копия должна давать близкий хеш.
	small, _ := Decode(gradient(320, 240, false))
	h2, _ := PHash(small)
	d, err := Distance(h1, h2)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if d > 6 {
		t.Errorf("расстояние для масштабированной копии = %d, ожидается небольшое", d)
	}

	inv, _ := Decode(gradient(640, 480, true))
	h3, _ := PHash(inv)
	if d, _ := Distance(h1, h3); d == 0 {
		t.Error("инвертированное изображение должно давать другой хеш")
	}
}

func TestThumbnail(t *testing.T) {
	img, _ := Decode(gradient(1000, 600, false))
	data, err := Thumbnail(img)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if format != "jpeg" || cfg.Width != ThumbSize || cfg.Height != ThumbSize {
		t.Errorf("превью %s %dx%d, ожидается jpeg %dx%d", format, cfg.Width, cfg.Height, ThumbSize, ThumbSize)
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Error("ожидалась ошибка декодирования")
	}
}

func TestExifDate_Missing(t *testing.T) {
	if _, err := ExifDate(gradient(10, 10, false)); !errors.Is(err, ErrNoExifDate) {
		t.Errorf("PNG без EXIF: ожидается ErrNoExifDate, получено %v", err)
	}
}
