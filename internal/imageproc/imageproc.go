// Пакет imageproc - производные артефакты изображений: перцептивный хеш,
// превью 320x320 и дата съёмки из EXIF.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Параметры превью.
const (
	ThumbSize    = 320
	ThumbQuality = 75
)

// ErrNoExifDate - в файле нет даты съёмки.
var ErrNoExifDate = errors.New("дата съёмки в EXIF отсутствует")

// Decode декодирует изображение с учётом EXIF-ориентации.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("декодирование изображения: %w", err)
	}
	return img, nil
}

// PHash возвращает 64-битный перцептивный хеш в виде 16 hex-символов.
func PHash(img image.Image) (string, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("вычисление phash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// Distance - расстояние Хэмминга между двумя hex-хешами.
func Distance(a, b string) (int, error) {
	ha, err := goimagehash.ImageHashFromString("p:" + a)
	if err != nil {
		return 0, fmt.Errorf("разбор phash %q: %w", a, err)
	}
	hb, err := goimagehash.ImageHashFromString("p:" + b)
	if err != nil {
		return 0, fmt.Errorf("разбор phash %q: %w", b, err)
	}
	return ha.Distance(hb)
}

// Thumbnail строит JPEG-превью ThumbSize x ThumbSize (обрезка по центру).
func Thumbnail(img image.Image) ([]byte, error) {
	thumb := imaging.Fill(img, ThumbSize, ThumbSize, imaging.Center, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbQuality)); err != nil {
		return nil, fmt.Errorf("кодирование превью: %w", err)
	}
	return buf.Bytes(), nil
}

// ExifDate читает DateTimeOriginal (или DateTime) из EXIF.
func ExifDate(data []byte) (time.Time, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return time.Time{}, ErrNoExifDate
	}
	t, err := x.DateTime()
	if err != nil || t.IsZero() {
		return time.Time{}, ErrNoExifDate
	}
	return t, nil
}
