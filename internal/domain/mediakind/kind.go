// Пакет mediakind - закрытый набор видов медиа и логика, зависящая от вида:
// расширения, ключи object store, Content-Type, применимость фоновых задач.
package mediakind

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// Kind - вид медиа. Набор закрыт, все switch по Kind исчерпывающие.
type Kind int

const (
	Photo Kind = iota + 1
	Video
	Audio
	Voice
	Document
	Text
)

// All - все виды в фиксированном порядке.
var All = []Kind{Photo, Video, Audio, Voice, Document, Text}

// FromType возвращает вид по строковому типу из БД/API.
func FromType(t model.MediaType) (Kind, error) {
	switch t {
	case model.MediaPhoto:
		return Photo, nil
	case model.MediaVideo:
		return Video, nil
	case model.MediaAudio:
		return Audio, nil
	case model.MediaVoice:
		return Voice, nil
	case model.MediaDocument:
		return Document, nil
	case model.MediaText:
		return Text, nil
	}
	return 0, fmt.Errorf("неизвестный тип медиа %q", t)
}

// Type возвращает строковый тип для хранения.
func (k Kind) Type() model.MediaType {
	switch k {
	case Photo:
		return model.MediaPhoto
	case Video:
		return model.MediaVideo
	case Audio:
		return model.MediaAudio
	case Voice:
		return model.MediaVoice
	case Document:
		return model.MediaDocument
	case Text:
		return model.MediaText
	}
	panic(fmt.Sprintf("mediakind: неизвестный вид %d", int(k)))
}

func (k Kind) String() string {
	return string(k.Type())
}

// HasFile сообщает, есть ли у медиа байты для скачивания.
// Текст создаётся сразу в статусе downloaded.
func (k Kind) HasFile() bool {
	switch k {
	case Photo, Video, Audio, Voice, Document:
		return true
	case Text:
		return false
	}
	return false
}

// Hashable сообщает, вычисляется ли perceptual hash и миниатюра.
// Для видео используется превью, которое отдаёт Telegram.
func (k Kind) Hashable() bool {
	switch k {
	case Photo, Video:
		return true
	case Audio, Voice, Document, Text:
		return false
	}
	return false
}

// Transcribable сообщает, отправляется ли медиа в STT.
func (k Kind) Transcribable() bool {
	switch k {
	case Audio, Voice:
		return true
	case Photo, Video, Document, Text:
		return false
	}
	return false
}

// HasExif сообщает, имеет ли смысл искать EXIF в байтах.
func (k Kind) HasExif() bool {
	switch k {
	case Photo, Document:
		return true
	case Video, Audio, Voice, Text:
		return false
	}
	return false
}

// DefaultExt - расширение, если его нельзя вывести из имени файла или MIME.
func (k Kind) DefaultExt() string {
	switch k {
	case Photo:
		return "jpg"
	case Video:
		return "mp4"
	case Audio:
		return "mp3"
	case Voice:
		return "ogg"
	case Document:
		return "bin"
	case Text:
		return "txt"
	}
	return "bin"
}

// Ext выбирает расширение объекта: из пути файла Telegram, из имени
// документа, из MIME-типа, иначе расширение вида по умолчанию.
func (k Kind) Ext(providerPath, fileName, mimeType string) string {
	for _, name := range []string{fileName, providerPath} {
		if ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."); isKnownExt(ext) {
			return ext
		}
	}
	if ext, ok := extByMime[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return k.DefaultExt()
}

// ObjectKey строит ключ объекта: {media_type}/{yyyy/mm/dd}/{id}.{ext}.
// Ключ не содержит данных об отправителе.
func ObjectKey(k Kind, createdAt time.Time, id uuid.UUID, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", k.Type(), datePath(createdAt), id, ext)
}

// ThumbnailKey строит ключ миниатюры: thumbnails/{yyyy/mm/dd}/{id}_thumb.jpg.
func ThumbnailKey(createdAt time.Time, id uuid.UUID) string {
	return fmt.Sprintf("thumbnails/%s/%s_thumb.jpg", datePath(createdAt), id)
}

// UploadKey строит ключ для прямой загрузки через presigned PUT.
func UploadKey(now time.Time, id uuid.UUID, fileName string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), ".")
	if !isKnownExt(ext) {
		ext = "bin"
	}
	return fmt.Sprintf("uploads/%s/%s.%s", datePath(now), id, ext)
}

func datePath(t time.Time) string {
	return t.UTC().Format("2006/01/02")
}
