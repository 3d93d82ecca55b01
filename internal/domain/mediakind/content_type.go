package mediakind

import (
	"path"
	"strings"
)

// Таблица Content-Type по расширению. Содержимое файла не анализируется.
var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"heic": "image/heic",
	"gif":  "image/gif",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"ogg":  "audio/ogg",
	"oga":  "audio/ogg",
	"opus": "audio/opus",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"wav":  "audio/wav",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"zip":  "application/zip",
	"txt":  "text/plain; charset=utf-8",
	"bin":  "application/octet-stream",
}

var extByMime = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
	"image/heic":      "heic",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"audio/ogg":       "ogg",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"application/pdf": "pdf",
}

// ContentType возвращает Content-Type по расширению ключа.
// Неизвестное расширение даёт application/octet-stream.
func ContentType(key string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

func isKnownExt(ext string) bool {
	_, ok := contentTypes[ext]
	return ok
}
