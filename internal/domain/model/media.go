package model

import (
	"time"

	"github.com/google/uuid"
)

// MediaType - вид артефакта.
type MediaType string

const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaVoice    MediaType = "voice"
	MediaDocument MediaType = "document"
	MediaText     MediaType = "text"
)

// MediaStatus - состояние жизненного цикла медиа.
type MediaStatus string

const (
	MediaPending    MediaStatus = "pending"
	MediaDownloaded MediaStatus = "downloaded"
	MediaCommitted  MediaStatus = "committed"
	MediaDeleted    MediaStatus = "deleted"
)

// MediaTag - пометка медиа.
type MediaTag string

const (
	TagNone        MediaTag = "none"
	TagProblem     MediaTag = "problem"
	TagSupply      MediaTag = "supply"
	TagFinalReport MediaTag = "final_report"
)

// TagSource - источник пометки.
type TagSource string

const (
	TagSourceNone     TagSource = "none"
	TagSourceReaction TagSource = "reaction"
	TagSourceHashtag  TagSource = "hashtag"
	TagSourceManual   TagSource = "manual"
)

// Media - один принятый артефакт.
// Инварианты: status=committed тогда и только тогда, когда ReportID != nil;
// непустой FileURL означает status >= downloaded.
type Media struct {
	ID                 uuid.UUID   `json:"id"`
	TeamID             uuid.UUID   `json:"team_id"`
	AuthorID           uuid.UUID   `json:"author_id"`
	ReportID           *uuid.UUID  `json:"report_id,omitempty"`
	SupplementReportID *uuid.UUID  `json:"supplement_report_id,omitempty"`
	MessageID          int64       `json:"message_id"`
	MediaType          MediaType   `json:"media_type"`
	Tag                MediaTag    `json:"tag"`
	TagSource          TagSource   `json:"tag_source"`
	FileID             string      `json:"file_id,omitempty"`
	FileUniqueID       string      `json:"file_unique_id,omitempty"`
	ThumbFileID        string      `json:"-"`
	FileName           string      `json:"file_name,omitempty"`
	MimeType           string      `json:"mime_type,omitempty"`
	FileURL            string      `json:"file_url,omitempty"`
	FileSize           int64       `json:"file_size"`
	Duration           int         `json:"duration"`
	ThumbnailURL       string      `json:"thumbnail_url,omitempty"`
	TextContent        string      `json:"text_content"`
	ExifDate           *time.Time  `json:"exif_date,omitempty"`
	PHash              string      `json:"phash,omitempty"`
	Status             MediaStatus `json:"status"`
	NeedsSupplement    bool        `json:"needs_supplement"`
	DeleteReason       string      `json:"delete_reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// ObjectUpload - отметка об инициаторе загрузки объекта (для ACL).
type ObjectUpload struct {
	ObjectKey  string    `json:"object_key"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}
