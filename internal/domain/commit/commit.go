// Пакет commit - чистая логика фиксации отчёта: какой хвост медиа войдёт
// в отчёт, какие дополнения нужны и какой тип получит отчёт.
package commit

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

// ErrInvalidType - тип отчёта несовместим с причиной фиксации.
var ErrInvalidType = errors.New("тип отчёта несовместим с причиной фиксации")

// Item - проекция медиа, достаточная для планирования фиксации.
type Item struct {
	ID              uuid.UUID
	MessageID       int64
	Status          model.MediaStatus
	ReportID        *uuid.UUID
	NeedsSupplement bool
	CreatedAt       time.Time
}

// Supplement - группа поздно изменившихся медиа одного родительского отчёта.
type Supplement struct {
	ParentID uuid.UUID
	Items    []Item
}

// Plan - результат планирования.
type Plan struct {
	// Tail - загруженные, ещё не зафиксированные медиа в порядке created_at.
	Tail []Item
	// Supplements - дополнения к ранее зафиксированным отчётам.
	Supplements []Supplement
}

// Empty сообщает, что фиксировать нечего.
func (p Plan) Empty() bool {
	return len(p.Tail) == 0 && len(p.Supplements) == 0
}

// Build строит план фиксации.
//
// open - незафиксированные медиа бригады. В хвост идут только downloaded
// без report_id; pending пропускается и попадёт в отчёт после загрузки
// (дополнением через commit_late_media, если бригада уже закрыта).
//
// late - зафиксированные медиа с needs_supplement; группируются по report_id.
func Build(open, late []Item) Plan {
	var p Plan

	sorted := append([]Item(nil), open...)
	sortItems(sorted)
	for _, it := range sorted {
		if it.Status != model.MediaDownloaded || it.ReportID != nil {
			continue
		}
		p.Tail = append(p.Tail, it)
	}

	groups := make(map[uuid.UUID][]Item)
	var order []uuid.UUID
	for _, it := range late {
		if !it.NeedsSupplement || it.ReportID == nil {
			continue
		}
		parent := *it.ReportID
		if _, ok := groups[parent]; !ok {
			order = append(order, parent)
		}
		groups[parent] = append(groups[parent], it)
	}
	for _, parent := range order {
		items := groups[parent]
		sortItems(items)
		p.Supplements = append(p.Supplements, Supplement{ParentID: parent, Items: items})
	}
	return p
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}

// MessageRange возвращает минимальный и максимальный message_id набора.
func MessageRange(items []Item) (first, last int64) {
	for i, it := range items {
		if i == 0 || it.MessageID < first {
			first = it.MessageID
		}
		if i == 0 || it.MessageID > last {
			last = it.MessageID
		}
	}
	return first, last
}

// IDs возвращает идентификаторы медиа набора.
func IDs(items []Item) []uuid.UUID {
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// TypeFor выбирает тип хвостового отчёта по причине фиксации.
// requested учитывается только для ручной фиксации.
func TypeFor(trigger model.ReportTrigger, requested model.ReportType) (model.ReportType, error) {
	switch trigger {
	case model.TriggerShiftEnd:
		return model.ReportFinal, nil
	case model.TriggerMemberChange:
		return model.ReportIntermediate, nil
	case model.TriggerAuto:
		return model.ReportSupplement, nil
	case model.TriggerManual:
		switch requested {
		case "", model.ReportIntermediate:
			return model.ReportIntermediate, nil
		case model.ReportFinal:
			return model.ReportFinal, nil
		}
	}
	return "", ErrInvalidType
}
