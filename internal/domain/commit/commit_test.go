package commit

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/worklog/internal/domain/model"
)

var base = time.Date(2026, 2, 10, 19, 0, 0, 0, time.UTC)

func item(min int, msg int64, st model.MediaStatus) Item {
	return Item{ID: uuid.New(), MessageID: msg, Status: st, CreatedAt: base.Add(time.Duration(min) * time.Minute)}
}

func TestBuild_TailSkipsPending(t *testing.T) {
	a := item(1, 10, model.MediaDownloaded)
	b := item(2, 11, model.MediaDownloaded)
	c := item(3, 12, model.MediaPending)
	d := item(4, 13, model.MediaDownloaded)

	p := Build([]Item{d, c, b, a}, nil)

	if len(p.Tail) != 3 || p.Tail[0].ID != a.ID || p.Tail[1].ID != b.ID || p.Tail[2].ID != d.ID {
		t.Fatalf("хвост должен содержать a, b, d в порядке created_at, получено %+v", p.Tail)
	}
	for _, it := range p.Tail {
		if it.ID == c.ID {
			t.Error("pending попал в хвост")
		}
	}
	first, last := MessageRange(p.Tail)
	if first != 10 || last != 13 {
		t.Errorf("диапазон = %d..%d, ожидается 10..13", first, last)
	}
}

func TestBuild_DownloadedAfterPending(t *testing.T) {
	pending := item(0, 1, model.MediaPending)
	done := item(30, 2, model.MediaDownloaded)

	p := Build([]Item{pending, done}, nil)

	if p.Empty() || len(p.Tail) != 1 || p.Tail[0].ID != done.ID {
		t.Fatalf("в хвосте должно быть одно загруженное медиа, получено %+v", p.Tail)
	}
}

func TestBuild_Empty(t *testing.T) {
	p := Build([]Item{item(1, 1, model.MediaPending)}, nil)
	if !p.Empty() {
		t.Error("план с единственным pending должен быть пустым")
	}
	if !Build(nil, nil).Empty() {
		t.Error("пустой вход должен давать пустой план")
	}
}

func TestBuild_SupplementsGroupedByParent(t *testing.T) {
	r1, r2 := uuid.New(), uuid.New()
	v1 := item(1, 5, model.MediaCommitted)
	v1.ReportID, v1.NeedsSupplement = &r1, true
	v2 := item(2, 6, model.MediaCommitted)
	v2.ReportID, v2.NeedsSupplement = &r2, true
	v3 := item(3, 7, model.MediaCommitted)
	v3.ReportID, v3.NeedsSupplement = &r1, true
	skip := item(4, 8, model.MediaCommitted)
	skip.ReportID = &r1

	p := Build(nil, []Item{v1, v2, v3, skip})

	if len(p.Tail) != 0 {
		t.Errorf("хвост должен быть пуст, получено %d", len(p.Tail))
	}
	if len(p.Supplements) != 2 {
		t.Fatalf("ожидается 2 дополнения, получено %d", len(p.Supplements))
	}
	if p.Supplements[0].ParentID != r1 || len(p.Supplements[0].Items) != 2 {
		t.Errorf("первое дополнение должно относиться к R1 и содержать 2 медиа: %+v", p.Supplements[0])
	}
	if p.Supplements[1].ParentID != r2 || len(p.Supplements[1].Items) != 1 {
		t.Errorf("второе дополнение должно относиться к R2: %+v", p.Supplements[1])
	}
}

func TestTypeFor(t *testing.T) {
	tests := []struct {
		trigger   model.ReportTrigger
		requested model.ReportType
		want      model.ReportType
		wantErr   bool
	}{
		{model.TriggerShiftEnd, "", model.ReportFinal, false},
		{model.TriggerMemberChange, model.ReportFinal, model.ReportIntermediate, false},
		{model.TriggerAuto, "", model.ReportSupplement, false},
		{model.TriggerManual, "", model.ReportIntermediate, false},
		{model.TriggerManual, model.ReportFinal, model.ReportFinal, false},
		{model.TriggerManual, model.ReportSupplement, "", true},
		{"cron", "", "", true},
	}
	for _, tt := range tests {
		got, err := TypeFor(tt.trigger, tt.requested)
		if (err != nil) != tt.wantErr {
			t.Errorf("TypeFor(%s, %s) err = %v", tt.trigger, tt.requested, err)
		}
		if got != tt.want {
			t.Errorf("TypeFor(%s, %s) = %s, ожидается %s", tt.trigger, tt.requested, got, tt.want)
		}
	}
}
