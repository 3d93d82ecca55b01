package objectstoretest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bigkaa/worklog/internal/objectstore"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("worklog")

	if err := s.Put(ctx, "a/b.jpg", strings.NewReader("data"), 4, "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	info, err := s.Head(ctx, "a/b.jpg")
	if err != nil || info.Size != 4 || info.ContentType != "image/jpeg" {
		t.Fatalf("Head = %+v, %v", info, err)
	}
	rc, err := s.Get(ctx, "a/b.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "data" {
		t.Errorf("Get = %q", data)
	}
	if s.Puts("a/b.jpg") != 1 || s.Len() != 1 {
		t.Errorf("Puts = %d, Len = %d", s.Puts("a/b.jpg"), s.Len())
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Get отсутствующего: ожидается objectstore.ErrNotFound, получено %v", err)
	}
}
