package upstream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, Permanent},
		{403, Permanent},
		{404, Permanent},
		{408, Transient},
		{429, RateLimited},
		{500, Transient},
		{502, Transient},
		{503, Transient},
	}
	for _, tt := range tests {
		if got := FromStatus("telegram", tt.status, errors.New("x")).Kind; got != tt.want {
			t.Errorf("FromStatus(%d) = %s, ожидается %s", tt.status, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	if Wrap("s3", nil) != nil {
		t.Error("Wrap(nil) должен возвращать nil")
	}
	if err := Wrap("s3", context.Canceled); !errors.Is(err, context.Canceled) || KindOf(err) != Transient {
		t.Errorf("отмена контекста должна проходить без обёртки: %v", err)
	}
	var ue *Error
	if !errors.As(Wrap("s3", context.DeadlineExceeded), &ue) || ue.Kind != Transient {
		t.Error("таймаут должен быть временной ошибкой")
	}

	perm := Permanentf("telegram", "file not found")
	wrapped := fmt.Errorf("download: %w", perm)
	if Wrap("other", wrapped) != wrapped {
		t.Error("уже классифицированная ошибка не должна переоборачиваться")
	}
	if !IsPermanent(wrapped) {
		t.Error("IsPermanent должен видеть ошибку через обёртку")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Service: "telegram", Kind: RateLimited, Status: 429, RetryAfter: 3 * time.Second, Err: errors.New("too many")}
	d, ok := RetryAfterOf(fmt.Errorf("send: %w", err))
	if !ok || d != 3*time.Second {
		t.Errorf("RetryAfterOf = %v, %v", d, ok)
	}
	if _, ok := RetryAfterOf(errors.New("plain")); ok {
		t.Error("обычная ошибка не должна давать RetryAfter")
	}
}
