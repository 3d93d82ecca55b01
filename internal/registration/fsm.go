// Пакет registration - конечный автомат регистрации по инвайт-коду:
// idle -> waiting_name -> waiting_phone -> done, /cancel возвращает в idle.
package registration

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Step - шаг регистрации.
type Step string

const (
	StepIdle         Step = "idle"
	StepWaitingName  Step = "waiting_name"
	StepWaitingPhone Step = "waiting_phone"
	StepDone         Step = "done"
)

// Ошибки ввода. Шаг при них не меняется.
var (
	ErrInvalidName  = errors.New("имя должно содержать от 2 до 100 символов")
	ErrInvalidPhone = errors.New("телефон должен содержать от 10 до 15 цифр")
)

// State - состояние регистрации одного пользователя Telegram.
type State struct {
	Step       Step      `json:"step"`
	InviteCode string    `json:"invite_code"`
	Name       string    `json:"name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Language   string    `json:"language,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store хранит состояния. Get возвращает nil, nil, если состояния нет.
type Store interface {
	Get(ctx context.Context, telegramID int64) (*State, error)
	Save(ctx context.Context, telegramID int64, st *State) error
	Delete(ctx context.Context, telegramID int64) error
}

// Machine - автомат поверх хранилища.
type Machine struct {
	store Store
	now   func() time.Time
}

// New создаёт автомат.
func New(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Begin начинает регистрацию по коду (повторный /start перезапускает её).
func (m *Machine) Begin(ctx context.Context, telegramID int64, code, language string) (*State, error) {
	st := &State{Step: StepWaitingName, InviteCode: code, Language: language, UpdatedAt: m.now()}
	if err := m.store.Save(ctx, telegramID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel сбрасывает регистрацию. Возвращает false, если она не шла.
func (m *Machine) Cancel(ctx context.Context, telegramID int64) (bool, error) {
	st, err := m.store.Get(ctx, telegramID)
	if err != nil || st == nil {
		return false, err
	}
	return true, m.store.Delete(ctx, telegramID)
}

// Current возвращает текущее состояние или nil.
func (m *Machine) Current(ctx context.Context, telegramID int64) (*State, error) {
	return m.store.Get(ctx, telegramID)
}

// Input обрабатывает ввод пользователя на текущем шаге. Для пользователя
// вне регистрации возвращает nil, nil. Ошибки ErrInvalidName/ErrInvalidPhone
// оставляют шаг прежним. Состояние StepDone из хранилища удаляется:
// завершение регистрации - дело вызывающего.
func (m *Machine) Input(ctx context.Context, telegramID int64, text string) (*State, error) {
	st, err := m.store.Get(ctx, telegramID)
	if err != nil || st == nil {
		return nil, err
	}

	switch st.Step {
	case StepWaitingName:
		name, err := NormalizeName(text)
		if err != nil {
			return st, err
		}
		st.Name = name
		st.Step = StepWaitingPhone
	case StepWaitingPhone:
		phone, err := NormalizePhone(text)
		if err != nil {
			return st, err
		}
		st.Phone = phone
		st.Step = StepDone
	default:
		return st, nil
	}
	st.UpdatedAt = m.now()

	if st.Step == StepDone {
		return st, m.store.Delete(ctx, telegramID)
	}
	return st, m.store.Save(ctx, telegramID, st)
}

// NormalizeName схлопывает пробелы и проверяет длину 2..100 символов.
func NormalizeName(s string) (string, error) {
	name := strings.Join(strings.Fields(s), " ")
	if n := utf8.RuneCountInString(name); n < 2 || n > 100 {
		return "", ErrInvalidName
	}
	return name, nil
}

// NormalizePhone оставляет цифры и добавляет "+"; допустимо 10..15 цифр.
func NormalizePhone(s string) (string, error) {
	var b strings.Builder
	b.WriteByte('+')
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) && r < utf8.RuneSelf:
			b.WriteRune(r)
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	if digits < 10 || digits > 15 {
		return "", ErrInvalidPhone
	}
	return b.String(), nil
}
