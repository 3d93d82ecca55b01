package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Ошибки проверки init data Mini App.
var (
	ErrInitDataInvalid = errors.New("подпись init data неверна")
	ErrInitDataExpired = errors.New("init data устарели")
)

// WebAppUser - пользователь из init data Mini App.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// InitData - проверенные данные запуска Mini App.
type InitData struct {
	User     WebAppUser
	AuthDate time.Time
	QueryID  string
}

// ValidateInitData проверяет подпись init data:
// secret = HMAC_SHA256("WebAppData", botToken), hash = HMAC_SHA256(secret, data_check_string).
// data_check_string - пары key=value без hash, отсортированные по ключу и
// разделённые "\n". auth_date не старше maxAge.
func ValidateInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitDataInvalid, err)
	}
	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("%w: нет hash", ErrInitDataInvalid)
	}

	expected := SignInitData(values, botToken)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return nil, ErrInitDataInvalid
	}

	ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный auth_date", ErrInitDataInvalid)
	}
	authDate := time.Unix(ts, 0)
	if maxAge > 0 && now.Sub(authDate) > maxAge {
		return nil, ErrInitDataExpired
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return nil, fmt.Errorf("%w: нет user", ErrInitDataInvalid)
	}
	return &InitData{User: user, AuthDate: authDate, QueryID: values.Get("query_id")}, nil
}

// SignInitData вычисляет hash для набора полей (поле hash игнорируется).
func SignInitData(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + values.Get(k)
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
