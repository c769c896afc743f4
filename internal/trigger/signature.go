package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader — заголовок с HMAC-SHA256 подписью тела события.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// ErrInvalidSignature — подпись отсутствует или не совпала.
var ErrInvalidSignature = errors.New("invalid event signature")

// ErrForeignRepository — событие указывает репозиторий, отличный от настроенного.
var ErrForeignRepository = errors.New("repository not allowed")

// Sign возвращает значение заголовка подписи для body: "sha256=<hex>".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сверяет заголовок подписи с телом.
func VerifySignature(secret string, body []byte, signature string) error {
	hexSum, ok := strings.CutPrefix(strings.TrimSpace(signature), signaturePrefix)
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(hexSum)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// CheckRepository разрешает событие, если его репозиторий пуст
// (подставится настроенный) или совпадает с configured.
// allowForeign снимает ограничение.
func CheckRepository(repository, configured string, allowForeign bool) error {
	if repository == "" || allowForeign {
		return nil
	}
	if configured != "" && SameRepository(repository, configured) {
		return nil
	}
	return ErrForeignRepository
}

// SameRepository сравнивает адреса репозитория без учёта схемы,
// суффикса .git и регистра. "owner/name" совпадает с полным URL.
func SameRepository(a, b string) bool {
	a, b = normalizeRepository(a), normalizeRepository(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

func normalizeRepository(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, rest, ok := strings.Cut(s, "://"); ok {
		s = rest
	} else if user, rest, ok := strings.Cut(s, "@"); ok && !strings.Contains(user, "/") {
		// git@host:owner/name
		s = strings.Replace(rest, ":", "/", 1)
	}
	if _, rest, ok := strings.Cut(s, "@"); ok {
		s = rest
	}
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return strings.TrimSuffix(s, "/")
}
