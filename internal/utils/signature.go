package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Префикс, с которым Instagram передает подпись в заголовке x-hub-signature-256.
const signaturePrefix = "sha256="

// VerifyWebhookSignature проверяет подлинность полезной нагрузки вебхука.
// Подпись - это HMAC-SHA256 от сырых байтов тела запроса на секрете приложения,
// закодированный в hex с префиксом "sha256=". Сравнение выполняется за
// постоянное время. Любой отсутствующий или искаженный заголовок (включая
// несовпадение длины) - это отказ проверки, а не ошибка обработки, поэтому
// функция всегда возвращает bool и никогда не паникует.
// VerifyWebhookSignature verifies the authenticity of a webhook payload.
// Absent or malformed headers (including length mismatches) mean verification
// failed, not a processing error, so the function always returns a bool and
// never panics.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}

	encoded, ok := strings.CutPrefix(signatureHeader, signaturePrefix)
	if !ok {
		return false
	}
	provided, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}
