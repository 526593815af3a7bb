package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	secret, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации секрета: %v", err)
	}
	a, err := NewAuthenticator(secret, "voxelstore")
	if err != nil {
		t.Fatalf("Ошибка создания аутентификатора: %v", err)
	}
	return a
}

// TestIssueAndValidate тестирует полный жизненный цикл токена
func TestIssueAndValidate(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.IssueToken("builder", true, time.Hour)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}

	// Проверяем, что токен содержит точки (разделители частей JWT)
	if strings.Count(token, ".") != 2 {
		t.Errorf("Неверный формат JWT токена: %s", token)
	}

	claims, err := a.Validate(token)
	if err != nil {
		t.Fatalf("Валидный токен определен как недействительный: %v", err)
	}
	if claims.Subject != "builder" || !claims.CanWrite {
		t.Errorf("Неверные claims: %+v", claims)
	}
}

// TestValidateInvalidJWT тестирует валидацию недействительного JWT
func TestValidateInvalidJWT(t *testing.T) {
	a := newTestAuthenticator(t)
	other := newTestAuthenticator(t)

	foreign, err := other.IssueToken("intruder", true, time.Hour)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}
	expired, err := a.IssueToken("late", true, -time.Minute)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}

	testCases := []string{
		"invalid.token.here",
		"",
		"not.a.jwt",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
		foreign,
		expired,
	}

	for _, invalidToken := range testCases {
		if _, err := a.Validate(invalidToken); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Недействительный токен '%s' прошел валидацию", invalidToken)
		}
	}
}

// TestNewAuthenticatorSecret тестирует проверку секретного ключа
func TestNewAuthenticatorSecret(t *testing.T) {
	secret1, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации секрета: %v", err)
	}
	secret2, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации секрета: %v", err)
	}
	if secret1 == secret2 {
		t.Error("Два последовательных вызова GenerateSecureSecret вернули одинаковый результат")
	}

	invalidSecrets := []string{
		"too-short",
		"invalid-base64-@#$%",
		"",
	}

	for _, invalidSecret := range invalidSecrets {
		if _, err := NewAuthenticator(invalidSecret, "voxelstore"); err == nil {
			t.Errorf("Недействительный секрет '%s' был принят", invalidSecret)
		}
	}
}
