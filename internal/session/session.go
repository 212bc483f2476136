// Пакет session — cookie-сессии приложения.
// Identity пользователя и срок действия сессии шифруются AES-256-GCM
// и живут целиком в HTTP cookie; серверного хранилища сессий нет.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Имя cookie с зашифрованной сессией.
const CookieName = "teamcal_session"

// Data — содержимое сессии, хранящееся в зашифрованном cookie.
// Набор прав фиксируется на момент входа: изменение прав администратором
// вступает в силу при следующем логине.
type Data struct {
	// Username — имя аутентифицированного пользователя.
	Username string `json:"username"`
	// Permissions — теги прав на момент входа.
	Permissions []string `json:"permissions,omitempty"`
	// ExpiresAt — время истечения сессии (Unix timestamp).
	ExpiresAt int64 `json:"expires_at"`
}

// IsExpired проверяет, истекла ли сессия.
func (d *Data) IsExpired() bool {
	return time.Now().Unix() >= d.ExpiresAt
}

// Manager шифрует и дешифрует Data в HTTP cookies через AES-256-GCM.
type Manager struct {
	gcm    cipher.AEAD
	ttl    time.Duration
	secure bool // Secure flag cookie (true за HTTPS)
}

// NewManager создаёт менеджер сессий.
// key — секрет для AES-256-GCM: base64 от 32 байт либо произвольная строка
// (хешируется SHA-256 до 32 байт). Пустой key — случайный ключ, сессии
// не переживают рестарт процесса.
func NewManager(key string, ttl time.Duration, secure bool) (*Manager, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("генерация ключа сессии: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			// Не base64 — хешируем строку до 32 байт
			keyBytes = sha256Key(key)
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("создание AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("создание GCM: %w", err)
	}

	return &Manager{
		gcm:    gcm,
		ttl:    ttl,
		secure: secure,
	}, nil
}

// Encrypt шифрует Data и возвращает base64-строку.
func (m *Manager) Encrypt(data *Data) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("сериализация сессии: %w", err)
	}

	// Уникальный nonce на каждое шифрование
	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("генерация nonce: %w", err)
	}

	// Nonce дописывается перед ciphertext
	ciphertext := m.gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt дешифрует base64-строку обратно в Data.
func (m *Manager) Decrypt(encrypted string) (*Data, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("декодирование base64: %w", err)
	}

	nonceSize := m.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := m.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("дешифрование сессии: %w", err)
	}

	var data Data
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("десериализация сессии: %w", err)
	}

	return &data, nil
}

// Issue создаёт сессию для пользователя и ставит cookie в ответ.
func (m *Manager) Issue(w http.ResponseWriter, username string, permissions []string) error {
	data := &Data{
		Username:    username,
		Permissions: permissions,
		ExpiresAt:   time.Now().Add(m.ttl).Unix(),
	}

	encrypted, err := m.Encrypt(data)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// FromRequest извлекает и дешифрует Data из cookie запроса.
// Возвращает nil, nil если cookie отсутствует.
func (m *Manager) FromRequest(r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}

	return m.Decrypt(cookie.Value)
}

// Clear удаляет session cookie из ответа (logout).
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sha256Key хеширует строковый ключ в 32 байта через SHA-256.
func sha256Key(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return h[:]
}
