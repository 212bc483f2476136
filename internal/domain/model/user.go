// Пакет model — доменные модели teamcal.
package model

import "time"

// User — учётная запись пользователя.
// Хранится в таблице users, ключ — username.
type User struct {
	// Username — уникальное имя пользователя (первичный ключ)
	Username string
	// PasswordHash — дайджест пароля в формате argon2id$<salt>$<digest>
	PasswordHash string
	// Permissions — набор тегов доступа к страницам (calendar, image_generator, admin)
	Permissions []string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// LastLogin — время последнего успешного входа (nil — ещё не входил)
	LastLogin *time.Time
}

// Identity — аутентифицированный пользователь с разрешённым набором прав.
// Живёт в зашифрованном session cookie, в БД не хранится.
type Identity struct {
	// Username — имя пользователя
	Username string `json:"username"`
	// Permissions — набор тегов доступа на момент входа
	Permissions []string `json:"permissions"`
}
