// errors.go — типовые ошибки сервисного слоя.
// Обработчики транслируют их в HTTP-статусы на границе API.
package service

import "errors"

var (
	// ErrUserNotFound — пользователь не найден.
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrInvalidCredentials — пароль не совпадает с сохранённым дайджестом.
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	// ErrConflict — конфликт: ресурс уже существует.
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrLastAdmin — попытка удалить последнего пользователя с тегом admin.
	ErrLastAdmin = errors.New("нельзя удалить последнего администратора")
	// ErrEventNotFound — событие не найдено или не принадлежит запрашивающему.
	ErrEventNotFound = errors.New("событие не найдено")
	// ErrInvalidRange — начало события позже его окончания.
	ErrInvalidRange = errors.New("некорректный интервал: начало позже окончания")
	// ErrInvalidPermission — тег прав вне закрытого множества страниц.
	ErrInvalidPermission = errors.New("недопустимый тег прав: допустимые — calendar, image_generator, admin")
	// ErrEmptyField — обязательное поле не заполнено.
	ErrEmptyField = errors.New("обязательное поле не заполнено")
	// ErrWeakPassword — пароль короче минимальной длины.
	ErrWeakPassword = errors.New("пароль должен содержать не менее 8 символов")
)
