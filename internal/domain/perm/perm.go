// Пакет perm — проверка доступа к страницам приложения.
// Набор страниц фиксирован: calendar, image_generator, admin.
// Правило: страница доступна, если её тег входит в набор прав пользователя
// либо пользователь имеет тег admin (admin открывает все страницы).
package perm

import "strings"

// Page — тег страницы/возможности приложения.
type Page string

// Страницы приложения.
const (
	// PageCalendar — календарь событий.
	PageCalendar Page = "calendar"
	// PageImageGenerator — страница генерации изображений.
	PageImageGenerator Page = "image_generator"
	// PageAdmin — панель администрирования.
	PageAdmin Page = "admin"
)

// validPages — закрытое множество допустимых тегов.
var validPages = map[Page]bool{
	PageCalendar:       true,
	PageImageGenerator: true,
	PageAdmin:          true,
}

// IsValid проверяет, является ли тег допустимой страницей.
func IsValid(p Page) bool {
	return validPages[p]
}

// CanAccess проверяет доступ набора прав permissions к странице page.
// Чистая функция без побочных эффектов.
func CanAccess(permissions []string, page Page) bool {
	for _, p := range permissions {
		if p == string(page) || p == string(PageAdmin) {
			return true
		}
	}
	return false
}

// IsAdmin проверяет наличие тега admin в наборе прав.
func IsAdmin(permissions []string) bool {
	return CanAccess(permissions, PageAdmin)
}

// Validate проверяет, что все теги набора входят в закрытое множество.
// Возвращает первый недопустимый тег и false, либо "" и true.
func Validate(permissions []string) (string, bool) {
	for _, p := range permissions {
		if !IsValid(Page(p)) {
			return p, false
		}
	}
	return "", true
}

// ParseCSV разбирает строку прав из БД (формат "calendar,image_generator").
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// FormatCSV сериализует набор прав в строку для хранения в БД.
func FormatCSV(permissions []string) string {
	return strings.Join(permissions, ",")
}
