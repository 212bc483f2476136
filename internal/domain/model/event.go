package model

import "time"

// Источники создания события календаря.
const (
	// SourceManual — событие создано пользователем вручную.
	SourceManual = "manual"
	// SourceAIExtracted — событие подтверждено из кандидата AI-извлечения.
	SourceAIExtracted = "ai-extracted"
)

// CalendarEvent — событие календаря.
// Хранится в таблице events. Идентификатор неизменяем после создания.
type CalendarEvent struct {
	// ID — UUID события
	ID string `json:"id"`
	// Owner — имя пользователя-владельца
	Owner string `json:"owner"`
	// Title — название события
	Title string `json:"title"`
	// Start — время начала (UTC). Инвариант: Start <= End
	Start time.Time `json:"start"`
	// End — время окончания (UTC)
	End time.Time `json:"end"`
	// Description — описание (опционально)
	Description string `json:"description,omitempty"`
	// Location — место проведения (опционально)
	Location string `json:"location,omitempty"`
	// Source — источник создания (manual, ai-extracted)
	Source string `json:"source"`
	// CreatedAt — время создания записи
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time `json:"updated_at"`
}

// EventStats — статистика по событиям календаря.
// Формируется запросами к таблице events, в БД не хранится.
type EventStats struct {
	// TotalEvents — общее количество событий
	TotalEvents int `json:"total_events"`
	// RecentEvents — события, созданные за последние 7 суток
	RecentEvents int `json:"recent_events"`
	// OwnerCounts — количество событий по владельцам
	OwnerCounts map[string]int `json:"owner_counts"`
}
