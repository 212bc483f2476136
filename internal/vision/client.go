// client.go — HTTP-клиент к OpenAI-совместимому Vision API (chat/completions).
// Отправляет изображение как data URL, требует от модели строгий JSON-массив
// кандидатов событий, разбирает и нормализует ответ (обрезка markdown-ограждений,
// ограничение длины полей, отбрасывание кандидатов с некорректным интервалом).
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ошибки клиента.
var (
	// ErrUnavailable — сервис не сконфигурирован, недоступен по сети
	// или ответил ошибкой 5xx.
	ErrUnavailable = errors.New("сервис извлечения событий недоступен")
	// ErrAuth — Vision API отклонил ключ (401/403).
	ErrAuth = errors.New("vision api отклонил ключ доступа")
	// ErrBadImage — API отклонил само изображение (4xx, кроме авторизации).
	ErrBadImage = errors.New("vision api отклонил изображение")
)

// Ограничения на поля кандидата. Лишнее обрезается, а не отклоняется:
// модель регулярно превышает запрошенные лимиты.
const (
	maxTitleLen       = 100
	maxDescriptionLen = 500
)

// systemPrompt требует от модели строгий JSON без пояснений.
const systemPrompt = `You are an assistant that extracts calendar events from images (screenshots, photos of posters, schedules, invitations).
Respond ONLY with a JSON array of events, no prose, no markdown. Each element:
{"title": string, "start": "RFC 3339 timestamp", "end": "RFC 3339 timestamp", "description": string, "location": string, "confidence": number between 0 and 1}.
If the image contains no events, respond with [].
If the end time is unknown, assume the event lasts one hour.
Assume the current year when the year is not shown.`

// Client — клиент Vision API.
type Client struct {
	baseURL string // Базовый URL API (без trailing slash); пустой — сервис выключен
	apiKey  string
	model   string

	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент Vision API.
// baseURL — базовый URL OpenAI-совместимого API (например, https://api.openai.com/v1).
// Пустой baseURL означает, что извлечение событий выключено: Extract будет
// возвращать ErrUnavailable.
func New(baseURL, apiKey, model string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "vision_client")),
	}
}

// Enabled сообщает, сконфигурирован ли клиент.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Extract отправляет изображение модели и возвращает кандидатов событий.
// Пустой результат ("на изображении нет событий") — успех с пустым срезом.
// Изображение в исходный календарь не попадает: кандидаты лишь предлагаются
// пользователю на подтверждение.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType string) ([]Candidate, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: не задан TC_VISION_URL", ErrUnavailable)
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	reqBody := chatRequest{
		Model:       c.model,
		MaxTokens:   2000,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Extract all calendar events from this image."},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
	}

	content, err := c.complete(ctx, &reqBody)
	if err != nil {
		return nil, err
	}

	candidates, err := parseCandidates(content)
	if err != nil {
		return nil, fmt.Errorf("разбор ответа модели: %w", err)
	}

	c.logger.Info("Извлечение событий завершено",
		slog.Int("candidates", len(candidates)),
		slog.Int("image_bytes", len(image)),
	)
	return candidates, nil
}

// complete выполняет запрос /chat/completions и возвращает текст ответа модели.
func (c *Client) complete(ctx context.Context, reqBody *chatRequest) (string, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("сериализация запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевая ошибка или таймаут — сервис недоступен
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w (статус %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: статус %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: статус %d: %s", ErrBadImage, resp.StatusCode, string(body))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("декодирование ответа vision api: %w", err)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("vision api вернул ошибку: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("vision api вернул пустой ответ")
	}

	return chat.Choices[0].Message.Content, nil
}

// parseCandidates разбирает текст ответа модели в список кандидатов.
// Модели нередко оборачивают JSON в markdown-ограждение ```json ... ``` —
// ограждение срезается до разбора. Кандидаты без заголовка, с нечитаемыми
// временами или со start > end молча отбрасываются.
func parseCandidates(content string) ([]Candidate, error) {
	content = stripFences(content)
	if content == "" {
		return []Candidate{}, nil
	}

	var raw []rawCandidate
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("модель вернула не JSON-массив: %w", err)
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		if r.Title == "" {
			continue
		}
		start, err := parseTime(r.Start)
		if err != nil {
			continue
		}
		end, err := parseTime(r.End)
		if err != nil {
			// Длительность по умолчанию — один час
			end = start.Add(time.Hour)
		}
		if start.After(end) {
			continue
		}

		candidates = append(candidates, Candidate{
			Title:       clamp(r.Title, maxTitleLen),
			Start:       start,
			End:         end,
			Description: clamp(r.Description, maxDescriptionLen),
			Location:    r.Location,
			Confidence:  r.Confidence,
		})
	}

	return candidates, nil
}

// stripFences срезает markdown-ограждение вокруг JSON, если оно есть.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseTime разбирает время модели: RFC 3339 либо "2006-01-02 15:04".
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("нечитаемое время %q", s)
}

// clamp обрезает строку до max символов (по рунам).
func clamp(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
