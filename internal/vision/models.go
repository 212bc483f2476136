// models.go — структуры запросов и ответов OpenAI-совместимого Vision API
// и кандидат события, извлечённый из изображения.
package vision

import "time"

// Candidate — кандидат события, извлечённый моделью из изображения.
// Кандидат не является событием календаря: он становится событием только
// после явного подтверждения пользователем.
type Candidate struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Confidence  float64   `json:"confidence"`
}

// rawCandidate — кандидат в том виде, в котором его возвращает модель.
// Времена приходят строками ISO 8601 и разбираются отдельно.
type rawCandidate struct {
	Title       string  `json:"title"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	Confidence  float64 `json:"confidence"`
}

// --- Chat Completions API ---

// chatRequest — тело запроса /chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// chatMessage — сообщение диалога. Content — строка (system) либо
// массив частей (user с изображением).
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// contentPart — часть мультимодального сообщения.
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

// imageURL — изображение в виде data URL.
type imageURL struct {
	URL string `json:"url"`
}

// chatResponse — тело ответа /chat/completions.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// apiError — ошибка OpenAI-совместимого API.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
