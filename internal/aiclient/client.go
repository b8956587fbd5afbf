// Пакет aiclient — HTTP-клиент OpenAI-совместимого API:
// файловое хранилище (/files), vector stores (/vector_stores/*)
// и генерация профилей документов (/chat/completions).
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// APIError — ошибка удалённого API с HTTP-статусом.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API вернул статус %d: %s", e.StatusCode, e.Body)
}

// IsNotFound — ошибка является 404 (ресурс уже удалён на удалённой стороне).
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// UploadedFile — ответ POST /files.
type UploadedFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
}

// VectorStoreFile — привязка файла к vector store.
type VectorStoreFile struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	// FileID заполняется в ответах листинга (поле id там — id файла)
	FileID string `json:"-"`
}

// DocumentProfile — структурированный профиль документа.
type DocumentProfile struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Entities Entities `json:"entities"`
}

// Entities — группы именованных сущностей профиля.
type Entities struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Locations     []string `json:"locations"`
	Dates         []string `json:"dates"`
}

// Client — HTTP-клиент OpenAI-совместимого API.
type Client struct {
	baseURL      string
	apiKey       string
	profileModel string
	httpClient   *http.Client
	logger       *slog.Logger
}

// New создаёт клиент. baseURL — корень API (например https://api.openai.com/v1),
// profileModel — модель для генерации профилей.
func New(baseURL, apiKey, profileModel string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		profileModel: profileModel,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With(slog.String("component", "ai_client")),
	}
}

// do выполняет запрос с авторизацией и декодирует JSON-ответ в out.
// Не-2xx статус возвращается как *APIError.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", req.URL.Path, err)
	}
	return nil
}

// UploadFile загружает файл в файловое хранилище (purpose=assistants).
// POST /files, multipart/form-data.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte) (*UploadedFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return nil, fmt.Errorf("создание запроса UploadFile: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var uploaded UploadedFile
	if err := c.do(req, &uploaded); err != nil {
		return nil, err
	}
	return &uploaded, nil
}

// DeleteFile удаляет файл из файлового хранилища.
// DELETE /files/{id}; 404 трактуется как успех (уже удалён).
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return fmt.Errorf("создание запроса DeleteFile: %w", err)
	}

	if err := c.do(req, nil); err != nil {
		if IsNotFound(err) {
			c.logger.Debug("Файл уже отсутствует в хранилище", slog.String("file_id", fileID))
			return nil
		}
		return err
	}
	return nil
}

// AttachFile прикрепляет загруженный файл к vector store.
// POST /vector_stores/{vs}/files.
func (c *Client) AttachFile(ctx context.Context, vectorStoreID, fileID string) (*VectorStoreFile, error) {
	payload, err := json.Marshal(map[string]string{"file_id": fileID})
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса AttachFile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/vector_stores/"+vectorStoreID+"/files", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("создание запроса AttachFile: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var vsFile VectorStoreFile
	if err := c.do(req, &vsFile); err != nil {
		return nil, err
	}
	return &vsFile, nil
}

// DetachFile отвязывает файл от vector store.
// DELETE /vector_stores/{vs}/files/{id}; 404 трактуется как успех.
func (c *Client) DetachFile(ctx context.Context, vectorStoreID, vsFileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/vector_stores/"+vectorStoreID+"/files/"+vsFileID, nil)
	if err != nil {
		return fmt.Errorf("создание запроса DetachFile: %w", err)
	}

	if err := c.do(req, nil); err != nil {
		if IsNotFound(err) {
			c.logger.Debug("Привязка уже отсутствует в vector store",
				slog.String("vs_file_id", vsFileID))
			return nil
		}
		return err
	}
	return nil
}

// vsFileListResponse — страница листинга файлов vector store.
type vsFileListResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

// ListVectorStoreFiles возвращает все привязки vector store,
// проходя пагинацию по курсору after.
func (c *Client) ListVectorStoreFiles(ctx context.Context, vectorStoreID string) ([]VectorStoreFile, error) {
	var result []VectorStoreFile
	after := ""

	for {
		reqURL := c.baseURL + "/vector_stores/" + vectorStoreID + "/files?limit=100"
		if after != "" {
			reqURL += "&after=" + after
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("создание запроса ListVectorStoreFiles: %w", err)
		}

		var page vsFileListResponse
		if err := c.do(req, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Data {
			// В листинге id элемента совпадает с id файла
			result = append(result, VectorStoreFile{ID: item.ID, FileID: item.ID, Status: item.Status})
		}

		if !page.HasMore || page.LastID == "" {
			return result, nil
		}
		after = page.LastID
	}
}

// profilePrompt — системная инструкция генерации профиля.
const profilePrompt = `You are an archivist for municipal records. ` +
	`Given a document, return a JSON object with fields: ` +
	`"summary" (3-5 sentences), "keywords" (up to 10 strings), ` +
	`"entities" (object with arrays "people", "organizations", "locations", "dates"). ` +
	`Return only JSON.`

// chatRequest — запрос POST /chat/completions.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

// chatResponse — ответ /chat/completions (используемая часть).
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateProfile генерирует профиль документа по его тексту.
// Первая попытка — с response_format json_object; если модель его
// не поддерживает (400), повтор без него.
func (c *Client) GenerateProfile(ctx context.Context, filename, text string) (*DocumentProfile, error) {
	content, err := c.chat(ctx, filename, text, true)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
			return nil, err
		}
		c.logger.Warn("response_format не поддерживается, повтор без него",
			slog.String("model", c.profileModel))
		content, err = c.chat(ctx, filename, text, false)
		if err != nil {
			return nil, err
		}
	}

	profile := &DocumentProfile{}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), profile); err != nil {
		return nil, fmt.Errorf("профиль не является корректным JSON: %w", err)
	}
	return profile, nil
}

func (c *Client) chat(ctx context.Context, filename, text string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: c.profileModel,
		Messages: []chatMessage{
			{Role: "system", Content: profilePrompt},
			{Role: "user", Content: fmt.Sprintf("Document: %s\n\n%s", filename, text)},
		},
		Temperature: 0.2,
	}
	if jsonMode {
		reqBody.ResponseFormat = &respFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("сериализация запроса chat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("создание запроса chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp chatResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("пустой ответ chat/completions")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripCodeFence убирает обрамление ```json ... ```, если модель его добавила.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
