// content.go — резолвинг содержимого документа: выбор артефакта для
// загрузки (оригинал или OCR-текст) и извлечение текста для
// профилирования и метаданных.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/pdftext"
)

// Downloader — чтение объектов из объектного хранилища.
// Реализуется storageclient.Client.
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Artifact — артефакт документа, подготовленный к загрузке.
type Artifact struct {
	// Filename — имя для удалённого файлового хранилища
	Filename string
	// Content — содержимое артефакта
	Content []byte
	// HasOCR — вместо оригинала использован OCR-текст
	HasOCR bool
}

// ResolveArtifact выбирает и скачивает артефакт для загрузки.
// Для файлов с завершённым OCR загружается распознанный текст (оригинал —
// изображение, бесполезное для поиска); иначе — оригинальный файл.
// Недоступный OCR-текст — не ошибка: загружается оригинал.
func ResolveArtifact(ctx context.Context, dl Downloader, el *model.EligibleLink, logger *slog.Logger) (*Artifact, error) {
	f := &el.File

	if f.OCRScanned && f.OCRTextPath != nil && *f.OCRTextPath != "" {
		content, err := dl.Download(ctx, *f.OCRTextPath)
		if err != nil {
			logger.Warn("OCR-текст недоступен, используется оригинальный файл",
				"file_id", f.ID,
				"ocr_text_path", *f.OCRTextPath,
				"error", err)
		} else {
			return &Artifact{
				Filename: ocrFilename(f.Name),
				Content:  content,
				HasOCR:   true,
			}, nil
		}
	}

	content, err := dl.Download(ctx, f.FilePath)
	if err != nil {
		return nil, fmt.Errorf("ошибка скачивания файла: %w", err)
	}
	return &Artifact{
		Filename: f.Name,
		Content:  content,
		HasOCR:   false,
	}, nil
}

// ocrFilename — имя OCR-артефакта: оригинальное имя без расширения + .txt.
func ocrFilename(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + ".txt"
}

// ExtractText извлекает текст артефакта для профилирования.
// Текстовые форматы читаются как есть, PDF — через текстовый слой.
// Для бинарных форматов без текстового слоя возвращается пустая строка.
func ExtractText(a *Artifact) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(a.Filename), "."))

	switch ext {
	case "txt", "md", "json", "csv", "html":
		return string(a.Content), nil
	case "pdf":
		text, err := pdftext.Extract(a.Content)
		if err != nil {
			return "", err
		}
		return text, nil
	default:
		return "", nil
	}
}

// Лимиты текста для Profiling Pass.
const (
	// profileMinChars — минимум символов: короче — профилировать нечего
	profileMinChars = 400
	// profileMaxChars — текст усекается, чтобы уложиться в контекст модели
	profileMaxChars = 15000
)

// PrepareProfileText нормализует текст для генерации профиля.
// Возвращает ("", false), если текста недостаточно.
func PrepareProfileText(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if len(text) < profileMinChars {
		return "", false
	}
	if len(text) > profileMaxChars {
		text = text[:profileMaxChars]
	}
	return text, true
}
