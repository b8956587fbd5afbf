// Пакет pdftext — извлечение текстового слоя из PDF-документов.
package pdftext

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// Extract возвращает текстовый слой PDF. Для сканов без текстового слоя
// результат будет пустым — это не ошибка, решение принимает вызывающий код.
func Extract(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("ошибка чтения PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("ошибка извлечения текста PDF: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("ошибка чтения текста PDF: %w", err)
	}
	return buf.String(), nil
}
