// Пакет model — доменные модели Ingest Module.
// FileRecord — маппинг таблицы files (owned by слоем загрузки/синхронизации).
package model

import "time"

// FileRecord — запись исходного документа в таблице files.
// Ingest Module читает её и использует OCR-поля при выборе артефакта
// для загрузки; сам записи files не создаёт и не удаляет.
type FileRecord struct {
	// ID — UUID файла
	ID string
	// Name — отображаемое имя файла
	Name string
	// FilePath — путь объекта в storage bucket
	FilePath string
	// ContentType — MIME-тип файла
	ContentType string
	// OCRNeeded — файл требует OCR перед индексацией
	OCRNeeded bool
	// OCRScanned — OCR-worker завершил распознавание
	OCRScanned bool
	// OCRTextPath — путь OCR-текста в storage bucket (nil — текста нет)
	OCRTextPath *string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// OCRReady — файл готов к ингестии с точки зрения OCR:
// либо OCR не требуется, либо уже выполнен.
// Файл с незавершённым OCR никогда не попадает в pipeline.
func (f *FileRecord) OCRReady() bool {
	return !f.OCRNeeded || f.OCRScanned
}
