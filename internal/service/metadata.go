// metadata.go — выведение метаданных документа из имени файла и текста.
// Чистые функции без внешних зависимостей; используются pipeline'ом
// ингестии и backfill'ом.
package service

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DerivedMetadata — метаданные, выведенные из имени файла (и при
// необходимости текста). Nil-поле означает «вывести не удалось».
type DerivedMetadata struct {
	FileExt         *string
	DocType         *string
	MeetingYear     *int
	MeetingMonth    *int
	MeetingDay      *int
	MeetingBody     *string
	OrdinanceNumber *string
}

// docTypeOrder — приоритет типов документов при совпадении нескольких
// подстрок. Первый найденный выигрывает ("Agenda and Minutes" → agenda).
var docTypeOrder = []string{"agenda", "minutes", "ordinance", "transcript", "report"}

var (
	yearRe = regexp.MustCompile(`\b(20\d{2}|19\d{2})\b`)

	// Числовые паттерны даты: YYYY-MM-DD, MM-DD-YYYY, YYYY_MM, MM.YYYY
	dateYMDRe = regexp.MustCompile(`\b(20\d{2}|19\d{2})[-_.](\d{1,2})[-_.](\d{1,2})\b`)
	dateMDYRe = regexp.MustCompile(`\b(\d{1,2})[-_.](\d{1,2})[-_.](20\d{2}|19\d{2})\b`)
	dateYMRe  = regexp.MustCompile(`\b(20\d{2}|19\d{2})[-_.](\d{1,2})\b`)
	dateMYRe  = regexp.MustCompile(`\b(\d{1,2})[-_.](20\d{2}|19\d{2})\b`)

	ordinanceRe = regexp.MustCompile(`(?i)\b(?:ordinance|ord\.)\s*(?:no\.?\s*|#\s*)?(\d{1,4}(?:[-–][0-9A-Za-z]{1,4})?)`)
)

// monthNames — токены названий месяцев (полные и сокращённые).
var monthNames = map[string]int{
	"january": 1, "jan": 1,
	"february": 2, "feb": 2,
	"march": 3, "mar": 3,
	"april": 4, "apr": 4,
	"may": 5,
	"june": 6, "jun": 6,
	"july": 7, "jul": 7,
	"august": 8, "aug": 8,
	"september": 9, "sep": 9, "sept": 9,
	"october": 10, "oct": 10,
	"november": 11, "nov": 11,
	"december": 12, "dec": 12,
}

// meetingBodies — известные органы; при совпадении нескольких выигрывает
// первый по порядку.
var meetingBodies = []string{
	"borough council",
	"city council",
	"town council",
	"planning commission",
	"zoning board",
	"zoning hearing board",
	"school board",
	"parks committee",
	"finance committee",
}

// DeriveMetadata выводит метаданные из имени файла. text — извлечённый
// текст документа (может быть пустым), используется только для поиска
// номера ордонанса, когда имя его не содержит.
func DeriveMetadata(filename, text string) DerivedMetadata {
	md := DerivedMetadata{}
	lower := strings.ToLower(filename)

	if ext := deriveExt(filename); ext != "" {
		md.FileExt = &ext
	}

	for _, dt := range docTypeOrder {
		if strings.Contains(lower, dt) {
			t := dt
			md.DocType = &t
			break
		}
	}

	md.MeetingYear, md.MeetingMonth, md.MeetingDay = deriveDate(lower)

	// Разделители имени файла (_-.) приводятся к пробелам, чтобы
	// "Borough_Council" совпал с "borough council"
	normalized := strings.Join(splitTokens(lower), " ")
	for _, body := range meetingBodies {
		if strings.Contains(normalized, body) {
			titled := titleCase(body)
			md.MeetingBody = &titled
			break
		}
	}

	if num := deriveOrdinanceNumber(filename); num != "" {
		md.OrdinanceNumber = &num
	} else if text != "" {
		if num := deriveOrdinanceNumber(text); num != "" {
			md.OrdinanceNumber = &num
		}
	}

	return md
}

// deriveExt возвращает расширение файла без точки, lowercase.
func deriveExt(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext
}

// deriveDate выводит (год, месяц, день) из имени файла.
// Порядок: полные числовые даты, затем год + название месяца,
// затем год + числовой месяц рядом, затем одиночный год.
func deriveDate(lower string) (year, month, day *int) {
	// Подчёркивание — словесный символ для \b, заменяем на дефис
	lower = strings.ReplaceAll(lower, "_", "-")

	// YYYY-MM-DD
	if m := dateYMDRe.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if validMonth(mo) && validDay(d) {
			return &y, &mo, &d
		}
		if validMonth(mo) {
			return &y, &mo, nil
		}
		return &y, nil, nil
	}

	// MM-DD-YYYY
	if m := dateMDYRe.FindStringSubmatch(lower); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if validMonth(mo) && validDay(d) {
			return &y, &mo, &d
		}
		if validMonth(mo) {
			return &y, &mo, nil
		}
		return &y, nil, nil
	}

	ym := yearRe.FindStringSubmatch(lower)
	if ym == nil {
		return nil, nil, nil
	}
	y, _ := strconv.Atoi(ym[1])
	year = &y

	// Название месяца в любом месте имени
	for _, token := range splitTokens(lower) {
		if mo, ok := monthNames[token]; ok {
			month = &mo
			return year, month, nil
		}
	}

	// Числовой месяц, примыкающий к году: YYYY_MM или MM.YYYY
	if m := dateYMRe.FindStringSubmatch(lower); m != nil {
		if mo, err := strconv.Atoi(m[2]); err == nil && validMonth(mo) {
			month = &mo
			return year, month, nil
		}
	}
	if m := dateMYRe.FindStringSubmatch(lower); m != nil {
		if mo, err := strconv.Atoi(m[1]); err == nil && validMonth(mo) {
			month = &mo
			return year, month, nil
		}
	}

	return year, nil, nil
}

// deriveOrdinanceNumber ищет номер ордонанса ("Ordinance No. 2023-15",
// "Ord. #114"). Возвращает пустую строку, если не найден.
func deriveOrdinanceNumber(s string) string {
	m := ordinanceRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], "–", "-")
}

func validMonth(m int) bool { return m >= 1 && m <= 12 }
func validDay(d int) bool   { return d >= 1 && d <= 31 }

// splitTokens разбивает имя файла на слова по небуквенно-цифровым
// разделителям.
func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// titleCase переводит фразу в Title Case ("borough council" → "Borough Council").
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
