package service

import "testing"

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func eqIntPtr(a, b *int) bool    { return (a == nil) == (b == nil) && (a == nil || *a == *b) }
func eqStrPtr(a, b *string) bool { return (a == nil) == (b == nil) && (a == nil || *a == *b) }

func TestDeriveMetadata_Filename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		docType  *string
		year     *int
		month    *int
		day      *int
		ext      *string
	}{
		{
			name:     "полная дата YYYY-MM-DD",
			filename: "Agenda_2022-01-12.pdf",
			docType:  strPtr("agenda"),
			year:     intPtr(2022),
			month:    intPtr(1),
			day:      intPtr(12),
			ext:      strPtr("pdf"),
		},
		{
			name:     "дата MM-DD-YYYY",
			filename: "minutes 03-28-2023.docx",
			docType:  strPtr("minutes"),
			year:     intPtr(2023),
			month:    intPtr(3),
			day:      intPtr(28),
			ext:      strPtr("docx"),
		},
		{
			name:     "название месяца рядом с годом",
			filename: "Council Minutes March 2021.pdf",
			docType:  strPtr("minutes"),
			year:     intPtr(2021),
			month:    intPtr(3),
			ext:      strPtr("pdf"),
		},
		{
			name:     "только год",
			filename: "Annual Report 2019.pdf",
			docType:  strPtr("report"),
			year:     intPtr(2019),
			ext:      strPtr("pdf"),
		},
		{
			name:     "числовой месяц через подчёркивание",
			filename: "transcript_2020_07.txt",
			docType:  strPtr("transcript"),
			year:     intPtr(2020),
			month:    intPtr(7),
			ext:      strPtr("txt"),
		},
		{
			name:     "без даты и типа",
			filename: "notes.txt",
			ext:      strPtr("txt"),
		},
		{
			name:     "без расширения",
			filename: "Agenda 2022",
			docType:  strPtr("agenda"),
			year:     intPtr(2022),
		},
		{
			name:     "номер вне диапазона месяцев не считается месяцем",
			filename: "minutes_2021_99.pdf",
			docType:  strPtr("minutes"),
			year:     intPtr(2021),
			ext:      strPtr("pdf"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := DeriveMetadata(tt.filename, "")
			if !eqStrPtr(md.DocType, tt.docType) {
				t.Errorf("DocType: ожидалось %v, получено %v", deref(tt.docType), deref(md.DocType))
			}
			if !eqIntPtr(md.MeetingYear, tt.year) {
				t.Errorf("MeetingYear: ожидалось %v, получено %v", derefInt(tt.year), derefInt(md.MeetingYear))
			}
			if !eqIntPtr(md.MeetingMonth, tt.month) {
				t.Errorf("MeetingMonth: ожидалось %v, получено %v", derefInt(tt.month), derefInt(md.MeetingMonth))
			}
			if !eqIntPtr(md.MeetingDay, tt.day) {
				t.Errorf("MeetingDay: ожидалось %v, получено %v", derefInt(tt.day), derefInt(md.MeetingDay))
			}
			if !eqStrPtr(md.FileExt, tt.ext) {
				t.Errorf("FileExt: ожидалось %v, получено %v", deref(tt.ext), deref(md.FileExt))
			}
		})
	}
}

func TestDeriveMetadata_DocTypePriority(t *testing.T) {
	// При нескольких совпадениях выигрывает приоритет: agenda > minutes
	md := DeriveMetadata("Agenda and Minutes 2022.pdf", "")
	if md.DocType == nil || *md.DocType != "agenda" {
		t.Errorf("ожидался doc_type=agenda, получено %v", deref(md.DocType))
	}
}

func TestDeriveMetadata_OrdinanceNumber(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		text     string
		want     *string
	}{
		{
			name:     "номер из имени файла",
			filename: "Ordinance 2023-15.pdf",
			want:     strPtr("2023-15"),
		},
		{
			name:     "номер с No.",
			filename: "Ordinance No. 114.pdf",
			want:     strPtr("114"),
		},
		{
			name:     "сокращение Ord. с решёткой",
			filename: "Ord. #87-B.pdf",
			want:     strPtr("87-B"),
		},
		{
			name:     "fallback на текст документа",
			filename: "ordinance_signed.pdf",
			text:     "BOROUGH OF EXAMPLE\nORDINANCE NO. 2021-04\nAN ORDINANCE AMENDING...",
			want:     strPtr("2021-04"),
		},
		{
			name:     "номер отсутствует",
			filename: "ordinance_draft.pdf",
			text:     "черновик без номера",
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := DeriveMetadata(tt.filename, tt.text)
			if !eqStrPtr(md.OrdinanceNumber, tt.want) {
				t.Errorf("OrdinanceNumber: ожидалось %v, получено %v", deref(tt.want), deref(md.OrdinanceNumber))
			}
		})
	}
}

func TestDeriveMetadata_MeetingBody(t *testing.T) {
	tests := []struct {
		filename string
		want     *string
	}{
		{"Borough_Council_Minutes_2022.pdf", strPtr("Borough Council")},
		{"planning commission agenda 2023-05-01.pdf", strPtr("Planning Commission")},
		{"Zoning Hearing Board Transcript.pdf", strPtr("Zoning Hearing Board")},
		{"random_document.pdf", nil},
	}

	for _, tt := range tests {
		md := DeriveMetadata(tt.filename, "")
		if !eqStrPtr(md.MeetingBody, tt.want) {
			t.Errorf("%s: MeetingBody ожидалось %v, получено %v",
				tt.filename, deref(tt.want), deref(md.MeetingBody))
		}
	}
}

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func derefInt(p *int) any {
	if p == nil {
		return "<nil>"
	}
	return *p
}
