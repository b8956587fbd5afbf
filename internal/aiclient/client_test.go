package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(srv.URL, "test-key", "gpt-4o-mini", 5*time.Second, logger), srv
}

func TestUploadFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/files" {
			t.Errorf("неожиданный запрос: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("неожиданный Authorization: %s", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ошибка разбора multipart: %v", err)
		}
		if purpose := r.FormValue("purpose"); purpose != "assistants" {
			t.Errorf("ожидался purpose=assistants, получено %s", purpose)
		}
		_ = json.NewEncoder(w).Encode(UploadedFile{ID: "file-abc", Filename: "doc.pdf", Bytes: 3})
	}))

	uploaded, err := client.UploadFile(context.Background(), "doc.pdf", []byte("pdf"))
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if uploaded.ID != "file-abc" {
		t.Errorf("ожидался id=file-abc, получено %s", uploaded.ID)
	}
}

func TestDeleteFile_NotFoundTolerated(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	// 404 — файл уже удалён, не ошибка
	if err := client.DeleteFile(context.Background(), "file-gone"); err != nil {
		t.Fatalf("404 должен трактоваться как успех, получено: %v", err)
	}
}

func TestAttachFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vector_stores/vs_1/files" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["file_id"] != "file-abc" {
			t.Errorf("ожидался file_id=file-abc, получено %s", body["file_id"])
		}
		_ = json.NewEncoder(w).Encode(VectorStoreFile{ID: "vsf_1", Status: "completed"})
	}))

	vsFile, err := client.AttachFile(context.Background(), "vs_1", "file-abc")
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if vsFile.ID != "vsf_1" {
		t.Errorf("ожидался id=vsf_1, получено %s", vsFile.ID)
	}
}

func TestListVectorStoreFiles_Pagination(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		switch after {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"file-1","status":"completed"},{"id":"file-2","status":"completed"}],"has_more":true,"last_id":"file-2"}`)
		case "file-2":
			fmt.Fprint(w, `{"data":[{"id":"file-3","status":"failed"}],"has_more":false,"last_id":"file-3"}`)
		default:
			t.Errorf("неожиданный курсор: %s", after)
		}
	}))

	files, err := client.ListVectorStoreFiles(context.Background(), "vs_1")
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("ожидалось 3 файла, получено %d", len(files))
	}
	if files[2].FileID != "file-3" || files[2].Status != "failed" {
		t.Errorf("неожиданный третий элемент: %+v", files[2])
	}
}

func TestGenerateProfile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("ожидался response_format json_object")
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"summary\":\"Заседание совета.\",\"keywords\":[\"budget\"],\"entities\":{\"people\":[\"J. Smith\"],\"organizations\":[],\"locations\":[],\"dates\":[\"2022-01-12\"]}}"}}]}`)
	}))

	profile, err := client.GenerateProfile(context.Background(), "minutes.pdf", "текст документа")
	if err != nil {
		t.Fatalf("ожидался успех, получена ошибка: %v", err)
	}
	if profile.Summary == "" || len(profile.Keywords) != 1 {
		t.Errorf("неожиданный профиль: %+v", profile)
	}
	if len(profile.Entities.People) != 1 || profile.Entities.People[0] != "J. Smith" {
		t.Errorf("неожиданные сущности: %+v", profile.Entities)
	}
}

func TestGenerateProfile_FallbackWithoutJSONMode(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"response_format not supported"}}`)
			return
		}
		// Модель без json_mode может обернуть ответ в code fence
		fmt.Fprint(w, `{"choices":[{"message":{"content":"`+"```json\\n"+`{\"summary\":\"s\",\"keywords\":[],\"entities\":{\"people\":[],\"organizations\":[],\"locations\":[],\"dates\":[]}}\n`+"```"+`"}}]}`)
	}))

	profile, err := client.GenerateProfile(context.Background(), "doc.pdf", "текст")
	if err != nil {
		t.Fatalf("ожидался успех после fallback, получена ошибка: %v", err)
	}
	if calls != 2 {
		t.Errorf("ожидалось 2 запроса, получено %d", calls)
	}
	if profile.Summary != "s" {
		t.Errorf("неожиданный summary: %q", profile.Summary)
	}
}
