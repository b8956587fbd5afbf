package service

import (
	"context"

	"github.com/civicarchive/ingest-module/internal/aiclient"
	"github.com/civicarchive/ingest-module/internal/domain/model"
	"github.com/civicarchive/ingest-module/internal/repository"
)

// --- Mock repositories и клиенты для unit-тестов ---

// mockLinkRepo — мок LinkRepository.
type mockLinkRepo struct {
	listCandidatesFn           func(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error)
	listUnprofiledCandidatesFn func(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error)
	getFn                      func(ctx context.Context, workspaceID, fileID string) (*model.WorkspaceFileLink, error)
	markIngestedFn             func(ctx context.Context, workspaceID, fileID string, res repository.IngestResult) error
	recordFailureFn            func(ctx context.Context, workspaceID, fileID string, maxRetries int) (int, bool, error)
	saveProfileFn              func(ctx context.Context, workspaceID, fileID string, upd repository.ProfileUpdate) error
	softDeleteFn               func(ctx context.Context, workspaceID, fileID string) error
	resetIngestStateFn         func(ctx context.Context, workspaceID string) (int64, error)
	countsFn                   func(ctx context.Context, workspaceID string) (*repository.LinkCounts, error)
	ingestedRemoteRefsFn       func(ctx context.Context, workspaceID string) ([]repository.RemoteRef, error)
	listMetadataGapsFn         func(ctx context.Context, workspaceID string, limit, offset int) ([]*model.EligibleLink, error)
	updateDerivedMetadataFn    func(ctx context.Context, workspaceID, fileID string, upd repository.MetadataUpdate) error
}

func (m *mockLinkRepo) ListCandidates(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error) {
	if m.listCandidatesFn != nil {
		return m.listCandidatesFn(ctx, workspaceID, limit)
	}
	return nil, nil
}

func (m *mockLinkRepo) ListUnprofiledCandidates(ctx context.Context, workspaceID string, limit int) ([]*model.EligibleLink, error) {
	if m.listUnprofiledCandidatesFn != nil {
		return m.listUnprofiledCandidatesFn(ctx, workspaceID, limit)
	}
	return nil, nil
}

func (m *mockLinkRepo) Get(ctx context.Context, workspaceID, fileID string) (*model.WorkspaceFileLink, error) {
	if m.getFn != nil {
		return m.getFn(ctx, workspaceID, fileID)
	}
	return nil, repository.ErrNotFound
}

func (m *mockLinkRepo) MarkIngested(ctx context.Context, workspaceID, fileID string, res repository.IngestResult) error {
	if m.markIngestedFn != nil {
		return m.markIngestedFn(ctx, workspaceID, fileID, res)
	}
	return nil
}

func (m *mockLinkRepo) RecordFailure(ctx context.Context, workspaceID, fileID string, maxRetries int) (int, bool, error) {
	if m.recordFailureFn != nil {
		return m.recordFailureFn(ctx, workspaceID, fileID, maxRetries)
	}
	return 1, false, nil
}

func (m *mockLinkRepo) SaveProfile(ctx context.Context, workspaceID, fileID string, upd repository.ProfileUpdate) error {
	if m.saveProfileFn != nil {
		return m.saveProfileFn(ctx, workspaceID, fileID, upd)
	}
	return nil
}

func (m *mockLinkRepo) SoftDelete(ctx context.Context, workspaceID, fileID string) error {
	if m.softDeleteFn != nil {
		return m.softDeleteFn(ctx, workspaceID, fileID)
	}
	return nil
}

func (m *mockLinkRepo) ResetIngestState(ctx context.Context, workspaceID string) (int64, error) {
	if m.resetIngestStateFn != nil {
		return m.resetIngestStateFn(ctx, workspaceID)
	}
	return 0, nil
}

func (m *mockLinkRepo) Counts(ctx context.Context, workspaceID string) (*repository.LinkCounts, error) {
	if m.countsFn != nil {
		return m.countsFn(ctx, workspaceID)
	}
	return &repository.LinkCounts{}, nil
}

func (m *mockLinkRepo) IngestedRemoteRefs(ctx context.Context, workspaceID string) ([]repository.RemoteRef, error) {
	if m.ingestedRemoteRefsFn != nil {
		return m.ingestedRemoteRefsFn(ctx, workspaceID)
	}
	return nil, nil
}

func (m *mockLinkRepo) ListMetadataGaps(ctx context.Context, workspaceID string, limit, offset int) ([]*model.EligibleLink, error) {
	if m.listMetadataGapsFn != nil {
		return m.listMetadataGapsFn(ctx, workspaceID, limit, offset)
	}
	return nil, nil
}

func (m *mockLinkRepo) UpdateDerivedMetadata(ctx context.Context, workspaceID, fileID string, upd repository.MetadataUpdate) error {
	if m.updateDerivedMetadataFn != nil {
		return m.updateDerivedMetadataFn(ctx, workspaceID, fileID, upd)
	}
	return nil
}

// mockStoreRepo — мок StoreRepository.
type mockStoreRepo struct {
	vectorStoreIDFn      func(ctx context.Context, workspaceID string) (string, error)
	labelVectorStoreIDFn func(ctx context.Context, workspaceID, label string) (string, error)
}

func (m *mockStoreRepo) VectorStoreID(ctx context.Context, workspaceID string) (string, error) {
	if m.vectorStoreIDFn != nil {
		return m.vectorStoreIDFn(ctx, workspaceID)
	}
	return "vs_default", nil
}

func (m *mockStoreRepo) LabelVectorStoreID(ctx context.Context, workspaceID, label string) (string, error) {
	if m.labelVectorStoreIDFn != nil {
		return m.labelVectorStoreIDFn(ctx, workspaceID, label)
	}
	return "", repository.ErrNotFound
}

// mockAIClient — мок AIClient.
type mockAIClient struct {
	uploadFileFn           func(ctx context.Context, filename string, content []byte) (*aiclient.UploadedFile, error)
	deleteFileFn           func(ctx context.Context, fileID string) error
	attachFileFn           func(ctx context.Context, vectorStoreID, fileID string) (*aiclient.VectorStoreFile, error)
	detachFileFn           func(ctx context.Context, vectorStoreID, vsFileID string) error
	listVectorStoreFilesFn func(ctx context.Context, vectorStoreID string) ([]aiclient.VectorStoreFile, error)
	generateProfileFn      func(ctx context.Context, filename, text string) (*aiclient.DocumentProfile, error)
}

func (m *mockAIClient) UploadFile(ctx context.Context, filename string, content []byte) (*aiclient.UploadedFile, error) {
	if m.uploadFileFn != nil {
		return m.uploadFileFn(ctx, filename, content)
	}
	return &aiclient.UploadedFile{ID: "file-mock"}, nil
}

func (m *mockAIClient) DeleteFile(ctx context.Context, fileID string) error {
	if m.deleteFileFn != nil {
		return m.deleteFileFn(ctx, fileID)
	}
	return nil
}

func (m *mockAIClient) AttachFile(ctx context.Context, vectorStoreID, fileID string) (*aiclient.VectorStoreFile, error) {
	if m.attachFileFn != nil {
		return m.attachFileFn(ctx, vectorStoreID, fileID)
	}
	return &aiclient.VectorStoreFile{ID: "vsf-mock", Status: "completed"}, nil
}

func (m *mockAIClient) DetachFile(ctx context.Context, vectorStoreID, vsFileID string) error {
	if m.detachFileFn != nil {
		return m.detachFileFn(ctx, vectorStoreID, vsFileID)
	}
	return nil
}

func (m *mockAIClient) ListVectorStoreFiles(ctx context.Context, vectorStoreID string) ([]aiclient.VectorStoreFile, error) {
	if m.listVectorStoreFilesFn != nil {
		return m.listVectorStoreFilesFn(ctx, vectorStoreID)
	}
	return nil, nil
}

func (m *mockAIClient) GenerateProfile(ctx context.Context, filename, text string) (*aiclient.DocumentProfile, error) {
	if m.generateProfileFn != nil {
		return m.generateProfileFn(ctx, filename, text)
	}
	return &aiclient.DocumentProfile{Summary: "mock"}, nil
}

// mockDownloader — мок Downloader.
type mockDownloader struct {
	downloadFn func(ctx context.Context, path string) ([]byte, error)
}

func (m *mockDownloader) Download(ctx context.Context, path string) ([]byte, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, path)
	}
	return []byte("содержимое"), nil
}
