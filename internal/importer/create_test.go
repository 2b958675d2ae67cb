package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
)

func zipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><Types/>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCreateRun(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	run, err := f.svc.CreateRun(ctx, CreateRunInput{
		OrganizationID: f.orgID,
		UserID:         f.userID,
		EntrypointType: model.EntrypointCompany,
		EntrypointID:   f.company.ID,
		Filename:       `C:\Users\ana\Inventario 2025.pdf`,
		Data:           pdfBytes,
	})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusUploaded, run.Status)
	assert.Equal(t, "Inventario 2025.pdf", run.SourceFilename)
	assert.Equal(t, storage.Key(f.orgID, run.ID, "Inventario 2025.pdf"), run.SourceFilePath)
	assert.Zero(t, run.ProcessingAttempts)
	assert.Equal(t, t0, run.CreatedAt)

	stored, err := f.objects.Download(ctx, run.SourceFilePath, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, stored)

	got := f.run(t, run.ID)
	assert.Equal(t, run.SourceFilePath, got.SourceFilePath)
	assert.Equal(t, f.userID, got.CreatedByUserID)
}

func TestCreateRun_Rejects(t *testing.T) {
	f := newFixture(t, fixtureOptions{cfg: func(c *Config) { c.MaxFileBytes = 1024 }})
	xlsx := zipBytes(t)

	tests := []struct {
		name string
		in   CreateRunInput
		kind error
		code string
	}{
		{
			name: "legacy xls",
			in:   CreateRunInput{Filename: "viejo.xls", Data: []byte("x")},
			kind: ErrValidation, code: extract.CodeLegacyXLS,
		},
		{
			name: "unsupported extension",
			in:   CreateRunInput{Filename: "notas.txt", Data: []byte("x")},
			kind: ErrValidation, code: extract.CodeUnsupportedFileType,
		},
		{
			name: "empty",
			in:   CreateRunInput{Filename: "vacio.pdf"},
			kind: ErrValidation, code: extract.CodeEmptyFile,
		},
		{
			name: "too large",
			in:   CreateRunInput{Filename: "grande.pdf", Data: append(append([]byte{}, pdfBytes...), make([]byte, 2048)...)},
			kind: ErrValidation, code: extract.CodeMaxFileSize,
		},
		{
			name: "pdf extension on zip content",
			in:   CreateRunInput{Filename: "falso.pdf", Data: xlsx},
			kind: ErrValidation, code: extract.CodeUnsupportedFileType,
		},
		{
			name: "xlsx extension on pdf content",
			in:   CreateRunInput{Filename: "falso.xlsx", Data: pdfBytes},
			kind: ErrValidation, code: extract.CodeUnsupportedFileType,
		},
		{
			name: "unknown company",
			in:   CreateRunInput{EntrypointID: "missing", Filename: "ok.pdf", Data: pdfBytes},
			kind: ErrNotFound, code: CodeCompanyNotFound,
		},
		{
			name: "unknown location",
			in:   CreateRunInput{EntrypointType: model.EntrypointLocation, EntrypointID: "missing", Filename: "ok.pdf", Data: pdfBytes},
			kind: ErrNotFound, code: CodeLocationNotFound,
		},
		{
			name: "bad entrypoint type",
			in:   CreateRunInput{EntrypointType: "site", Filename: "ok.pdf", Data: pdfBytes},
			kind: ErrValidation, code: "invalid_entrypoint_type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.OrganizationID = f.orgID
			if in.EntrypointType == "" {
				in.EntrypointType = model.EntrypointCompany
			}
			if in.EntrypointID == "" {
				in.EntrypointID = f.company.ID
			}
			_, err := f.svc.CreateRun(context.Background(), in)
			require.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.code, ErrorCode(err))
		})
	}

	runs, err := f.svc.ListRuns(context.Background(), f.orgID, model.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCreateRun_AcceptsXLSX(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	run, err := f.svc.CreateRun(context.Background(), CreateRunInput{
		OrganizationID: f.orgID,
		EntrypointType: model.EntrypointCompany,
		EntrypointID:   f.company.ID,
		Filename:       "inventario.xlsx",
		Data:           zipBytes(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "inventario.xlsx", run.SourceFilename)
}

func TestCreateRun_CrossTenantEntrypoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.svc.CreateRun(context.Background(), CreateRunInput{
		OrganizationID: "org-other",
		EntrypointType: model.EntrypointCompany,
		EntrypointID:   f.company.ID,
		Filename:       "inventario.pdf",
		Data:           pdfBytes,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

// brokenStorage fails selected operations and passes the rest through.
type brokenStorage struct {
	storage.Storage
	upload error
	delete error
}

func (b *brokenStorage) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	if b.upload != nil {
		return 0, b.upload
	}
	return b.Storage.Upload(ctx, key, r)
}

func (b *brokenStorage) Delete(ctx context.Context, key string) error {
	if b.delete != nil {
		return b.delete
	}
	return b.Storage.Delete(ctx, key)
}

func TestCreateRun_UploadFailure(t *testing.T) {
	broken := &brokenStorage{upload: errors.New("bucket unavailable")}
	f := newFixture(t, fixtureOptions{wrapStorage: func(s storage.Storage) storage.Storage {
		broken.Storage = s
		return broken
	}})

	_, err := f.svc.CreateRun(context.Background(), CreateRunInput{
		OrganizationID: f.orgID,
		EntrypointType: model.EntrypointCompany,
		EntrypointID:   f.company.ID,
		Filename:       "inventario.pdf",
		Data:           pdfBytes,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)

	runs, err := f.svc.ListRuns(context.Background(), f.orgID, model.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
