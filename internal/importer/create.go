package importer

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/extract"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/storage"
)

// CreateRunInput describes an upload that starts a run.
type CreateRunInput struct {
	OrganizationID string
	UserID         string
	EntrypointType model.EntrypointType
	EntrypointID   string
	Filename       string
	Data           []byte
}

// CreateRun validates an upload, stores the file and queues a run.
func (s *Service) CreateRun(ctx context.Context, in CreateRunInput) (*model.ImportRun, error) {
	if in.OrganizationID == "" || in.EntrypointID == "" {
		return nil, invalid("invalid_input", "organization and entrypoint are required")
	}
	if !in.EntrypointType.Valid() {
		return nil, invalid("invalid_entrypoint_type", "unknown entrypoint type %q", in.EntrypointType)
	}
	if err := s.validateUpload(in.Filename, in.Data); err != nil {
		return nil, err
	}

	switch in.EntrypointType {
	case model.EntrypointCompany:
		c, err := s.store.GetCompany(ctx, in.OrganizationID, in.EntrypointID)
		if err != nil {
			return nil, eris.Wrap(err, "importer: load entrypoint company")
		}
		if c == nil {
			return nil, &Error{Kind: ErrNotFound, Code: CodeCompanyNotFound, Msg: "company not found"}
		}
	case model.EntrypointLocation:
		l, err := s.store.GetLocation(ctx, in.OrganizationID, in.EntrypointID)
		if err != nil {
			return nil, eris.Wrap(err, "importer: load entrypoint location")
		}
		if l == nil {
			return nil, &Error{Kind: ErrNotFound, Code: CodeLocationNotFound, Msg: "location not found"}
		}
	}

	now := s.clock()
	run := &model.ImportRun{
		ID:              s.newID(),
		OrganizationID:  in.OrganizationID,
		CreatedByUserID: in.UserID,
		EntrypointType:  in.EntrypointType,
		EntrypointID:    in.EntrypointID,
		SourceFilename:  filepath.Base(strings.ReplaceAll(in.Filename, `\`, "/")),
		Status:          model.RunStatusUploaded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	run.SourceFilePath = storage.Key(run.OrganizationID, run.ID, run.SourceFilename)

	if _, err := s.storage.Upload(ctx, run.SourceFilePath, bytes.NewReader(in.Data)); err != nil {
		return nil, eris.Wrap(err, "importer: upload source file")
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		if derr := s.storage.Delete(ctx, run.SourceFilePath); derr != nil {
			zap.L().Warn("importer: orphaned upload", zap.String("key", run.SourceFilePath), zap.Error(derr))
		}
		return nil, eris.Wrap(err, "importer: insert run")
	}

	zap.L().Info("importer: run created",
		zap.String("run_id", run.ID),
		zap.String("organization_id", run.OrganizationID),
		zap.String("entrypoint_type", string(run.EntrypointType)),
		zap.String("filename", run.SourceFilename),
		zap.Int("bytes", len(in.Data)),
	)
	return run, nil
}

// validateUpload applies the extension allow-list, the size limit and a
// content sniff so obviously mislabeled files never reach a worker.
func (s *Service) validateUpload(filename string, data []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".xls":
		return invalid(extract.CodeLegacyXLS, "convert the workbook to .xlsx")
	case !extract.SupportedExtension(ext):
		return invalid(extract.CodeUnsupportedFileType, "extension %q is not supported", ext)
	case len(data) == 0:
		return invalid(extract.CodeEmptyFile, "file is empty")
	case s.cfg.MaxFileBytes > 0 && int64(len(data)) > s.cfg.MaxFileBytes:
		return invalid(extract.CodeMaxFileSize, "file exceeds %d bytes", s.cfg.MaxFileBytes)
	}

	want := "application/zip"
	if ext == ".pdf" {
		want = "application/pdf"
	}
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is(want) {
			return nil
		}
	}
	return invalid(extract.CodeUnsupportedFileType, "content of %s does not match its extension", filename)
}
