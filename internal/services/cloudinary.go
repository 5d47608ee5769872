package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

const evidenceFolder = "shadowmatch/evidence"

// EvidenceUploader stores report evidence and returns its URL.
type EvidenceUploader interface {
	Upload(ctx context.Context, r io.Reader, folder, publicID string) (string, error)
}

type CloudinaryService struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryService(cloudName, apiKey, apiSecret string) (*CloudinaryService, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryService{
		cld: cld,
	}, nil
}

func (s *CloudinaryService) Upload(ctx context.Context, r io.Reader, folder, publicID string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read evidence: %w", err)
	}

	res, err := s.cld.Upload.Upload(ctx, data, uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: "auto", // image, video or raw
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary: %s", res.Error.Message)
	}

	return res.SecureURL, nil
}

// AttachEvidence uploads a file and appends its URL to the report. Evidence
// can be attached to a report whatever its status.
func (s *TrustService) AttachEvidence(ctx context.Context, reportID string, fh *multipart.FileHeader) (*models.ModerationReport, error) {
	if s.evidence == nil {
		return nil, fmt.Errorf("%w: evidence storage not configured", ErrStorage)
	}
	if _, err := s.reports.GetReport(ctx, reportID); err != nil {
		return nil, storageErr("get report", err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, validationf("unreadable upload: %v", err)
	}
	defer f.Close()

	url, err := s.evidence.Upload(ctx, f, evidenceFolder, reportID+"-"+shortID())
	if err != nil {
		return nil, err
	}
	r, err := s.reports.AddEvidence(ctx, reportID, url)
	if err != nil {
		return nil, storageErr("add evidence", err)
	}
	s.log.Info("evidence attached", logger.ReportID(reportID))
	return s.decrypt(r), nil
}

func shortID() string {
	return uuid.NewString()[:8]
}
