package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// ErrEmptyPath is returned when an upload has no usable storage path.
var ErrEmptyPath = errors.New("storage path is required")

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type assetUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Service stores submission files in Cloudinary under a deterministic path, so a resubmitted
// file replaces the previous one.
type Service struct {
	uploader assetUploader
	folder   string
	logger   zerolog.Logger
}

// New constructs a Cloudinary service instance.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return newService(&cld.Upload, cfg.Folder, logger), nil
}

func newService(up assetUploader, folder string, logger zerolog.Logger) *Service {
	return &Service{
		uploader: up,
		folder:   strings.Trim(folder, "/"),
		logger:   logger.With().Str("component", "cloudinary").Logger(),
	}
}

// Upload stores the content at storagePath (for example "submissions/3/7/report.pdf") and
// returns its secure URL.
func (s *Service) Upload(ctx context.Context, storagePath string, reader io.Reader) (string, error) {
	folder, publicID, err := s.locate(storagePath)
	if err != nil {
		return "", err
	}

	result, err := s.uploader.Upload(ctx, reader, uploader.UploadParams{
		Folder:         folder,
		PublicID:       publicID,
		ResourceType:   "auto",
		Overwrite:      api.Bool(true),
		UniqueFilename: api.Bool(false),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload asset: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("file uploaded to cloudinary")

	return result.SecureURL, nil
}

func (s *Service) locate(storagePath string) (string, string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(storagePath), "\\", "/")
	if normalized == "" || strings.HasSuffix(normalized, "/") {
		return "", "", ErrEmptyPath
	}
	cleaned := strings.Trim(path.Clean("/"+normalized), "/")
	if cleaned == "" {
		return "", "", ErrEmptyPath
	}

	dir, name := path.Split(cleaned)
	publicID := buildPublicID(name)
	if publicID == "" {
		return "", "", ErrEmptyPath
	}

	folder := strings.Trim(path.Join(s.folder, dir), "/")
	return folder, publicID, nil
}

func buildPublicID(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '-'
	}, base)

	return strings.Trim(base, "-")
}
