// Package gdrive mirrors exported summaries into a Google Drive folder as
// Google Docs.
package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const googleDocMimeType = "application/vnd.google-apps.document"

// Syncer uploads a local file under a display name, updating the same
// document when a name is synced again.
type Syncer struct {
	service  *drive.Service
	folderID string
	logger   *slog.Logger

	mu      sync.Mutex
	fileIDs map[string]string
}

func NewSyncer(ctx context.Context, credPath, folderID string, logger *slog.Logger) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewSyncerWithService(svc, folderID, logger), nil
}

func NewSyncerWithService(svc *drive.Service, folderID string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		service:  svc,
		folderID: folderID,
		logger:   logger.With("component", "gdrive"),
		fileIDs:  make(map[string]string),
	}
}

func (s *Syncer) Sync(ctx context.Context, localPath, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := s.fileIDs[name]; ok {
		_, err = s.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("drive update %s: %w", name, err)
		}
		s.logger.Debug("drive document updated", "name", name, "file_id", fileID)
		return nil
	}

	doc, err := s.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: googleDocMimeType,
		Parents:  []string{s.folderID},
	}).Media(f).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", name, err)
	}

	s.fileIDs[name] = doc.Id
	s.logger.Info("drive document created", "name", name, "file_id", doc.Id)
	return nil
}
