package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketgps/core/internal/database"
)

const (
	backupPrefix     = "marketgps-backup-"
	backupTimeLayout = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// BackupMetadata describes one snapshot archive.
type BackupMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one file inside a snapshot.
type FileMetadata struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes a stored snapshot.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// SnapshotService archives the relational store plus the bar files into one
// tar.gz and ships it to object storage. The SQLite WAL is checkpointed
// first so the copied file is self-contained.
type SnapshotService struct {
	store   ObjectStore
	db      *database.DB
	barDirs []string
	dataDir string
	log     zerolog.Logger
}

// NewSnapshotService creates the snapshot backup service.
func NewSnapshotService(store ObjectStore, db *database.DB, barDirs []string, dataDir string, log zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		store:   store,
		db:      db,
		barDirs: barDirs,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload builds a snapshot archive and uploads it. Returns the
// archive name.
func (s *SnapshotService) CreateAndUpload(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting snapshot backup")
	start := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	// Flush the WAL so the database file alone is a complete snapshot.
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint before backup failed")
	}

	metadata := BackupMetadata{Timestamp: time.Now().UTC()}

	files := []string{s.db.Path()}
	for _, dir := range s.barDirs {
		barFiles, err := filepath.Glob(filepath.Join(dir, "*.mpk"))
		if err != nil {
			return "", fmt.Errorf("failed to list bar files in %s: %w", dir, err)
		}
		files = append(files, barFiles...)
	}

	archiveName := backupPrefix + metadata.Timestamp.Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := s.createArchive(archivePath, files, &metadata); err != nil {
		return "", err
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	info, _ := os.Stat(archivePath)
	var sizeMB int64
	if info != nil {
		sizeMB = info.Size() / 1024 / 1024
	}
	s.log.Info().
		Str("archive", archiveName).
		Int("files", len(metadata.Files)).
		Int64("size_mb", sizeMB).
		Dur("took", time.Since(start)).
		Msg("Snapshot backup completed")
	return archiveName, nil
}

// ListBackups lists stored snapshots, newest first.
func (s *SnapshotService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, backupPrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, backupPrefix), ".tar.gz")
		ts, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			s.log.Warn().Str("filename", obj.Key).Msg("Unparseable backup filename")
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes snapshots older than the retention period while
// always keeping the newest minBackupsToKeep. retentionDays 0 keeps
// everything.
func (s *SnapshotService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep || retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", backup.Filename).Msg("Deleted old backup")
		deleted++
	}
	return deleted, nil
}

// createArchive writes the files plus a metadata entry into a tar.gz.
func (s *SnapshotService) createArchive(archivePath string, files []string, metadata *BackupMetadata) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		name, err := filepath.Rel(s.dataDir, path)
		if err != nil || strings.HasPrefix(name, "..") {
			name = filepath.Base(path)
		}
		size, checksum, err := s.addFile(tw, path, name)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		metadata.Files = append(metadata.Files, FileMetadata{
			Path:      name,
			SizeBytes: size,
			Checksum:  checksum,
		})
	}

	raw, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup metadata: %w", err)
	}
	header := &tar.Header{
		Name:    "backup-metadata.json",
		Size:    int64(len(raw)),
		Mode:    0o644,
		ModTime: metadata.Timestamp,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	if _, err := tw.Write(raw); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *SnapshotService) addFile(tw *tar.Writer, path, nameInArchive string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, "", err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return 0, "", err
	}

	hash := sha256.New()
	if _, err := io.Copy(tw, io.TeeReader(file, hash)); err != nil {
		return 0, "", err
	}
	return info.Size(), fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}
