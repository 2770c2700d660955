// Package reliability provides scheduled database backups to S3-compatible
// object storage.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupService archives the database file and uploads it to a bucket. Runs
// nightly from the scheduler; disabled when no bucket is configured.
type BackupService struct {
	bucket   string
	endpoint string
	region   string
	dbPath   string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// backupManifest describes one archive's contents
type backupManifest struct {
	Timestamp time.Time `json:"timestamp"`
	Files     []struct {
		Name      string `json:"name"`
		SizeBytes int64  `json:"size_bytes"`
		Checksum  string `json:"checksum"`
	} `json:"files"`
}

// NewBackupService creates the backup service. Returns nil (disabled) when
// bucket is empty.
func NewBackupService(bucket, endpoint, region, dbPath string, log zerolog.Logger) (*BackupService, error) {
	if bucket == "" {
		return nil, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &BackupService{
		bucket:   bucket,
		endpoint: endpoint,
		region:   region,
		dbPath:   dbPath,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Name is the label the scheduler logs this job under
func (s *BackupService) Name() string { return "database_backup" }

// Run creates the archive and uploads it
func (s *BackupService) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return s.CreateAndUpload(ctx)
}

// CreateAndUpload builds a gzip tar of the database plus a checksum manifest
// and uploads it under backups/<timestamp>.tar.gz.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting database backup")

	stagingDir, err := os.MkdirTemp("", "naga7-backup-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	archivePath := filepath.Join(stagingDir, "backup.tar.gz")
	manifest, err := s.buildArchive(archivePath)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("backups/%s.tar.gz", start.UTC().Format("20060102-150405"))
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Int("files", len(manifest.Files)).
		Dur("took", time.Since(start)).
		Msg("Backup uploaded")
	return nil
}

// buildArchive writes the gzip tar and returns its manifest. The manifest is
// embedded in the archive as manifest.json.
func (s *BackupService) buildArchive(archivePath string) (*backupManifest, error) {
	manifest := &backupManifest{Timestamp: time.Now().UTC()}

	// Database plus its WAL sidecars, whichever exist
	var files []string
	for _, candidate := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no database files found at %s", s.dbPath)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		checksum, err := fileChecksum(path)
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, struct {
			Name      string `json:"name"`
			SizeBytes int64  `json:"size_bytes"`
			Checksum  string `json:"checksum"`
		}{Name: filepath.Base(path), SizeBytes: info.Size(), Checksum: checksum})

		if err := addFile(tw, path, info); err != nil {
			return nil, err
		}
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "manifest.json",
		Mode:    0644,
		Size:    int64(len(manifestJSON)),
		ModTime: manifest.Timestamp,
	}); err != nil {
		return nil, fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return manifest, nil
}

func addFile(tw *tar.Writer, path string, info os.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", path, err)
	}
	header.Name = filepath.Base(path)
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
