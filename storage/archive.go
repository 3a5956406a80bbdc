package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "oracleflow/config"
	"oracleflow/logger"
)

// ArchiveManager lists persisted round files and copies them to a backup
// destination, either a local directory or an S3 bucket.
type ArchiveManager struct {
	root string
	log  *logger.Log
}

func NewArchiveManager(root string) (*ArchiveManager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &ArchiveManager{root: root, log: logger.GetLogger()}, nil
}

// List returns the persisted archive files sorted by name.
func (a *ArchiveManager) List() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(a.root, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	return paths, nil
}

// Backup copies every archive file into the destination directory.
func (a *ArchiveManager) Backup(destination string) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	files, err := a.List()
	if err != nil {
		return err
	}

	for _, src := range files {
		if err := copyFile(src, filepath.Join(destination, filepath.Base(src))); err != nil {
			return fmt.Errorf("failed to back up %s: %w", src, err)
		}
	}

	a.log.WithComponent("archive_manager").WithFields(logger.Fields{
		"files":       len(files),
		"destination": destination,
	}).Info("local backup complete")
	return nil
}

// BackupToS3 uploads every archive file to the configured bucket under
// prefix/<backup id>/. Each run gets a fresh id so backups never clobber
// each other.
func (a *ArchiveManager) BackupToS3(ctx context.Context, cfg appconfig.BackupConfig) error {
	if !cfg.Enabled {
		return fmt.Errorf("s3 backup is disabled")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	files, err := a.List()
	if err != nil {
		return err
	}

	backupID := uuid.NewString()
	log := a.log.WithComponent("archive_manager").WithFields(logger.Fields{
		"bucket":    cfg.Bucket,
		"backup_id": backupID,
	})

	for _, src := range files {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", src, err)
		}

		key := path.Join(cfg.Prefix, backupID, filepath.Base(src))
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(cfg.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String("application/json"),
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}

	log.WithFields(logger.Fields{"files": len(files)}).Info("s3 backup complete")
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
