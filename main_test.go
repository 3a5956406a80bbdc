package main

import (
	"os"
	"path/filepath"
	"testing"

	"oracleflow/config"
	"oracleflow/logger"
	"oracleflow/storage"
)

func TestShutdownBackupDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deadbeef.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to seed archive file: %v", err)
	}

	archive, err := storage.NewArchiveManager(dir)
	if err != nil {
		t.Fatalf("NewArchiveManager failed: %v", err)
	}

	// Must return without attempting any upload.
	shutdownBackup(archive, config.BackupConfig{Enabled: false}, logger.GetLogger())
}
