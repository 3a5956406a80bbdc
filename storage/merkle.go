package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"oracleflow/internal/metrics"
	"oracleflow/logger"
	"oracleflow/models"
)

// MerkleLogger persists round records and folds each one into a running
// hash-chain root. The root is an accumulator, not a list: pruning persisted
// entries never invalidates it. Writes are single-writer serialized.
type MerkleLogger struct {
	basePath   string
	archiveCap int
	log        *logger.Log

	mu          sync.Mutex
	currentRoot string
	rounds      int64
}

// NewMerkleLogger creates the archive directory if needed.
func NewMerkleLogger(basePath string, archiveCap int) (*MerkleLogger, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &MerkleLogger{
		basePath:   basePath,
		archiveCap: archiveCap,
		log:        logger.GetLogger(),
	}, nil
}

// LogRound serializes the record canonically, persists it under its content
// hash and advances the chain root. A persistence failure is a hard error:
// the root is not advanced and the round is not part of the chain.
func (m *MerkleLogger) LogRound(record models.RoundRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, err := CanonicalJSON(record)
	if err != nil {
		return "", fmt.Errorf("failed to serialize round record: %w", err)
	}

	digest := sha256.Sum256(blob)
	contentHash := hex.EncodeToString(digest[:])
	newRoot := combineHash(m.currentRoot, contentHash)

	path := filepath.Join(m.basePath, contentHash+".json")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("failed to persist round record: %w", err)
	}

	m.currentRoot = newRoot
	m.rounds++
	metrics.IncrementChainWrite()
	metrics.SetChainRounds(m.rounds)

	if err := m.prune(); err != nil {
		m.log.WithComponent("merkle_logger").WithError(err).Warn("archive prune failed")
	}

	return m.currentRoot, nil
}

// CurrentRoot returns the latest chain root, or "" before the first round.
func (m *MerkleLogger) CurrentRoot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRoot
}

// combineHash folds a content hash into the previous root using the same
// digest for both steps.
func combineHash(prevRoot, contentHash string) string {
	digest := sha256.Sum256([]byte(prevRoot + contentHash))
	return hex.EncodeToString(digest[:])
}

// prune enforces the archive cap by deleting the oldest persisted entries,
// by modification time ascending. The in-memory root is untouched.
func (m *MerkleLogger) prune() error {
	entries, err := archiveEntries(m.basePath)
	if err != nil {
		return err
	}

	excess := len(entries) - m.archiveCap
	for i := 0; i < excess; i++ {
		if err := os.Remove(entries[i].path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", entries[i].path, err)
		}
	}
	return nil
}

type archiveEntry struct {
	path    string
	modTime int64
}

func archiveEntries(basePath string) ([]archiveEntry, error) {
	paths, err := filepath.Glob(filepath.Join(basePath, "*.json"))
	if err != nil {
		return nil, err
	}

	entries := make([]archiveEntry, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		entries = append(entries, archiveEntry{path: p, modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime != entries[j].modTime {
			return entries[i].modTime < entries[j].modTime
		}
		return entries[i].path < entries[j].path
	})
	return entries, nil
}

// CanonicalJSON serializes v with sorted object keys so identical logical
// content always produces identical bytes. Numbers pass through unmodified
// via json.Number.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
