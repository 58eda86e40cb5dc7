package subsystems

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-satellite/pkg/domain"
	"github.com/core-tools/hsu-satellite/pkg/logging"

	_ "modernc.org/sqlite"
)

//go:embed schema/manifest.sql
var schemaFS embed.FS

type OutputManagerOptions struct {
	StagingDir   string `yaml:"-"`
	OutputDir    string `yaml:"-"`
	ManifestFile string `yaml:"manifest_file,omitempty"`
}

type ManifestEntry struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"file_name"`
	SourcePath  string    `json:"source_path"`
	OutputPath  string    `json:"output_path"`
	SizeBytes   int64     `json:"size_bytes"`
	PublishedAt time.Time `json:"published_at"`
}

// OutputManager moves processed files from staging to the output directory
// and keeps an auditable manifest of everything it published.
type OutputManager struct {
	options OutputManagerOptions
	logger  logging.Logger

	mutex sync.RWMutex
	db    *sql.DB
}

func NewOutputManager(options OutputManagerOptions, logger logging.Logger) *OutputManager {
	if options.ManifestFile == "" {
		options.ManifestFile = filepath.Join(options.OutputDir, "manifest.db")
	}
	return &OutputManager{
		options: options,
		logger:  logger,
	}
}

func (m *OutputManager) ID() domain.UnitID {
	return OutputManagerID
}

func (m *OutputManager) Start(ctx context.Context) error {
	db, err := sql.Open("sqlite", m.options.ManifestFile+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("open manifest %s: %w", m.options.ManifestFile, err)
	}
	// picture engine workers publish concurrently; sqlite takes one writer
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	m.mutex.Lock()
	m.db = db
	m.mutex.Unlock()

	m.logger.Infof("Output manager started, manifest: %s, output: %s", m.options.ManifestFile, m.options.OutputDir)
	return nil
}

func (m *OutputManager) Stop(ctx context.Context) error {
	m.mutex.Lock()
	db := m.db
	m.db = nil
	m.mutex.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}

	m.logger.Infof("Output manager stopped")
	return nil
}

func (m *OutputManager) HealthCheck(ctx context.Context) error {
	db := m.getDB()
	if db == nil {
		return ErrNotRunning
	}
	return db.PingContext(ctx)
}

// Publish moves a staged file into the output directory and records it
func (m *OutputManager) Publish(ctx context.Context, stagingPath string) (ManifestEntry, error) {
	db := m.getDB()
	if db == nil {
		return ManifestEntry{}, ErrNotRunning
	}

	info, err := os.Stat(stagingPath)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("stat staged file: %w", err)
	}
	if info.IsDir() {
		return ManifestEntry{}, fmt.Errorf("staged path %s is a directory", stagingPath)
	}

	fileName := filepath.Base(stagingPath)
	outputPath := filepath.Join(m.options.OutputDir, fileName)

	entry := ManifestEntry{
		FileName:    fileName,
		SourcePath:  stagingPath,
		OutputPath:  outputPath,
		SizeBytes:   info.Size(),
		PublishedAt: time.Now().UTC(),
	}

	// the row and the move succeed or fail together
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("begin manifest transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO manifest (file_name, source_path, output_path, size_bytes, published_at) VALUES (?, ?, ?, ?, ?)`,
		entry.FileName, entry.SourcePath, entry.OutputPath, entry.SizeBytes, entry.PublishedAt.UnixNano())
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("record manifest entry: %w", err)
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return ManifestEntry{}, fmt.Errorf("read manifest entry id: %w", err)
	}

	if err := os.Rename(stagingPath, outputPath); err != nil {
		return ManifestEntry{}, fmt.Errorf("move %s to output: %w", fileName, err)
	}
	if err := tx.Commit(); err != nil {
		if rollbackErr := os.Rename(outputPath, stagingPath); rollbackErr != nil {
			m.logger.Errorf("Failed to return file to staging, file: %s, error: %v", fileName, rollbackErr)
		}
		return ManifestEntry{}, fmt.Errorf("commit manifest entry: %w", err)
	}

	m.logger.Infof("Published output, id: %d, file: %s, size: %d", entry.ID, fileName, entry.SizeBytes)
	return entry, nil
}

// Manifest lists published files in publication order
func (m *OutputManager) Manifest(ctx context.Context) ([]ManifestEntry, error) {
	db := m.getDB()
	if db == nil {
		return nil, ErrNotRunning
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, file_name, source_path, output_path, size_bytes, published_at FROM manifest ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	var entries []ManifestEntry
	for rows.Next() {
		var entry ManifestEntry
		var publishedAt int64
		if err := rows.Scan(&entry.ID, &entry.FileName, &entry.SourcePath, &entry.OutputPath, &entry.SizeBytes, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		entry.PublishedAt = time.Unix(0, publishedAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (m *OutputManager) getDB() *sql.DB {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.db
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema, err := schemaFS.ReadFile("schema/manifest.sql")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply manifest schema: %w", err)
	}
	return nil
}
