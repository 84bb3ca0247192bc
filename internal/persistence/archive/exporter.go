package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/domain"
)

// Exporter is the read side of the Persistence Facade the archiver needs:
// retention-expired rows, read (never deleted) ahead of pruning.
type Exporter interface {
	ExportRiskMetricsOlderThan(ctx context.Context, olderThan time.Time) ([]domain.RiskMetrics, error)
	ExportPriceHistoryOlderThan(ctx context.Context, olderThan time.Time) ([]domain.ValidatedPrice, error)
}

// BatchMetadata records what went into one archive batch, mirroring the
// teacher's backup-metadata.json so a restore knows what it's looking at
// without re-deriving it from file sizes.
type BatchMetadata struct {
	Timestamp     time.Time      `json:"timestamp"`
	RiskRows      int            `json:"risk_rows"`
	PriceRows     int            `json:"price_rows"`
	Files         []FileMetadata `json:"files"`
}

// FileMetadata records one staged file's size and checksum.
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// Archiver stages retention-expired rows into a tar.gz batch, checksums its
// contents, and uploads it to cold storage. Rows are exported, not deleted:
// the caller runs Facade.PruneRetention only after a successful upload.
type Archiver struct {
	exporter Exporter
	client   *Client
	stageDir string
	log      zerolog.Logger
}

// NewArchiver wires an Exporter (the sqlite Store) to an upload Client.
// stageDir holds the transient tar.gz before upload; it's removed afterward.
func NewArchiver(exporter Exporter, client *Client, stageDir string, log zerolog.Logger) *Archiver {
	return &Archiver{
		exporter: exporter,
		client:   client,
		stageDir: stageDir,
		log:      log.With().Str("component", "persistence.archive").Logger(),
	}
}

// ArchiveOlderThan exports rows older than cutoff, bundles them into a
// single tar.gz batch, and uploads it under a timestamped key. It returns
// the uploaded object key and the row counts so the caller can decide
// whether pruning is safe.
func (a *Archiver) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (key string, riskRows, priceRows int, err error) {
	riskMetrics, err := a.exporter.ExportRiskMetricsOlderThan(ctx, cutoff)
	if err != nil {
		return "", 0, 0, fmt.Errorf("export risk metrics: %w", err)
	}
	prices, err := a.exporter.ExportPriceHistoryOlderThan(ctx, cutoff)
	if err != nil {
		return "", 0, 0, fmt.Errorf("export price history: %w", err)
	}

	if len(riskMetrics) == 0 && len(prices) == 0 {
		a.log.Debug().Time("cutoff", cutoff).Msg("no retention-expired rows to archive")
		return "", 0, 0, nil
	}

	if err := os.MkdirAll(a.stageDir, 0o755); err != nil {
		return "", 0, 0, fmt.Errorf("create staging dir: %w", err)
	}

	timestamp := cutoff.UTC().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("risk-archive-%s.tar.gz", timestamp)
	archivePath := filepath.Join(a.stageDir, archiveName)
	defer func() { _ = os.Remove(archivePath) }()

	staged, files, err := stageFiles(riskMetrics, prices)
	if err != nil {
		return "", 0, 0, err
	}

	metadata := BatchMetadata{
		Timestamp: cutoff,
		RiskRows:  len(riskMetrics),
		PriceRows: len(prices),
		Files:     files,
	}

	if err := createArchive(archivePath, staged, metadata); err != nil {
		return "", 0, 0, fmt.Errorf("create archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := a.client.Upload(ctx, archiveName, archiveFile, info.Size()); err != nil {
		return "", 0, 0, fmt.Errorf("upload archive: %w", err)
	}

	a.log.Info().
		Str("archive", archiveName).
		Int("risk_rows", len(riskMetrics)).
		Int("price_rows", len(prices)).
		Int64("size_bytes", info.Size()).
		Msg("archived retention-expired rows to cold storage")

	return archiveName, len(riskMetrics), len(prices), nil
}

// stagedFile is an in-memory payload plus the name it's recorded under.
type stagedFile struct {
	name string
	data []byte
}

func stageFiles(riskMetrics []domain.RiskMetrics, prices []domain.ValidatedPrice) ([]stagedFile, []FileMetadata, error) {
	var staged []stagedFile

	if len(riskMetrics) > 0 {
		data, err := encodeNDJSON(riskMetrics)
		if err != nil {
			return nil, nil, fmt.Errorf("encode risk metrics: %w", err)
		}
		staged = append(staged, stagedFile{name: "risk_metrics.ndjson", data: data})
	}

	if len(prices) > 0 {
		data, err := encodeNDJSON(prices)
		if err != nil {
			return nil, nil, fmt.Errorf("encode price history: %w", err)
		}
		staged = append(staged, stagedFile{name: "price_history.ndjson", data: data})
	}

	files := make([]FileMetadata, 0, len(staged))
	for _, f := range staged {
		sum := sha256.Sum256(f.data)
		files = append(files, FileMetadata{
			Name:      f.name,
			SizeBytes: int64(len(f.data)),
			SHA256:    hex.EncodeToString(sum[:]),
		})
	}
	return staged, files, nil
}

func encodeNDJSON[T any](rows []T) ([]byte, error) {
	var buf []byte
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// createArchive tars the staged NDJSON payloads plus the metadata file and
// gzips the result, following the same staging-directory-then-tar.gz shape
// the teacher's backup service uses for whole database files.
func createArchive(archivePath string, staged []stagedFile, metadata BatchMetadata) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}

	for _, f := range staged {
		if err := writeTarEntry(tw, f.name, f.data); err != nil {
			return err
		}
	}
	return writeTarEntry(tw, "batch-metadata.json", metadataJSON)
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644, ModTime: time.Now()}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
