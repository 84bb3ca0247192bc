package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

func TestStageFilesProducesNDJSONWithChecksums(t *testing.T) {
	riskMetrics := []domain.RiskMetrics{
		{PositionID: "pos-1", Timestamp: time.Unix(100, 0), Overall: 0.4, Level: domain.LevelMedium, Factors: map[string]float64{"a": 0.1}},
	}
	prices := []domain.ValidatedPrice{
		{Token: domain.TokenRef{Chain: domain.ChainEthereum}, PriceUSD: decimal.NewFromInt(2000), Timestamp: time.Unix(200, 0)},
	}

	staged, files, err := stageFiles(riskMetrics, prices)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	require.Len(t, files, 2)

	for i, f := range files {
		assert.Equal(t, staged[i].name, f.Name)
		assert.Equal(t, int64(len(staged[i].data)), f.SizeBytes)
		assert.NotEmpty(t, f.SHA256)
	}
}

func TestStageFilesSkipsEmptyInputs(t *testing.T) {
	staged, files, err := stageFiles(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Empty(t, files)
}

func TestCreateArchiveWritesReadableTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := dir + "/batch.tar.gz"

	staged := []stagedFile{{name: "risk_metrics.ndjson", data: []byte(`{"a":1}` + "\n")}}
	metadata := BatchMetadata{Timestamp: time.Unix(0, 0), RiskRows: 1}

	require.NoError(t, createArchive(archivePath, staged, metadata))

	data, err := readAllTarEntries(t, archivePath)
	require.NoError(t, err)
	assert.Contains(t, data, "risk_metrics.ndjson")
	assert.Contains(t, data, "batch-metadata.json")
}

func readAllTarEntries(t *testing.T, path string) (map[string][]byte, error) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	out := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}
		out[hdr.Name] = buf.Bytes()
	}
	return out, nil
}
