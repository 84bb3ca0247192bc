package reliability

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoff             time.Time
	riskRows, priceRows int64
	err                error
}

func (f *fakePruner) PruneRetention(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	f.cutoff = olderThan
	return f.riskRows, f.priceRows, f.err
}

type fakeArchiver struct {
	called bool
	key    string
	err    error
}

func (f *fakeArchiver) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (string, int, int, error) {
	f.called = true
	return f.key, 1, 2, f.err
}

func TestRetentionJobPrunesWithoutArchiver(t *testing.T) {
	pruner := &fakePruner{riskRows: 5, priceRows: 10}
	job := NewRetentionJob(pruner, nil, 24*time.Hour, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), pruner.cutoff, time.Second)
}

func TestRetentionJobArchivesBeforePruning(t *testing.T) {
	pruner := &fakePruner{}
	archiver := &fakeArchiver{key: "risk-archive-test.tar.gz"}
	job := NewRetentionJob(pruner, archiver, time.Hour, zerolog.Nop())

	require.NoError(t, job.Run())
	assert.True(t, archiver.called)
}

func TestRetentionJobAbortsPruneWhenArchivalFails(t *testing.T) {
	pruner := &fakePruner{}
	archiver := &fakeArchiver{err: assertErr}
	job := NewRetentionJob(pruner, archiver, time.Hour, zerolog.Nop())

	err := job.Run()
	require.Error(t, err)
	assert.True(t, pruner.cutoff.IsZero())
}

var assertErr = fmtError("archive upload failed")

type fmtError string

func (e fmtError) Error() string { return string(e) }
