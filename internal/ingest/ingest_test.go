// Copyright 2025 James Ross
package ingest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLineSplitsArtistTitleAlbum(t *testing.T) {
	c := parseLine("Daft Punk - One More Time - Discovery")
	assert.Equal(t, "Daft Punk", c.artist)
	assert.Equal(t, "One More Time", c.title)
	assert.Equal(t, "Discovery", c.album)
}

func TestNormalizeAndDedupCollapsesCaseAndAccentVariants(t *testing.T) {
	candidates := []candidate{
		{raw: "a", sourceType: "line", artist: "Beyoncé", title: "Halo"},
		{raw: "b", sourceType: "line", artist: "beyonce", title: "HALO"},
	}
	kept, skipped := normalizeAndDedup(candidates)
	assert.Len(t, kept, 1)
	assert.Len(t, skipped, 1)
}

func TestEnforceCapsRejectsBeyondHardCap(t *testing.T) {
	svc := &Service{cfg: config.Ingest{FreeImportMaxLines: 10, FreeImportHardCapMultiplier: 2}}
	lines := make([]string, 21)
	err := svc.enforceCaps(ModePro, lines, nil, nil)
	assert.Error(t, err)
}

func TestEnforceCapsRejectsFreeTierOverSoftLimit(t *testing.T) {
	svc := &Service{cfg: config.Ingest{FreeImportMaxLines: 10, FreeImportHardCapMultiplier: 4}}
	lines := make([]string, 15)
	err := svc.enforceCaps(ModeFree, lines, nil, nil)
	assert.Error(t, err)
}

func TestEnforceCapsAllowsProTierOverSoftLimit(t *testing.T) {
	svc := &Service{cfg: config.Ingest{FreeImportMaxLines: 10, FreeImportHardCapMultiplier: 4}}
	lines := make([]string, 15)
	err := svc.enforceCaps(ModePro, lines, nil, nil)
	assert.NoError(t, err)
}

func TestSubmitPersistsJobAndItemsAndEnqueuesMatching(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	store := queue.New(sqlxDB, zap.NewNop())
	svc := New(sqlxDB, store, config.Ingest{
		FreeImportMaxLines: 100, FreeImportHardCapMultiplier: 4, BatchSize: 50, MaxPendingJobs: 500,
	}, zap.NewNop())

	mock.ExpectExec(`INSERT INTO ingest_jobs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ingest_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT job_type, count\(\*\) FROM queue_jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"job_type", "count"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM queue_jobs`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO queue_jobs`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	resp, err := svc.Submit(context.Background(), Request{
		Mode:  ModeFree,
		Lines: []string{"Daft Punk - One More Time"},
	})

	require.NoError(t, err)
	assert.Len(t, resp.Accepted, 1)
	assert.NotEmpty(t, resp.JobID)
}
