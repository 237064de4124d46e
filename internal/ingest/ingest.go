// Copyright 2025 James Ross
// Package ingest implements the Ingest Service (C10): normalizes and
// deduplicates user-supplied track lines and playlist links into
// IngestJob/IngestItem rows, then enqueues matching batches with
// backpressure against the configured pending-job ceiling.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/bozzfozz/harmony-sub001/internal/config"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Mode is the submission tier; PRO unlocks playlist-link expansion.
type Mode string

const (
	ModeFree Mode = "FREE"
	ModePro  Mode = "PRO"
)

// Upload is raw file content accompanying a submission.
type Upload struct {
	ContentType string
	Bytes       []byte
}

// Request is one user ingest submission.
type Request struct {
	Mode   Mode
	Lines  []string
	Links  []string
	Upload *Upload
}

// ItemResult is one parsed-and-classified candidate in the response.
type ItemResult struct {
	Raw    string
	Reason string
}

// Response distinguishes accepted from skipped candidates; a mixed
// outcome is a partial success.
type Response struct {
	JobID     string
	Accepted  []ItemResult
	Skipped   []ItemResult
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Service is the Ingest Service. It owns no goroutines; Submit runs to
// completion synchronously within the caller's request.
type Service struct {
	db    *sqlx.DB
	store *queue.Store
	cfg   config.Ingest
	log   *zap.Logger
}

func New(db *sqlx.DB, store *queue.Store, cfg config.Ingest, log *zap.Logger) *Service {
	return &Service{db: db, store: store, cfg: cfg, log: log}
}

// candidate is a parsed-but-not-yet-persisted track or playlist line.
type candidate struct {
	raw        string
	sourceType string // "line" (typed or from an upload) or "link"
	artist     string
	title      string
	album      string
}

// Submit parses req into candidate tracks and playlist links, enforces
// the free-tier caps, normalizes and dedups, persists an IngestJob with
// its IngestItems, and enqueues matching (and, in PRO mode,
// playlist_expand) batches.
func (s *Service) Submit(ctx context.Context, req Request) (Response, error) {
	lines := req.Lines
	if req.Upload != nil {
		parsed, err := parseUpload(*req.Upload)
		if err != nil {
			return Response{}, fmt.Errorf("parse upload: %w", err)
		}
		lines = append(lines, parsed...)
	}

	if err := s.enforceCaps(req.Mode, lines, req.Links, req.Upload); err != nil {
		return Response{}, err
	}

	candidates := make([]candidate, 0, len(lines)+len(req.Links))
	for _, l := range lines {
		candidates = append(candidates, parseLine(l))
	}
	for _, link := range req.Links {
		candidates = append(candidates, candidate{raw: link, sourceType: "link"})
	}

	normalized, skipped := normalizeAndDedup(candidates)

	jobID := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, source_mode, state, counts)
		VALUES ($1, $2, 'registered', $3)`,
		jobID, string(req.Mode), countsJSON(len(normalized), len(skipped))); err != nil {
		return Response{}, fmt.Errorf("insert ingest job: %w", err)
	}

	accepted := make([]ItemResult, 0, len(normalized))
	itemIDs := make([]string, 0, len(normalized))
	for _, c := range normalized {
		itemID := uuid.NewString()
		normalizedJSON, _ := json.Marshal(map[string]string{
			"artist": c.artist, "title": c.title, "album": c.album,
		})
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO ingest_items (id, ingest_job_id, source_type, raw, normalized, state)
			VALUES ($1, $2, $3, $4, $5, 'normalized')`,
			itemID, jobID, c.sourceType, c.raw, normalizedJSON); err != nil {
			return Response{}, fmt.Errorf("insert ingest item: %w", err)
		}
		itemIDs = append(itemIDs, itemID)
		accepted = append(accepted, ItemResult{Raw: c.raw})
	}

	skippedResults := make([]ItemResult, 0, len(skipped))
	for _, c := range skipped {
		skippedResults = append(skippedResults, ItemResult{Raw: c.raw, Reason: "duplicate"})
	}

	if err := s.enqueueBatches(ctx, itemIDs); err != nil {
		return Response{}, fmt.Errorf("enqueue matching batches: %w", err)
	}

	if req.Mode == ModePro {
		for _, c := range normalized {
			if c.sourceType != "link" {
				continue
			}
			payload, _ := json.Marshal(map[string]string{"playlist_link": c.raw, "ingest_job_id": jobID})
			if _, _, err := s.store.Enqueue(ctx, "playlist_expand", payload, queue.EnqueueOptions{}); err != nil {
				s.log.Warn("playlist_expand enqueue failed", obs.Err(err))
			}
		}
	}

	s.log.Info("ingest.submit", obs.String("job_id", jobID), obs.Int("accepted", len(accepted)), obs.Int("skipped", len(skippedResults)))
	return Response{JobID: jobID, Accepted: accepted, Skipped: skippedResults}, nil
}

// enforceCaps applies the absolute fuses: a HARD_CAP_MULTIPLIER beyond
// the soft free-tier limits always rejects outright, regardless of mode.
func (s *Service) enforceCaps(mode Mode, lines, links []string, upload *Upload) error {
	hardLines := s.cfg.FreeImportMaxLines * s.cfg.FreeImportHardCapMultiplier
	if len(lines) > hardLines {
		return fmt.Errorf("line count %d exceeds hard cap %d", len(lines), hardLines)
	}
	if mode == ModeFree && len(lines) > s.cfg.FreeImportMaxLines {
		return fmt.Errorf("line count %d exceeds free-tier cap %d", len(lines), s.cfg.FreeImportMaxLines)
	}

	hardPlaylists := s.cfg.FreeImportMaxPlaylists * s.cfg.FreeImportHardCapMultiplier
	if len(links) > hardPlaylists {
		return fmt.Errorf("playlist link count %d exceeds hard cap %d", len(links), hardPlaylists)
	}
	if mode == ModeFree && len(links) > s.cfg.FreeImportMaxPlaylists {
		return fmt.Errorf("playlist link count %d exceeds free-tier cap %d", len(links), s.cfg.FreeImportMaxPlaylists)
	}

	if upload != nil {
		hardBytes := s.cfg.FreeImportMaxFileBytes * s.cfg.FreeImportHardCapMultiplier
		if len(upload.Bytes) > hardBytes {
			return fmt.Errorf("upload size %d exceeds hard cap %d bytes", len(upload.Bytes), hardBytes)
		}
		if mode == ModeFree && len(upload.Bytes) > s.cfg.FreeImportMaxFileBytes {
			return fmt.Errorf("upload size %d exceeds free-tier cap %d bytes", len(upload.Bytes), s.cfg.FreeImportMaxFileBytes)
		}
	}
	return nil
}

// enqueueBatches enqueues matching jobs in INGEST_BATCH_SIZE groups,
// refusing to enqueue more once the queue's pending depth for the
// matching type would exceed INGEST_MAX_PENDING_JOBS.
func (s *Service) enqueueBatches(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	depths, err := s.store.Depths(ctx)
	if err != nil {
		return err
	}
	pending := depths["matching"]

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	for i := 0; i < len(itemIDs); i += batchSize {
		end := i + batchSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		batch := itemIDs[i:end]
		if pending+len(batch) > s.cfg.MaxPendingJobs {
			s.log.Warn("ingest backpressure engaged", obs.Int("pending", pending), obs.Int("cap", s.cfg.MaxPendingJobs))
			return fmt.Errorf("matching queue backpressure: %d pending exceeds cap %d", pending, s.cfg.MaxPendingJobs)
		}
		for _, itemID := range batch {
			payload, _ := json.Marshal(map[string]string{"ingest_item_id": itemID})
			if _, _, err := s.store.Enqueue(ctx, "matching", payload, queue.EnqueueOptions{
				IdempotencyKey: "matching:" + itemID,
			}); err != nil {
				return err
			}
			pending++
		}
	}
	return nil
}

func parseUpload(u Upload) ([]string, error) {
	switch {
	case strings.Contains(u.ContentType, "json"):
		var lines []string
		if err := json.Unmarshal(u.Bytes, &lines); err != nil {
			return nil, err
		}
		return lines, nil
	default:
		raw := strings.ReplaceAll(string(u.Bytes), "\r\n", "\n")
		var lines []string
		for _, l := range strings.Split(raw, "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		return lines, nil
	}
}

// parseLine splits a "artist - title" or "artist - title - album" text
// or CSV line into its candidate fields.
func parseLine(line string) candidate {
	sep := " - "
	if strings.Contains(line, ",") && !strings.Contains(line, sep) {
		sep = ","
	}
	parts := strings.Split(line, sep)
	c := candidate{raw: line, sourceType: "line"}
	if len(parts) > 0 {
		c.artist = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		c.title = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		c.album = strings.TrimSpace(parts[2])
	}
	return c
}

func normalizeAndDedup(candidates []candidate) (kept []candidate, skipped []candidate) {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		c.artist = normalize(c.artist)
		c.title = normalize(c.title)
		c.album = normalize(c.album)

		if c.sourceType == "link" {
			key := "link:" + c.raw
			if seen[key] {
				skipped = append(skipped, c)
				continue
			}
			seen[key] = true
			kept = append(kept, c)
			continue
		}

		key := c.artist + "\x00" + c.title + "\x00" + c.album
		if seen[key] {
			skipped = append(skipped, c)
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	return kept, skipped
}

func normalize(s string) string {
	folded, _, err := transform.String(stripAccents, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

func countsJSON(accepted, skipped int) []byte {
	b, _ := json.Marshal(map[string]int{"accepted": accepted, "skipped": skipped})
	return b
}
