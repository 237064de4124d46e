// Copyright 2025 James Ross
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bozzfozz/harmony-sub001/internal/dispatcher"
	"github.com/bozzfozz/harmony-sub001/internal/gateway/peer"
	"github.com/bozzfozz/harmony-sub001/internal/obs"
	"github.com/bozzfozz/harmony-sub001/internal/queue"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type matchingPayload struct {
	TrackID      string `json:"track_id,omitempty"`
	IngestItemID string `json:"ingest_item_id,omitempty"`
}

type candidateQuery struct {
	Artist   string
	Title    string
	Album    string
	ISRC     string
	Duration float64
}

// stripAccents folds a string through NFD, removes combining marks, and
// recomposes, so accented and unaccented spellings of the same title
// compare equal.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeForMatch(s string) string {
	folded, _, err := transform.String(stripAccents, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Matching fetches the candidate query from its ingest item, searches
// the peer provider, scores results against the matching rules, and
// persists only the best candidate whose confidence clears the
// configured matching confidence threshold.
func Matching(deps *Deps) dispatcher.HandlerFunc {
	return func(ctx context.Context, job queue.Job) (dispatcher.Outcome, error) {
		var payload matchingPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return dispatcher.Permanent, fmt.Errorf("decode matching payload: %w", err)
		}
		if payload.IngestItemID == "" && payload.TrackID == "" {
			return dispatcher.Permanent, errors.New("matching payload requires track_id or ingest_item_id")
		}

		query, err := loadCandidateQuery(ctx, deps.DB, payload)
		if errors.Is(err, sql.ErrNoRows) {
			return dispatcher.Permanent, fmt.Errorf("unknown ingest item %q", payload.IngestItemID)
		}
		if err != nil {
			return dispatcher.Retryable, err
		}

		results, err := deps.Peer.SearchPeer(ctx, strings.TrimSpace(query.Artist+" "+query.Title))
		if err != nil {
			return dispatcher.Retryable, err
		}

		best, confidence, discardReason := pickBest(query, results)

		if confidence < deps.Config.Matching.ConfidenceThreshold {
			if err := recordDiscard(ctx, deps.DB, payload.IngestItemID, discardReason); err != nil {
				return dispatcher.Retryable, err
			}
			deps.Log.Info("matching.batch", obs.Int("stored", 0), obs.Int("discarded", 1), obs.Float64("average_confidence", confidence))
			return dispatcher.Success, nil
		}

		jobID, err := enqueueDownload(ctx, deps, payload.IngestItemID, best)
		if err != nil {
			return dispatcher.Retryable, err
		}
		if err := recordMatch(ctx, deps.DB, payload.IngestItemID, jobID); err != nil {
			return dispatcher.Retryable, err
		}

		deps.Log.Info("matching.batch", obs.Int("stored", 1), obs.Int("discarded", 0), obs.Float64("average_confidence", confidence))
		return dispatcher.Success, nil
	}
}

func loadCandidateQuery(ctx context.Context, db interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}, payload matchingPayload) (candidateQuery, error) {
	if payload.IngestItemID == "" {
		return candidateQuery{Title: payload.TrackID}, nil
	}
	var normalized []byte
	if err := db.GetContext(ctx, &normalized, `SELECT normalized FROM ingest_items WHERE id = $1`, payload.IngestItemID); err != nil {
		return candidateQuery{}, err
	}
	var q candidateQuery
	var fields struct {
		Artist   string  `json:"artist"`
		Title    string  `json:"title"`
		Album    string  `json:"album"`
		ISRC     string  `json:"isrc"`
		Duration float64 `json:"duration_seconds"`
	}
	if err := json.Unmarshal(normalized, &fields); err != nil {
		return candidateQuery{}, fmt.Errorf("decode normalized ingest item: %w", err)
	}
	q.Artist, q.Title, q.Album, q.ISRC, q.Duration = fields.Artist, fields.Title, fields.Album, fields.ISRC, fields.Duration
	return q, nil
}

// fuzzyNorm scores how close two already-normalized strings are, in
// [0,1], using the edit distance fuzzysearch reports.
func fuzzyNorm(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	rank := fuzzy.RankMatchFold(a, b)
	if rank < 0 {
		return 0
	}
	score := 1 - float64(rank)/float64(len(a))
	return clamp01(score)
}

// editionSuffixes strips common edition/remaster qualifiers so an album
// scores well against a different pressing of the same release.
var editionSuffixes = []string{
	"deluxe edition", "deluxe", "remastered", "remaster", "expanded edition",
	"special edition", "anniversary edition", "bonus track version",
}

func stripEditionSuffix(album string) string {
	stripped := normalizeForMatch(album)
	stripped = strings.Trim(stripped, " ()[]-")
	for _, suffix := range editionSuffixes {
		stripped = strings.TrimSuffix(strings.TrimSpace(stripped), suffix)
		stripped = strings.Trim(stripped, " ()[]-")
	}
	return stripped
}

// formatRank orders preferred audio formats highest, so a lossless or
// high-bitrate candidate outranks an equally fuzzy-matched lossy one.
func formatRank(format string, bitrateKbps int) float64 {
	switch strings.ToLower(format) {
	case "flac", "alac", "wav":
		return 1.0
	case "mp3", "m4a", "aac":
		switch {
		case bitrateKbps >= 320:
			return 0.9
		case bitrateKbps >= 256:
			return 0.75
		case bitrateKbps >= 192:
			return 0.55
		default:
			return 0.35
		}
	case "":
		return 0.5
	default:
		return 0.4
	}
}

// pickBest scores every peer result against the matching rules named in
// the `matching` handler's contract — Unicode/accent normalization,
// artist-alias tolerant scoring, edition-aware album scoring, duration
// within 2 seconds, an ISRC exact match, and preferred-format ranking —
// and returns the highest-confidence candidate. An ISRC match against the
// query is treated as conclusive and short-circuits the rest of the
// scoring. Rules whose inputs the peer result doesn't carry are dropped
// from the weighted average rather than counted against the candidate.
func pickBest(query candidateQuery, results []peer.PeerResult) (peer.PeerResult, float64, string) {
	if len(results) == 0 {
		return peer.PeerResult{}, 0, "no_peer_results"
	}

	normArtist := normalizeForMatch(query.Artist)
	normTitle := normalizeForMatch(query.Title)
	normQuery := normalizeForMatch(query.Artist + " " + query.Title)
	normAlbum := stripEditionSuffix(query.Album)
	normISRC := strings.ToUpper(strings.TrimSpace(query.ISRC))

	var best peer.PeerResult
	bestConfidence := -1.0

	for _, r := range results {
		if normISRC != "" && r.ISRC != "" && strings.EqualFold(r.ISRC, normISRC) {
			return r, 0.99, ""
		}

		type weighted struct {
			score, weight float64
		}
		components := []weighted{
			{score: peerTitleScore(r, normArtist, normTitle, normQuery), weight: 0.30},
			{score: clamp01(r.Score), weight: 0.20},
		}
		if r.Artist != "" && normArtist != "" {
			components = append(components, weighted{score: fuzzyNorm(normArtist, normalizeForMatch(r.Artist)), weight: 0.20})
		}
		if normAlbum != "" && r.Album != "" {
			components = append(components, weighted{score: fuzzyNorm(normAlbum, stripEditionSuffix(r.Album)), weight: 0.15})
		}
		if query.Duration > 0 && r.DurationSeconds > 0 {
			diff := query.Duration - r.DurationSeconds
			if diff < 0 {
				diff = -diff
			}
			durationScore := 0.0
			if diff <= 2 {
				durationScore = 1.0
			}
			components = append(components, weighted{score: durationScore, weight: 0.10})
		}
		components = append(components, weighted{score: formatRank(r.Format, r.BitrateKbps), weight: 0.05})

		var sumScore, sumWeight float64
		for _, c := range components {
			sumScore += c.score * c.weight
			sumWeight += c.weight
		}
		confidence := 0.0
		if sumWeight > 0 {
			confidence = sumScore / sumWeight
		}

		if confidence > bestConfidence {
			bestConfidence = confidence
			best = r
		}
	}
	if bestConfidence < 0 {
		bestConfidence = 0
	}
	return best, bestConfidence, "below_confidence_threshold"
}

// peerTitleScore blends a whole-string fuzzy match of the peer filename
// against "artist title" with a title-only match against any structured
// title the peer exposed, taking the stronger of the two.
func peerTitleScore(r peer.PeerResult, normArtist, normTitle, normQuery string) float64 {
	fileScore := fuzzyNorm(normQuery, normalizeForMatch(r.Filename))
	if r.Title == "" {
		return fileScore
	}
	structuredScore := fuzzyNorm(normTitle, normalizeForMatch(r.Title))
	if normArtist != "" && r.Artist != "" {
		structuredScore = 0.5*structuredScore + 0.5*fuzzyNorm(normArtist, normalizeForMatch(r.Artist))
	}
	if structuredScore > fileScore {
		return structuredScore
	}
	return fileScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func recordDiscard(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, ingestItemID, reason string) error {
	if ingestItemID == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE ingest_items SET state = 'discarded', skip_reason = $1 WHERE id = $2`, reason, ingestItemID)
	return err
}

func recordMatch(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, ingestItemID string, downloadJobID int64) error {
	if ingestItemID == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE ingest_items SET state = 'matched', download_job_id = $1 WHERE id = $2`, downloadJobID, ingestItemID)
	return err
}

func enqueueDownload(ctx context.Context, deps *Deps, ingestItemID string, candidate peer.PeerResult) (int64, error) {
	payload, _ := json.Marshal(map[string]any{
		"peer_username": candidate.Username,
		"files": []map[string]any{
			{"filename": candidate.Filename, "size": candidate.Size},
		},
	})
	idemKey := "sync:" + ingestItemID
	priority := deps.Config.Orchestrator.Priorities["sync"]
	id, _, err := deps.Store.Enqueue(ctx, "sync", payload, queue.EnqueueOptions{Priority: priority, IdempotencyKey: idemKey})
	return id, err
}
