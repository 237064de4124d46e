// Copyright 2025 James Ross
package handlers

import (
	"testing"

	"github.com/bozzfozz/harmony-sub001/internal/gateway/peer"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeForMatchStripsAccentsAndCase(t *testing.T) {
	assert.Equal(t, "beyonce", normalizeForMatch("Beyoncé"))
	assert.Equal(t, "motorhead", normalizeForMatch("Motörhead"))
}

func TestPickBestPrefersCloserFuzzyMatch(t *testing.T) {
	query := candidateQuery{Artist: "Daft Punk", Title: "One More Time"}
	results := []peer.PeerResult{
		{Username: "peerA", Filename: "Daft Punk - One More Time.flac", Score: 0.5},
		{Username: "peerB", Filename: "Totally Unrelated Track.mp3", Score: 0.9},
	}

	best, confidence, _ := pickBest(query, results)

	assert.Equal(t, "peerA", best.Username)
	assert.Greater(t, confidence, 0.0)
}

func TestPickBestReturnsZeroConfidenceOnNoResults(t *testing.T) {
	_, confidence, reason := pickBest(candidateQuery{Title: "Anything"}, nil)
	assert.Equal(t, 0.0, confidence)
	assert.Equal(t, "no_peer_results", reason)
}

func TestPickBestShortCircuitsOnISRCMatch(t *testing.T) {
	query := candidateQuery{Artist: "Daft Punk", Title: "One More Time", ISRC: "FR6V81900001"}
	results := []peer.PeerResult{
		{Username: "peerA", Filename: "totally_different_name.flac", ISRC: "fr6v81900001"},
		{Username: "peerB", Filename: "Daft Punk - One More Time.flac", Score: 0.9},
	}

	best, confidence, _ := pickBest(query, results)

	assert.Equal(t, "peerA", best.Username)
	assert.Equal(t, 0.99, confidence)
}

func TestPickBestPrefersMatchingDuration(t *testing.T) {
	query := candidateQuery{Artist: "Daft Punk", Title: "One More Time", Duration: 320}
	results := []peer.PeerResult{
		{Username: "peerA", Filename: "Daft Punk - One More Time.flac", Score: 0.5, Artist: "Daft Punk", Title: "One More Time", DurationSeconds: 319},
		{Username: "peerB", Filename: "Daft Punk - One More Time.flac", Score: 0.5, Artist: "Daft Punk", Title: "One More Time", DurationSeconds: 180},
	}

	best, _, _ := pickBest(query, results)

	assert.Equal(t, "peerA", best.Username)
}

func TestPickBestPrefersEditionAwareAlbumMatch(t *testing.T) {
	query := candidateQuery{Artist: "Artist", Title: "Track", Album: "Discovery"}
	results := []peer.PeerResult{
		{Username: "peerA", Filename: "Artist - Track.flac", Score: 0.5, Artist: "Artist", Title: "Track", Album: "Discovery (Deluxe Edition)"},
		{Username: "peerB", Filename: "Artist - Track.flac", Score: 0.5, Artist: "Artist", Title: "Track", Album: "Some Other Album"},
	}

	best, _, _ := pickBest(query, results)

	assert.Equal(t, "peerA", best.Username)
}

func TestPickBestPrefersLosslessFormat(t *testing.T) {
	query := candidateQuery{Artist: "Artist", Title: "Track"}
	results := []peer.PeerResult{
		{Username: "peerA", Filename: "Artist - Track.flac", Score: 0.5, Artist: "Artist", Title: "Track", Format: "flac"},
		{Username: "peerB", Filename: "Artist - Track.mp3", Score: 0.5, Artist: "Artist", Title: "Track", Format: "mp3", BitrateKbps: 128},
	}

	best, _, _ := pickBest(query, results)

	assert.Equal(t, "peerA", best.Username)
}

func TestPickBestTreatsArtistAliasAsFuzzyToleration(t *testing.T) {
	query := candidateQuery{Artist: "Diddy", Title: "Mo Money Mo Problems"}
	results := []peer.PeerResult{
		{Username: "peerA", Filename: "P Diddy - Mo Money Mo Problems.mp3", Score: 0.5, Artist: "P Diddy", Title: "Mo Money Mo Problems"},
		{Username: "peerB", Filename: "Unrelated Artist - Unrelated Song.mp3", Score: 0.5},
	}

	best, confidence, _ := pickBest(query, results)

	assert.Equal(t, "peerA", best.Username)
	assert.Greater(t, confidence, 0.5)
}
