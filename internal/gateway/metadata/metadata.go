// Copyright 2025 James Ross
// Package metadata implements the metadata-provider half of the Provider
// Gateway contract: search, artist album listing, playlist lookup, and
// ISRC-exact track lookup, modeled on the Spotify Web API client pattern
// (resty + bearer auth) used elsewhere in the example pack.
package metadata

import (
	"context"
	"fmt"

	"github.com/bozzfozz/harmony-sub001/internal/gateway"
	"github.com/go-resty/resty/v2"
)

type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	ISRC     string  `json:"isrc"`
	Duration float64 `json:"duration_seconds"`
}

type Release struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ReleaseType string `json:"release_type"`
	ReleaseDate string `json:"release_date"`
	TrackCount  int    `json:"track_count"`
}

type Playlist struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Tracks []Track `json:"tracks"`
}

type Artist struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ExternalIDs map[string]string `json:"external_ids"`
}

// Provider is the metadata half of the Provider Gateway: search_tracks,
// get_artist_albums, get_playlist, get_track_by_isrc, and check_health.
type Provider struct {
	client *gateway.Client
}

func New(client *gateway.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	var out struct {
		Tracks []Track `json:"tracks"`
	}
	err := p.client.Do(ctx, "search_tracks", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetQueryParam("q", query).
			SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).
			Get("/search")
		return classifyResponse("search_tracks", resp, err)
	})
	return out.Tracks, err
}

func (p *Provider) GetArtistAlbums(ctx context.Context, artistID string) ([]Release, error) {
	var out struct {
		Releases []Release `json:"releases"`
	}
	err := p.client.Do(ctx, "get_artist_albums", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetResult(&out).
			Get("/artists/" + artistID + "/albums")
		return classifyResponse("get_artist_albums", resp, err)
	})
	return out.Releases, err
}

func (p *Provider) GetPlaylist(ctx context.Context, playlistID string) (Playlist, error) {
	var out Playlist
	err := p.client.Do(ctx, "get_playlist", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetResult(&out).
			Get("/playlists/" + playlistID)
		return classifyResponse("get_playlist", resp, err)
	})
	return out, err
}

func (p *Provider) GetTrackByISRC(ctx context.Context, isrc string) (*Track, error) {
	var out struct {
		Tracks []Track `json:"tracks"`
	}
	err := p.client.Do(ctx, "get_track_by_isrc", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetQueryParam("isrc", isrc).
			SetResult(&out).
			Get("/tracks")
		return classifyResponse("get_track_by_isrc", resp, err)
	})
	if err != nil || len(out.Tracks) == 0 {
		return nil, err
	}
	return &out.Tracks[0], nil
}

func (p *Provider) GetArtist(ctx context.Context, artistID string) (Artist, error) {
	var out Artist
	err := p.client.Do(ctx, "get_artist", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetResult(&out).
			Get("/artists/" + artistID)
		return classifyResponse("get_artist", resp, err)
	})
	return out, err
}

func (p *Provider) CheckHealth(ctx context.Context) (gateway.HealthStatus, error) {
	err := p.client.Do(ctx, "check_health", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).Get("/health")
		return classifyResponse("check_health", resp, err)
	})
	if err != nil {
		return gateway.HealthDown, err
	}
	return gateway.HealthOK, nil
}

func classifyResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return gateway.Classify("metadata", op, gateway.ClassTransient, err)
	}
	switch {
	case resp.StatusCode() == 429:
		return gateway.Classify("metadata", op, gateway.ClassRateLimited, fmt.Errorf("rate limited"))
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return gateway.Classify("metadata", op, gateway.ClassAuth, fmt.Errorf("auth failed: %d", resp.StatusCode()))
	case resp.StatusCode() >= 500:
		return gateway.Classify("metadata", op, gateway.ClassTransient, fmt.Errorf("server error: %d", resp.StatusCode()))
	case resp.StatusCode() >= 400:
		return gateway.Classify("metadata", op, gateway.ClassPermanent, fmt.Errorf("client error: %d", resp.StatusCode()))
	}
	return nil
}
