// Copyright 2025 James Ross
// Package peer implements the peer-to-peer daemon half of the Provider
// Gateway contract: search, download enqueue/poll/cancel, health.
package peer

import (
	"context"
	"fmt"

	"github.com/bozzfozz/harmony-sub001/internal/gateway"
	"github.com/go-resty/resty/v2"
)

// PeerResult is one hit returned by a peer search. Beyond the filename
// every peer result carries, the daemon's search index also surfaces the
// file's tagged metadata when the remote client exposed it, letting the
// matching handler score on more than filename similarity alone.
type PeerResult struct {
	Username        string  `json:"username"`
	Filename        string  `json:"filename"`
	Size            int64   `json:"size"`
	Score           float64 `json:"score"`
	Artist          string  `json:"artist,omitempty"`
	Title           string  `json:"title,omitempty"`
	Album           string  `json:"album,omitempty"`
	ISRC            string  `json:"isrc,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Format          string  `json:"format,omitempty"`
	BitrateKbps     int     `json:"bitrate_kbps,omitempty"`
}

type FileRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type DownloadTicket struct {
	ID string `json:"id"`
}

type FileState string

const (
	FileQueued    FileState = "queued"
	FileRunning   FileState = "running"
	FileCompleted FileState = "completed"
	FileFailed    FileState = "failed"
)

type DownloadStatus struct {
	TicketID string               `json:"ticket_id"`
	Files    map[string]FileState `json:"files"`
}

// Provider is the peer-search half of the Provider Gateway: search,
// enqueue/poll/cancel a download, and health checks.
type Provider struct {
	client *gateway.Client
}

func New(client *gateway.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) SearchPeer(ctx context.Context, query string) ([]PeerResult, error) {
	var out struct {
		Results []PeerResult `json:"results"`
	}
	err := p.client.Do(ctx, "search_peer", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetQueryParam("q", query).
			SetResult(&out).
			Get("/search")
		return classifyResponse("search_peer", resp, err)
	})
	return out.Results, err
}

func (p *Provider) EnqueueDownload(ctx context.Context, username string, files []FileRequest) (DownloadTicket, error) {
	var out DownloadTicket
	err := p.client.Do(ctx, "enqueue_peer_download", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetBody(map[string]any{"username": username, "files": files}).
			SetResult(&out).
			Post("/downloads")
		return classifyResponse("enqueue_peer_download", resp, err)
	})
	return out, err
}

func (p *Provider) PollDownload(ctx context.Context, ticket DownloadTicket) (DownloadStatus, error) {
	var out DownloadStatus
	err := p.client.Do(ctx, "poll_download", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).
			SetResult(&out).
			Get("/downloads/" + ticket.ID)
		return classifyResponse("poll_download", resp, err)
	})
	return out, err
}

func (p *Provider) CancelDownload(ctx context.Context, ticket DownloadTicket) error {
	return p.client.Do(ctx, "cancel_download", func(ctx context.Context, c *resty.Client) error {
		resp, err := c.R().SetContext(ctx).Delete("/downloads/" + ticket.ID)
		return classifyResponse("cancel_download", resp, err)
	})
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
		return gateway.Classify("peer", op, gateway.ClassTransient, err)
	}
	switch {
	case resp.StatusCode() == 429:
		return gateway.Classify("peer", op, gateway.ClassRateLimited, fmt.Errorf("rate limited"))
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return gateway.Classify("peer", op, gateway.ClassAuth, fmt.Errorf("auth failed: %d", resp.StatusCode()))
	case resp.StatusCode() >= 500:
		return gateway.Classify("peer", op, gateway.ClassTransient, fmt.Errorf("server error: %d", resp.StatusCode()))
	case resp.StatusCode() >= 400:
		return gateway.Classify("peer", op, gateway.ClassPermanent, fmt.Errorf("client error: %d", resp.StatusCode()))
	}
	return nil
}
