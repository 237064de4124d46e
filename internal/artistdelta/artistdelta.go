// Copyright 2025 James Ross
// Package artistdelta implements the Artist Delta Engine (C9): a pure,
// deterministic diff between an artist's current and incoming state,
// producing the operations artist_sync must apply and the audit rows
// that must accompany them in the same transaction.
package artistdelta

import (
	"sort"
	"strings"
	"time"
)

// Artist is the subset of artist state the diff reasons about.
type Artist struct {
	Key         string
	Name        string
	ExternalIDs map[string]string
}

// Release is the subset of release state the diff reasons about.
// Identity is (Source, SourceID) when both are set, else the normalized
// tuple (lower(Title), ReleaseType, ReleaseDate).
type Release struct {
	ID          string
	Title       string
	ReleaseType string
	ReleaseDate string // YYYY-MM-DD or empty
	TrackCount  int
	Source      string
	SourceID    string
	InactiveAt  *time.Time
}

// Policy controls how absent-from-incoming releases are treated.
type Policy struct {
	Prune      bool
	HardDelete bool
}

// OpKind names a mutation the caller must apply.
type OpKind string

const (
	OpCreateRelease     OpKind = "create_release"
	OpUpdateRelease     OpKind = "update_release"
	OpSoftDeleteRelease OpKind = "soft_delete_release"
	OpHardDeleteRelease OpKind = "hard_delete_release"
	OpUpdateArtist      OpKind = "update_artist"
)

// ReleaseOp pairs an operation kind with the release it applies to (the
// incoming version for create/update, the current version for deletes).
type ReleaseOp struct {
	Kind    OpKind
	Release Release
}

// AuditEvent is a to-be-persisted `artist_audit` row. Before/After are
// nil for events that have no meaningful prior or new state.
type AuditEvent struct {
	ArtistKey  string
	Event      string // created, updated, inactivated, reactivated
	EntityType string // artist, release, alias
	Before     map[string]any
	After      map[string]any
}

// Diff is the Artist Delta Engine's full output.
type Diff struct {
	ArtistOp    *ReleaseOp // kind is always OpUpdateArtist when non-nil; Release field unused
	ArtistAfter *Artist
	ReleaseOps  []ReleaseOp
	Audits      []AuditEvent
}

// identity returns the stable key used to match current against incoming
// releases: (source, source_id) when both are present, else a normalized
// tuple of title/type/date.
func identity(r Release) string {
	if r.Source != "" && r.SourceID != "" {
		return r.Source + "\x00" + r.SourceID
	}
	return strings.ToLower(strings.TrimSpace(r.Title)) + "\x00" + r.ReleaseType + "\x00" + r.ReleaseDate
}

// Diffed computes the create/update/no-op/soft-delete/hard-delete set
// between the artist's current persisted state and the incoming state
// fetched from the provider gateway. The result is deterministic: equal
// inputs always yield release ops in the same order (sorted by identity).
func Diffed(currentArtist Artist, currentReleases []Release, incomingArtist Artist, incomingReleases []Release, policy Policy) Diff {
	var d Diff

	if artistOp, after, audit := diffArtist(currentArtist, incomingArtist); artistOp != nil {
		d.ArtistOp = artistOp
		d.ArtistAfter = after
		d.Audits = append(d.Audits, audit)
	}
	d.Audits = append(d.Audits, aliasAudits(currentArtist, incomingArtist)...)

	currentByID := make(map[string]Release, len(currentReleases))
	for _, r := range currentReleases {
		currentByID[identity(r)] = r
	}
	incomingByID := make(map[string]Release, len(incomingReleases))
	for _, r := range incomingReleases {
		incomingByID[identity(r)] = r
	}

	var ids []string
	seen := make(map[string]bool)
	for id := range currentByID {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range incomingByID {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		cur, hasCur := currentByID[id]
		inc, hasInc := incomingByID[id]

		switch {
		case hasInc && !hasCur:
			d.ReleaseOps = append(d.ReleaseOps, ReleaseOp{Kind: OpCreateRelease, Release: inc})
			d.Audits = append(d.Audits, AuditEvent{
				ArtistKey: currentArtist.Key, Event: "created", EntityType: "release",
				After: releaseFields(inc),
			})
		case hasInc && hasCur:
			if changed, before, after := releaseChanged(cur, inc); changed {
				d.ReleaseOps = append(d.ReleaseOps, ReleaseOp{Kind: OpUpdateRelease, Release: inc})
				d.Audits = append(d.Audits, AuditEvent{
					ArtistKey: currentArtist.Key, Event: "updated", EntityType: "release",
					Before: before, After: after,
				})
			}
		case hasCur && !hasInc:
			if policy.Prune {
				d.ReleaseOps = append(d.ReleaseOps, ReleaseOp{Kind: OpSoftDeleteRelease, Release: cur})
				d.Audits = append(d.Audits, AuditEvent{
					ArtistKey: currentArtist.Key, Event: "inactivated", EntityType: "release",
					Before: releaseFields(cur),
				})
				if policy.HardDelete {
					d.ReleaseOps = append(d.ReleaseOps, ReleaseOp{Kind: OpHardDeleteRelease, Release: cur})
				}
			}
		}
	}

	return d
}

func diffArtist(current, incoming Artist) (*ReleaseOp, *Artist, AuditEvent) {
	if current.Name == incoming.Name && externalIDsEqual(current.ExternalIDs, incoming.ExternalIDs) {
		return nil, nil, AuditEvent{}
	}
	op := &ReleaseOp{Kind: OpUpdateArtist}
	after := incoming
	audit := AuditEvent{
		ArtistKey:  current.Key,
		Event:      "updated",
		EntityType: "artist",
		Before:     map[string]any{"name": current.Name},
		After:      map[string]any{"name": incoming.Name},
	}
	return op, &after, audit
}

func aliasAudits(current, incoming Artist) []AuditEvent {
	var audits []AuditEvent
	var addedKeys, removedKeys []string
	for k := range incoming.ExternalIDs {
		if _, ok := current.ExternalIDs[k]; !ok {
			addedKeys = append(addedKeys, k)
		}
	}
	for k := range current.ExternalIDs {
		if _, ok := incoming.ExternalIDs[k]; !ok {
			removedKeys = append(removedKeys, k)
		}
	}
	sort.Strings(addedKeys)
	sort.Strings(removedKeys)
	for _, k := range addedKeys {
		audits = append(audits, AuditEvent{
			ArtistKey: current.Key, Event: "updated", EntityType: "alias",
			After: map[string]any{k: incoming.ExternalIDs[k]},
		})
	}
	for _, k := range removedKeys {
		audits = append(audits, AuditEvent{
			ArtistKey: current.Key, Event: "updated", EntityType: "alias",
			Before: map[string]any{k: current.ExternalIDs[k]},
		})
	}
	return audits
}

func externalIDsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func releaseChanged(cur, inc Release) (bool, map[string]any, map[string]any) {
	before := map[string]any{}
	after := map[string]any{}
	changed := false

	if normTitle(cur.Title) != normTitle(inc.Title) {
		before["title"] = cur.Title
		after["title"] = inc.Title
		changed = true
	}
	if cur.ReleaseType != inc.ReleaseType {
		before["release_type"] = cur.ReleaseType
		after["release_type"] = inc.ReleaseType
		changed = true
	}
	if cur.ReleaseDate != inc.ReleaseDate {
		before["release_date"] = cur.ReleaseDate
		after["release_date"] = inc.ReleaseDate
		changed = true
	}
	if cur.TrackCount != inc.TrackCount {
		before["track_count"] = cur.TrackCount
		after["track_count"] = inc.TrackCount
		changed = true
	}
	return changed, before, after
}

func normTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func releaseFields(r Release) map[string]any {
	return map[string]any{
		"title":        r.Title,
		"release_type": r.ReleaseType,
		"release_date": r.ReleaseDate,
		"track_count":  r.TrackCount,
	}
}
