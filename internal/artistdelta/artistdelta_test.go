// Copyright 2025 James Ross
package artistdelta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffedUpdateAndSoftDelete(t *testing.T) {
	current := Artist{Key: "spotify:abc", Name: "Artist"}
	incoming := Artist{Key: "spotify:abc", Name: "Artist"}

	currentReleases := []Release{
		{Title: "R1", ReleaseType: "album"},
		{Title: "R2", ReleaseType: "album", TrackCount: 10},
		{Title: "R3", ReleaseType: "album"},
	}
	incomingReleases := []Release{
		{Title: "R1", ReleaseType: "album"},
		{Title: "R2", ReleaseType: "album", TrackCount: 12},
	}

	diff := Diffed(current, currentReleases, incoming, incomingReleases, Policy{Prune: true, HardDelete: false})

	assert.Nil(t, diff.ArtistOp)
	assert.Len(t, diff.ReleaseOps, 2)

	var kinds []OpKind
	for _, op := range diff.ReleaseOps {
		kinds = append(kinds, op.Kind)
	}
	assert.Contains(t, kinds, OpUpdateRelease)
	assert.Contains(t, kinds, OpSoftDeleteRelease)
	assert.NotContains(t, kinds, OpHardDeleteRelease)
	assert.Len(t, diff.Audits, 2)
}

func TestDiffedNoPruneLeavesAbsentReleasesUntouched(t *testing.T) {
	current := Artist{Key: "spotify:abc", Name: "Artist"}
	currentReleases := []Release{{Title: "R1", ReleaseType: "album"}}

	diff := Diffed(current, currentReleases, current, nil, Policy{Prune: false})

	assert.Empty(t, diff.ReleaseOps)
	assert.Empty(t, diff.Audits)
}

func TestDiffedHardDeleteAlsoEmitsSoftDelete(t *testing.T) {
	current := Artist{Key: "spotify:abc", Name: "Artist"}
	currentReleases := []Release{{Title: "R1", ReleaseType: "album"}}

	diff := Diffed(current, currentReleases, current, nil, Policy{Prune: true, HardDelete: true})

	var kinds []OpKind
	for _, op := range diff.ReleaseOps {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []OpKind{OpSoftDeleteRelease, OpHardDeleteRelease}, kinds)
}

func TestDiffedArtistNameChangeYieldsSingleUpdateOp(t *testing.T) {
	current := Artist{Key: "spotify:abc", Name: "Old Name"}
	incoming := Artist{Key: "spotify:abc", Name: "New Name"}

	diff := Diffed(current, nil, incoming, nil, Policy{})

	assert.NotNil(t, diff.ArtistOp)
	assert.Equal(t, OpUpdateArtist, diff.ArtistOp.Kind)
	assert.Equal(t, "New Name", diff.ArtistAfter.Name)
	assert.Len(t, diff.Audits, 1)
	assert.Equal(t, "artist", diff.Audits[0].EntityType)
}

func TestDiffedAliasAdditionAndRemovalProduceAudits(t *testing.T) {
	current := Artist{Key: "spotify:abc", Name: "Artist", ExternalIDs: map[string]string{"musicbrainz": "old"}}
	incoming := Artist{Key: "spotify:abc", Name: "Artist", ExternalIDs: map[string]string{"discogs": "new"}}

	diff := Diffed(current, nil, incoming, nil, Policy{})

	assert.Len(t, diff.Audits, 3)
}

func TestDiffedIsDeterministicAcrossRuns(t *testing.T) {
	current := Artist{Key: "spotify:abc", Name: "Artist"}
	currentReleases := []Release{
		{Title: "Zeta", ReleaseType: "album"},
		{Title: "Alpha", ReleaseType: "album"},
	}
	incomingReleases := []Release{
		{Title: "Zeta", ReleaseType: "single"},
		{Title: "Alpha", ReleaseType: "single"},
	}

	d1 := Diffed(current, currentReleases, current, incomingReleases, Policy{Prune: true})
	d2 := Diffed(current, currentReleases, current, incomingReleases, Policy{Prune: true})

	assert.Equal(t, d1.ReleaseOps, d2.ReleaseOps)
	assert.Equal(t, "Alpha", d1.ReleaseOps[0].Release.Title)
	assert.Equal(t, "Zeta", d1.ReleaseOps[2].Release.Title)
}
