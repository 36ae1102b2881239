package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndicate-storage/syndicate-sub005/inode"
)

func TestMdEntryRoundTrip(t *testing.T) {
	e := inode.MdEntry{
		Kind:              inode.KindFile,
		Name:              "a.txt",
		FileID:            55,
		Version:           2,
		Owner:             1000,
		Coordinator:       3,
		Volume:            1,
		Mode:              0644,
		Size:              1000,
		Ctime:             time.Unix(1700000000, 0).UTC(),
		Mtime:             time.Unix(1700000100, 0).UTC(),
		ManifestMtime:     time.Unix(1700000200, 0).UTC(),
		WriteNonce:        4,
		XattrNonce:        1,
		Generation:        10,
		NumChildren:       0,
		ParentID:          1,
		MaxReadFreshness:  30 * time.Second,
		MaxWriteFreshness: 30 * time.Second,
	}

	got, err := DecodeMdEntry(EncodeMdEntry(e))
	require.NoError(t, err)

	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, e.FileID, got.FileID)
	assert.Equal(t, e.Mode, got.Mode)
	assert.True(t, e.Ctime.Equal(got.Ctime))
	assert.True(t, e.Mtime.Equal(got.Mtime))
	assert.Equal(t, e.MaxReadFreshness, got.MaxReadFreshness)
}
