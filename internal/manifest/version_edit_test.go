package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ordkv/ordkv/internal/sstable"
)

func TestEditEncodeDecodeRoundTrip(t *testing.T) {
	edit := Edit{
		DeletedFiles: []DeletedFile{
			{Level: 0, Gen: 3},
			{Level: 1, Gen: 9},
		},
		NewFiles: []NewFile{
			{Level: 0, Index: 0, Scope: sstable.Scope{StartKey: []byte("a"), EndKey: []byte("m"), Gen: 42}},
			{Level: 1, Index: 2, Scope: sstable.Scope{StartKey: []byte("n"), EndKey: []byte("z"), Gen: 43}},
		},
		LastSequence: 1000,
		HasLastSeq:   true,
	}

	decoded, err := Decode(edit.Encode())
	require.NoError(t, err)
	require.Equal(t, edit, decoded)
}

func TestEditEncodeDecodeEmpty(t *testing.T) {
	decoded, err := Decode(Edit{}.Encode())
	require.NoError(t, err)
	require.Equal(t, Edit{}, decoded)
}

func TestEditEncodeDecodeNoLastSeq(t *testing.T) {
	edit := Edit{
		NewFiles: []NewFile{
			{Level: 0, Scope: sstable.Scope{StartKey: []byte("x"), EndKey: []byte("y"), Gen: 1}},
		},
	}
	decoded, err := Decode(edit.Encode())
	require.NoError(t, err)
	require.False(t, decoded.HasLastSeq)
	require.Equal(t, edit.NewFiles, decoded.NewFiles)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{0x09})
	require.Error(t, err)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	edit := Edit{DeletedFiles: []DeletedFile{{Level: 2, Gen: 7}}}
	encoded := edit.Encode()
	_, err := Decode(encoded[:len(encoded)-1])
	require.Error(t, err)
}
