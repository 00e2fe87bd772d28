package wire_test

import (
	"errors"
	"testing"

	"github.com/automerge/automerge-go"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode_SyncResponse(t *testing.T) {
	t.Parallel()

	id := docid.New()
	doc := core.New()

	var changes []core.Change

	for _, key := range []string{"a", "b"} {
		chs, err := doc.Change(func(d *automerge.Doc) error { return d.Path(key).Set(key) })
		require.NoError(t, err)

		changes = append(changes, chs...)
	}

	got, err := wire.Decode(wire.Encode(wire.SyncResponse(id, doc.Heads(), changes)))
	require.NoError(t, err)

	require.Equal(t, wire.TypeSyncResponse, got.Type)
	require.Equal(t, id, got.DocumentID)
	require.Equal(t, doc.Heads(), got.Heads)
	require.Len(t, got.Changes, 2)

	for i, c := range got.Changes {
		require.Equal(t, changes[i].Hash, c.Hash)
		require.Equal(t, changes[i].Deps, c.Deps)
		require.Equal(t, changes[i].Raw, c.Raw)
	}
}

func TestDecode_DependentChangeAppliesToReplica(t *testing.T) {
	t.Parallel()

	id := docid.New()
	src := core.New()

	first, err := src.Change(func(d *automerge.Doc) error { return d.Path("x").Set("one") })
	require.NoError(t, err)
	second, err := src.Change(func(d *automerge.Doc) error { return d.Path("y").Set("two") })
	require.NoError(t, err)

	dst := core.New()

	for _, chs := range [][]core.Change{first, second} {
		got, err := wire.Decode(wire.Encode(wire.SyncResponse(id, src.Heads(), chs)))
		require.NoError(t, err)
		require.NoError(t, dst.Apply(got.Changes...))
	}

	require.Equal(t, src.Heads(), dst.Heads())

	snap, err := dst.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "two", snap.Value["y"])
}

func TestEncodeDecode_Hello(t *testing.T) {
	t.Parallel()

	got, err := wire.Decode(wire.Encode(wire.Hello("peer-a")))
	require.NoError(t, err)
	require.Equal(t, wire.TypeHello, got.Type)
	require.Equal(t, "peer-a", got.PeerID)
}

func TestDecode_EmptyHeadsRequest(t *testing.T) {
	t.Parallel()

	id := docid.New()

	got, err := wire.Decode(wire.Encode(wire.SyncRequest(id, nil)))
	require.NoError(t, err)
	require.Equal(t, wire.TypeSyncRequest, got.Type)
	require.Empty(t, got.Heads)
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	id := docid.New()

	badHead := protowire.AppendTag(nil, 1, protowire.VarintType)
	badHead = protowire.AppendVarint(badHead, uint64(wire.TypeSyncRequest))
	badHead = protowire.AppendTag(badHead, 3, protowire.BytesType)
	badHead = protowire.AppendString(badHead, id.String())
	badHead = protowire.AppendTag(badHead, 4, protowire.BytesType)
	badHead = protowire.AppendBytes(badHead, []byte{1, 2, 3})

	forged, err := core.NewChange(core.ChangeHash{1}, nil, []byte{1})
	require.NoError(t, err)

	badChange := protowire.AppendTag(nil, 1, protowire.VarintType)
	badChange = protowire.AppendVarint(badChange, uint64(wire.TypeSyncResponse))
	badChange = protowire.AppendTag(badChange, 3, protowire.BytesType)
	badChange = protowire.AppendString(badChange, id.String())
	badChange = protowire.AppendTag(badChange, 5, protowire.BytesType)
	badChange = protowire.AppendBytes(badChange, []byte("no hash"))

	badDoc := protowire.AppendTag(nil, 1, protowire.VarintType)
	badDoc = protowire.AppendVarint(badDoc, uint64(wire.TypeAnnounce))
	badDoc = protowire.AppendTag(badDoc, 3, protowire.BytesType)
	badDoc = protowire.AppendString(badDoc, "../../etc")

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"truncated", wire.Encode(wire.Announce(id))[:3]},
		{"unknown type", wire.Encode(wire.Message{Type: 42, DocumentID: id})},
		{"hello without peer", wire.Encode(wire.Message{Type: wire.TypeHello})},
		{"request without document", wire.Encode(wire.Message{Type: wire.TypeSyncRequest})},
		{"announce with changes", wire.Encode(wire.Message{Type: wire.TypeAnnounce, DocumentID: id, Changes: []core.Change{forged}})},
		{"short head", badHead},
		{"bad document id", badDoc},
		{"change without hash", badChange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := wire.Decode(tt.frame)
			if !errors.Is(err, wire.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	t.Parallel()

	id := docid.New()
	frame := wire.Encode(wire.Announce(id))
	frame = protowire.AppendTag(frame, 99, protowire.BytesType)
	frame = protowire.AppendBytes(frame, []byte("future"))

	got, err := wire.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, id, got.DocumentID)
}

func TestType_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sync-request", wire.TypeSyncRequest.String())
	require.Equal(t, "unknown", wire.Type(0).String())
}
