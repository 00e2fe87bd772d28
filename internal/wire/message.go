// Package wire defines the messages peers exchange and their binary encoding.
package wire

import (
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
)

// Type identifies the kind of message.
type Type uint8

const (
	TypeHello        Type = iota + 1 // Handshake: carries the sender's peer ID
	TypeAnnounce                     // Sender holds the document
	TypeSyncRequest                  // Sender's heads; receiver replies with what is missing
	TypeSyncResponse                 // Changes plus sender's heads
	TypeUnavailable                  // Sender does not hold the document
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeAnnounce:
		return "announce"
	case TypeSyncRequest:
		return "sync-request"
	case TypeSyncResponse:
		return "sync-response"
	case TypeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Message is the envelope for all peer communication.
type Message struct {
	Type       Type
	PeerID     string
	DocumentID docid.ID
	Heads      []core.ChangeHash
	Changes    []core.Change
}

// Hello introduces a peer.
func Hello(peerID string) Message {
	return Message{Type: TypeHello, PeerID: peerID}
}

// Announce tells a peer the sender holds a document.
func Announce(id docid.ID) Message {
	return Message{Type: TypeAnnounce, DocumentID: id}
}

// SyncRequest asks a peer for the changes missing from heads.
func SyncRequest(id docid.ID, heads []core.ChangeHash) Message {
	return Message{Type: TypeSyncRequest, DocumentID: id, Heads: heads}
}

// SyncResponse carries changes and the sender's current heads.
func SyncResponse(id docid.ID, heads []core.ChangeHash, changes []core.Change) Message {
	return Message{Type: TypeSyncResponse, DocumentID: id, Heads: heads, Changes: changes}
}

// Unavailable tells a peer the sender does not hold a document.
func Unavailable(id docid.ID) Message {
	return Message{Type: TypeUnavailable, DocumentID: id}
}
