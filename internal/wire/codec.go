package wire

import (
	"errors"
	"fmt"

	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for frames that do not decode to a valid message.
var ErrMalformed = errors.New("malformed message")

const (
	fieldType       protowire.Number = 1
	fieldPeerID     protowire.Number = 2
	fieldDocumentID protowire.Number = 3
	fieldHead       protowire.Number = 4
	fieldChange     protowire.Number = 5
)

// Encode serializes a message.
func Encode(msg Message) []byte {
	size := 8 + len(msg.PeerID) + len(msg.DocumentID) + len(msg.Heads)*34

	for _, c := range msg.Changes {
		size += len(c.Raw) + len(c.Deps)*34 + 40
	}

	b := make([]byte, 0, size)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))

	if msg.PeerID != "" {
		b = protowire.AppendTag(b, fieldPeerID, protowire.BytesType)
		b = protowire.AppendString(b, msg.PeerID)
	}

	if msg.DocumentID != "" {
		b = protowire.AppendTag(b, fieldDocumentID, protowire.BytesType)
		b = protowire.AppendString(b, string(msg.DocumentID))
	}

	for _, h := range msg.Heads {
		b = protowire.AppendTag(b, fieldHead, protowire.BytesType)
		b = protowire.AppendBytes(b, h[:])
	}

	for _, c := range msg.Changes {
		rec, _ := c.MarshalBinary()
		b = protowire.AppendTag(b, fieldChange, protowire.BytesType)
		b = protowire.AppendBytes(b, rec)
	}

	return b
}

// Decode parses and validates a frame. Unknown fields are skipped.
func Decode(b []byte) (Message, error) {
	var msg Message

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, malformed(protowire.ParseError(n))
		}

		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n))
			}

			if v > 0xff {
				return Message{}, fmt.Errorf("%w: type %d out of range", ErrMalformed, v)
			}

			msg.Type = Type(v)
			b = b[n:]
		case num == fieldPeerID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n))
			}

			msg.PeerID = v
			b = b[n:]
		case num == fieldDocumentID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n))
			}

			id, err := docid.Parse(v)
			if err != nil {
				return Message{}, malformed(err)
			}

			msg.DocumentID = id
			b = b[n:]
		case num == fieldHead && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n))
			}

			h, err := core.HashFromBytes(v)
			if err != nil {
				return Message{}, malformed(err)
			}

			msg.Heads = append(msg.Heads, h)
			b = b[n:]
		case num == fieldChange && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n))
			}

			c, err := core.UnmarshalChange(v)
			if err != nil {
				return Message{}, malformed(err)
			}

			msg.Changes = append(msg.Changes, c)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, malformed(protowire.ParseError(n))
			}

			b = b[n:]
		}
	}

	if err := msg.Validate(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// Validate checks that the fields required by the message type are present.
func (m Message) Validate() error {
	switch m.Type {
	case TypeHello:
		if m.PeerID == "" {
			return fmt.Errorf("%w: hello without peer id", ErrMalformed)
		}
	case TypeAnnounce, TypeSyncRequest, TypeUnavailable:
		if m.DocumentID == "" {
			return fmt.Errorf("%w: %s without document id", ErrMalformed, m.Type)
		}

		if len(m.Changes) > 0 {
			return fmt.Errorf("%w: %s carries changes", ErrMalformed, m.Type)
		}
	case TypeSyncResponse:
		if m.DocumentID == "" {
			return fmt.Errorf("%w: %s without document id", ErrMalformed, m.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrMalformed, m.Type)
	}

	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}
