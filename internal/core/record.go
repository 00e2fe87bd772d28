package core

import (
	"encoding"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Record fields. The same encoding is used on the wire and in storage.
const (
	recordHash protowire.Number = 1
	recordDep  protowire.Number = 2
	recordRaw  protowire.Number = 3
)

// MarshalBinary encodes the change with its hash and dependencies.
func (c Change) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, len(c.Raw)+len(c.Hash)*(len(c.Deps)+1)+8)

	b = protowire.AppendTag(b, recordHash, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Hash[:])

	for _, dep := range c.Deps {
		b = protowire.AppendTag(b, recordDep, protowire.BytesType)
		b = protowire.AppendBytes(b, dep[:])
	}

	b = protowire.AppendTag(b, recordRaw, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Raw)

	return b, nil
}

// UnmarshalChange decodes the output of MarshalBinary.
func UnmarshalChange(b []byte) (Change, error) {
	var (
		hash    ChangeHash
		hasHash bool
		deps    []ChangeHash
		raw     []byte
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Change{}, fmt.Errorf("%w: %v", ErrInvalidChange, protowire.ParseError(n))
		}

		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Change{}, fmt.Errorf("%w: %v", ErrInvalidChange, protowire.ParseError(n))
			}

			b = b[n:]

			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Change{}, fmt.Errorf("%w: %v", ErrInvalidChange, protowire.ParseError(n))
		}

		b = b[n:]

		switch num {
		case recordHash:
			h, err := HashFromBytes(v)
			if err != nil {
				return Change{}, fmt.Errorf("%w: %w", ErrInvalidChange, err)
			}

			hash, hasHash = h, true
		case recordDep:
			h, err := HashFromBytes(v)
			if err != nil {
				return Change{}, fmt.Errorf("%w: %w", ErrInvalidChange, err)
			}

			deps = append(deps, h)
		case recordRaw:
			raw = v
		}
	}

	if !hasHash {
		return Change{}, fmt.Errorf("%w: missing hash", ErrInvalidChange)
	}

	return NewChange(hash, deps, raw)
}

// Ensure Change implements encoding.BinaryMarshaler.
var _ encoding.BinaryMarshaler = Change{}
