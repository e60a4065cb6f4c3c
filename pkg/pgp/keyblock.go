package pgp

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp/packet"
)

// NodeKind identifies which OpenPGP packet a KeyNode wraps.
type NodeKind int

const (
	NodePublicKey NodeKind = iota
	NodePublicSubkey
	NodeUserID
	NodeSignature
)

// KeyNode is one packet of a Keyblock, kept in the order it was read off
// the wire so C6's update engine can walk signatures against the user ID
// or subkey that precedes them, the way upd_key does against a KBNODE list.
type KeyNode struct {
	Kind      NodeKind
	PublicKey *packet.PublicKey
	UserID    *packet.UserId
	Signature *packet.Signature
}

// Keyblock is a primary public key plus every subkey, user ID, and
// signature packet that followed it in the wire stream, in that order.
type Keyblock struct {
	Nodes []KeyNode
}

// ParseKeyblock reads packets from r until EOF, keeping only the packet
// kinds the trust engine cares about (public keys, user IDs, signatures)
// and preserving their relative order. It mirrors unmarshalEntityRecord's
// use of packet.NewReader, but keeps the raw packet sequence instead of
// folding it into an openpgp.Entity, since C6 needs positional context a
// map-of-identities throws away.
func ParseKeyblock(r io.Reader) (*Keyblock, error) {
	pr := packet.NewReader(r)
	kb := &Keyblock{}

	for {
		p, err := pr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while reading keyblock packet: %s", err)
		}

		switch pkt := p.(type) {
		case *packet.PublicKey:
			kind := NodePublicKey
			if pkt.IsSubkey {
				kind = NodePublicSubkey
			}
			kb.Nodes = append(kb.Nodes, KeyNode{Kind: kind, PublicKey: pkt})
		case *packet.UserId:
			kb.Nodes = append(kb.Nodes, KeyNode{Kind: NodeUserID, UserID: pkt})
		case *packet.Signature:
			kb.Nodes = append(kb.Nodes, KeyNode{Kind: NodeSignature, Signature: pkt})
		default:
			// user attributes, trust packets, secret key material: not
			// part of the record-store graph, ignored.
		}
	}

	if len(kb.Nodes) == 0 || kb.Nodes[0].Kind != NodePublicKey {
		return nil, fmt.Errorf("keyblock does not begin with a primary public key")
	}

	return kb, nil
}

// ParseKeyblockBytes is a convenience wrapper around ParseKeyblock for
// callers holding a serialized packet stream rather than a reader.
func ParseKeyblockBytes(b []byte) (*Keyblock, error) {
	return ParseKeyblock(bytes.NewReader(b))
}

// Primary returns the keyblock's primary public key.
func (kb *Keyblock) Primary() *packet.PublicKey {
	return kb.Nodes[0].PublicKey
}

// bindingTarget walks backward from a signature node to the user ID it
// certifies. A nil return means the signature binds at
// the key level (a subkey binding or a direct-key signature) rather than
// to a user ID.
func (kb *Keyblock) bindingTarget(idx int) *packet.UserId {
	for i := idx - 1; i >= 0; i-- {
		switch kb.Nodes[i].Kind {
		case NodeUserID:
			return kb.Nodes[i].UserID
		case NodePublicKey, NodePublicSubkey:
			return nil
		}
	}
	return nil
}

// UIDSignatures returns the indexes of every signature node bound to the
// given user ID node, in wire order. KeyExpiry uses this to find a UID's
// self-signatures.
func (kb *Keyblock) UIDSignatures(uidIdx int) []int {
	var sigs []int
	for i := uidIdx + 1; i < len(kb.Nodes); i++ {
		switch kb.Nodes[i].Kind {
		case NodeSignature:
			sigs = append(sigs, i)
		case NodeUserID, NodePublicKey, NodePublicSubkey:
			return sigs
		}
	}
	return sigs
}

// UserIDs returns the indexes of every user ID node in the keyblock.
func (kb *Keyblock) UserIDs() []int {
	var ids []int
	for i, n := range kb.Nodes {
		if n.Kind == NodeUserID {
			ids = append(ids, i)
		}
	}
	return ids
}
