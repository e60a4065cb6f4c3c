// Package pgp is the crypto/keyring primitive layer (component C2): it
// derives fingerprints and key ids, resolves a signer's public key, and
// checks one signature packet against its target. It deliberately knows
// nothing about LIDs, records, or trust; the trust engine calls down into
// it and interprets the results.
package pgp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
	"golang.org/x/crypto/ripemd160"
)

// KeyRing resolves public keys by key id, fingerprint, or user ID against
// a loaded public keyring, and enumerates a loaded secret keyring. It is
// built the same way hkpserver's verifier holds an openpgp.EntityList and
// searches it directly, rather than through a database lookup.
type KeyRing struct {
	Public openpgp.EntityList
	Secret openpgp.EntityList
}

// New wraps an already-loaded public and (optionally nil) secret keyring.
func New(public, secret openpgp.EntityList) *KeyRing {
	return &KeyRing{Public: public, Secret: secret}
}

// FingerprintFromPublicKey returns a public key's 20-byte v4 fingerprint.
func FingerprintFromPublicKey(pk *packet.PublicKey) []byte {
	fpr := make([]byte, len(pk.Fingerprint))
	copy(fpr, pk.Fingerprint[:])
	return fpr
}

// KeyIDFromPublicKey returns a public key's 64-bit key id.
func KeyIDFromPublicKey(pk *packet.PublicKey) uint64 {
	return pk.KeyId
}

// KeyIDFromFingerprint derives a v4 key id from a fingerprint: its low
// 8 bytes, big-endian, the same convention packet.PublicKey.KeyId uses.
func KeyIDFromFingerprint(fpr []byte) uint64 {
	if len(fpr) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(fpr[len(fpr)-8:])
}

// RMD160HashBuffer hashes data with RIPEMD-160, used to build a UID's
// namehash (spec §3, UID.namehash).
func RMD160HashBuffer(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GetPublicKey resolves a public key by key id against the loaded public
// keyring. It returns ErrNotFound, never ErrNoPubkey: that sentinel is
// reserved for CheckKeySignature, where "no pubkey" is a signal the trust
// engine reacts to, not a plain lookup miss.
func (kr *KeyRing) GetPublicKey(keyid uint64) (*packet.PublicKey, error) {
	for _, e := range kr.Public {
		if e.PrimaryKey != nil && e.PrimaryKey.KeyId == keyid {
			return e.PrimaryKey, nil
		}
		for _, sk := range e.Subkeys {
			if sk.PublicKey != nil && sk.PublicKey.KeyId == keyid {
				return sk.PublicKey, nil
			}
		}
	}
	return nil, ErrNotFound
}

// GetPublicKeyByFingerprint resolves a public key by exact fingerprint.
func (kr *KeyRing) GetPublicKeyByFingerprint(fpr []byte) (*packet.PublicKey, error) {
	for _, e := range kr.Public {
		if e.PrimaryKey != nil && bytes.Equal(e.PrimaryKey.Fingerprint[:], fpr) {
			return e.PrimaryKey, nil
		}
		for _, sk := range e.Subkeys {
			if sk.PublicKey != nil && bytes.Equal(sk.PublicKey.Fingerprint[:], fpr) {
				return sk.PublicKey, nil
			}
		}
	}
	return nil, ErrNotFound
}

// GetPublicKeyByName resolves a public key by a case-sensitive exact match
// of name against each identity's name, email, or full identity string,
// returning the primary key of the first entity with a matching identity.
func (kr *KeyRing) GetPublicKeyByName(name string) (*packet.PublicKey, error) {
	for _, e := range kr.Public {
		for _, id := range e.Identities {
			if id.UserId.Name == name || id.UserId.Email == name || id.Name == name {
				return e.PrimaryKey, nil
			}
		}
	}
	return nil, ErrNotFound
}

// GetEntityByFingerprint resolves the full entity (primary key, subkeys,
// identities) owning a fingerprint, needed to re-serialize a keyblock.
func (kr *KeyRing) GetEntityByFingerprint(fpr []byte) (*openpgp.Entity, error) {
	for _, e := range kr.Public {
		if e.PrimaryKey != nil && bytes.Equal(e.PrimaryKey.Fingerprint[:], fpr) {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// GetKeyblockByFingerprint serializes the entity owning fpr and re-parses
// it as a Keyblock, giving the trust engine the packet-order view it needs
// without keeping a second representation of every entity in memory.
func (kr *KeyRing) GetKeyblockByFingerprint(fpr []byte) (*Keyblock, error) {
	e, err := kr.GetEntityByFingerprint(fpr)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := e.Serialize(buf); err != nil {
		return nil, err
	}

	return ParseKeyblockBytes(buf.Bytes())
}

// SecretKeys returns the primary public key of every entity in the secret
// keyring that carries a usable private key, the enum_secret_keys
// primitive C5's ultimate-root registry is built from.
func (kr *KeyRing) SecretKeys() []*packet.PublicKey {
	var out []*packet.PublicKey
	for _, e := range kr.Secret {
		if e.PrivateKey != nil && e.PrimaryKey != nil {
			out = append(out, e.PrimaryKey)
		}
	}
	return out
}

// CheckKeySignature verifies the signature at kb.Nodes[sigIdx], resolving
// the signer's public key from the keyring (or from kb's own primary key,
// for a self-signature) and the signed target from the keyblock's packet
// order. It reports whether the signature verified, whether it was a
// self-signature, and ErrNoPubkey specifically when the signer's key
// could not be resolved at all, so the caller can tell "signature didn't
// verify" apart from "couldn't even try".
func (kr *KeyRing) CheckKeySignature(kb *Keyblock, sigIdx int) (valid bool, selfSig bool, err error) {
	node := kb.Nodes[sigIdx]
	if node.Kind != NodeSignature {
		return false, false, fmt.Errorf("pgp: node %d is not a signature", sigIdx)
	}
	sig := node.Signature
	primary := kb.Primary()

	var signerKeyID uint64
	if sig.IssuerKeyId != nil {
		signerKeyID = *sig.IssuerKeyId
	}
	selfSig = signerKeyID != 0 && signerKeyID == primary.KeyId

	var signer *packet.PublicKey
	if selfSig {
		signer = primary
	} else {
		signer, err = kr.GetPublicKey(signerKeyID)
		if err != nil {
			return false, selfSig, ErrNoPubkey
		}
	}

	target := kb.bindingTarget(sigIdx)
	if target != nil {
		verr := signer.VerifyUserIdSignature(target.Id, primary, sig)
		return verr == nil, selfSig, verr
	}

	// No preceding user ID: a direct-key signature or subkey binding.
	// upd_key's NOTE marks 0x18/0x20/0x28/0x30 as logged-and-skipped by
	// the update engine; pgp still reports whether they verify.
	signed := primary
	if node2 := precedingKeyNode(kb, sigIdx); node2 != nil {
		signed = node2
	}
	verr := signer.VerifyKeySignature(signed, sig)
	return verr == nil, selfSig, verr
}

// precedingKeyNode returns the nearest public key (primary or subkey)
// preceding idx, the target of a direct-key or subkey-binding signature.
func precedingKeyNode(kb *Keyblock, idx int) *packet.PublicKey {
	for i := idx - 1; i >= 0; i-- {
		if kb.Nodes[i].Kind == NodePublicKey || kb.Nodes[i].Kind == NodePublicSubkey {
			return kb.Nodes[i].PublicKey
		}
	}
	return nil
}

// PreferredSymmetric, PreferredHash and PreferredCompression return a
// self-signature's preference lists. golang.org/x/crypto/openpgp/packet
// already parses RFC 4880 preference subpackets into these fields, so
// there is no separate subpacket-walking primitive here.
func PreferredSymmetric(sig *packet.Signature) []uint8   { return sig.PreferredSymmetric }
func PreferredHash(sig *packet.Signature) []uint8         { return sig.PreferredHash }
func PreferredCompression(sig *packet.Signature) []uint8 { return sig.PreferredCompression }

// KeyExpiry returns the primary key's expiration time as recorded on its
// own self-signature, or the zero time if the key carries no expiry. Unlike
// a v3 key packet's expiredate field, a v4 key's lifetime lives on the
// self-signature rather than the key packet itself, so this walks kb for
// the first certification made by the primary key over its own identity
// that carries a non-zero key lifetime.
func KeyExpiry(kb *Keyblock) time.Time {
	primary := kb.Primary()
	if primary == nil {
		return time.Time{}
	}

	for _, idx := range kb.UserIDs() {
		for _, sigIdx := range kb.UIDSignatures(idx) {
			sig := kb.Nodes[sigIdx].Signature
			if sig.IssuerKeyId == nil || *sig.IssuerKeyId != primary.KeyId {
				continue
			}
			if sig.KeyLifetimeSecs == nil || *sig.KeyLifetimeSecs == 0 {
				continue
			}
			return primary.CreationTime.Add(time.Duration(*sig.KeyLifetimeSecs) * time.Second)
		}
	}
	return time.Time{}
}

// LoadKeyRingFile reads a keyring from path, the way ReadArmoredKeyRing is
// used against an uploaded keytext in hkpserver, except a keyring file on
// disk may be either armored or the raw binary format gnupg itself writes,
// so this tries armored first and falls back to binary.
func LoadKeyRingFile(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if el, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(b)); err == nil {
		return el, nil
	}
	return openpgp.ReadKeyRing(bytes.NewReader(b))
}

// ArmorPublicEntity writes e as an armored public key block, for
// export paths that hand a key back to an operator.
func ArmorPublicEntity(w io.Writer, e *openpgp.Entity) error {
	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}
	if err := e.Serialize(aw); err != nil {
		aw.Close()
		return err
	}
	return aw.Close()
}
