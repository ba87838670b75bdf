package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// DefaultLinkBase is used when neither the session nor the config names a
// viewer for events and profiles.
const DefaultLinkBase = "https://njump.me"

// EventURL returns a viewer link for ev embedding the relays it was seen on,
// its author and its kind. It returns "" when the pointer cannot be encoded.
func EventURL(base string, ev *nostr.Event, relays []string) string {
	if ev == nil {
		return ""
	}
	nevent, err := EncodeEvent(nostr.EventPointer{ID: ev.ID, Relays: relays, Author: ev.PubKey, Kind: ev.Kind})
	if err != nil {
		return ""
	}
	return linkBase(base) + "/" + nevent
}

// TLV entry types of a nevent.
const (
	tlvID     byte = 0
	tlvRelay  byte = 1
	tlvAuthor byte = 2
	tlvKind   byte = 3
)

// EncodeEvent encodes p as a nevent. nip19.EncodeEvent has no kind entry,
// so the TLV is built here; nip19.Decode reads every field back.
func EncodeEvent(p nostr.EventPointer) (string, error) {
	id, err := hex.DecodeString(p.ID)
	if err != nil || len(id) != 32 {
		return "", fmt.Errorf("nevent: invalid id %q", p.ID)
	}
	var buf bytes.Buffer
	writeTLV(&buf, tlvID, id)
	for _, r := range p.Relays {
		if len(r) > 255 {
			continue
		}
		writeTLV(&buf, tlvRelay, []byte(r))
	}
	if author, _ := hex.DecodeString(p.Author); len(author) == 32 {
		writeTLV(&buf, tlvAuthor, author)
	}
	if p.Kind > 0 {
		kind := make([]byte, 4)
		binary.BigEndian.PutUint32(kind, uint32(p.Kind))
		writeTLV(&buf, tlvKind, kind)
	}
	bits5, err := bech32.ConvertBits(buf.Bytes(), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("nevent: %w", err)
	}
	return bech32.Encode("nevent", bits5)
}

func writeTLV(buf *bytes.Buffer, typ byte, v []byte) {
	buf.WriteByte(typ)
	buf.WriteByte(byte(len(v)))
	buf.Write(v)
}

// ProfileURL returns a viewer link for a public key, or "" if it is invalid.
func ProfileURL(base, pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return ""
	}
	return linkBase(base) + "/" + npub
}

func linkBase(base string) string {
	if base == "" {
		base = DefaultLinkBase
	}
	return strings.TrimRight(base, "/")
}

// NewLocalTag returns an ephemeral identity for an annotation that has not
// been saved yet: "a:" followed by 8 hex characters.
func NewLocalTag() string {
	id := uuid.New()
	return "a:" + strings.ReplaceAll(id.String(), "-", "")[:8]
}
