// Package key owns the composite key model: Namespace, TypeTag, and Key,
// plus the frozen byte encoding used on the wire and as the unified store's
// B+Tree sort order.
package key

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/stratadb/stratadb/pkg/types"
)

// TypeTag discriminates which primitive a key belongs to. The numeric
// values and their relative order are frozen: they define lexicographic
// key order across primitives.
type TypeTag uint8

const (
	TypeKV          TypeTag = 0
	TypeEvent       TypeTag = 1
	TypeStateMachine TypeTag = 2
	TypeTrace       TypeTag = 3
	TypeRunMetadata TypeTag = 4
	TypeVector      TypeTag = 5
)

func (t TypeTag) String() string {
	switch t {
	case TypeKV:
		return "kv"
	case TypeEvent:
		return "event"
	case TypeStateMachine:
		return "state_machine"
	case TypeTrace:
		return "trace"
	case TypeRunMetadata:
		return "run_metadata"
	case TypeVector:
		return "vector"
	default:
		return "unknown"
	}
}

// DefaultRunName is the external name of the run that always exists and can
// never be closed.
const DefaultRunName = "default"

// DefaultRunID is the well-known internal id backing DefaultRunName, fixed
// across every database so the default run is addressable before RunIndex
// has minted anything.
var DefaultRunID = uuid.Nil

// Namespace is the (tenant, app, agent, run) prefix shared by every key.
// Run is the internal run id; external run names are resolved to a
// Namespace by pkg/runs before any store operation.
type Namespace struct {
	Tenant string
	App    string
	Agent  string
	Run    uuid.UUID
}

func (n Namespace) Equal(other Namespace) bool {
	return n.Tenant == other.Tenant && n.App == other.App && n.Agent == other.Agent && n.Run == other.Run
}

// Key is the full composite key: a Namespace, a TypeTag, and an opaque
// user-supplied key (UTF-8 for most primitives, arbitrary bytes for events).
type Key struct {
	Namespace Namespace
	Type      TypeTag
	User      []byte
}

func New(ns Namespace, t TypeTag, user []byte) Key {
	return Key{Namespace: ns, Type: t, User: append([]byte(nil), user...)}
}

// Encode produces the frozen composite-key byte encoding:
// tenant-length | tenant | app-length | app | agent-length | agent |
// run-id (16 bytes) | type-tag:u8 | user-key-length:u32 BE | user-key.
// All lengths are u32 BE.
func (k Key) Encode() []byte {
	size := 4 + len(k.Namespace.Tenant) +
		4 + len(k.Namespace.App) +
		4 + len(k.Namespace.Agent) +
		16 + 1 + 4 + len(k.User)

	buf := make([]byte, 0, size)
	buf = appendLenPrefixed(buf, k.Namespace.Tenant)
	buf = appendLenPrefixed(buf, k.Namespace.App)
	buf = appendLenPrefixed(buf, k.Namespace.Agent)
	buf = append(buf, k.Namespace.Run[:]...)
	buf = append(buf, byte(k.Type))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k.User)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, k.User...)
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

// Decode parses the encoding produced by Encode.
func Decode(buf []byte) (Key, error) {
	var k Key
	tenant, rest, err := readLenPrefixed(buf)
	if err != nil {
		return k, err
	}
	app, rest, err := readLenPrefixed(rest)
	if err != nil {
		return k, err
	}
	agent, rest, err := readLenPrefixed(rest)
	if err != nil {
		return k, err
	}
	if len(rest) < 16+1+4 {
		return k, errShortBuffer
	}
	var run uuid.UUID
	copy(run[:], rest[:16])
	rest = rest[16:]
	typeTag := TypeTag(rest[0])
	rest = rest[1:]
	userLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint32(len(rest)) < userLen {
		return k, errShortBuffer
	}
	user := rest[:userLen]

	k.Namespace = Namespace{Tenant: tenant, App: app, Agent: agent, Run: run}
	k.Type = typeTag
	k.User = append([]byte(nil), user...)
	return k, nil
}

func readLenPrefixed(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, errShortBuffer
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", nil, errShortBuffer
	}
	return string(buf[:n]), buf[n:], nil
}

var errShortBuffer = decodeError("key: buffer too short to decode")

type decodeError string

func (e decodeError) Error() string { return string(e) }

// Compare implements types.Comparable so Key can be used directly as the
// unified store's B+Tree key: lexicographic order on (Namespace, TypeTag,
// user key), matching the scan order required by §4.4.
func (k Key) Compare(other types.Comparable) int {
	o := other.(Key)

	if c := compareStrings(k.Namespace.Tenant, o.Namespace.Tenant); c != 0 {
		return c
	}
	if c := compareStrings(k.Namespace.App, o.Namespace.App); c != 0 {
		return c
	}
	if c := compareStrings(k.Namespace.Agent, o.Namespace.Agent); c != 0 {
		return c
	}
	if c := bytes.Compare(k.Namespace.Run[:], o.Namespace.Run[:]); c != 0 {
		return c
	}
	if k.Type != o.Type {
		if k.Type < o.Type {
			return -1
		}
		return 1
	}
	return bytes.Compare(k.User, o.User)
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
