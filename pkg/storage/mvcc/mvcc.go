// Package mvcc encodes multiple versions of a single value in one byte
// stream. A value region is either a primordial byte string, visible to every
// snapshot, or a tagged chain of versions appended in version order.
//
// Multi-version layout:
//
//	[TypeMVV:1] then per version: [version:uvarint][length:uvarint][bytes:length]
//
// A version whose payload is the single byte TypeAntiValue marks a delete at
// that version. Version 0 is the primordial bottom.
package mvcc

import (
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

const (
	// TypeMVV tags a multi-version region. A primordial value must not begin
	// with this byte; writers escape such values into a one-entry chain.
	TypeMVV = 0xFE

	// TypeAntiValue is the single-byte payload marking a delete.
	TypeAntiValue = 0xFF

	// PrimordialVersion is the version handle of the pre-MVCC bottom value.
	PrimordialVersion primitives.Version = 0
)

// AntiValue is the canonical anti-value payload.
var AntiValue = []byte{TypeAntiValue}

// IsMultiVersion reports whether b is a tagged multi-version region.
func IsMultiVersion(b []byte) bool {
	return len(b) > 0 && b[0] == TypeMVV
}

// IsAntiValue reports whether payload marks a delete.
func IsAntiValue(payload []byte) bool {
	return len(payload) == 1 && payload[0] == TypeAntiValue
}

// VersionVisitor receives each version of a value region in storage order.
type VersionVisitor interface {
	Init() error
	SawVersion(version primitives.Version, offset, length int) error
}

// VisitAllVersions walks every version in b. A primordial region produces a
// single callback with PrimordialVersion covering the whole slice.
func VisitAllVersions(visitor VersionVisitor, b []byte) error {
	if err := visitor.Init(); err != nil {
		return err
	}
	if !IsMultiVersion(b) {
		return visitor.SawVersion(PrimordialVersion, 0, len(b))
	}
	pos := 1
	for pos < len(b) {
		version, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return errs.Newf(errs.KindCorruptVolume, "malformed version handle at offset %d", pos)
		}
		pos += n
		length, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return errs.Newf(errs.KindCorruptVolume, "malformed version length at offset %d", pos)
		}
		pos += n
		if pos+int(length) > len(b) {
			return errs.Newf(errs.KindCorruptVolume, "version payload overruns region: offset %d length %d", pos, length)
		}
		if err := visitor.SawVersion(primitives.Version(version), pos, int(length)); err != nil {
			return err
		}
		pos += int(length)
	}
	return nil
}

// entry is one decoded version.
type entry struct {
	version primitives.Version
	payload []byte
}

// decode splits b into its version entries. A primordial region becomes a
// single version-0 entry.
func decode(b []byte) ([]entry, error) {
	var entries []entry
	collect := visitorFunc(func(version primitives.Version, offset, length int) error {
		entries = append(entries, entry{version: version, payload: b[offset : offset+length]})
		return nil
	})
	if err := VisitAllVersions(collect, b); err != nil {
		return nil, err
	}
	return entries, nil
}

type visitorFunc func(version primitives.Version, offset, length int) error

func (f visitorFunc) Init() error { return nil }

func (f visitorFunc) SawVersion(version primitives.Version, offset, length int) error {
	return f(version, offset, length)
}

// AppendVersion adds a version to a value region, converting a primordial
// region into a chain first. The newest version must be greater than every
// existing version handle.
func AppendVersion(b []byte, version primitives.Version, payload []byte) ([]byte, error) {
	entries, err := decode(b)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		entries = nil
	}
	if n := len(entries); n > 0 && entries[n-1].version >= version {
		return nil, errs.Newf(errs.KindCorruptVolume,
			"version %d not greater than newest existing version %d", version, entries[n-1].version)
	}
	entries = append(entries, entry{version: version, payload: payload})
	return encode(entries), nil
}

// encode serializes entries as a tagged chain. A single version-0 entry
// collapses back to a primordial byte string.
func encode(entries []entry) []byte {
	if len(entries) == 1 && entries[0].version == PrimordialVersion {
		out := make([]byte, len(entries[0].payload))
		copy(out, entries[0].payload)
		return out
	}
	var scratch [binary.MaxVarintLen64]byte
	out := []byte{TypeMVV}
	for _, e := range entries {
		n := binary.PutUvarint(scratch[:], uint64(e.version))
		out = append(out, scratch[:n]...)
		n = binary.PutUvarint(scratch[:], uint64(len(e.payload)))
		out = append(out, scratch[:n]...)
		out = append(out, e.payload...)
	}
	return out
}

// LatestVersion returns the highest version handle in b, or
// PrimordialVersion for a primordial region.
func LatestVersion(b []byte) (primitives.Version, error) {
	entries, err := decode(b)
	if err != nil {
		return PrimordialVersion, err
	}
	latest := PrimordialVersion
	for _, e := range entries {
		if e.version > latest {
			latest = e.version
		}
	}
	return latest, nil
}

// VisibleValue resolves the value seen by a snapshot: the payload of the
// newest version whose handle is at most snapshot. The second result is false
// when the key is invisible at that snapshot, either because no version
// qualifies or the qualifying version is an anti-value.
func VisibleValue(b []byte, snapshot primitives.Version) ([]byte, bool, error) {
	entries, err := decode(b)
	if err != nil {
		return nil, false, err
	}
	var best *entry
	for i := range entries {
		e := &entries[i]
		if e.version <= snapshot && (best == nil || e.version >= best.version) {
			best = e
		}
	}
	if best == nil || IsAntiValue(best.payload) {
		return nil, false, nil
	}
	return best.payload, true, nil
}
