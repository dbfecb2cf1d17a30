package resolver

import (
	"strings"

	"github.com/google/uuid"
)

// RefKind tags what a reference value actually is. Typed call sites build
// refs directly; ParseRef sniffs only for untyped, legacy-persisted strings.
type RefKind int

const (
	RefNone RefKind = iota
	RefAssetID
	// RefLegacyKey is a raw storage key persisted before asset ids existed.
	RefLegacyKey
)

type Ref struct {
	Kind  RefKind
	Value string
}

func AssetIDRef(id string) Ref {
	id = strings.TrimSpace(id)
	if id == "" {
		return Ref{Kind: RefNone}
	}
	return Ref{Kind: RefAssetID, Value: id}
}

func LegacyKeyRef(key string) Ref {
	key = strings.TrimSpace(key)
	if key == "" {
		return Ref{Kind: RefNone}
	}
	return Ref{Kind: RefLegacyKey, Value: key}
}

// ParseRef classifies an untyped persisted reference. Asset ids are UUIDs;
// anything else is treated as a legacy storage key.
func ParseRef(s string) Ref {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{Kind: RefNone}
	}
	if _, err := uuid.Parse(s); err == nil {
		return Ref{Kind: RefAssetID, Value: s}
	}
	return Ref{Kind: RefLegacyKey, Value: s}
}
