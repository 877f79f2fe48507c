// Package identity maps user input (name, ticker, or code) onto a canonical
// company identity within one registry. Registries are read-through caches
// loaded once per process and injected into the resolver, so the core stays
// testable with fake snapshots.
package identity

import (
	"sort"
	"strings"

	"fact_reconciler/pkg/core/normalize"
)

// Market selects the registry family a query runs against.
type Market string

const (
	MarketKR Market = "KR"
	MarketUS Market = "US"
)

// CompanyIdentity is the resolved target of a query. PrimaryCode is the
// 6-digit exchange code or ticker symbol; SecondaryCode the 8-digit
// disclosure corp code or zero-padded CIK. DisplayName may be empty for
// direct-code queries until upstream data supplies the name.
type CompanyIdentity struct {
	Market        Market `json:"market"`
	PrimaryCode   string `json:"primary_code"`
	SecondaryCode string `json:"secondary_code"`
	DisplayName   string `json:"display_name"`
}

// Entry is one registry row.
type Entry struct {
	Name          string
	NormName      string
	PrimaryCode   string
	SecondaryCode string
}

// Registry is the lookup surface the resolver needs. The substring scan sits
// behind this interface so a prefix index could replace the linear walk
// without touching callers.
type Registry interface {
	// ByCode looks up a primary or secondary code verbatim.
	ByCode(code string) (Entry, bool)
	// ByName looks up an exact normalized-name key.
	ByName(key string) (Entry, bool)
	// BySubstring finds the entry whose normalized name contains the key or
	// is contained by it. Deterministic: shortest name first, then lexical.
	BySubstring(key string) (Entry, bool)
	// ByID looks up the secondary (disclosure) code.
	ByID(id string) (Entry, bool)
	// Entries returns every entry; sweeps iterate this read-only.
	Entries() []Entry
}

// Snapshot is the in-memory registry built from one listing download.
// Duplicate normalized names keep the first entry seen, matching the
// first-wins semantics of the upstream corp dumps.
type Snapshot struct {
	byCode  map[string]Entry
	byName  map[string]Entry
	byID    map[string]Entry
	scanSet []Entry
}

// NewSnapshot indexes entries. NormName is derived from Name when unset.
func NewSnapshot(entries []Entry) *Snapshot {
	s := &Snapshot{
		byCode: make(map[string]Entry, len(entries)*2),
		byName: make(map[string]Entry, len(entries)),
		byID:   make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		if e.NormName == "" {
			e.NormName = normalize.Key(e.Name)
		}
		if e.PrimaryCode != "" {
			if _, dup := s.byCode[e.PrimaryCode]; !dup {
				s.byCode[e.PrimaryCode] = e
			}
		}
		if e.SecondaryCode != "" {
			if _, dup := s.byCode[e.SecondaryCode]; !dup {
				s.byCode[e.SecondaryCode] = e
			}
			if _, dup := s.byID[e.SecondaryCode]; !dup {
				s.byID[e.SecondaryCode] = e
			}
		}
		if e.NormName != "" {
			if _, dup := s.byName[e.NormName]; !dup {
				s.byName[e.NormName] = e
				s.scanSet = append(s.scanSet, e)
			}
		}
	}
	sort.Slice(s.scanSet, func(i, j int) bool {
		a, b := s.scanSet[i].NormName, s.scanSet[j].NormName
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return s
}

func (s *Snapshot) ByCode(code string) (Entry, bool) {
	e, ok := s.byCode[code]
	return e, ok
}

func (s *Snapshot) ByName(key string) (Entry, bool) {
	e, ok := s.byName[key]
	return e, ok
}

func (s *Snapshot) ByID(id string) (Entry, bool) {
	e, ok := s.byID[id]
	return e, ok
}

func (s *Snapshot) BySubstring(key string) (Entry, bool) {
	if key == "" {
		return Entry{}, false
	}
	for _, e := range s.scanSet {
		if strings.Contains(e.NormName, key) || strings.Contains(key, e.NormName) {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Snapshot) Entries() []Entry {
	return s.scanSet
}
