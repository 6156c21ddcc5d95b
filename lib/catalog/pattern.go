package catalog

import "strings"

// Pattern is a structural predicate over namespaces. Every set field must match,
// the zero Pattern matches everything.
type Pattern struct {
	Kind        *Kind  `json:"kind,omitempty"`
	NamePrefix  string `json:"namePrefix,omitempty"`
	NameSuffix  string `json:"nameSuffix,omitempty"`
	Owner       string `json:"owner,omitempty"`       // exact owning collection
	OwnerPrefix string `json:"ownerPrefix,omitempty"` // prefix of the owning collection
	Temporary   *bool  `json:"temporary,omitempty"`
}

// Match reports whether ns satisfies the pattern.
func (p Pattern) Match(ns Namespace) bool {
	if p.Kind != nil && ns.Kind != *p.Kind {
		return false
	}
	if p.Temporary != nil && ns.Temporary != *p.Temporary {
		return false
	}
	if !strings.HasPrefix(ns.Name, p.NamePrefix) || !strings.HasSuffix(ns.Name, p.NameSuffix) {
		return false
	}
	if p.Owner != "" && ns.Owner != p.Owner {
		return false
	}
	if p.OwnerPrefix != "" && (ns.Owner == "" || !strings.HasPrefix(ns.Owner, p.OwnerPrefix)) {
		return false
	}
	return true
}

// Filter returns the namespaces matching the pattern, preserving their order.
func (p Pattern) Filter(nss []Namespace) []Namespace {
	out := make([]Namespace, 0, len(nss))
	for _, ns := range nss {
		if p.Match(ns) {
			out = append(out, ns)
		}
	}
	return out
}

// WithKind returns a copy of the pattern restricted to a kind.
func (p Pattern) WithKind(k Kind) Pattern {
	p.Kind = &k
	return p
}

// WithTemporary returns a copy of the pattern restricted by the temporary flag.
func (p Pattern) WithTemporary(temp bool) Pattern {
	p.Temporary = &temp
	return p
}

// Collections matches all collections.
func Collections() Pattern {
	return Pattern{}.WithKind(KindCollection)
}

// Indexes matches all indexes.
func Indexes() Pattern {
	return Pattern{}.WithKind(KindIndex)
}

// IndexesOf matches the indexes owned by a collection.
func IndexesOf(collection string) Pattern {
	return Pattern{Owner: collection}.WithKind(KindIndex)
}
