package index

import "github.com/mkos11/neon/cmn"

// TenantIndexParts is the in-memory view the pageserver keeps of every
// timeline's index part for one tenant. It has exactly two states:
//
//   - Present: every timeline currently known is mapped to its index
//     part (possibly empty, for a tenant with no remote timelines yet).
//   - Poisoned: at least one timeline's index part could not be
//     established; Missing records which ones. A tenant never leaves
//     Poisoned once entered — callers must treat every operation on it
//     as failed until the tenant is torn down and reattached.
type TenantIndexParts struct {
	Tenant   cmn.TenantID
	poisoned bool
	present  map[cmn.TimelineID]*IndexPart
	missing  map[cmn.TimelineID]struct{}
}

func NewPresent(tenant cmn.TenantID) *TenantIndexParts {
	return &TenantIndexParts{Tenant: tenant, present: make(map[cmn.TimelineID]*IndexPart)}
}

func (t *TenantIndexParts) IsPoisoned() bool { return t.poisoned }

// Poison transitions Present to Poisoned, recording id among the
// timelines whose index part is now unknown. The transition is one-way:
// calling Poison again only adds to Missing.
func (t *TenantIndexParts) Poison(id cmn.TimelineID) {
	if !t.poisoned {
		t.poisoned = true
		t.missing = make(map[cmn.TimelineID]struct{})
	}
	t.missing[id] = struct{}{}
	delete(t.present, id)
}

func (t *TenantIndexParts) Set(id cmn.TimelineID, ip *IndexPart) error {
	if t.poisoned {
		return &cmn.ErrPoisoned{Tenant: t.Tenant}
	}
	if t.present == nil {
		t.present = make(map[cmn.TimelineID]*IndexPart)
	}
	t.present[id] = ip
	return nil
}

func (t *TenantIndexParts) Get(id cmn.TimelineID) (*IndexPart, bool, error) {
	if t.poisoned {
		return nil, false, &cmn.ErrPoisoned{Tenant: t.Tenant}
	}
	ip, ok := t.present[id]
	return ip, ok, nil
}

func (t *TenantIndexParts) Missing() []cmn.TimelineID {
	out := make([]cmn.TimelineID, 0, len(t.missing))
	for id := range t.missing {
		out = append(out, id)
	}
	return out
}

// Present lists the timelines this tenant currently has an index part
// for. Poison removes only the poisoned id, so on a poisoned tenant this
// still lists timelines set before the poisoning; Get refuses them.
func (t *TenantIndexParts) Present() []cmn.TimelineID {
	out := make([]cmn.TimelineID, 0, len(t.present))
	for id := range t.present {
		out = append(out, id)
	}
	return out
}
