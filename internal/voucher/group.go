package voucher

// Grouped is an insertion-ordered mapping of voucher code to the aggregated
// allocation for that code.
type Grouped struct {
	order  []string
	byCode map[string]*Allocation
}

// GroupByCode collapses allocations sharing a code into one entry. Input is
// expected newest first: the first allocation of a code supplies the display
// metadata while owned and used counts are summed across all of them.
func GroupByCode(allocs []Allocation) *Grouped {
	g := &Grouped{byCode: make(map[string]*Allocation, len(allocs))}
	for _, a := range allocs {
		code := a.Code()
		existing, ok := g.byCode[code]
		if !ok {
			seed := a
			seed.MemberIDs = memberIDs(a)
			g.byCode[code] = &seed
			g.order = append(g.order, code)
			continue
		}
		existing.QuantityOwned += a.QuantityOwned
		existing.UsedCount += a.UsedCount
		existing.IsUsed = existing.IsUsed && a.IsUsed
		existing.MemberIDs = appendUnique(existing.MemberIDs, memberIDs(a)...)
	}
	return g
}

// Len returns the number of distinct codes.
func (g *Grouped) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

// Codes returns the codes in insertion order.
func (g *Grouped) Codes() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.order...)
}

// Get returns the grouped allocation for code.
func (g *Grouped) Get(code string) (Allocation, bool) {
	if g == nil {
		return Allocation{}, false
	}
	a, ok := g.byCode[code]
	if !ok {
		return Allocation{}, false
	}
	return *a, true
}

// List returns the grouped allocations in insertion order.
func (g *Grouped) List() []Allocation {
	if g == nil {
		return nil
	}
	out := make([]Allocation, 0, len(g.order))
	for _, code := range g.order {
		out = append(out, *g.byCode[code])
	}
	return out
}

func memberIDs(a Allocation) []string {
	if len(a.MemberIDs) > 0 {
		return append([]string(nil), a.MemberIDs...)
	}
	if a.ID == "" {
		return nil
	}
	return []string{a.ID}
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		seen := false
		for _, existing := range dst {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, id)
		}
	}
	return dst
}
