package priority

import "slices"

// Selection is the outcome of one surfacing pass.
type Selection struct {
	Important []*Item
	Urgent    []*Item
}

// All returns the selected items, important pool first.
func (s Selection) All() []*Item {
	out := make([]*Item, 0, len(s.Important)+len(s.Urgent))
	out = append(out, s.Important...)
	return append(out, s.Urgent...)
}

// Len is the number of selected items.
func (s Selection) Len() int { return len(s.Important) + len(s.Urgent) }

// Select picks which eligible items to surface given how many are already
// surfaced. The important pool ranks by total, the urgent pool by urgency,
// and a short pool gives its unused slots to the other. The result never
// exceeds policy.K() - surfaced items and depends only on the arguments.
func Select(eligible []*Item, surfaced int, policy SurfacingPolicy) Selection {
	slots := policy.K() - surfaced
	if slots <= 0 || len(eligible) == 0 {
		return Selection{}
	}
	return pick(eligible, slots, policy)
}

func pick(items []*Item, slots int, policy SurfacingPolicy) Selection {
	byImp := slices.Clone(items)
	slices.SortFunc(byImp, ByImportance)
	byUrg := slices.Clone(items)
	slices.SortFunc(byUrg, ByUrgency)

	wantImp := min(policy.ImportantCount, slots)
	wantUrg := min(policy.UrgentCount, slots-wantImp)
	if n := len(items); wantImp+wantUrg > n {
		wantImp = min(wantImp, n)
		wantUrg = n - wantImp
	}

	chosen := make(map[string]bool, slots)
	take := func(ranked []*Item, n int) []*Item {
		var out []*Item
		for _, it := range ranked {
			if len(out) == n {
				break
			}
			if chosen[it.ID] {
				continue
			}
			chosen[it.ID] = true
			out = append(out, it)
		}
		return out
	}

	var sel Selection
	sel.Important = take(byImp, wantImp)
	sel.Urgent = take(byUrg, wantUrg)

	// spill unused capacity from a short pool into the other
	want := min(slots, len(items))
	if short := want - sel.Len(); short > 0 {
		sel.Important = append(sel.Important, take(byImp, short)...)
	}
	return sel
}

// SurfaceStats summarizes a user's items for the surface view.
type SurfaceStats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByQuadrant map[Quadrant]int `json:"by_quadrant"`
	Surfaced   int              `json:"surfaced"`
	Duplicates int              `json:"duplicates"`
}

// SurfaceView is the read-only ranked view returned by the API.
type SurfaceView struct {
	MostImportant []*Item      `json:"most_important"`
	MostUrgent    []*Item      `json:"most_urgent"`
	Stats         SurfaceStats `json:"stats"`
}

// BuildSurfaceView ranks the canonical active items among all of a user's
// items with the policy scaled to topN. It does not change any state.
func BuildSurfaceView(all []*Item, topN int, policy SurfacingPolicy) SurfaceView {
	stats := SurfaceStats{
		ByStatus:   make(map[Status]int),
		ByQuadrant: make(map[Quadrant]int),
	}
	var active []*Item
	for _, it := range all {
		stats.Total++
		stats.ByStatus[it.Status]++
		if !it.Canonical() {
			stats.Duplicates++
		}
		if it.Status == StatusSurfaced {
			stats.Surfaced++
		}
		if it.Status.Active() && it.Canonical() {
			stats.ByQuadrant[it.Quadrant]++
			active = append(active, it)
		}
	}

	view := SurfaceView{
		MostImportant: []*Item{},
		MostUrgent:    []*Item{},
		Stats:         stats,
	}
	if topN <= 0 || len(active) == 0 {
		return view
	}
	sel := pick(active, topN, policy.Scaled(topN))
	if sel.Important != nil {
		view.MostImportant = sel.Important
	}
	if sel.Urgent != nil {
		view.MostUrgent = sel.Urgent
	}
	return view
}
