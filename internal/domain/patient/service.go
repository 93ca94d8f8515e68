package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Sortable fields and orders accepted by Sort.
var (
	SortFields = []string{"height", "weight", "bmi"}
	SortOrders = []string{"asc", "desc"}
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// All returns every record keyed by id with derived fields filled in.
func (s *Service) All(ctx context.Context) (map[string]View, error) {
	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]View, len(snap))
	for id, rec := range snap {
		out[id] = FromRecord(id, rec).View()
	}
	return out, nil
}

// List returns one page of records ordered by id and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]View, int, error) {
	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	views := viewsByID(snap)
	total := len(views)
	if offset >= total {
		return []View{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return views[offset:end], total, nil
}

func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := snap[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v := FromRecord(id, rec).View()
	return &v, nil
}

// Sort orders all records by height, weight or bmi. order is matched
// case-insensitively and defaults to ascending; ties are broken by id.
func (s *Service) Sort(ctx context.Context, sortBy, order string) ([]View, error) {
	key, desc, err := parseSort(sortBy, order)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	views := viewsByID(snap)
	sort.SliceStable(views, func(i, j int) bool {
		a, b := key(views[i]), key(views[j])
		if a == b {
			return false
		}
		if desc {
			return a > b
		}
		return a < b
	})
	return views, nil
}

func parseSort(sortBy, order string) (func(View) float64, bool, error) {
	verr := &ValidationError{}

	var key func(View) float64
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "height":
		key = func(v View) float64 { return v.Height }
	case "weight":
		key = func(v View) float64 { return v.Weight }
	case "bmi":
		key = func(v View) float64 { return v.BMI }
	case "":
		verr.Add("sort_by", "is required")
	default:
		verr.Add("sort_by", "must be one of "+strings.Join(SortFields, ", "))
	}

	var desc bool
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		verr.Add("order", "must be one of "+strings.Join(SortOrders, ", "))
	}

	if err := verr.OrNil(); err != nil {
		return nil, false, err
	}
	return key, desc, nil
}

func (s *Service) Create(ctx context.Context, in Input) (*Patient, error) {
	p, err := in.Patient()
	if err != nil {
		return nil, err
	}
	err = s.store.Mutate(ctx, func(snap Snapshot) error {
		if _, exists := snap[p.ID]; exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
		}
		snap[p.ID] = p.Record()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Update merges the supplied fields into the stored record and re-validates
// the merged result before saving.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Patient, error) {
	if in.ID != nil && strings.TrimSpace(*in.ID) != id {
		return nil, NewValidationError("id", "cannot be changed")
	}

	var updated Patient
	err := s.store.Mutate(ctx, func(snap Snapshot) error {
		rec, ok := snap[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		updated = MergeUpdate(FromRecord(id, rec), in)
		if err := updated.Validate(); err != nil {
			return err
		}
		snap[id] = updated.Record()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Mutate(ctx, func(snap Snapshot) error {
		if _, ok := snap[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		delete(snap, id)
		return nil
	})
}

// CheckReport summarizes a snapshot integrity check.
type CheckReport struct {
	Total   int
	Invalid map[string]error
}

// Check loads the snapshot and validates every record in it.
func (s *Service) Check(ctx context.Context) (*CheckReport, error) {
	snap, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	report := &CheckReport{Total: len(snap), Invalid: make(map[string]error)}
	for id, rec := range snap {
		if err := FromRecord(id, rec).Validate(); err != nil {
			report.Invalid[id] = err
		}
	}
	return report, nil
}

func viewsByID(snap Snapshot) []View {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	views := make([]View, 0, len(ids))
	for _, id := range ids {
		views = append(views, FromRecord(id, snap[id]).View())
	}
	return views
}
