package specialist

import (
	"context"
	"errors"
	"testing"
	"time"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/customer"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func dental() customer.Customer {
	return customer.Customer{ID: "c1", Industry: "dental"}
}

func TestScore_Components(t *testing.T) {
	s := Specialist{Industries: []string{"Dental"}, IndustryWeight: 40, Available: true, MaxCustomers: 2, Satisfaction: 4.0}
	if got := Score(s, dental()); got != 40+AvailabilityBonus+PerformanceBonus {
		t.Fatalf("unexpected score %v", got)
	}
	s.CurrentCustomers = 2
	s.Satisfaction = 3.9
	if got := Score(s, dental()); got != 40 {
		t.Fatalf("expected only industry weight, got %v", got)
	}
	if got := Score(s, customer.Customer{BusinessType: "dental"}); got != 40 {
		t.Fatalf("expected business type to match, got %v", got)
	}
}

func TestBestMatch_DeterministicTies(t *testing.T) {
	cands := []Specialist{
		{ID: "a", Available: true, Active: true, MaxCustomers: 5},
		{ID: "b", Available: true, Active: true, MaxCustomers: 5},
	}
	for i := 0; i < 10; i++ {
		if m := BestMatch(cands, dental()); m.Specialist.ID != "a" {
			t.Fatalf("expected first candidate on tie, got %s", m.Specialist.ID)
		}
	}
}

func TestBestMatch_FullSpecialistIsFallbackWhenAlone(t *testing.T) {
	only := Specialist{ID: "solo", Available: true, Active: true, MaxCustomers: 1, CurrentCustomers: 1}
	if Score(only, dental()) != 0 {
		t.Fatalf("full specialist must not earn the availability bonus")
	}
	m := BestMatch([]Specialist{only}, dental())
	if !m.Found || !m.Fallback || m.Specialist.ID != "solo" {
		t.Fatalf("expected fallback to the only candidate, got %+v", m)
	}
	if m := BestMatch(nil, dental()); m.Found {
		t.Fatalf("empty candidate set must return no match")
	}
}

func TestBestMatch_PrefersCapacityOverIndustry(t *testing.T) {
	cands := []Specialist{
		{ID: "expert-full", Industries: []string{"dental"}, IndustryWeight: 60, Available: true, Active: true, MaxCustomers: 1, CurrentCustomers: 1},
		{ID: "generalist", Available: true, Active: true, MaxCustomers: 3},
	}
	if m := BestMatch(cands, dental()); m.Specialist.ID != "generalist" || m.Fallback {
		t.Fatalf("expected generalist with capacity, got %+v", m)
	}
}

func newService() (*Service, *MemoryRepo, *MemoryCapacity, *audit.MemoryRepo) {
	repo := NewMemoryRepo()
	capacity := NewMemoryCapacity()
	audits := audit.NewMemoryRepo()
	svc := NewService(repo, capacity, nil)
	svc.Now = func() time.Time { return fixedNow }
	svc.Hooks = AuditAdapter{Audit: audit.NewService(audits)}
	return svc, repo, capacity, audits
}

func TestAssign_SkipsCandidateFilledElsewhere(t *testing.T) {
	svc, _, capacity, audits := newService()
	cands := []Specialist{
		{ID: "best", Industries: []string{"dental"}, IndustryWeight: 50, Available: true, Active: true, MaxCustomers: 1},
		{ID: "next", Available: true, Active: true, MaxCustomers: 1},
	}
	// Another instance filled "best" after the snapshot was taken.
	capacity.Seed("best", 1)

	m, a, err := svc.Assign(context.Background(), dental(), cands)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if m.Specialist.ID != "next" || a.SpecialistID != "next" || a.Status != AssignmentActive {
		t.Fatalf("expected next-best candidate, got %+v", a)
	}
	if n, _ := capacity.Count(context.Background(), "next"); n != 1 {
		t.Fatalf("expected capacity taken, got %d", n)
	}
	if len(audits.OfType(audit.EventTypeSpecialistAssigned)) != 1 {
		t.Fatalf("expected assignment audited")
	}
}

func TestAssign_FallbackOverCapacity(t *testing.T) {
	svc, _, capacity, _ := newService()
	capacity.Seed("solo", 1)
	cands := []Specialist{{ID: "solo", Available: true, Active: true, MaxCustomers: 1, CurrentCustomers: 1}}

	m, a, err := svc.Assign(context.Background(), dental(), cands)
	if err != nil || !m.Fallback || !a.Fallback {
		t.Fatalf("expected fallback assignment, got %+v %v", a, err)
	}
	if n, _ := capacity.Count(context.Background(), "solo"); n != 2 {
		t.Fatalf("fallback must still count, got %d", n)
	}
}

func TestAssign_IdempotentPerCustomer(t *testing.T) {
	svc, _, capacity, _ := newService()
	cands := []Specialist{{ID: "a", Available: true, Active: true, MaxCustomers: 5}}
	_, first, _ := svc.Assign(context.Background(), dental(), cands)
	_, second, err := svc.Assign(context.Background(), dental(), cands)
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected existing assignment returned")
	}
	if n, _ := capacity.Count(context.Background(), "a"); n != 1 {
		t.Fatalf("capacity double-counted: %d", n)
	}
}

func TestAssign_NoCandidates(t *testing.T) {
	svc, _, _, _ := newService()
	if _, _, err := svc.Assign(context.Background(), dental(), nil); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestAssign_UsesDirectoryWithLiveCounts(t *testing.T) {
	svc, repo, capacity, _ := newService()
	_ = repo.SaveSpecialist(context.Background(), Specialist{ID: "busy", Available: true, Active: true, MaxCustomers: 1})
	_ = repo.SaveSpecialist(context.Background(), Specialist{ID: "free", Available: true, Active: true, MaxCustomers: 1})
	capacity.Seed("busy", 1)

	m, _, err := svc.Assign(context.Background(), dental(), nil)
	if err != nil || m.Specialist.ID != "free" {
		t.Fatalf("expected free specialist, got %+v %v", m, err)
	}
}

func TestAssign_PinWinsUntilExpiry(t *testing.T) {
	svc, _, _, audits := newService()
	pins := NewMemoryPinStore()
	_ = pins.PutPin(context.Background(), Pin{ID: "pin1", CustomerID: "c1", SpecialistID: "vip", ExpiresAt: fixedNow.Add(time.Hour)})
	svc.Pins = pins
	cands := []Specialist{
		{ID: "top", Industries: []string{"dental"}, IndustryWeight: 90, Available: true, Active: true, MaxCustomers: 5},
		{ID: "vip", Available: false, Active: true, MaxCustomers: 1},
	}
	m, _, err := svc.Assign(context.Background(), dental(), cands)
	if err != nil || m.Specialist.ID != "vip" {
		t.Fatalf("expected pinned specialist, got %+v %v", m, err)
	}
	if ev := audits.OfType(audit.EventTypeSpecialistAssigned); len(ev) != 1 || ev[0].Metadata == "" {
		t.Fatalf("expected pin recorded in audit metadata")
	}

	svc2, _, _, _ := newService()
	svc2.Pins = pins
	svc2.Now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	m, _, _ = svc2.Assign(context.Background(), dental(), cands)
	if m.Specialist.ID != "top" {
		t.Fatalf("expired pin must not apply, got %s", m.Specialist.ID)
	}
}

func TestUnassign_ReleasesOnce(t *testing.T) {
	svc, _, capacity, audits := newService()
	cands := []Specialist{{ID: "a", Available: true, Active: true, MaxCustomers: 5}}
	_, a, _ := svc.Assign(context.Background(), dental(), cands)

	if _, err := svc.RecordInteraction(context.Background(), a.ID); err != nil {
		t.Fatalf("interaction: %v", err)
	}
	ended, changed, err := svc.Unassign(context.Background(), a.ID)
	if err != nil || !changed || ended.Status != AssignmentInactive || ended.Interactions != 1 {
		t.Fatalf("unexpected unassign %+v %v %v", ended, changed, err)
	}
	if _, changed, _ := svc.Unassign(context.Background(), a.ID); changed {
		t.Fatalf("second unassign must be a no-op")
	}
	if n, _ := capacity.Count(context.Background(), "a"); n != 0 {
		t.Fatalf("expected capacity released exactly once, got %d", n)
	}
	if len(audits.OfType(audit.EventTypeSpecialistUnassigned)) != 1 {
		t.Fatalf("expected one unassign audit")
	}
}

// racyCapacity loses the Acquire race for the listed specialists.
type racyCapacity struct {
	*MemoryCapacity
	lose map[string]bool
}

func (r racyCapacity) Acquire(ctx context.Context, id string, limit int) (bool, error) {
	if r.lose[id] {
		return false, nil
	}
	return r.MemoryCapacity.Acquire(ctx, id, limit)
}

func TestAssign_WalksCandidatesOnCapacityRace(t *testing.T) {
	svc, _, capacity, _ := newService()
	svc.Capacity = racyCapacity{MemoryCapacity: capacity, lose: map[string]bool{"best": true}}
	cands := []Specialist{
		{ID: "best", Industries: []string{"dental"}, IndustryWeight: 50, Available: true, Active: true, MaxCustomers: 3},
		{ID: "next", Available: true, Active: true, MaxCustomers: 3},
	}
	m, a, err := svc.Assign(context.Background(), dental(), cands)
	if err != nil || m.Specialist.ID != "next" || a.SpecialistID != "next" || m.Fallback {
		t.Fatalf("expected next-best after lost race, got %+v %v", m, err)
	}
}

func TestAssign_DirectoryCountBeatsEmptyCounter(t *testing.T) {
	ctx := context.Background()
	svc, repo, capacity, _ := newService()
	// Counter lost (restart, flush or TTL) while the directory still shows the slot taken.
	_ = repo.SaveSpecialist(ctx, Specialist{ID: "full", Available: true, Active: true, MaxCustomers: 1, CurrentCustomers: 1})

	m, a, err := svc.Assign(ctx, dental(), nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if m.Specialist.ID != "full" || !m.Fallback || !a.Fallback {
		t.Fatalf("expected over-capacity fallback, got %+v", m)
	}
	if n, _ := capacity.Count(ctx, "full"); n != 2 {
		t.Fatalf("expected counter lifted to the directory count then forced, got %d", n)
	}

	svc2, repo2, _, _ := newService()
	_ = repo2.SaveSpecialist(ctx, Specialist{ID: "full", Industries: []string{"dental"}, IndustryWeight: 60, Available: true, Active: true, MaxCustomers: 1, CurrentCustomers: 1})
	_ = repo2.SaveSpecialist(ctx, Specialist{ID: "free", Available: true, Active: true, MaxCustomers: 1})
	if m, _, err := svc2.Assign(ctx, dental(), nil); err != nil || m.Specialist.ID != "free" || m.Fallback {
		t.Fatalf("expected specialist with real capacity, got %+v %v", m, err)
	}
}

func TestMemoryCapacity_ReconcileNeverLowers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCapacity()
	c.Seed("a", 3)
	if n, _ := c.Reconcile(ctx, "a", 1); n != 3 {
		t.Fatalf("reconcile lowered the counter to %d", n)
	}
	if n, _ := c.Reconcile(ctx, "b", 2); n != 2 {
		t.Fatalf("expected counter raised to 2, got %d", n)
	}
}

// failingAssignments rejects every new assignment.
type failingAssignments struct {
	*MemoryRepo
	err error
}

func (f failingAssignments) CreateAssignment(ctx context.Context, a Assignment) error {
	return f.err
}

func TestAssign_PinnedReleasesSlotWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	svc, repo, capacity, _ := newService()
	dbDown := errors.New("db down")
	svc.Repo = failingAssignments{MemoryRepo: repo, err: dbDown}
	pins := NewMemoryPinStore()
	_ = pins.PutPin(ctx, Pin{ID: "pin1", CustomerID: "c1", SpecialistID: "vip", ExpiresAt: fixedNow.Add(time.Hour)})
	svc.Pins = pins

	cands := []Specialist{{ID: "vip", Available: true, Active: true, MaxCustomers: 1}}
	if _, _, err := svc.Assign(ctx, dental(), cands); !errors.Is(err, dbDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if n, _ := capacity.Count(ctx, "vip"); n != 0 {
		t.Fatalf("expected pinned slot released, got %d held", n)
	}
}

func TestAssign_NoActiveCandidate(t *testing.T) {
	svc, _, capacity, _ := newService()
	cands := []Specialist{{ID: "retired", Available: true, Active: false, MaxCustomers: 5}}
	if m := BestMatch(cands, dental()); m.Found {
		t.Fatalf("inactive specialist must not match, got %+v", m)
	}
	if _, _, err := svc.Assign(context.Background(), dental(), cands); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if n, _ := capacity.Count(context.Background(), "retired"); n != 0 {
		t.Fatalf("no slot may be taken, got %d", n)
	}
}
