package store

import "testing"

func TestSeedDemoIsIdempotent(t *testing.T) {
	m := NewMemory()
	if err := SeedDemo(context.Background(), m); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	if err := SeedDemo(context.Background(), m); err != nil {
		t.Fatalf("SeedDemo rerun: %v", err)
	}
	con, err := m.GetContractor(context.Background(), "c_demo")
	if err != nil {
		t.Fatalf("GetContractor: %v", err)
	}
	if !con.Active || con.SubscriptionTier != "pro" {
		t.Fatalf("unexpected demo contractor: %+v", con)
	}
	jobs, err := m.ListJobs(context.Background(), "c_demo", "", 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 5 {
		t.Fatalf("want 5 seeded jobs, got %d", len(jobs))
	}
}
