package budget

import (
	"testing"
	"time"
)

func TestUnregisteredUnitAlwaysWithinBudget(t *testing.T) {
	m := NewManager(45*time.Millisecond, nil)
	if !m.WithinBudget("ghost") {
		t.Fatal("unregistered unit must always be within budget")
	}
	m.RecordExecution("ghost", time.Second) // wildly over any sane budget
	if !m.WithinBudget("ghost") {
		t.Fatal("unregistered unit must remain within budget even after heavy use")
	}
}

func TestRegisterIdempotentKeepsTotals(t *testing.T) {
	m := NewManager(45*time.Millisecond, nil)
	m.Register("physics", 10*time.Millisecond)
	m.RecordExecution("physics", 5*time.Millisecond)
	m.Register("physics", 20*time.Millisecond) // re-register: budget changes, totals don't
	snap := m.Snapshot()
	var found Snapshot
	for _, u := range snap.Units {
		if u.ID == "physics" {
			found = u
		}
	}
	if found.BudgetNS != int64(20*time.Millisecond) {
		t.Fatalf("expected updated budget, got %d", found.BudgetNS)
	}
	if found.TotalConsumedNS != int64(5*time.Millisecond) {
		t.Fatalf("expected totals preserved across re-register, got %d", found.TotalConsumedNS)
	}
}

func TestOverBudgetCountsOnCross(t *testing.T) {
	m := NewManager(45*time.Millisecond, nil)
	m.Register("ai", 10*time.Millisecond)
	m.RecordExecution("ai", 6*time.Millisecond)
	if !m.WithinBudget("ai") {
		t.Fatal("should still be within budget")
	}
	m.RecordExecution("ai", 6*time.Millisecond) // crosses 10ms budget
	if m.WithinBudget("ai") {
		t.Fatal("should be over budget now")
	}
	snap := m.Snapshot()
	for _, u := range snap.Units {
		if u.ID == "ai" && u.OverBudgetCount != 1 {
			t.Fatalf("expected exactly one over-budget crossing, got %d", u.OverBudgetCount)
		}
	}
}

func TestResetTickZeroesCurrentNotTotal(t *testing.T) {
	m := NewManager(45*time.Millisecond, nil)
	m.Register("net", 10*time.Millisecond)
	m.RecordExecution("net", 5*time.Millisecond)
	m.ResetTick()
	if m.Remaining("net") != 10*time.Millisecond {
		t.Fatalf("expected full budget restored after reset, got %s", m.Remaining("net"))
	}
	snap := m.Snapshot()
	for _, u := range snap.Units {
		if u.ID == "net" && u.TotalConsumedNS != int64(5*time.Millisecond) {
			t.Fatalf("reset must not clear lifetime totals, got %d", u.TotalConsumedNS)
		}
	}
}

func TestSetGlobalBudgetValidation(t *testing.T) {
	m := NewManager(45*time.Millisecond, nil)
	if err := m.SetGlobalBudget(200 * time.Millisecond); err == nil {
		t.Fatal("expected validation error for budget >= 100ms")
	}
	if err := m.SetGlobalBudget(0); err == nil {
		t.Fatal("expected validation error for budget < 1ms")
	}
	if m.GlobalBudget() != 45*time.Millisecond {
		t.Fatalf("invalid SetGlobalBudget calls must not change the current value, got %s", m.GlobalBudget())
	}
	if err := m.SetGlobalBudget(60 * time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.GlobalBudget() != 60*time.Millisecond {
		t.Fatalf("expected updated budget, got %s", m.GlobalBudget())
	}
}

func TestReportTickOverrun(t *testing.T) {
	m := NewManager(45*time.Millisecond, nil)
	m.ReportTickOverrun(7, 60*time.Millisecond)
	if m.OverrunCount() != 1 {
		t.Fatalf("expected overrun count 1, got %d", m.OverrunCount())
	}
	if m.LastOverrunTick() != 7 {
		t.Fatalf("expected last overrun tick 7, got %d", m.LastOverrunTick())
	}
}
