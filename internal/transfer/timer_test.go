package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTimerFixture(t *testing.T) (*fixture, *Timer) {
	t.Helper()
	f := newFixture(t)
	timer := NewTimer(f.svc, f.store, discardLogger()).WithClock(f.clock.Now)
	return f, timer
}

func TestSweep_ExpiresStaleChallenge(t *testing.T) {
	f, timer := newTimerFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, submitReq("20000", "key-stale"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.State != StatePending2FA {
		t.Fatalf("Expected pending_2fa, got %s", res.State)
	}

	// One second short of the deadline: nothing to do.
	f.clock.Advance(10*time.Minute - time.Second)
	timer.Sweep(ctx)
	tr, _ := f.store.Get(ctx, res.TransferID)
	if tr.State != StatePending2FA {
		t.Fatalf("Sweep fired early, state %s", tr.State)
	}

	f.clock.Advance(time.Second)
	timer.Sweep(ctx)
	tr, _ = f.store.Get(ctx, res.TransferID)
	if tr.State != StateRejected {
		t.Errorf("Expected rejected after challenge expiry, got %s", tr.State)
	}
	if _, err := f.store.GetChallenge(ctx, res.TransferID); err == nil {
		t.Error("Expected the challenge discarded")
	}
}

func TestSweep_EscalatesPastApprovalSLA(t *testing.T) {
	f, timer := newTimerFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, submitReq("60000", "key-sla"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.svc.VerifyTwoFactor(ctx, res.TransferID, f.notifier.lastCode(t)); err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}

	f.clock.Advance(4 * time.Hour)
	timer.Sweep(ctx)

	tr, _ := f.store.Get(ctx, res.TransferID)
	if tr.State != StateEscalated {
		t.Fatalf("Expected escalated past the SLA, got %s", tr.State)
	}
	if f.notifier.approvalCount() != 2 {
		t.Errorf("Expected a second approver alert on escalation, got %d", f.notifier.approvalCount())
	}

	// The deadline was consumed on transition: a second sweep is a no-op.
	timer.Sweep(ctx)
	tr, _ = f.store.Get(ctx, res.TransferID)
	if tr.State != StateEscalated {
		t.Errorf("Second sweep re-fired, state %s", tr.State)
	}
	if f.notifier.approvalCount() != 2 {
		t.Errorf("Second sweep re-alerted approvers, count %d", f.notifier.approvalCount())
	}

	// An escalated transfer can still be decided.
	decided, err := f.svc.DecideApproval(ctx, res.TransferID, "senior-1", true, "reviewed")
	if err != nil {
		t.Fatalf("DecideApproval after escalation failed: %v", err)
	}
	if decided.State != StateCompleted {
		t.Errorf("Expected completed, got %s", decided.State)
	}
}

func TestSweep_ConcurrentSweepsEscalateOnce(t *testing.T) {
	f, timer := newTimerFixture(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, submitReq("60000", "key-race"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := f.svc.VerifyTwoFactor(ctx, res.TransferID, f.notifier.lastCode(t)); err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}

	f.clock.Advance(4 * time.Hour)

	// Both sweeps list the same overdue record with the same version; the
	// optimistic transition lets exactly one of them promote it.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer.Sweep(ctx)
		}()
	}
	wg.Wait()

	tr, _ := f.store.Get(ctx, res.TransferID)
	if tr.State != StateEscalated {
		t.Fatalf("Expected escalated, got %s", tr.State)
	}
	if got := f.notifier.approvalCount(); got != 2 {
		t.Errorf("Expected exactly one escalation alert on top of the submit alert, got %d total", got)
	}
}

func TestSweep_RetriesDebitAfterOutage(t *testing.T) {
	f, timer := newTimerFixture(t)
	ctx := context.Background()
	f.ledger.SetUnavailable(true)

	res, err := f.svc.Submit(ctx, submitReq("100", "key-retry"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.State != StateApproved {
		t.Fatalf("Expected approved during the outage, got %s", res.State)
	}

	// Ledger still down: the sweep reschedules instead of completing.
	f.clock.Advance(time.Minute)
	timer.Sweep(ctx)
	tr, _ := f.store.Get(ctx, res.TransferID)
	if tr.State != StateApproved {
		t.Fatalf("Expected still approved, got %s", tr.State)
	}
	if tr.PendingUntil == nil {
		t.Fatal("Expected the retry deadline rescheduled")
	}

	f.ledger.SetUnavailable(false)
	f.clock.Advance(time.Minute)
	timer.Sweep(ctx)

	tr, _ = f.store.Get(ctx, res.TransferID)
	if tr.State != StateCompleted {
		t.Errorf("Expected completed once the ledger recovered, got %s", tr.State)
	}
	if !f.ledger.Balance("cust-1").Equal(decimal.NewFromInt(999900)) {
		t.Errorf("Expected the debit posted exactly once, balance %s", f.ledger.Balance("cust-1"))
	}
}

func TestTimer_StartStop(t *testing.T) {
	f, _ := newTimerFixture(t)
	timer := NewTimer(f.svc, f.store, discardLogger()).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !timer.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !timer.Running() {
		t.Fatal("Expected the timer running after Start")
	}

	timer.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timer did not stop within 2 seconds")
	}
	if timer.Running() {
		t.Error("Expected Running false after the loop exits")
	}
}

func TestTimer_StopsOnContextCancel(t *testing.T) {
	f, _ := newTimerFixture(t)
	timer := NewTimer(f.svc, f.store, discardLogger()).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timer did not stop on context cancel within 2 seconds")
	}
}
