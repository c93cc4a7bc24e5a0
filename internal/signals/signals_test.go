package signals

import "testing"

func TestIntake_ConsumeReloadClearsFlag(t *testing.T) {
	i := New()
	i.reload.Store(true)

	if !i.ConsumeReload() {
		t.Fatal("expected reload to be set")
	}
	if i.ConsumeReload() {
		t.Fatal("expected reload to be cleared after consuming")
	}
}

func TestIntake_StopRequestedDoesNotClear(t *testing.T) {
	i := New()
	i.RequestStop()

	if !i.StopRequested() {
		t.Fatal("expected stop to be set")
	}
	if !i.StopRequested() {
		t.Fatal("expected stop to remain set")
	}
}

func TestIntake_StopFastRequested(t *testing.T) {
	i := New()
	if i.StopFastRequested() {
		t.Fatal("expected stop-fast unset initially")
	}
	i.RequestStopFast()
	if !i.StopFastRequested() {
		t.Fatal("expected stop-fast set after request")
	}
}
