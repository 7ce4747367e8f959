package httpapi

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func TestRecordSignInCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSignIn(stackauth.MethodPassword, stackauth.OutcomeCreated)
	m.RecordSignIn(stackauth.MethodOTP, stackauth.OutcomeSignedIn)

	if got := testutil.ToFloat64(m.sessionsCreated); got != 2 {
		t.Errorf("sessions created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.signIns.WithLabelValues("password", "created")); got != 1 {
		t.Errorf("password/created sign-ins = %v, want 1", got)
	}

	// A nil Metrics is a disabled recorder, not a crash.
	var disabled *Metrics
	disabled.RecordSignIn(stackauth.MethodPassword, stackauth.OutcomeCreated)
}
