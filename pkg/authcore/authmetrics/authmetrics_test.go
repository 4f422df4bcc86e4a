package authmetrics

import (
	"context"
	"strings"
	"testing"

	"github.com/opencups/authd/pkg/authcore"
)

type memBasic map[string]string

func (b memBasic) Authenticate(ctx context.Context, username, password string) (bool, error) {
	want, ok := b[username]
	return ok && want == password, nil
}

// TestMetricsObservesEngineDecisions drives a real authcore.Engine end to
// end with a Metrics observer attached, the way pkg/authd wires it, and
// checks that the resulting Prometheus output reflects what actually
// happened on the request path rather than exercising the counters
// directly.
func TestMetricsObservesEngineDecisions(t *testing.T) {
	m := New()

	tbl := authcore.NewLocationTable()
	ref := tbl.Add("/jobs")
	tbl.Set(ref, authcore.Location{
		Path: "/jobs", Limit: authcore.MAll, Level: authcore.LevelUser,
		Type: authcore.AuthBasic, Satisfy: authcore.SatisfyAll,
		Names: []string{"alice"},
	})

	e := &authcore.Engine{
		Config:             authcore.EngineConfig{ServerName: "printserver"},
		Locations:          tbl,
		Basic:              memBasic{"alice": "hunter2"},
		Observer:           m,
		CredentialObserver: m,
	}

	good := authcore.Client{Hostname: "printer.example.com", Username: "alice", Secret: "hunter2"}
	if d := e.IsAuthorized(context.Background(), good, "/jobs", "GET", ""); d != authcore.OK {
		t.Fatalf("expected OK, got %v", d)
	}

	bad := authcore.Client{Hostname: "printer.example.com", Username: "alice", Secret: "wrong"}
	if d := e.IsAuthorized(context.Background(), bad, "/jobs", "GET", ""); d != authcore.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", d)
	}

	// A request entering a resolved-but-denied hostname exercises the
	// Forbidden branch.
	tbl.Set(ref, authcore.Location{
		Path: "/jobs", Limit: authcore.MAll, Level: authcore.LevelAnonymous, Satisfy: authcore.SatisfyAll,
		Order: authcore.OrderAllowDeny,
		Deny:  []authcore.Authmask{{Kind: authcore.MaskName, Name: "printer.example.com"}},
	})
	if d := e.IsAuthorized(context.Background(), good, "/jobs", "GET", ""); d != authcore.Forbidden {
		t.Fatalf("expected Forbidden, got %v", d)
	}

	var out strings.Builder
	m.WritePrometheus(&out)
	got := out.String()

	for _, want := range []string{
		`authd_authcore_decisions_total{result="ok"} 1`,
		`authd_authcore_decisions_total{result="unauthorized"} 1`,
		`authd_authcore_decisions_total{result="forbidden"} 1`,
		`authd_authcore_credential_checks_total{type="basic",result="success"} 1`,
		`authd_authcore_credential_checks_total{type="basic",result="fail"} 1`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected Prometheus output to contain %q, got:\n%s", want, got)
		}
	}
}

// TestMetricsObserveGeoBucketsByLocation exercises the geohash-bucketed map
// that ObserveGeo feeds.
func TestMetricsObserveGeoBucketsByLocation(t *testing.T) {
	m := New()
	m.ObserveGeo(37.7749, -122.4194) // San Francisco
	m.ObserveGeo(37.7749, -122.4194)
	m.ObserveGeo(51.5074, -0.1278) // London

	var out strings.Builder
	m.WritePrometheusGeo(&out)
	got := out.String()

	if strings.Count(got, "\n") < 2 {
		t.Fatalf("expected at least two distinct geohash buckets, got:\n%s", got)
	}
	if !strings.Contains(got, "authd_authcore_decisions_map") {
		t.Fatalf("expected geo series name in output, got:\n%s", got)
	}
}
