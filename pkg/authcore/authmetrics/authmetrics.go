// Package authmetrics exposes the authorization engine's decision and
// credential-check counters as github.com/VictoriaMetrics/metrics series.
package authmetrics

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/opencups/authd/pkg/authcore"
	"github.com/opencups/authd/pkg/metricsx"
)

// Metrics implements authcore.DecisionObserver, and additionally exposes
// per-auth-type credential check results and a geohash-bucketed map of
// where decisions are coming from (populated only through ObserveGeo, which
// pkg/authd does not call).
type Metrics struct {
	once sync.Once
	obj  metricsObj
}

type metricsObj struct {
	set             *metrics.Set
	decisions_total struct {
		ok               *metrics.Counter
		unauthorized     *metrics.Counter
		forbidden        *metrics.Counter
		upgrade_required *metrics.Counter
	}
	credential_checks_total struct {
		basic_success       *metrics.Counter
		basic_fail          *metrics.Counter
		digest_success      *metrics.Counter
		digest_fail         *metrics.Counter
		basicdigest_success *metrics.Counter
		basicdigest_fail    *metrics.Counter
		local_certificate   *metrics.Counter
	}
	decisions_map *metricsx.GeoCounter2
}

// New returns a Metrics ready to be passed as an authcore.Engine's Observer.
func New() *Metrics {
	return &Metrics{}
}

// m lazily initializes and returns the backing metric objects, so every
// series still shows up (at zero) in scrape output even before it's first
// touched.
func (m *Metrics) m() *metricsObj {
	m.once.Do(func() {
		mo := &m.obj
		mo.set = metrics.NewSet()
		mo.decisions_total.ok = mo.set.NewCounter(`authd_authcore_decisions_total{result="ok"}`)
		mo.decisions_total.unauthorized = mo.set.NewCounter(`authd_authcore_decisions_total{result="unauthorized"}`)
		mo.decisions_total.forbidden = mo.set.NewCounter(`authd_authcore_decisions_total{result="forbidden"}`)
		mo.decisions_total.upgrade_required = mo.set.NewCounter(`authd_authcore_decisions_total{result="upgrade_required"}`)
		mo.credential_checks_total.basic_success = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="basic",result="success"}`)
		mo.credential_checks_total.basic_fail = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="basic",result="fail"}`)
		mo.credential_checks_total.digest_success = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="digest",result="success"}`)
		mo.credential_checks_total.digest_fail = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="digest",result="fail"}`)
		mo.credential_checks_total.basicdigest_success = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="basicdigest",result="success"}`)
		mo.credential_checks_total.basicdigest_fail = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="basicdigest",result="fail"}`)
		mo.credential_checks_total.local_certificate = mo.set.NewCounter(`authd_authcore_credential_checks_total{type="local_certificate",result="success"}`)
		mo.decisions_map = metricsx.NewGeoCounter2(`authd_authcore_decisions_map`)
	})

	var chk func(v reflect.Value, name string)
	chk = func(v reflect.Value, name string) {
		switch v.Kind() {
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				chk(v.Field(i), name+"."+v.Type().Field(i).Name)
			}
		case reflect.Pointer, reflect.Func:
			if v.IsNil() {
				panic(fmt.Errorf("check metrics: unexpected nil %q", name))
			}
		}
	}
	chk(reflect.ValueOf(m.obj), "metricsObj")

	return &m.obj
}

// ObserveDecision implements authcore.DecisionObserver.
func (m *Metrics) ObserveDecision(d authcore.Decision) {
	switch d {
	case authcore.OK:
		m.m().decisions_total.ok.Inc()
	case authcore.Unauthorized:
		m.m().decisions_total.unauthorized.Inc()
	case authcore.UpgradeRequired:
		m.m().decisions_total.upgrade_required.Inc()
	default:
		m.m().decisions_total.forbidden.Inc()
	}
}

// ObserveBasic records the outcome of a Basic credential check.
func (m *Metrics) ObserveBasic(success bool) {
	if success {
		m.m().credential_checks_total.basic_success.Inc()
	} else {
		m.m().credential_checks_total.basic_fail.Inc()
	}
}

// ObserveDigest records the outcome of a Digest credential check.
func (m *Metrics) ObserveDigest(success bool) {
	if success {
		m.m().credential_checks_total.digest_success.Inc()
	} else {
		m.m().credential_checks_total.digest_fail.Inc()
	}
}

// ObserveBasicDigest records the outcome of a BasicDigest credential check.
func (m *Metrics) ObserveBasicDigest(success bool) {
	if success {
		m.m().credential_checks_total.basicdigest_success.Inc()
	} else {
		m.m().credential_checks_total.basicdigest_fail.Inc()
	}
}

// ObserveLocalCertificate records a request authenticated via the
// local-certificate shortcut.
func (m *Metrics) ObserveLocalCertificate() {
	m.m().credential_checks_total.local_certificate.Inc()
}

// ObserveGeo buckets a decision by the approximate client location the
// caller supplies.
func (m *Metrics) ObserveGeo(lat, lng float64) {
	m.m().decisions_map.Inc(lat, lng)
}

// WritePrometheus writes this package's metrics in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.m().set.WritePrometheus(w)
}

// WritePrometheusGeo writes only the geo-bucketed series.
func (m *Metrics) WritePrometheusGeo(w io.Writer) {
	m.m().decisions_map.WritePrometheus(w)
}
