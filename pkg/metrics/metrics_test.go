package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounters(t *testing.T) {
	m := New(false)

	m.TemplateCacheMiss("csv/summary.tpl")
	m.TemplateCacheHit("csv/summary.tpl")
	m.TemplateCacheHit("csv/other.tpl")
	m.InstanceBuilt("csv", false)
	m.InstanceBuilt("csv", true)
	m.Invalidated()
	m.Dispatched("convertNamed", 404, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("csv", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("csv", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstancesBuilt.WithLabelValues("csv", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("convertNamed", "404")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(false)
	m.Invalidated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dataconv_template_cache_invalidations_total 1"))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "xml", formatOf("xml/a/b.tpl"))
	assert.Equal(t, "inline", formatOf("inline"))
}
