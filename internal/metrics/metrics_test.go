package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/chiron/internal/errs"
)

func TestFetchOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"validation", errs.Validationf("parse snapshot", "bad"), "validation"},
		{"network", errs.Networkf("fetch summary", "refused"), "network"},
		{"unclassified", errors.New("boom"), "network"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FetchOutcome(tt.err))
		})
	}
}

func TestRecordFetch(t *testing.T) {
	before := testutil.ToFloat64(FetchTotal.WithLabelValues("validation"))
	RecordFetch(20*time.Millisecond, errs.Validationf("parse snapshot", "bad"))
	assert.Equal(t, before+1, testutil.ToFloat64(FetchTotal.WithLabelValues("validation")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	StreamReconnects.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chiron_stream_reconnects_total")
}
