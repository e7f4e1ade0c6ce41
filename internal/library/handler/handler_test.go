package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	jwttoken "libsync/internal/jwt_token"
	"libsync/internal/library/keys"
	"libsync/internal/library/lock"
	"libsync/internal/library/normalize"
	"libsync/internal/library/quality"
	"libsync/internal/library/store"
	"libsync/internal/library/syncrun"
	"libsync/internal/library/upsert"
	"libsync/internal/platform/metrics"
	"libsync/pkg/platform/sentinel"
	"libsync/pkg/testutil"
)

var mapping = normalize.DefaultMapping()

type HandlerSuite struct {
	suite.Suite
	store  *store.InMemoryStore
	locker *lock.LocalLocker
	jwt    *jwttoken.JWTService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	scorer, err := quality.NewScorer(quality.DefaultWeights())
	s.Require().NoError(err)

	s.store = store.NewInMemoryStore()
	s.locker = lock.NewLocalLocker()
	up := upsert.New(s.store, upsert.WithLogger(quiet))
	orchestrator := syncrun.New(syncrun.Stages{
		Normalizer: normalize.New(mapping),
		Deriver:    keys.NewDeriver("https://knihovny.cz/library"),
		Scorer:     scorer,
	}, up, s.store,
		syncrun.WithLogger(quiet),
		syncrun.WithMetrics(m),
		syncrun.WithRunLock(s.locker, time.Minute),
	)

	s.jwt = jwttoken.NewJWTService("test-signing-key", "libsync")
	h := New(s.store, orchestrator, up, jwttoken.NewJWTServiceAdapter(s.jwt),
		WithLogger(quiet),
		WithGatherer(reg),
		WithHealthCheck("store", func(context.Context) error { return nil }),
	)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) token(role string) string {
	tok, err := s.jwt.IssueToken("ops@example.cz", role, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) do(method, target, role string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := testutil.NewRequest(s.T(), method, target, body, contentType)
	if role != "" {
		req = testutil.WithBearer(req, s.token(role))
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decode(rr *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

type csvRow struct {
	evidence, name, street, region, district, email, website string
}

func registryCSV(rows ...csvRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	_ = w.Write([]string{
		mapping.EvidenceNumber, mapping.LibraryName, mapping.LibraryStreet,
		mapping.LibraryRegion, mapping.LibraryDistrict, mapping.Email,
		mapping.Website, mapping.Status,
	})
	for _, r := range rows {
		_ = w.Write([]string{r.evidence, r.name, r.street, r.region, r.district, r.email, r.website, "aktivní"})
	}
	w.Flush()
	return buf.Bytes()
}

var (
	kolin  = csvRow{"1/2002", "Městská knihovna Kolín", "Husova 1", "Středočeský kraj", "Kolín", "info@knihovna-kolin.cz", "www.knihovna-kolin.cz"}
	brno   = csvRow{"2/2002", "Knihovna Jiřího Mahena", "Kobližná 4", "Jihomoravský kraj", "Brno-město", "", ""}
	kourim = csvRow{"3/2002", "Místní knihovna Kouřim", "", "Středočeský kraj", "Kolín", "not-an-email", ""}
)

func (s *HandlerSuite) syncRows(rows ...csvRow) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/admin/sync", "writer", bytes.NewReader(registryCSV(rows...)), "text/csv")
}

func (s *HandlerSuite) TestHealthAndMetricsArePublic() {
	rr := s.do(http.MethodGet, "/healthz", "", nil, "")
	s.Equal(http.StatusOK, rr.Code)
	s.JSONEq(`{"status":"ok","checks":{"store":"ok"}}`, rr.Body.String())

	s.Require().Equal(http.StatusOK, s.syncRows(kolin).Code)
	rr = s.do(http.MethodGet, "/metrics", "", nil, "")
	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), `libsync_records_processed_total{outcome="inserted"} 1`)
}

func (s *HandlerSuite) TestHealthReportsFailingCheck() {
	h := New(s.store, nil, nil, jwttoken.NewJWTServiceAdapter(s.jwt),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithGatherer(prometheus.NewRegistry()),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)
	router := chi.NewRouter()
	h.Register(router)

	rr := testutil.DoRequest(router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz", nil, ""))
	s.Equal(http.StatusServiceUnavailable, rr.Code)
	s.Contains(rr.Body.String(), "connection refused")
}

func (s *HandlerSuite) TestAuthentication() {
	s.Run("missing token", func() {
		rr := s.do(http.MethodGet, "/v1/libraries", "", nil, "")
		s.Equal(http.StatusUnauthorized, rr.Code)
	})
	s.Run("token signed with another key", func() {
		other, err := jwttoken.NewJWTService("other-key", "libsync").IssueToken("x", "admin", time.Hour)
		s.Require().NoError(err)
		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/v1/libraries", nil, ""), other)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusUnauthorized, "unauthorized")
	})
	s.Run("reader cannot sync", func() {
		rr := s.do(http.MethodPost, "/admin/sync", "reader", bytes.NewReader(registryCSV(kolin)), "text/csv")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})
	s.Run("writer cannot purge", func() {
		rr := s.do(http.MethodDelete, "/admin/libraries/1%2F2002", "writer", nil, "")
		s.Equal(http.StatusForbidden, rr.Code)
	})
}

func (s *HandlerSuite) TestSyncUploadRunsPipeline() {
	rr := s.syncRows(kolin, brno, kourim)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	var resp runResponse
	s.decode(rr, &resp)
	s.NotEmpty(resp.RunID)
	s.Equal(3, resp.Total)
	s.Equal(3, resp.Inserted)
	s.True(resp.Swept)
	s.Require().NotNil(resp.Metrics)
	s.Equal(3, resp.Metrics.TotalRecords)
	s.Equal(2, resp.Metrics.DistinctRegions)

	rec, err := s.store.Get(context.Background(), "1/2002")
	s.Require().NoError(err)
	s.Equal("https://www.knihovna-kolin.cz", rec.WebsiteNormalized)

	s.Run("replay is unchanged", func() {
		rr := s.syncRows(kolin, brno, kourim)
		s.Require().Equal(http.StatusOK, rr.Code)
		var resp runResponse
		s.decode(rr, &resp)
		s.Equal(3, resp.Unchanged)
	})

	s.Run("missing rows are deactivated", func() {
		rr := s.syncRows(kolin)
		s.Require().Equal(http.StatusOK, rr.Code)
		var resp runResponse
		s.decode(rr, &resp)
		s.Equal(2, resp.Deactivated)
	})
}

func (s *HandlerSuite) TestSyncMultipartUpload() {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "knihovny.csv")
	s.Require().NoError(err)
	_, err = part.Write(registryCSV(kolin, brno))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	rr := s.do(http.MethodPost, "/admin/sync", "admin", &body, mw.FormDataContentType())
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	var resp runResponse
	s.decode(rr, &resp)
	s.Equal(2, resp.Inserted)
}

func (s *HandlerSuite) TestSyncRejectsEmptyUpload() {
	rr := s.do(http.MethodPost, "/admin/sync", "writer", bytes.NewReader(nil), "text/csv")
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestSyncWhileRunInProgress() {
	lease, err := s.locker.Acquire(context.Background(), lock.RunLockName, time.Minute)
	s.Require().NoError(err)
	defer func() { _ = lease.Release(context.Background()) }()

	testutil.AssertStatusAndError(s.T(), s.syncRows(kolin), http.StatusConflict, "conflict")
}

func (s *HandlerSuite) TestListLibraries() {
	s.Require().Equal(http.StatusOK, s.syncRows(kolin, brno, kourim).Code)

	rr := s.do(http.MethodGet, "/v1/libraries?limit=2", "reader", nil, "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var page libraryPage
	s.decode(rr, &page)
	s.Equal(2, page.Limit)
	s.Require().Len(page.Items, 2)
	// ordered by region, district, name
	s.Equal("2/2002", page.Items[0].EvidenceNumber)
	s.Equal("3/2002", page.Items[1].EvidenceNumber)
	s.Equal("https://knihovny.cz/library/3%2F2002", page.Items[1].ResourceURI)

	rr = s.do(http.MethodGet, "/v1/libraries?limit=2&offset=2", "reader", nil, "")
	s.decode(rr, &page)
	s.Require().Len(page.Items, 1)
	s.Equal("1/2002", page.Items[0].EvidenceNumber)

	for _, q := range []string{"limit=0", "limit=abc", "limit=5000", "offset=-1", "format=xml"} {
		rr := s.do(http.MethodGet, "/v1/libraries?"+q, "reader", nil, "")
		s.Equal(http.StatusBadRequest, rr.Code, q)
	}
}

func (s *HandlerSuite) TestListLibrariesAsJSONLD() {
	s.Require().Equal(http.StatusOK, s.syncRows(kolin).Code)

	rr := s.do(http.MethodGet, "/v1/libraries?format=jsonld", "reader", nil, "")
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal("application/ld+json", rr.Header().Get("Content-Type"))
	s.JSONEq(`{
		"@context": "https://schema.org/",
		"@graph": [{
			"@type": "Library",
			"@id": "https://knihovny.cz/library/1%2F2002",
			"name": "Městská knihovna Kolín",
			"identifier": "1/2002",
			"address": {
				"@type": "PostalAddress",
				"streetAddress": "Husova 1",
				"addressRegion": "Středočeský kraj",
				"addressCountry": "CZ"
			},
			"email": "info@knihovna-kolin.cz",
			"url": "https://www.knihovna-kolin.cz"
		}]
	}`, rr.Body.String())
}

func (s *HandlerSuite) TestRegions() {
	s.Require().Equal(http.StatusOK, s.syncRows(kolin, brno, kourim).Code)

	rr := s.do(http.MethodGet, "/v1/regions", "reader", nil, "")
	s.Require().Equal(http.StatusOK, rr.Code)
	var body struct {
		Regions []struct {
			Region            string  `json:"region"`
			ActiveRecords     int     `json:"active_records"`
			EmailCompleteness float64 `json:"email_completeness"`
		} `json:"regions"`
	}
	s.decode(rr, &body)
	s.Require().Len(body.Regions, 2)

	byRegion := map[string]int{}
	for _, r := range body.Regions {
		byRegion[r.Region] = r.ActiveRecords
	}
	s.Equal(2, byRegion["Středočeský kraj"])
	s.Equal(1, byRegion["Jihomoravský kraj"])
}

func (s *HandlerSuite) TestPurge() {
	s.Require().Equal(http.StatusOK, s.syncRows(kolin, brno).Code)

	rr := s.do(http.MethodDelete, "/admin/libraries/1%2F2002", "admin", nil, "")
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	body := *testutil.UnmarshalResponse[map[string]string](s.T(), rr)
	s.Equal("1/2002", body["evidence_number"])
	s.NotEmpty(body["action_id"])

	_, err := s.store.Get(context.Background(), "1/2002")
	s.ErrorIs(err, sentinel.ErrNotFound)

	entries, err := s.store.ListAuditByEvidence(context.Background(), "1/2002")
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)
	last := entries[len(entries)-1]
	s.Equal("ops@example.cz", last.Actor)

	s.Run("unknown record", func() {
		rr := s.do(http.MethodDelete, "/admin/libraries/1%2F2002", "admin", nil, "")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}
