package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medzillo/medzillo/internal/platform/httpx"
	"github.com/medzillo/medzillo/internal/shared"
)

func (s *SettleSuite) server() http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), s.svc, s.dir, s.dir)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(req.Context(), shared.Actor{UserID: 7, ClinicID: clinicID, Role: shared.RolePharmacist})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r
}

func (s *SettleSuite) post(srv http.Handler, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sales", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func (s *SettleSuite) TestHTTPSettleReturnsReceipt() {
	srv := s.server()
	body := `{"patient":{"id":"P-1001"},"payment_mode":"Cash","appointment_id":"APT-1",
		"lines":[{"item_type":"Medicine","medicine_id":42,"quantity":15},
		{"item_type":"ConsultationFee","description":"Consultation","quantity":1,"rate":"500.00"}]}`
	rec := s.post(srv, body, "http-1")
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var receipt Receipt
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &receipt))
	s.Len(receipt.Items, 3)
	s.Equal("Sunrise Clinic", receipt.Clinic.Name)
	s.Equal("98450", receipt.Patient.Phone)
	s.Equal("₹539.20", receipt.Total)

	replay := s.post(srv, body, "http-1")
	s.Require().Equal(http.StatusCreated, replay.Code)
	var again Receipt
	s.Require().NoError(json.Unmarshal(replay.Body.Bytes(), &again))
	s.Equal(receipt.BillNumber, again.BillNumber)

	get := httptest.NewRecorder()
	srv.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/bills/"+receipt.BillNumber, nil))
	s.Require().Equal(http.StatusOK, get.Code)
}

func (s *SettleSuite) TestHTTPInsufficientStock() {
	rec := s.post(s.server(), `{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[{"item_type":"Medicine","medicine_id":42,"quantity":40}]}`, "")
	s.Require().Equal(http.StatusConflict, rec.Code)

	var problem httpx.ProblemDetail
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &problem))
	s.Equal(int64(42), problem.MedicineID)
	s.Require().NotNil(problem.Available)
	s.Equal(int64(30), *problem.Available)
	s.Equal(int64(40), *problem.Required)
}

func (s *SettleSuite) TestHTTPRejectsMalformedBodies() {
	srv := s.server()
	for _, body := range []string{
		`{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[]}`,
		`{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[{"item_type":"Medicine","medicine_id":42,"quantity":0}]}`,
		`{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[{"item_type":"Medicine","medicine_id":42,"quantity":1}],"extra":true}`,
		`{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[{"item_type":"Service","description":"Dressing","quantity":1,"rate":123456789012345678901}]}`,
		`{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[{"item_type":"Service","description":"Dressing","quantity":3,"rate":"9000000000000.00"}]}`,
		`{"patient":{"id":"P-1001"},"payment_mode":"Cash","lines":[{"item_type":"Service","description":"Dressing","quantity":1,"rate":"10.00","gst_rate":"5.004"}]}`,
	} {
		rec := s.post(srv, body, "")
		s.Equal(http.StatusBadRequest, rec.Code, body)
	}

	get := httptest.NewRecorder()
	srv.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/bills/BILL-missing", nil))
	s.Equal(http.StatusNotFound, get.Code)
}
