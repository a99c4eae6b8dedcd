package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv(time.Now())
	return NewHandler(env.svc), env, echo.New()
}

func TestHandler_CreateBill(t *testing.T) {
	h, env, e := newTestHandler()
	pid := env.addPatient()

	body := `{"patient_id":"` + pid.String() + `","consultation_fee":100,"discount_percentage":10,"tax_percentage":5}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var got Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.TotalAmount != 94.5 {
		t.Errorf("expected total 94.5, got %f", got.TotalAmount)
	}
}

func TestHandler_GetBill_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetBill(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_RecordPayment_InvalidAmount(t *testing.T) {
	h, env, e := newTestHandler()
	b := env.createBill(t, CreateBillRequest{ConsultationFee: 100})

	body := `{"amount":-5,"method":"cash"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.RecordPayment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestHandler_RecordPayment(t *testing.T) {
	h, env, e := newTestHandler()
	b := env.createBill(t, CreateBillRequest{ConsultationFee: 100})

	body := `{"amount":25,"method":"card"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_AccrueRoomCharges_UnknownStay(t *testing.T) {
	h, env, e := newTestHandler()
	b := env.createBill(t, CreateBillRequest{ConsultationFee: 100})

	body := `{"assignment_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	err := h.AccrueRoomCharges(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown assignment, got %v", err)
	}
}

func TestHandler_Reconcile(t *testing.T) {
	h, env, e := newTestHandler()
	b := env.createBill(t, CreateBillRequest{ConsultationFee: 100})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.Reconcile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got Reconciliation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !got.Consistent {
		t.Errorf("expected fresh bill to reconcile: %+v", got)
	}
}
