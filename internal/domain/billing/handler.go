package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/allocation"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/directory"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/auth"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/db"
	"github.com/Islam-alshiki/Hospital-Management-System/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBilling))
	g.POST("/bills", h.CreateBill)
	g.GET("/bills/:id", h.GetBill)
	g.GET("/bills/:id/ledger", h.ListLedgerEntries)
	g.GET("/bills/:id/reconciliation", h.Reconcile)
	g.POST("/bills/:id/recalculate", h.RecalculateTotals)
	g.POST("/bills/:id/payments", h.RecordPayment)
	g.POST("/bills/:id/refunds", h.Refund)
	g.POST("/bills/:id/insurance", h.ApplyInsuranceCoverage)
	g.POST("/bills/:id/room-charges", h.AccrueRoomCharges)
	g.GET("/patients/:id/bills", h.ListBillsByPatient)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, directory.ErrNotFound),
		errors.Is(err, allocation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrRefundExceedsPaid):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrBillClosed), errors.Is(err, ErrContractInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrContention):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req CreateBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.CreatedBy == nil {
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			req.CreatedBy = &uid
		}
	}
	b, err := h.svc.CreateBill(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBillsByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBillsByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListLedgerEntries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLedgerEntries(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecalculateTotals(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.RecalculateTotals(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RecordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.ReceivedBy == nil {
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			req.ReceivedBy = &uid
		}
	}
	e, err := h.svc.RecordPayment(ctx, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.ReceivedBy == nil {
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			req.ReceivedBy = &uid
		}
	}
	e, err := h.svc.Refund(ctx, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) ApplyInsuranceCoverage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.ApplyInsuranceCoverage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) AccrueRoomCharges(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		AssignmentID uuid.UUID `json:"assignment_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AssignmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "assignment_id is required")
	}
	b, err := h.svc.AccrueRoomCharges(c.Request().Context(), id, req.AssignmentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Reconcile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Reconcile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
