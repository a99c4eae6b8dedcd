package allocation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	// Read endpoints are open to any clinical or administrative staff.
	readGroup := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleNurse, auth.RoleBilling))
	readGroup.GET("/wards", h.ListWards)
	readGroup.GET("/wards/:id", h.GetWard)
	readGroup.GET("/rooms", h.ListRooms)
	readGroup.GET("/rooms/:id", h.GetRoom)
	readGroup.GET("/rooms/:id/occupancy", h.CurrentOccupancy)
	readGroup.GET("/rooms/:id/assignments", h.ListAssignmentsByRoom)
	readGroup.GET("/assignments/:id", h.GetAssignment)
	readGroup.GET("/assignments/:id/stay", h.GetStay)
	readGroup.GET("/patients/:id/assignments", h.ListAssignmentsByPatient)

	// Allocation transitions are limited to reception and nursing staff.
	allocGroup := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleNurse))
	allocGroup.POST("/admissions", h.Admit)
	allocGroup.POST("/assignments/:id/discharge", h.Discharge)
	allocGroup.POST("/assignments/:id/transfer", h.Transfer)

	// Facility management is admin only.
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/wards", h.CreateWard)
	adminGroup.PUT("/wards/:id", h.UpdateWard)
	adminGroup.DELETE("/wards/:id", h.DeleteWard)
	adminGroup.POST("/wards/:id/recalculate", h.RecalculateWardCounts)
	adminGroup.POST("/rooms", h.CreateRoom)
	adminGroup.PUT("/rooms/:id/status", h.SetRoomStatus)
	adminGroup.DELETE("/rooms/:id", h.DeleteRoom)
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRoomUnavailable),
		errors.Is(err, ErrPatientAlreadyAdmitted),
		errors.Is(err, ErrAssignmentNotActive),
		errors.Is(err, ErrRoomOccupiedForStatus):
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

// -- Allocation Handlers --

func (h *Handler) Admit(c echo.Context) error {
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.AssignedBy == nil {
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			req.AssignedBy = &uid
		}
	}
	a, err := h.svc.Admit(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.DischargedBy == nil {
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			req.DischargedBy = &uid
		}
	}
	a, err := h.svc.Discharge(ctx, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if req.AssignedBy == nil {
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			req.AssignedBy = &uid
		}
	}
	a, err := h.svc.Transfer(ctx, id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CurrentOccupancy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	count, err := h.svc.CurrentOccupancy(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"room_id": id, "occupancy": count})
}

func (h *Handler) GetStay(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	stay, err := h.svc.GetStay(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

// -- Ward Handlers --

func (h *Handler) CreateWard(c echo.Context) error {
	var w Ward
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWard(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWards(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateWard(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w.ID = id
	if err := h.svc.UpdateWard(c.Request().Context(), w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWard(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteWard(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecalculateWardCounts(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.RecalculateWardCounts(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

// -- Room Handlers --

func (h *Handler) CreateRoom(c echo.Context) error {
	var r Room
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRoom(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRoom(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRoom(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRooms(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f RoomFilter
	if ward := c.QueryParam("ward_id"); ward != "" {
		wid, err := uuid.Parse(ward)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid ward_id")
		}
		f.WardID = &wid
	}
	f.Status = c.QueryParam("status")
	f.Type = c.QueryParam("room_type")

	items, total, err := h.svc.ListRooms(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) SetRoomStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.SetRoomStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRoom(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRoom(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Assignment Handlers --

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssignmentsByRoom(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAssignmentsByRoom(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAssignmentsByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAssignmentsByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
