package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/trajethub/internal/config"
	"github.com/geocoder89/trajethub/internal/domain/trajet"
	"github.com/geocoder89/trajethub/internal/http/middlewares"
	"github.com/geocoder89/trajethub/internal/trajets"
	"github.com/gin-gonic/gin"
)

type TrajetService interface {
	Search(ctx context.Context, q trajets.SearchQuery) ([]trajet.Trajet, error)
	ListUpcomingForDriver(ctx context.Context, driverID string) ([]trajet.Trajet, error)
	List(ctx context.Context, q trajets.ListQuery) (trajets.Page, error)
	ListRecent(ctx context.Context) ([]trajet.Trajet, error)
	Get(ctx context.Context, id string) (trajet.Trajet, error)
	Create(ctx context.Context, req trajet.CreateRequest) (trajet.Trajet, error)
	Update(ctx context.Context, id string, patch trajet.Patch) (trajet.Trajet, error)
	Delete(ctx context.Context, id string) error
}

type TrajetsHandler struct {
	trajets TrajetService
}

func NewTrajetsHandler(svc TrajetService) *TrajetsHandler {
	return &TrajetsHandler{trajets: svc}
}

// GET /api/trajets/search?from=&to=&date=&type=&range=
func (h *TrajetsHandler) Search(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.trajets.Search(cctx, trajets.SearchQuery{
		From:  ctx.Query("from"),
		To:    ctx.Query("to"),
		Date:  ctx.Query("date"),
		Type:  ctx.Query("type"),
		Range: ctx.Query("range"),
	})
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, items)
}

// GET /api/trajets/mine, driver token required
func (h *TrajetsHandler) ListMine(ctx *gin.Context) {
	driverID, _ := middlewares.PrincipalIDFromContext(ctx)

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.trajets.ListUpcomingForDriver(cctx, driverID)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, items)
}

func (h *TrajetsHandler) List(ctx *gin.Context) {
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(ctx, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	page, err := h.trajets.List(cctx, trajets.ListQuery{
		Limit:    limit,
		Cursor:   ctx.Query("cursor"),
		Pickup:   ctx.Query("pickup"),
		Delivery: ctx.Query("delivery"),
	})
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, page)
}

func (h *TrajetsHandler) ListRecent(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	items, err := h.trajets.ListRecent(cctx)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, items)
}

func (h *TrajetsHandler) GetByID(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	t, err := h.trajets.Get(cctx, ctx.Param("id"))
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, t)
}

// readTrajetBody reads the raw body; trajet payloads carry free-form
// attributes so they are decoded by the domain package, not gin binding.
func readTrajetBody(ctx *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RespondError(ctx, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			return nil, false
		}
		RespondBadRequest(ctx, "Invalid request body", gin.H{"reason": err.Error()})
		return nil, false
	}
	return body, true
}

func (h *TrajetsHandler) Create(ctx *gin.Context) {
	body, ok := readTrajetBody(ctx)
	if !ok {
		return
	}

	req, err := trajet.DecodeCreate(body)
	if err != nil {
		RespondBadRequest(ctx, "Invalid request body", payloadErrorDetails(err))
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	t, err := h.trajets.Create(cctx, req)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, t)
}

func (h *TrajetsHandler) Update(ctx *gin.Context) {
	body, ok := readTrajetBody(ctx)
	if !ok {
		return
	}

	patch, err := trajet.DecodePatch(body)
	if err != nil {
		RespondBadRequest(ctx, "Invalid request body", payloadErrorDetails(err))
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	t, err := h.trajets.Update(cctx, ctx.Param("id"), patch)
	if err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, t)
}

func (h *TrajetsHandler) Delete(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.trajets.Delete(cctx, ctx.Param("id")); err != nil {
		RespondAppError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}
