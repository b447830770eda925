package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	syncapp "github.com/erp/marketsync/internal/application/integration"
	"github.com/erp/marketsync/internal/interfaces/http/dto"
)

// SyncUseCases is the part of the sync service the HTTP layer drives
type SyncUseCases interface {
	StartSync(ctx context.Context, req syncapp.StartSyncRequest) (*syncapp.SyncRunResponse, error)
	GetSyncStatus(ctx context.Context, id uuid.UUID) (*syncapp.SyncRunResponse, error)
	GetSyncHistory(ctx context.Context, filter syncapp.SyncHistoryFilter) ([]syncapp.SyncRunResponse, error)
	CancelSync(ctx context.Context, id uuid.UUID) (*syncapp.SyncRunResponse, error)
	GetAggregatedCatalog(ctx context.Context, page, pageSize int) (*syncapp.AggregatedCatalogResponse, error)
	PushRecords(ctx context.Context, req syncapp.PushRecordsRequest) (*syncapp.PushRecordsResponse, error)
}

// SyncHandler serves the sync run and catalog endpoints
type SyncHandler struct {
	BaseHandler
	service SyncUseCases
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncUseCases) *SyncHandler {
	return &SyncHandler{service: service}
}

// StartSync starts a sync run. Asynchronous runs answer 202 with the run
// summary; synchronous runs answer 200 once the run has finished.
//
//	POST /sync/runs
func (h *SyncHandler) StartSync(c *gin.Context) {
	var body StartSyncBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ValidationError(c, err)
		return
	}

	req := body.toRequest()
	run, err := h.service.StartSync(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if req.Async {
		c.Header("Location", c.FullPath()+"/"+run.ID.String())
		h.Accepted(c, run)
		return
	}
	h.Success(c, run)
}

// GetSyncStatus returns one run, with live progress while it executes.
//
//	GET /sync/runs/:run_id
func (h *SyncHandler) GetSyncStatus(c *gin.Context) {
	id, ok := h.bindRunID(c)
	if !ok {
		return
	}
	run, err := h.service.GetSyncStatus(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, run)
}

// GetSyncHistory lists recent runs, newest first.
//
//	GET /sync/runs?limit=&account_id=&status=
func (h *SyncHandler) GetSyncHistory(c *gin.Context) {
	var query SyncHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	runs, err := h.service.GetSyncHistory(c.Request.Context(), syncapp.SyncHistoryFilter{
		Limit:     query.Limit,
		AccountID: query.AccountID,
		Status:    query.Status,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, runs)
}

// CancelSync stops an in-flight run.
//
//	POST /sync/runs/:run_id/cancel
func (h *SyncHandler) CancelSync(c *gin.Context) {
	id, ok := h.bindRunID(c)
	if !ok {
		return
	}
	run, err := h.service.CancelSync(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, run)
}

// GetAggregatedCatalog returns one page of the catalog merged across accounts.
//
//	GET /sync/catalog?page=&page_size=
func (h *SyncHandler) GetAggregatedCatalog(c *gin.Context) {
	var query dto.PageRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	query.Normalize(dto.DefaultPageSize)

	catalog, err := h.service.GetAggregatedCatalog(c.Request.Context(), query.Page, query.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, catalog.Items, catalog.Total, catalog.Page, catalog.PageSize)
}

// PushRecords sends locally stored records of one account to the marketplace.
//
//	POST /sync/push
func (h *SyncHandler) PushRecords(c *gin.Context) {
	var body PushRecordsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ValidationError(c, err)
		return
	}
	result, err := h.service.PushRecords(c.Request.Context(), syncapp.PushRecordsRequest{
		AccountID: body.AccountID,
		Keys:      body.Keys,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status := http.StatusOK
	if result.Failed > 0 && result.Saved > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, dto.NewSuccessResponse(result))
}

func (h *SyncHandler) bindRunID(c *gin.Context) (uuid.UUID, bool) {
	var uri SyncRunURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.RunID), true
}
