package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/models"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/pipeline"
	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

const presignExpiry = time.Hour

// Workflow is the part of the pipeline the API drives synchronously or
// hands to the job queue.
type Workflow interface {
	StartAnalysis(ctx context.Context, orderID, userID string) (*oit.Order, error)
	Enqueue(ctx context.Context, kind queue.Kind, orderID, userID, format string) error
	AcceptPlanning(ctx context.Context, orderID, userID string, engineerIDs []string) (*oit.Order, error)
	ValidateStep(ctx context.Context, orderID string, stepIndex int, description, requirements string, data map[string]any) (pipeline.StepResult, error)
	RequestRedoSteps(ctx context.Context, orderID, adminID string, indices []int, reason string) (*oit.Order, error)
	FinalizeSampling(ctx context.Context, orderID, userID string) (string, error)
	VerifyConsistency(ctx context.Context, orderID string) (oit.ConsistencyResult, error)
	SetStatus(ctx context.Context, orderID, adminID string, status oit.Status, reason string) (*oit.Order, error)
}

// Handler holds dependencies for all API endpoints.
type Handler struct {
	store    store.Store
	bucket   storage.Bucket
	workflow Workflow
	logger   *zap.Logger
}

// Handle routes incoming events to the appropriate handler.
func (h *Handler) Handle(ctx context.Context, rawEvent json.RawMessage) (events.APIGatewayProxyResponse, error) {
	// EventBridge warmer
	var warmer struct {
		Source string `json:"source"`
	}
	if json.Unmarshal(rawEvent, &warmer) == nil && warmer.Source == "oit.warmer" {
		return events.APIGatewayProxyResponse{StatusCode: 200, Body: "warm"}, nil
	}

	var event events.APIGatewayProxyRequest
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		return errResponse(400, "invalid request")
	}

	caller := models.CallerFromRequest(event)
	if caller.UserID == "" {
		return models.ErrorResponse(401, "unauthenticated", "missing caller identity")
	}

	method := event.HTTPMethod
	path := event.Resource
	id := event.PathParameters["id"]

	switch {
	case path == "/orders" && method == "POST":
		return h.handleCreateOrder(ctx, caller, event)
	case path == "/orders" && method == "GET":
		return h.handleListOrders(ctx, event)
	case path == "/orders/{id}" && method == "GET":
		return h.handleGetOrder(ctx, id)
	case path == "/orders/{id}/reanalyze" && method == "POST":
		return h.handleReanalyze(ctx, caller, id)
	case path == "/orders/{id}/compliance" && method == "POST":
		return h.handleEnqueue(ctx, caller, id, queue.KindCompliance, "")
	case path == "/orders/{id}/planning" && method == "POST":
		return h.handleEnqueue(ctx, caller, id, queue.KindPlanning, "")
	case path == "/orders/{id}/planning/accept" && method == "POST":
		return h.handleAcceptPlanning(ctx, caller, id, event)
	case path == "/orders/{id}/steps/{index}/validate" && method == "POST":
		return h.handleValidateStep(ctx, id, event.PathParameters["index"], event)
	case path == "/orders/{id}/redo" && method == "POST":
		return h.handleRedo(ctx, caller, id, event)
	case path == "/orders/{id}/finalize" && method == "POST":
		return h.handleFinalize(ctx, caller, id)
	case path == "/orders/{id}/files" && method == "POST":
		return h.handleFileUpload(ctx, id, event)
	case path == "/orders/{id}/report" && method == "POST":
		return h.handleRequestReport(ctx, caller, id, event)
	case path == "/orders/{id}/report" && method == "GET":
		return h.handleDownloadReport(ctx, id)
	case path == "/orders/{id}/consistency" && method == "POST":
		return h.handleConsistency(ctx, id)
	case path == "/orders/{id}/status" && method == "PATCH":
		return h.handleSetStatus(ctx, caller, id, event)
	case path == "/notifications" && method == "GET":
		return h.handleNotifications(ctx, caller, event)
	default:
		return errResponse(404, "Not found")
	}
}

func errResponse(status int, msg string) (events.APIGatewayProxyResponse, error) {
	return models.APIResponse(status, models.ErrorBody{Error: msg})
}

// failure maps a stage or store error to its HTTP status.
func (h *Handler) failure(err error) (events.APIGatewayProxyResponse, error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		return models.ErrorResponse(404, "not_found", err.Error())
	case eris.Is(err, oit.ErrInvalidTransition):
		return models.ErrorResponse(409, "invalid_transition", err.Error())
	case eris.Is(err, store.ErrConflict):
		return models.ErrorResponse(409, "conflict", err.Error())
	case eris.Is(err, pipeline.ErrStepsIncomplete):
		return models.ErrorResponse(400, "steps_incomplete", err.Error())
	case eris.Is(err, pipeline.ErrInvalidInput):
		return models.ErrorResponse(400, "invalid_input", err.Error())
	case eris.Is(err, pipeline.ErrModelUnavailable):
		return models.ErrorResponse(503, "model_unavailable", "the language model is unavailable, try again later")
	case eris.Is(err, pipeline.ErrConsistencyUnparsable):
		return models.ErrorResponse(502, "unparsable_model_reply", "the language model returned an unreadable result")
	}
	h.logger.Error("request failed", zap.Error(err))
	return models.ErrorResponse(500, "internal", "internal error")
}

func decodeBody(event events.APIGatewayProxyRequest, v any) bool {
	if strings.TrimSpace(event.Body) == "" {
		return true
	}
	return json.Unmarshal([]byte(event.Body), v) == nil
}

// ─── POST /orders ───────────────────────────────────────────────────────────

type createOrderRequest struct {
	Description       string `json:"description"`
	Location          string `json:"location"`
	QuotationID       string `json:"quotationId"`
	OITFilename       string `json:"oitFilename"`
	QuotationFilename string `json:"quotationFilename"`
}

type uploadTarget struct {
	Kind      storage.FileKind `json:"kind"`
	Filename  string           `json:"filename"`
	UploadURL string           `json:"uploadUrl"`
	Key       string           `json:"s3Key"`
}

func (h *Handler) handleCreateOrder(ctx context.Context, caller models.Caller, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var req createOrderRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	if strings.TrimSpace(req.OITFilename) == "" {
		return errResponse(400, "oitFilename is required")
	}

	o := oit.NewOrder(caller.UserID, strings.TrimSpace(req.Description))
	o.Location = strings.TrimSpace(req.Location)
	o.QuotationID = strings.TrimSpace(req.QuotationID)
	if err := h.store.CreateOrder(ctx, o); err != nil {
		return h.failure(eris.Wrap(err, "create order"))
	}

	uploads := []uploadTarget{{Kind: storage.KindOIT, Filename: req.OITFilename}}
	if strings.TrimSpace(req.QuotationFilename) != "" {
		uploads = append(uploads, uploadTarget{Kind: storage.KindQuotation, Filename: req.QuotationFilename})
	}
	for i := range uploads {
		if err := h.presignUpload(ctx, o.ID, &uploads[i]); err != nil {
			return h.failure(err)
		}
	}
	h.logger.Info("order created", zap.String("order_id", o.ID), zap.String("by", caller.UserID))

	return models.APIResponse(201, map[string]any{
		"order":   o,
		"uploads": uploads,
	})
}

func (h *Handler) presignUpload(ctx context.Context, orderID string, u *uploadTarget) error {
	u.Key = storage.UploadKey(orderID, u.Kind, u.Filename)
	url, err := h.bucket.PresignPut(ctx, u.Key, storage.ContentType(u.Filename), presignExpiry)
	if err != nil {
		return eris.Wrapf(err, "presign %s upload", u.Kind)
	}
	u.UploadURL = url
	return nil
}

// ─── GET /orders ────────────────────────────────────────────────────────────

func (h *Handler) handleListOrders(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := models.ParseQueryParams(event)
	filter := store.ListFilter{Limit: q.Limit, Offset: q.Offset}
	if s := q.Params["status"]; s != "" {
		status, err := oit.ParseStatus(s)
		if err != nil {
			return errResponse(400, err.Error())
		}
		filter.Status = status
	}

	orders, total, err := h.store.ListOrders(ctx, filter)
	if err != nil {
		return h.failure(err)
	}
	if orders == nil {
		orders = []*oit.Order{}
	}
	return models.APIResponse(200, map[string]any{
		"orders":     orders,
		"pagination": models.NewPagination(total, q.Page, q.Limit),
	})
}

// ─── GET /orders/{id} ───────────────────────────────────────────────────────

func (h *Handler) handleGetOrder(ctx context.Context, id string) (events.APIGatewayProxyResponse, error) {
	o, err := h.store.GetOrder(ctx, id)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, o)
}

// ─── Background stages ──────────────────────────────────────────────────────

func (h *Handler) handleReanalyze(ctx context.Context, caller models.Caller, id string) (events.APIGatewayProxyResponse, error) {
	o, err := h.workflow.StartAnalysis(ctx, id, caller.UserID)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(202, o)
}

func (h *Handler) handleEnqueue(ctx context.Context, caller models.Caller, id string, kind queue.Kind, format string) (events.APIGatewayProxyResponse, error) {
	if _, err := h.store.GetOrder(ctx, id); err != nil {
		return h.failure(err)
	}
	if err := h.workflow.Enqueue(ctx, kind, id, caller.UserID, format); err != nil {
		return h.failure(err)
	}
	return models.APIResponse(202, map[string]string{"orderId": id, "job": string(kind)})
}

// ─── POST /orders/{id}/planning/accept ──────────────────────────────────────

type acceptPlanningRequest struct {
	EngineerIDs []string `json:"engineerIds"`
}

func (h *Handler) handleAcceptPlanning(ctx context.Context, caller models.Caller, id string, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var req acceptPlanningRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	o, err := h.workflow.AcceptPlanning(ctx, id, caller.UserID, req.EngineerIDs)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, o)
}

// ─── POST /orders/{id}/steps/{index}/validate ───────────────────────────────

type validateStepRequest struct {
	Description  string         `json:"description"`
	Requirements string         `json:"requirements"`
	Data         map[string]any `json:"data"`
}

func (h *Handler) handleValidateStep(ctx context.Context, id, rawIndex string, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	idx, ok := oit.ParseStepIndex(rawIndex)
	if !ok {
		return errResponse(400, "step index must be a non-negative integer")
	}
	var req validateStepRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	res, err := h.workflow.ValidateStep(ctx, id, idx, req.Description, req.Requirements, req.Data)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, res)
}

// ─── POST /orders/{id}/redo ─────────────────────────────────────────────────

type redoRequest struct {
	Steps  []int  `json:"steps"`
	Reason string `json:"reason"`
}

func (h *Handler) handleRedo(ctx context.Context, caller models.Caller, id string, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !caller.IsAdmin() {
		return models.ErrorResponse(403, "forbidden", "only administrators can request a redo")
	}
	var req redoRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	o, err := h.workflow.RequestRedoSteps(ctx, id, caller.UserID, req.Steps, req.Reason)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, o)
}

// ─── POST /orders/{id}/finalize ─────────────────────────────────────────────

func (h *Handler) handleFinalize(ctx context.Context, caller models.Caller, id string) (events.APIGatewayProxyResponse, error) {
	analysis, err := h.workflow.FinalizeSampling(ctx, id, caller.UserID)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, map[string]string{"finalAnalysis": analysis})
}

// ─── POST /orders/{id}/files ────────────────────────────────────────────────

type fileUploadRequest struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

func (h *Handler) handleFileUpload(ctx context.Context, id string, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var req fileUploadRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	kind, ok := storage.ParseFileKind(req.Kind)
	if !ok {
		return errResponse(400, "kind must be one of oit, quotation, lab, field_form")
	}
	if strings.TrimSpace(req.Filename) == "" {
		return errResponse(400, "filename is required")
	}
	if _, err := h.store.GetOrder(ctx, id); err != nil {
		return h.failure(err)
	}
	u := uploadTarget{Kind: kind, Filename: req.Filename}
	if err := h.presignUpload(ctx, id, &u); err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, u)
}

// ─── /orders/{id}/report ────────────────────────────────────────────────────

type reportRequest struct {
	Format string `json:"format"`
}

func (h *Handler) handleRequestReport(ctx context.Context, caller models.Caller, id string, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var req reportRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	format, ok := report.ParseFormat(req.Format)
	if !ok {
		return errResponse(400, "format must be docx or pdf")
	}
	return h.handleEnqueue(ctx, caller, id, queue.KindReport, string(format))
}

func (h *Handler) handleDownloadReport(ctx context.Context, id string) (events.APIGatewayProxyResponse, error) {
	o, err := h.store.GetOrder(ctx, id)
	if err != nil {
		return h.failure(err)
	}
	if o.FinalReportFile == "" {
		return models.ErrorResponse(404, "not_found", "the order has no final report yet")
	}
	url, err := h.bucket.PresignGet(ctx, o.FinalReportFile, presignExpiry)
	if err != nil {
		return h.failure(eris.Wrap(err, "presign report"))
	}
	return models.APIResponse(200, map[string]string{"downloadUrl": url, "s3Key": o.FinalReportFile})
}

// ─── POST /orders/{id}/consistency ──────────────────────────────────────────

func (h *Handler) handleConsistency(ctx context.Context, id string) (events.APIGatewayProxyResponse, error) {
	res, err := h.workflow.VerifyConsistency(ctx, id)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, res)
}

// ─── PATCH /orders/{id}/status ──────────────────────────────────────────────

type setStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) handleSetStatus(ctx context.Context, caller models.Caller, id string, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if !caller.IsAdmin() {
		return models.ErrorResponse(403, "forbidden", "only administrators can override a status")
	}
	var req setStatusRequest
	if !decodeBody(event, &req) {
		return errResponse(400, "invalid request body")
	}
	status, err := oit.ParseStatus(req.Status)
	if err != nil {
		return errResponse(400, err.Error())
	}
	o, err := h.workflow.SetStatus(ctx, id, caller.UserID, status, req.Reason)
	if err != nil {
		return h.failure(err)
	}
	return models.APIResponse(200, o)
}

// ─── GET /notifications ─────────────────────────────────────────────────────

func (h *Handler) handleNotifications(ctx context.Context, caller models.Caller, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := models.ParseQueryParams(event)
	list, err := h.store.Notifications(ctx, caller.UserID, q.Limit)
	if err != nil {
		return h.failure(err)
	}
	if list == nil {
		list = []oit.Notification{}
	}
	return models.APIResponse(200, map[string]any{"notifications": list})
}
