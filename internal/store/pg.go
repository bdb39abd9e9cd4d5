package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/dylan-vpa/serambienteai-sub000/internal/db"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// Schema is the DDL applied by `oitctl migrate`.
//
//go:embed schema.sql
var Schema string

const orderColumns = `id, oit_number, status, description, location, quotation_id, created_by,
	ai_data, planning_proposal, sampling_data, step_validations, sampling_progress,
	final_analysis, lab_results_analysis, field_form_analysis, resources,
	selected_template_ids, compliance, consistency, oit_file, quotation_file,
	lab_results_file, field_form_file, final_report_file, version, created_at, updated_at`

// PG is the Postgres-backed Store.
type PG struct {
	db db.DB
}

// NewPG wraps a db.DB.
func NewPG(database db.DB) *PG {
	return &PG{db: database}
}

// Migrate applies the embedded schema.
func (s *PG) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return eris.Wrap(err, "apply schema")
}

func (s *PG) CreateOrder(ctx context.Context, o *oit.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := s.db.Insert(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,0,NOW(),NOW())
		 RETURNING id`,
		orderArgs(o)...)
	if err != nil {
		return eris.Wrap(err, "insert order")
	}
	return nil
}

func (s *PG) GetOrder(ctx context.Context, id string) (*oit.Order, error) {
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "get order %s", id)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "order %s", id)
	}
	return scanOrder(rows[0]), nil
}

func (s *PG) ListOrders(ctx context.Context, f ListFilter) ([]*oit.Order, int, error) {
	where := ""
	args := []any{}
	if f.Status != "" {
		where = "WHERE status = $1"
		args = append(args, string(f.Status))
	}

	countRows, err := s.db.Query(ctx, `SELECT COUNT(*) AS total FROM orders `+where, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "count orders")
	}
	total := 0
	if len(countRows) > 0 {
		if n, ok := toInt64(countRows[0]["total"]); ok {
			total = int(n)
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 25
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "list orders")
	}
	orders := make([]*oit.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, scanOrder(r))
	}
	return orders, total, nil
}

func (s *PG) UpdateOrder(ctx context.Context, id string, fn UpdateFunc) (*oit.Order, error) {
	return updateWithRetry(ctx, s, id, fn)
}

func (s *PG) writeIfVersion(ctx context.Context, o *oit.Order, expected int) (bool, error) {
	args := append(orderArgs(o), expected)
	n, err := s.db.Exec(ctx,
		`UPDATE orders SET
		   oit_number = $2, status = $3, description = $4, location = $5, quotation_id = $6,
		   created_by = $7, ai_data = $8, planning_proposal = $9, sampling_data = $10,
		   step_validations = $11, sampling_progress = $12, final_analysis = $13,
		   lab_results_analysis = $14, field_form_analysis = $15, resources = $16,
		   selected_template_ids = $17, compliance = $18, consistency = $19, oit_file = $20,
		   quotation_file = $21, lab_results_file = $22, field_form_file = $23,
		   final_report_file = $24, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $25`,
		args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PG) StuckOrders(ctx context.Context, statuses []oit.Status, updatedBefore time.Time) ([]*oit.Order, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = ANY($1) AND updated_at < $2
		 ORDER BY updated_at`, names, updatedBefore)
	if err != nil {
		return nil, eris.Wrap(err, "query stuck orders")
	}
	orders := make([]*oit.Order, 0, len(rows))
	for _, r := range rows {
		orders = append(orders, scanOrder(r))
	}
	return orders, nil
}

func (s *PG) AvailableResources(ctx context.Context, limit int) ([]oit.Resource, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, name, type, status FROM resources WHERE status = 'AVAILABLE' ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query resources")
	}
	out := make([]oit.Resource, 0, len(rows))
	for _, r := range rows {
		out = append(out, oit.Resource{
			ID:     strVal(r["id"]),
			Name:   strVal(r["name"]),
			Type:   strVal(r["type"]),
			Status: oit.ResourceStatus(strVal(r["status"])),
		})
	}
	return out, nil
}

func (s *PG) SetResourceStatus(ctx context.Context, id string, status oit.ResourceStatus) error {
	n, err := s.db.Exec(ctx, `UPDATE resources SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "set resource %s", id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "resource %s", id)
	}
	return nil
}

func (s *PG) SamplingTemplates(ctx context.Context) ([]oit.SamplingTemplate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, order_type, description, steps, created_at
		 FROM sampling_templates ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "query sampling templates")
	}
	out := make([]oit.SamplingTemplate, 0, len(rows))
	for _, r := range rows {
		t := oit.SamplingTemplate{
			ID:          strVal(r["id"]),
			Name:        strVal(r["name"]),
			OrderType:   strVal(r["order_type"]),
			Description: strVal(r["description"]),
		}
		oit.DecodePayload(r["steps"], &t.Steps)
		if ts, ok := r["created_at"].(time.Time); ok {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PG) StandardsByCategories(ctx context.Context, categories []string, embedding []float32) ([]oit.Standard, error) {
	var (
		rows []map[string]any
		err  error
	)
	if len(embedding) > 0 {
		rows, err = s.db.Query(ctx,
			`SELECT id, code, title, category, content FROM standards
			 WHERE category = ANY($1)
			 ORDER BY embedding <=> $2 NULLS LAST, code`,
			categories, pgvector.NewHalfVector(embedding))
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT id, code, title, category, content FROM standards
			 WHERE category = ANY($1) ORDER BY code`, categories)
	}
	if err != nil {
		return nil, eris.Wrap(err, "query standards")
	}
	out := make([]oit.Standard, 0, len(rows))
	for _, r := range rows {
		out = append(out, oit.Standard{
			ID:       strVal(r["id"]),
			Code:     strVal(r["code"]),
			Title:    strVal(r["title"]),
			Category: strVal(r["category"]),
			Content:  strVal(r["content"]),
		})
	}
	return out, nil
}

func (s *PG) AssignEngineers(ctx context.Context, orderID string, userIDs []string) error {
	for _, u := range userIDs {
		if _, err := s.db.Exec(ctx,
			`INSERT INTO order_assignments (order_id, user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, orderID, u); err != nil {
			return eris.Wrapf(err, "assign %s to %s", u, orderID)
		}
	}
	return nil
}

func (s *PG) AssignedEngineers(ctx context.Context, orderID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id FROM order_assignments WHERE order_id = $1 ORDER BY user_id`, orderID)
	if err != nil {
		return nil, eris.Wrap(err, "query assignments")
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, strVal(r["user_id"]))
	}
	return ids, nil
}

func (s *PG) InsertNotification(ctx context.Context, n oit.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	var orderID any
	if n.OrderID != "" {
		orderID = n.OrderID
	}
	_, err := s.db.Insert(ctx,
		`INSERT INTO notifications (id, user_id, title, message, severity, order_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Severity), orderID)
	return eris.Wrap(err, "insert notification")
}

func (s *PG) Notifications(ctx context.Context, userID string, limit int) ([]oit.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, title, message, severity, order_id, read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query notifications")
	}
	out := make([]oit.Notification, 0, len(rows))
	for _, r := range rows {
		n := oit.Notification{
			ID:       strVal(r["id"]),
			UserID:   strVal(r["user_id"]),
			Title:    strVal(r["title"]),
			Message:  strVal(r["message"]),
			Severity: oit.Severity(strVal(r["severity"])),
			OrderID:  strVal(r["order_id"]),
		}
		n.Read, _ = r["read"].(bool)
		if ts, ok := r["created_at"].(time.Time); ok {
			n.CreatedAt = ts
		}
		out = append(out, n)
	}
	return out, nil
}

func orderArgs(o *oit.Order) []any {
	var planning any
	if o.PlanningProposal != nil {
		planning = oit.EncodePayload(o.PlanningProposal)
	}
	var compliance, consistency any
	if o.Compliance != nil {
		compliance = oit.EncodePayload(o.Compliance)
	}
	if o.Consistency != nil {
		consistency = oit.EncodePayload(o.Consistency)
	}
	return []any{
		o.ID, o.OITNumber, string(o.Status), o.Description, o.Location,
		nullable(o.QuotationID), nullable(o.CreatedBy),
		oit.EncodePayload(o.AIData), planning, oit.EncodePayload(o.SamplingData),
		oit.EncodePayload(o.StepValidations), oit.EncodePayload(o.SamplingProgress),
		nullable(o.FinalAnalysis), nullable(o.LabResultsAnalysis), nullable(o.FieldFormAnalysis),
		oit.EncodeList(o.Resources), oit.EncodeList(o.SelectedTemplateIDs),
		compliance, consistency,
		nullable(o.OITFile), nullable(o.QuotationFile), nullable(o.LabResultsFile),
		nullable(o.FieldFormFile), nullable(o.FinalReportFile),
	}
}

func scanOrder(r map[string]any) *oit.Order {
	o := &oit.Order{
		ID:                 strVal(r["id"]),
		OITNumber:          strVal(r["oit_number"]),
		Status:             oit.Status(strVal(r["status"])),
		Description:        strVal(r["description"]),
		Location:           strVal(r["location"]),
		QuotationID:        strVal(r["quotation_id"]),
		CreatedBy:          strVal(r["created_by"]),
		FinalAnalysis:      strVal(r["final_analysis"]),
		LabResultsAnalysis: strVal(r["lab_results_analysis"]),
		FieldFormAnalysis:  strVal(r["field_form_analysis"]),
		OITFile:            strVal(r["oit_file"]),
		QuotationFile:      strVal(r["quotation_file"]),
		LabResultsFile:     strVal(r["lab_results_file"]),
		FieldFormFile:      strVal(r["field_form_file"]),
		FinalReportFile:    strVal(r["final_report_file"]),
	}
	oit.DecodePayload(r["ai_data"], &o.AIData)
	o.AIData.Normalize()

	var planning oit.PlanningProposal
	if oit.DecodePayload(r["planning_proposal"], &planning) {
		o.PlanningProposal = &planning
	}
	oit.DecodePayload(r["sampling_data"], &o.SamplingData)
	oit.DecodePayload(r["step_validations"], &o.StepValidations)
	oit.DecodePayload(r["sampling_progress"], &o.SamplingProgress)
	oit.DecodePayload(r["resources"], &o.Resources)
	oit.DecodePayload(r["selected_template_ids"], &o.SelectedTemplateIDs)

	var compliance oit.ComplianceResult
	if oit.DecodePayload(r["compliance"], &compliance) {
		o.Compliance = &compliance
	}
	var consistency oit.ConsistencyResult
	if oit.DecodePayload(r["consistency"], &consistency) {
		o.Consistency = &consistency
	}

	if v, ok := toInt64(r["version"]); ok {
		o.Version = int(v)
	}
	if ts, ok := r["created_at"].(time.Time); ok {
		o.CreatedAt = ts
	}
	if ts, ok := r["updated_at"].(time.Time); ok {
		o.UpdatedAt = ts
	}
	return o
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int32:
		return int64(val), true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}
