package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

const (
	genericPlanName      = "Generic sampling plan"
	genericPlanResources = 3
	defaultLeadDays      = 7
	defaultStartTime     = "08:00"
	planningCandidates   = 20
	maxPlannedResources  = 5
)

// genericSteps is the plan used when the template catalog is empty.
var genericSteps = []oit.Step{
	{Type: "checklist", Title: "Site arrival and safety briefing", Required: true,
		Description:  "Confirm access, permits and safety conditions with the client contact.",
		Requirements: "Client contact name, arrival time, PPE checklist."},
	{Type: "form", Title: "Equipment installation and calibration", Required: true,
		Description:  "Install the sampling equipment and record calibration checks.",
		Requirements: "Equipment serials, calibration values, station coordinates."},
	{Type: "form", Title: "Sample collection", Required: true,
		Description:  "Run the sampling campaign and label every sample.",
		Requirements: "Sample codes, start and end times, field conditions."},
	{Type: "checklist", Title: "Chain of custody and closing", Required: true,
		Description:  "Seal samples, fill the chain of custody and retire equipment.",
		Requirements: "Chain of custody number, signatures, storage temperature."},
}

type planningReply struct {
	TemplateID        oit.FlexString   `json:"templateId"`
	TemplateIDs       []oit.FlexString `json:"templateIds"`
	ResourceIDs       []oit.FlexString `json:"resourceIds"`
	ProposedDate      string           `json:"proposedDate"`
	ProposedTime      string           `json:"proposedTime"`
	EstimatedDuration string           `json:"estimatedDuration"`
}

// GenerateProposal builds the sampling plan for an order and persists it.
func (p *Pipeline) GenerateProposal(ctx context.Context, orderID string) (oit.PlanningProposal, error) {
	log := p.orderLog(orderID)
	o, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return oit.PlanningProposal{}, eris.Wrap(err, "load order")
	}
	templates, err := p.store.SamplingTemplates(ctx)
	if err != nil {
		return oit.PlanningProposal{}, eris.Wrap(err, "load templates")
	}

	var proposal oit.PlanningProposal
	if len(templates) == 0 {
		proposal, err = p.genericProposal(ctx)
	} else {
		proposal, err = p.templateProposal(ctx, log, o, templates)
	}
	if err != nil {
		return oit.PlanningProposal{}, err
	}

	if _, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		o.AIData.Data.MergePlan(proposal)
		pp := proposal
		o.PlanningProposal = &pp
		o.SelectedTemplateIDs = append([]string{}, proposal.TemplateIDs...)
		return nil
	}); err != nil {
		return oit.PlanningProposal{}, eris.Wrap(err, "save proposal")
	}
	log.Info("planning proposal stored", zap.Strings("templates", proposal.TemplateIDs), zap.Int("steps", len(proposal.Steps)))
	return proposal, nil
}

// planBestEffort runs planning inside the analysis stage, where a planning
// failure must not fail the order.
func (p *Pipeline) planBestEffort(ctx context.Context, orderID string) {
	if _, err := p.GenerateProposal(ctx, orderID); err != nil {
		p.orderLog(orderID).Warn("planning failed", zap.Error(err))
	}
}

func (p *Pipeline) genericProposal(ctx context.Context) (oit.PlanningProposal, error) {
	resources, err := p.store.AvailableResources(ctx, genericPlanResources)
	if err != nil {
		return oit.PlanningProposal{}, eris.Wrap(err, "load resources")
	}
	refs := make([]oit.ResourceRef, 0, len(resources))
	for _, r := range resources {
		refs = append(refs, r.Ref())
	}
	return oit.PlanningProposal{
		TemplateIDs:       []string{},
		TemplateName:      genericPlanName,
		ProposedDate:      p.now().AddDate(0, 0, defaultLeadDays).Format("2006-01-02"),
		ProposedTime:      defaultStartTime,
		Steps:             append([]oit.Step(nil), genericSteps...),
		AssignedResources: refs,
		EstimatedDuration: "1 day",
	}, nil
}

func (p *Pipeline) templateProposal(ctx context.Context, log *zap.Logger, o *oit.Order, templates []oit.SamplingTemplate) (oit.PlanningProposal, error) {
	candidates, err := p.store.AvailableResources(ctx, planningCandidates)
	if err != nil {
		return oit.PlanningProposal{}, eris.Wrap(err, "load resources")
	}

	var reply planningReply
	if p.model.Available(ctx) {
		prompt := fmt.Sprintf(PlanningPrompt, orderSummary(o), templateCatalog(templates), resourceCatalog(candidates), p.now().Format("2006-01-02"))
		raw, err := p.model.Generate(ctx, prompt, llm.JSON(0.2))
		if err == nil {
			err = llm.DecodeJSON(raw, &reply)
		}
		if err != nil {
			log.Warn("template selection failed, using first template", zap.Error(err))
			reply = planningReply{}
		}
	}

	selected := selectTemplates(templates, reply)
	proposal := oit.PlanningProposal{
		TemplateIDs:       []string{},
		ProposedDate:      p.proposedDate(reply.ProposedDate, o.AIData.Data.ProposedDate),
		ProposedTime:      firstValid(validTime, reply.ProposedTime, o.AIData.Data.ProposedTime, defaultStartTime),
		EstimatedDuration: reply.EstimatedDuration,
	}
	for i, t := range selected {
		proposal.TemplateIDs = append(proposal.TemplateIDs, t.ID)
		if i == 0 {
			proposal.TemplateName = t.Name
		} else {
			proposal.TemplateName += " + " + t.Name
		}
		for _, s := range t.Steps {
			s.TemplateID = t.ID
			proposal.Steps = append(proposal.Steps, s)
		}
	}
	proposal.AssignedResources = selectResources(candidates, reply.ResourceIDs)
	if proposal.EstimatedDuration == "" {
		proposal.EstimatedDuration = fmt.Sprintf("%d steps", len(proposal.Steps))
	}
	return proposal, nil
}

// selectTemplates keeps the known ids from the reply, in catalog order.
// Nothing usable selects the first template.
func selectTemplates(templates []oit.SamplingTemplate, reply planningReply) []oit.SamplingTemplate {
	want := make(map[string]bool)
	if reply.TemplateID != "" {
		want[string(reply.TemplateID)] = true
	}
	for _, id := range reply.TemplateIDs {
		want[string(id)] = true
	}
	var out []oit.SamplingTemplate
	for _, t := range templates {
		if want[t.ID] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = templates[:1]
	}
	return out
}

// selectResources keeps the candidates the reply named. Without a usable
// choice the first genericPlanResources candidates are assigned.
func selectResources(candidates []oit.Resource, ids []oit.FlexString) []oit.ResourceRef {
	byID := make(map[string]oit.Resource, len(candidates))
	for _, r := range candidates {
		byID[r.ID] = r
	}
	refs := []oit.ResourceRef{}
	seen := make(map[string]bool)
	for _, id := range ids {
		r, ok := byID[string(id)]
		if !ok || seen[r.ID] || len(refs) == maxPlannedResources {
			continue
		}
		seen[r.ID] = true
		refs = append(refs, r.Ref())
	}
	if len(refs) > 0 {
		return refs
	}
	for i, r := range candidates {
		if i == genericPlanResources {
			break
		}
		refs = append(refs, r.Ref())
	}
	return refs
}

func (p *Pipeline) proposedDate(candidates ...string) string {
	today := p.now().Format("2006-01-02")
	for _, c := range candidates {
		if t, err := time.Parse("2006-01-02", c); err == nil && t.Format("2006-01-02") >= today {
			return c
		}
	}
	return p.now().AddDate(0, 0, defaultLeadDays).Format("2006-01-02")
}

func validTime(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}

func firstValid(valid func(string) bool, vals ...string) string {
	for _, v := range vals {
		if valid(v) {
			return v
		}
	}
	return ""
}

// AcceptPlanning schedules the order on its proposal: the assigned resources
// become the order's snapshot and are marked in use, and the engineers are
// assigned and notified.
func (p *Pipeline) AcceptPlanning(ctx context.Context, orderID, userID string, engineerIDs []string) (*oit.Order, error) {
	log := p.orderLog(orderID)
	o, err := p.store.UpdateOrder(ctx, orderID, func(o *oit.Order) error {
		if o.PlanningProposal == nil {
			return eris.Wrap(ErrInvalidInput, "order has no planning proposal")
		}
		if err := o.Transition(oit.StatusScheduled); err != nil {
			return err
		}
		o.Resources = append([]oit.ResourceRef{}, o.PlanningProposal.AssignedResources...)
		o.AIData.Data.MergePlan(*o.PlanningProposal)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "accept planning")
	}

	for _, r := range o.Resources {
		if r.ID == "" {
			continue
		}
		if err := p.store.SetResourceStatus(ctx, string(r.ID), oit.ResourceInUse); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				log.Warn("planned resource not in inventory", zap.String("resource_id", string(r.ID)))
				continue
			}
			log.Error("reserve resource", zap.String("resource_id", string(r.ID)), zap.Error(err))
		}
	}
	if len(engineerIDs) > 0 {
		if err := p.store.AssignEngineers(ctx, orderID, engineerIDs); err != nil {
			return o, eris.Wrap(err, "assign engineers")
		}
	}
	log.Info("planning accepted", zap.Int("resources", len(o.Resources)), zap.Int("engineers", len(engineerIDs)))

	date := ""
	if o.PlanningProposal != nil {
		date = o.PlanningProposal.ProposedDate + " " + o.PlanningProposal.ProposedTime
	}
	p.notifyMany(ctx, engineerIDs, oit.Notification{
		Title:    "New sampling assignment",
		Message:  fmt.Sprintf("You were assigned to order %s, scheduled for %s.", displayNumber(o), date),
		Severity: oit.SeverityInfo,
		OrderID:  orderID,
	})
	p.notify(ctx, userID, oit.Notification{
		Title:    "Order scheduled",
		Message:  fmt.Sprintf("Order %s is scheduled for %s.", displayNumber(o), date),
		Severity: oit.SeveritySuccess,
		OrderID:  orderID,
	})
	return o, nil
}
