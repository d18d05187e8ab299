// Package handler exposes the placement operations over HTTP and gRPC.
//
// Both transports dispatch into the same operation table. A request is a
// JSON object: the HTTP body with path and query parameters merged in, or
// the google.protobuf.Struct of a gRPC call.
package handler

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-discipline-placements/internal/chaintemplate"
	"github.com/pesio-ai/be-discipline-placements/internal/compliance"
	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/gating"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/service"
)

// Services bundles the placement services the transports call.
type Services struct {
	Chains     *service.ApprovalChainService
	Compliance *service.ComplianceService
	Incidents  *service.IncidentService
}

type operation func(ctx context.Context, actor domain.Actor, raw []byte) (any, error)

func bind[Req any](fn func(ctx context.Context, actor domain.Actor, req Req) (any, error)) operation {
	return func(ctx context.Context, actor domain.Actor, raw []byte) (any, error) {
		var req Req
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, errors.InvalidInput("body", "malformed request: "+err.Error())
			}
		}
		return fn(ctx, actor, req)
	}
}

// ── Requests ──────────────────────────────────────────────────────────────────

type IncidentRef struct {
	IncidentID string `json:"incident_id"`
}

type RegisterIncidentRequest struct {
	ID              string `json:"id"`
	StudentID       string `json:"student_id"`
	CampusID        string `json:"campus_id"`
	ConsequenceType string `json:"consequence_type"`
	StudentIsSPED   bool   `json:"student_is_sped"`
	StudentIs504    bool   `json:"student_is_504"`
}

// StepsRequest carries an optional explicit role sequence.
type StepsRequest struct {
	IncidentID string                       `json:"incident_id"`
	Steps      []chaintemplate.StepTemplate `json:"steps"`
}

type ApproveIncidentRequest struct {
	IncidentID string `json:"incident_id"`
	Notes      string `json:"notes"`
}

type ChainRef struct {
	ChainID string `json:"chain_id"`
}

type StepActionRequest struct {
	StepID   string `json:"step_id"`
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

type PendingStepsRequest struct {
	Role string `json:"role"`
}

type ChecklistRef struct {
	ChecklistID string `json:"checklist_id"`
}

type ToggleItemRequest struct {
	ChecklistID string               `json:"checklist_id"`
	Field       domain.ChecklistItem `json:"field"`
}

type ManifestationRequest struct {
	ChecklistID string                     `json:"checklist_id"`
	Result      domain.ManifestationResult `json:"result"`
}

type OverrideRequest struct {
	ChecklistID string `json:"checklist_id"`
	Reason      string `json:"reason"`
}

type ConsiderationsRequest struct {
	ChecklistID                string  `json:"checklist_id"`
	LeastRestrictiveConsidered *bool   `json:"least_restrictive_considered"`
	PlacementJustification     *string `json:"placement_justification"`
}

// EvaluateRequest carries caller-supplied records for a stateless
// capabilities check.
type EvaluateRequest struct {
	Incident  domain.Incident             `json:"incident"`
	Chain     *domain.ApprovalChain       `json:"chain"`
	Checklist *domain.ComplianceChecklist `json:"checklist"`
}

// ── Operation table ───────────────────────────────────────────────────────────

func (s Services) operations() map[string]operation {
	return map[string]operation{
		"RegisterIncident": bind(func(ctx context.Context, _ domain.Actor, req RegisterIncidentRequest) (any, error) {
			return s.Incidents.RegisterIncident(ctx, service.NewIncident(req))
		}),
		"SubmitPlacement": bind(func(ctx context.Context, actor domain.Actor, req StepsRequest) (any, error) {
			return s.Incidents.SubmitPlacement(ctx, req.IncidentID, actor, req.Steps)
		}),
		"GetIncident": bind(func(ctx context.Context, _ domain.Actor, req IncidentRef) (any, error) {
			return s.Incidents.GetIncident(ctx, req.IncidentID)
		}),
		"GetCapabilities": bind(func(ctx context.Context, _ domain.Actor, req IncidentRef) (any, error) {
			return s.Incidents.GetCapabilities(ctx, req.IncidentID)
		}),
		"EvaluateCapabilities": bind(func(_ context.Context, _ domain.Actor, req EvaluateRequest) (any, error) {
			caps := gating.ComputeIncidentCapabilities(req.Incident, req.Chain, req.Checklist)
			return &caps, nil
		}),
		"ApproveIncident": bind(func(ctx context.Context, actor domain.Actor, req ApproveIncidentRequest) (any, error) {
			return s.Incidents.ApproveIncident(ctx, req.IncidentID, actor, req.Notes)
		}),
		"ActivatePlacement": bind(func(ctx context.Context, actor domain.Actor, req IncidentRef) (any, error) {
			return s.Incidents.ActivatePlacement(ctx, req.IncidentID, actor)
		}),
		"CompletePlacement": bind(func(ctx context.Context, actor domain.Actor, req IncidentRef) (any, error) {
			return s.Incidents.CompletePlacement(ctx, req.IncidentID, actor)
		}),
		"GetHistory": bind(func(ctx context.Context, _ domain.Actor, req IncidentRef) (any, error) {
			entries, err := s.Incidents.GetHistory(ctx, req.IncidentID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"entries": entries}, nil
		}),
		"CreateChain": bind(func(ctx context.Context, actor domain.Actor, req StepsRequest) (any, error) {
			return s.Chains.CreateChain(ctx, req.IncidentID, actor, req.Steps)
		}),
		"GetChain": bind(func(ctx context.Context, _ domain.Actor, req ChainRef) (any, error) {
			return s.Chains.GetChain(ctx, req.ChainID)
		}),
		"GetChainByIncident": bind(func(ctx context.Context, _ domain.Actor, req IncidentRef) (any, error) {
			return s.Chains.GetChainByIncident(ctx, req.IncidentID)
		}),
		"ApproveStep": bind(func(ctx context.Context, actor domain.Actor, req StepActionRequest) (any, error) {
			return s.Chains.Approve(ctx, req.StepID, actor, req.Comments)
		}),
		"DenyStep": bind(func(ctx context.Context, actor domain.Actor, req StepActionRequest) (any, error) {
			return s.Chains.Deny(ctx, req.StepID, actor, req.Reason)
		}),
		"ReturnStep": bind(func(ctx context.Context, actor domain.Actor, req StepActionRequest) (any, error) {
			return s.Chains.Return(ctx, req.StepID, actor, req.Reason)
		}),
		"Resubmit": bind(func(ctx context.Context, actor domain.Actor, req ChainRef) (any, error) {
			return s.Chains.Resubmit(ctx, req.ChainID, actor)
		}),
		"ListPendingSteps": bind(func(ctx context.Context, _ domain.Actor, req PendingStepsRequest) (any, error) {
			steps, err := s.Chains.ListPendingSteps(ctx, req.Role)
			if err != nil {
				return nil, err
			}
			return map[string]any{"steps": steps}, nil
		}),
		"CreateChecklist": bind(func(ctx context.Context, actor domain.Actor, req IncidentRef) (any, error) {
			return s.Compliance.CreateChecklist(ctx, req.IncidentID, actor)
		}),
		"GetChecklist": bind(func(ctx context.Context, _ domain.Actor, req ChecklistRef) (any, error) {
			return s.Compliance.GetChecklist(ctx, req.ChecklistID)
		}),
		"GetChecklistByIncident": bind(func(ctx context.Context, _ domain.Actor, req IncidentRef) (any, error) {
			return s.Compliance.GetChecklistByIncident(ctx, req.IncidentID)
		}),
		"ToggleItem": bind(func(ctx context.Context, actor domain.Actor, req ToggleItemRequest) (any, error) {
			return s.Compliance.ToggleItem(ctx, req.ChecklistID, req.Field, actor)
		}),
		"SetManifestationResult": bind(func(ctx context.Context, actor domain.Actor, req ManifestationRequest) (any, error) {
			return s.Compliance.SetManifestationResult(ctx, req.ChecklistID, req.Result, actor)
		}),
		"OverrideBlock": bind(func(ctx context.Context, actor domain.Actor, req OverrideRequest) (any, error) {
			return s.Compliance.OverrideBlock(ctx, req.ChecklistID, actor, req.Reason)
		}),
		"RecordConsiderations": bind(func(ctx context.Context, actor domain.Actor, req ConsiderationsRequest) (any, error) {
			return s.Compliance.RecordConsiderations(ctx, req.ChecklistID, compliance.Considerations{
				LeastRestrictiveConsidered: req.LeastRestrictiveConsidered,
				PlacementJustification:     req.PlacementJustification,
			}, actor)
		}),
	}
}
