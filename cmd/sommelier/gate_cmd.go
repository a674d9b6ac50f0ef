package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/audit"
	"github.com/cavistelabs/sommelier/pkg/schema"
)

func runGateCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run", "", "run to gate (default: latest)")
	policy := fs.String("policy", "standard", "gating policy name")
	requestedBy := fs.String("requested-by", "pipeline", "requester recorded on opened workflows")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	registry, err := audit.NewRegistry()
	if err != nil {
		return fail(stderr, err)
	}
	if a.cfg.PolicyFile != "" {
		if err := registry.LoadFile(a.cfg.PolicyFile); err != nil {
			return fail(stderr, err)
		}
	}

	run, err := resolveRun(ctx, a, *runID)
	if err != nil {
		return fail(stderr, err)
	}
	items, err := a.recos.ItemsForRun(ctx, run.RunID)
	if err != nil {
		return fail(stderr, err)
	}

	result, err := registry.CheckBatch(*policy, items)
	if err != nil {
		return fail(stderr, err)
	}

	// A require-approval policy holds passing items for a human: each
	// one gets an audit entry and an open workflow.
	var opened int
	if p, ok := registry.Policy(*policy); ok && p.RequireApproval {
		service := audit.NewService(a.audits)
		workflows := audit.NewWorkflows(a.audits, service)
		for _, item := range items {
			key := fmt.Sprintf("%s/%s/%d", item.CustomerCode, item.ProductKey, item.Rank)
			if _, failed := result.Issues[key]; failed {
				continue
			}
			entry, err := service.LogRecommendation(ctx, item)
			if err != nil {
				return fail(stderr, err)
			}
			if _, err := workflows.Open(ctx, run.RunID, entry.AuditID, *requestedBy, schema.PriorityNormal); err != nil {
				return fail(stderr, err)
			}
			opened++
		}
	}

	out := struct {
		*audit.BatchGateResult
		WorkflowsOpened int `json:"workflows_opened,omitempty"`
	}{BatchGateResult: result, WorkflowsOpened: opened}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fail(stderr, err)
	}
	if result.Failed > 0 {
		return 1
	}
	return 0
}
