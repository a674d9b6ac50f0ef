package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/cavistelabs/sommelier/pkg/audit"
)

func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: sommelier audit <log|approve|reject|flag|pending|flagged|history|workflows|decide> [flags]")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.close(ctx)

	svc := audit.NewService(a.audits)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	decision := func(ok bool, err error) int {
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(map[string]bool{"applied": ok}); err != nil {
			return fail(stderr, err)
		}
		if !ok {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "log":
		fs := flag.NewFlagSet("audit log", flag.ContinueOnError)
		fs.SetOutput(stderr)
		runID := fs.String("run", "", "run whose items get audit entries (default: latest)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		run, err := resolveRun(ctx, a, *runID)
		if err != nil {
			return fail(stderr, err)
		}
		items, err := a.recos.ItemsForRun(ctx, run.RunID)
		if err != nil {
			return fail(stderr, err)
		}
		opened := make([]string, 0, len(items))
		for _, item := range items {
			entry, err := svc.LogRecommendation(ctx, item)
			if err != nil {
				return fail(stderr, err)
			}
			opened = append(opened, entry.AuditID)
		}
		if err := enc.Encode(map[string]any{"run_id": run.RunID, "opened": len(opened), "audit_ids": opened}); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "approve":
		fs := flag.NewFlagSet("audit approve", flag.ContinueOnError)
		fs.SetOutput(stderr)
		id := fs.String("id", "", "audit entry id")
		actor := fs.String("actor", "", "who decides")
		reason := fs.String("reason", "", "optional reason")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ok, err := svc.Approve(ctx, *id, *actor, *reason)
		return decision(ok, err)

	case "reject":
		fs := flag.NewFlagSet("audit reject", flag.ContinueOnError)
		fs.SetOutput(stderr)
		id := fs.String("id", "", "audit entry id")
		actor := fs.String("actor", "", "who decides")
		reason := fs.String("reason", "", "mandatory reason")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ok, err := svc.Reject(ctx, *id, *actor, *reason)
		return decision(ok, err)

	case "flag":
		fs := flag.NewFlagSet("audit flag", flag.ContinueOnError)
		fs.SetOutput(stderr)
		id := fs.String("id", "", "audit entry id")
		reason := fs.String("reason", "", "flag reason")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		ok, err := svc.Flag(ctx, *id, *reason)
		return decision(ok, err)

	case "pending":
		entries, err := svc.Pending(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(entries); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "flagged":
		entries, err := svc.Flagged(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(entries); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "history":
		fs := flag.NewFlagSet("audit history", flag.ContinueOnError)
		fs.SetOutput(stderr)
		customer := fs.String("customer", "", "customer code")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *customer == "" {
			_, _ = fmt.Fprintln(stderr, "Usage: sommelier audit history -customer <code>")
			return 2
		}
		entries, err := svc.History(ctx, *customer)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(entries); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "workflows":
		workflows, err := audit.NewWorkflows(a.audits, svc).Pending(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		if err := enc.Encode(workflows); err != nil {
			return fail(stderr, err)
		}
		return 0

	case "decide":
		fs := flag.NewFlagSet("audit decide", flag.ContinueOnError)
		fs.SetOutput(stderr)
		id := fs.String("workflow", "", "workflow id")
		approve := fs.Bool("approve", false, "approve instead of reject")
		actor := fs.String("actor", "", "who decides")
		reason := fs.String("reason", "", "notes when approving, reason when rejecting")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		workflows := audit.NewWorkflows(a.audits, svc)
		pending, err := workflows.Pending(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		for _, wf := range pending {
			if wf.WorkflowID != *id {
				continue
			}
			if *approve {
				return decision(workflows.Approve(ctx, wf, *actor, *reason))
			}
			return decision(workflows.Reject(ctx, wf, *actor, *reason))
		}
		return fail(stderr, fmt.Errorf("no pending workflow %q", *id))

	default:
		_, _ = fmt.Fprintf(stderr, "unknown audit subcommand %q\n", args[0])
		return 2
	}
}
