// Command sommelier drives the recommendation pipeline: ingest source
// files, run the transform, generate and gate recommendations, record
// outcomes, and export campaigns.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "ingest":
		return runIngestCmd(args[2:], stdout, stderr)
	case "transform":
		return runTransformCmd(args[2:], stdout, stderr)
	case "recommend":
		return runRecommendCmd(args[2:], stdout, stderr)
	case "sync":
		return runSyncCmd(args[2:], stdout, stderr)
	case "quality":
		return runQualityCmd(args[2:], stdout, stderr)
	case "gate":
		return runGateCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "outcomes":
		return runOutcomesCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "delivery":
		return runDeliveryCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version", "--version", "-v":
		_, _ = fmt.Fprintf(stdout, "sommelier %s\n", version)
		return 0
	case "help", "--help", "-h":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "sommelier: unknown command %q\n\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprint(w, strings.TrimLeft(`
Usage: sommelier <command> [flags]

Commands:
  ingest      validate and stage a source CSV file
  transform   build clean tables and master profiles from a batch
  recommend   generate recommendations for one customer or a batch
  sync        run a configured source connector
  quality     compute or report run quality metrics
  gate        check a run's recommendations against a gating policy
  audit       drive the approval lifecycle and approval workflows
  outcomes    record outcomes and compute window metrics
  export      build a signed campaign export for a run
  delivery    apply a provider delivery event to contact flags
  doctor      check configuration and database connectivity
  version     print the version

Run 'sommelier <command> -h' for command flags.
`, "\n"))
}

// setupLogging installs the process-wide slog handler.
func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "sommelier: %v\n", err)
	return 1
}
