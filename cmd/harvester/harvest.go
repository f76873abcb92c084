package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonathan/genome-harvester/internal/engine"
	"github.com/jonathan/genome-harvester/internal/export"
	"github.com/jonathan/genome-harvester/internal/observability"
	"github.com/jonathan/genome-harvester/internal/schemas"
	"github.com/jonathan/genome-harvester/internal/types"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run a single harvest job and write the results",
	Long: `Run one harvest job end-to-end without the HTTP server: resolve the input
to genome assemblies, fetch and parse their flatfile records, and write the
normalized results as JSON or CSV.

Input is either a list of accessions (--accessions or --accessions-file) or
an organism query (--organism); the two modes are mutually exclusive.`,
	RunE: runHarvest,
}

var (
	harvestConfigPath     string
	harvestAccessions     []string
	harvestAccessionsFile string
	harvestOrganism       string
	harvestKeywords       []string
	harvestLevels         []string
	harvestSource         string
	harvestLimit          int
	harvestOutput         string
	harvestFormat         string
	harvestVerbose        bool
)

func init() {
	harvestCmd.Flags().StringVar(&harvestConfigPath, "config", "", "Path to config.json file (environment variables take priority)")

	harvestCmd.Flags().StringSliceVarP(&harvestAccessions, "accessions", "a", nil, "Accessions to harvest, comma separated (mutually exclusive with --organism)")
	harvestCmd.Flags().StringVar(&harvestAccessionsFile, "accessions-file", "", "Path to a JSON accession request document (mutually exclusive with --organism)")
	harvestCmd.Flags().StringVarP(&harvestOrganism, "organism", "q", "", "Organism query, e.g. \"Escherichia coli\" (mutually exclusive with accessions)")
	harvestCmd.Flags().StringSliceVar(&harvestKeywords, "keyword", nil, "Additional query keywords (query mode only)")
	harvestCmd.Flags().StringSliceVar(&harvestLevels, "assembly-level", nil, "Restrict to assembly levels: \"Complete Genome\", Chromosome, Scaffold, Contig")
	harvestCmd.Flags().StringVar(&harvestSource, "source", "", "Source catalog preference: RefSeq, GenBank, or Either")
	harvestCmd.Flags().IntVarP(&harvestLimit, "limit", "l", 0, "Maximum assemblies to harvest in query mode (1-100)")

	harvestCmd.Flags().StringVarP(&harvestOutput, "output", "o", "", "Output file path (defaults to stdout)")
	harvestCmd.Flags().StringVarP(&harvestFormat, "format", "f", "json", "Output format: json or csv")
	harvestCmd.Flags().BoolVarP(&harvestVerbose, "verbose", "v", false, "Print progress while the job runs")

	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	if harvestFormat != "json" && harvestFormat != "csv" {
		return fmt.Errorf("unsupported format %q (expected json or csv)", harvestFormat)
	}

	accessionReq, queryReq, err := buildRequest(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(harvestConfigPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	eng, archive, err := buildEngine(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer func() {
		if archive != nil {
			archive.Close()
		}
	}()

	var snap types.Snapshot
	if accessionReq != nil {
		snap, err = eng.SubmitAccessions(accessionReq)
	} else {
		snap, err = eng.SubmitQuery(queryReq)
	}
	if err != nil {
		return err
	}

	snap, err = awaitJob(eng, snap.ID, harvestVerbose || cfg.Verbose)
	if err != nil {
		return err
	}

	results, _, err := eng.Store().Results(snap.ID)
	if err != nil {
		return err
	}

	switch snap.Status {
	case types.StatusFailed:
		if len(results.Errors) > 0 {
			return fmt.Errorf("harvest failed: %s", results.Errors[0].Reason)
		}
		return fmt.Errorf("harvest failed")
	case types.StatusCanceled:
		fmt.Fprintf(os.Stderr, "Warning: job hit its deadline; writing %d partial results\n", len(results.Results))
	}

	out := os.Stdout
	if harvestOutput != "" {
		f, err := os.Create(harvestOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if harvestFormat == "csv" {
		err = export.WriteCSV(out, results)
	} else {
		err = export.WriteJSON(out, results)
	}
	if err != nil {
		return err
	}

	if harvestVerbose || cfg.Verbose {
		printer := observability.NewPrinter(os.Stderr)
		printer.PrintJobSummary(snap)
		printer.PrintRecords(results)
		printer.PrintItemErrors(results)
	} else {
		if harvestOutput != "" {
			fmt.Fprintf(os.Stderr, "Wrote %d records (%d errors) to %s\n", len(results.Results), len(results.Errors), harvestOutput)
		}
		for _, itemErr := range results.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", itemErr.Identifier, itemErr.Reason)
		}
	}

	eng.Wait()
	return nil
}

// buildRequest translates the flags into exactly one of the two job request
// types. Exactly one input mode must be present.
func buildRequest(cmd *cobra.Command) (*types.AccessionJobRequest, *types.QueryJobRequest, error) {
	accessionInputs := 0
	if len(harvestAccessions) > 0 {
		accessionInputs++
	}
	if harvestAccessionsFile != "" {
		accessionInputs++
	}
	if accessionInputs > 1 {
		return nil, nil, fmt.Errorf("--accessions and --accessions-file are mutually exclusive; provide only one")
	}
	if accessionInputs > 0 && harvestOrganism != "" {
		return nil, nil, fmt.Errorf("accession input and --organism are mutually exclusive; provide only one")
	}
	if accessionInputs == 0 && harvestOrganism == "" {
		return nil, nil, fmt.Errorf("either accessions (--accessions, --accessions-file) or --organism must be provided")
	}

	filters, err := buildFilters()
	if err != nil {
		return nil, nil, err
	}

	if harvestAccessionsFile != "" {
		schemaPath := schemas.ResolveSchemaPath("schemas/accession_job_request.schema.json")
		if schemaPath == "" {
			return nil, nil, fmt.Errorf("accession request schema not found (run from the repository root or an installed layout)")
		}
		if err := schemas.ValidateJSON(schemaPath, harvestAccessionsFile); err != nil {
			return nil, nil, fmt.Errorf("invalid accession request document: %w", err)
		}
		data, err := os.ReadFile(harvestAccessionsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read accessions file: %w", err)
		}
		var req types.AccessionJobRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, nil, fmt.Errorf("failed to parse accessions file: %w", err)
		}
		// Flag filters override the document's filters when set
		if cmd.Flags().Changed("source") || cmd.Flags().Changed("assembly-level") {
			req.Filters = filters
		}
		return &req, nil, nil
	}

	if len(harvestAccessions) > 0 {
		return &types.AccessionJobRequest{Accessions: harvestAccessions, Filters: filters}, nil, nil
	}

	return nil, &types.QueryJobRequest{
		Organism: harvestOrganism,
		Keywords: harvestKeywords,
		Filters:  filters,
		Limit:    harvestLimit,
	}, nil
}

func buildFilters() (types.QueryFilters, error) {
	var filters types.QueryFilters
	switch harvestSource {
	case "", string(types.PreferRefSeq), string(types.PreferGenBank), string(types.PreferEither):
		filters.SourcePreference = types.SourcePreference(harvestSource)
	default:
		return filters, fmt.Errorf("unknown source preference %q (expected RefSeq, GenBank, or Either)", harvestSource)
	}
	for _, level := range harvestLevels {
		filters.AssemblyLevel = append(filters.AssemblyLevel, types.AssemblyLevel(level))
	}
	return filters, nil
}

// awaitJob polls until the job reaches a terminal state, optionally printing
// progress as it changes.
func awaitJob(eng *engine.Engine, id uuid.UUID, verbose bool) (types.Snapshot, error) {
	var last types.Progress
	for {
		snap, err := eng.Store().Snapshot(id)
		if err != nil {
			return types.Snapshot{}, err
		}
		if verbose && snap.Progress != last {
			fmt.Fprintf(os.Stderr, "[harvest] status=%s completed=%d errored=%d total=%d\n",
				snap.Status, snap.Progress.Completed, snap.Progress.Errored, snap.Progress.Total)
			last = snap.Progress
		}
		if snap.Status.Terminal() {
			return snap, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}
