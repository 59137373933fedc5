package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/config"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/resume"
	"github.com/iago/resume-analyzer-back/internal/status"
)

var (
	analyzeFile     string
	analyzeIndustry string
	analyzePoll     time.Duration
	analyzeTimeout  time.Duration
	analyzeFormat   string
	analyzeVerbose  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one resume in-process and print the final snapshot",
	Long: `Runs the analysis engine in-process with an in-memory store, submits the
resume and polls the status service until the job is terminal.

Examples:
  resume-analyzer analyze --file cv.txt --industry tech_consulting
  resume-analyzer analyze --file cv.md --industry healthcare --format yaml`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFile, "file", "", "path to a .txt or .md resume")
	analyzeCmd.Flags().StringVar(&analyzeIndustry, "industry", "", "industry code (see GET /v1/industries)")
	analyzeCmd.Flags().DurationVar(&analyzePoll, "poll", 500*time.Millisecond, "status polling interval")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 5*time.Minute, "give up waiting after this long")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "json", "output format: json or yaml")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "log engine activity to stderr")
	_ = analyzeCmd.MarkFlagRequired("file")
	_ = analyzeCmd.MarkFlagRequired("industry")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	if analyzeFormat != "json" && analyzeFormat != "yaml" {
		return apperr.Newf("unsupported format %q", analyzeFormat)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewNop()
	if analyzeVerbose {
		if log, err = logger.New(cfg.LogMode); err != nil {
			return err
		}
		defer log.Sync()
	}

	raw, err := os.ReadFile(analyzeFile)
	if err != nil {
		return apperr.Wrapf(err, "read resume %s", analyzeFile)
	}
	ref := filepath.Base(analyzeFile)
	resumes := resume.NewMemorySource()
	resumes.Put(ref, string(raw))

	ctx, cancel := context.WithTimeout(cmd.Context(), analyzeTimeout)
	defer cancel()

	eng, err := buildEngine(ctx, cfg, log, engineOptions{InProcess: true, Resumes: resumes})
	if err != nil {
		return err
	}
	defer eng.Close()
	go eng.processor.Start(ctx)
	defer eng.processor.Wait()
	defer cancel()

	submission, err := eng.analyses.Submit(ctx, ref, analyzeIndustry)
	if err != nil {
		return err
	}
	snapshot, err := pollUntilTerminal(ctx, eng.statuses, submission.JobID, analyzePoll, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := writeSnapshot(cmd.OutOrStdout(), snapshot, analyzeFormat); err != nil {
		return err
	}
	if snapshot.Status == domain.JobStatusFailed {
		return apperr.Newf("analysis failed: %s", snapshot.Error.Message)
	}
	return nil
}

func pollUntilTerminal(ctx context.Context, statuses *status.Service, jobID string, interval time.Duration, progress io.Writer) (domain.JobSnapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := domain.JobStatus("")
	for {
		snapshot, err := statuses.GetStatus(ctx, jobID)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		if snapshot.Status != last {
			fmt.Fprintf(progress, "%s %3d%% %s\n", jobID[:8], snapshot.Progress, snapshot.Status)
			last = snapshot.Status
		}
		if snapshot.Status.IsTerminal() {
			return snapshot, nil
		}
		select {
		case <-ctx.Done():
			return domain.JobSnapshot{}, apperr.Wrap(ctx.Err(), "waiting for analysis")
		case <-ticker.C:
		}
	}
}

func writeSnapshot(w io.Writer, snapshot domain.JobSnapshot, format string) error {
	if format == "yaml" {
		// Round-trip through JSON so YAML keys follow the API field names.
		encoded, err := json.Marshal(snapshot)
		if err != nil {
			return apperr.Wrap(err, "encode snapshot")
		}
		var generic map[string]any
		if err := json.Unmarshal(encoded, &generic); err != nil {
			return apperr.Wrap(err, "encode snapshot")
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(generic)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snapshot)
}
