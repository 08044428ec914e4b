package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/convai-tools/latency-pipeline/aggregate"
	"github.com/convai-tools/latency-pipeline/clients"
	cfg "github.com/convai-tools/latency-pipeline/config"
	"github.com/convai-tools/latency-pipeline/orchestrator"
	"github.com/convai-tools/latency-pipeline/report"
	"github.com/convai-tools/latency-pipeline/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("latency-pipeline failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := cfg.NewViper()

	root := &cobra.Command{
		Use:           "latency-pipeline",
		Short:         "Per-turn latency analysis for voice agent conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config.yaml")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("sqlite", "", "SQLite file that records runs")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("pipeline.log_level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("paths.sqlite", root.PersistentFlags().Lookup("sqlite"))

	root.AddCommand(newAnalyzeCmd(v), newRenderCmd(v), newRunsCmd(v))
	return root
}

func newAnalyzeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fetch conversations for an agent and write a latency report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := cfg.Load(v)
			if err != nil {
				return err
			}
			log, err := setupLogging(conf.Pipeline.LogLvl, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			src, err := newSource(conf)
			if err != nil {
				return err
			}
			if conf.Agent.ID == "" && conf.Paths.SourceDir == "" {
				return errors.New("agent id is required (--agent-id or agent.id)")
			}

			p := orchestrator.NewPipeline(conf, src, log)
			if conf.Paths.SQLite != "" {
				s, err := store.Open(conf.Paths.SQLite)
				if err != nil {
					return err
				}
				defer s.Close()
				p.WithRecorder(s)
			}

			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Raw data: %s\nSummary:  %s\n", res.RawPath, res.SummaryPath)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("agent-id", "", "agent to analyze")
	f.Int("min-duration", 0, "minimum call duration in seconds")
	f.Int("max-conversations", 0, "number of conversations to analyze")
	f.Float64("outlier-threshold", 0, "LLM TTFB outlier threshold in ms")
	f.String("date", "", "analysis date shown in the report (default today)")
	f.String("outputs", "", "root directory for run outputs")
	f.String("source-dir", "", "read saved API responses from this directory instead of the API")
	f.Int("concurrency", 0, "conversation downloads in flight")
	for flag, key := range map[string]string{
		"agent-id":          "agent.id",
		"min-duration":      "selection.min_duration_secs",
		"max-conversations": "selection.max_conversations",
		"outlier-threshold": "analysis.outlier_threshold_ms",
		"date":              "analysis.date",
		"outputs":           "paths.outputs",
		"source-dir":        "paths.source_dir",
		"concurrency":       "fetch.concurrency",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func newRenderCmd(v *viper.Viper) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "render <latency_raw.json>",
		Short: "Re-render the Markdown summary from a raw bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setupLogging(v.GetString("pipeline.log_level"), cmd.ErrOrStderr()); err != nil {
				return err
			}
			b, err := report.ReadBundle(args[0])
			if err != nil {
				return err
			}
			md, err := report.Markdown(b)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), md)
				return err
			}
			if err := os.WriteFile(out, []byte(md), 0o644); err != nil {
				return errors.Wrapf(err, "write %s", out)
			}
			logrus.WithField("path", out).Info("summary written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the summary here instead of stdout")
	return cmd
}

func newRunsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in the SQLite file, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := cfg.Load(v)
			if err != nil {
				return err
			}
			if _, err := setupLogging(conf.Pipeline.LogLvl, cmd.ErrOrStderr()); err != nil {
				return err
			}
			if conf.Paths.SQLite == "" {
				return errors.New("sqlite path is required (--sqlite or paths.sqlite)")
			}
			s, err := store.Open(conf.Paths.SQLite)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			ids, err := s.RunIDs(ctx)
			if err != nil {
				return err
			}
			opts := aggregate.Options{OutlierThresholdMs: conf.Analysis.OutlierThresholdMs}
			for _, id := range ids {
				turns, err := s.Turns(ctx, id)
				if err != nil {
					return err
				}
				rep := aggregate.Aggregate(turns, opts)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tturns=%d\tllm_ttfb_median=%s\tllm_ttfb_p95=%s\toutliers=%d\tunmapped=%d\n",
					id, rep.TotalTurns, statText(rep.LLMTTFB.Median), statText(rep.LLMTTFB.P95), len(rep.Outliers), rep.UnattributedTurns)
			}
			return nil
		},
	}
}

func statText(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

// newSource picks the offline directory when one is configured and the
// platform API otherwise.
func newSource(conf *cfg.Root) (orchestrator.Source, error) {
	if conf.Paths.SourceDir != "" {
		return clients.NewDir(conf.Paths.SourceDir), nil
	}
	if conf.API.Key == "" {
		return nil, errors.Errorf("api key is required: set %s or api.key", cfg.APIKeyEnv)
	}
	return clients.NewHTTP(conf.API.BaseURL, conf.API.Key, cfg.DurSeconds(conf.API.TimeoutSecs)), nil
}

func setupLogging(level string, w io.Writer) (*logrus.Entry, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(w)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.WithField("component", "pipeline"), nil
}
