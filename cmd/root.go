// cmd/root.go
package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/batchrunner/runner"
)

var (
	numRequests int
	rate        float64
	promptMin   int
	promptMax   int
	maxOutput   int
	maxHorizon  int64
	logLevel    string
	seed        int64
	vocabSize   int
	pageSize    int
	maxNumSeqs  int
	configPath  string
)

var rootCmd = &cobra.Command{
	Use:   "batchrunner",
	Short: "Continuous-batching inference runner demo",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the Runner over a synthetic Poisson arrival stream",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg := runner.DefaultRunnerConfig()
		if configPath != "" {
			cfg = loadRunnerConfig(configPath)
		} else {
			cfg.VocabSize = vocabSize
			cfg.PageSize = pageSize
			cfg.MaxNumSeqs = maxNumSeqs
			cfg.MasterSeed = seed
		}

		logrus.Infof("Starting run with %d requests, rate=%.3f/step, vocab=%d, max_num_seqs=%d",
			numRequests, rate, cfg.VocabSize, cfg.MaxNumSeqs)

		eosToken := int32(cfg.VocabSize - 1)
		workload := newDemoWorkload(cfg, numRequests, rate, promptMin, promptMax, maxOutput, seed)
		r := runner.NewRunner(cfg, toyForward(cfg, eosToken, seed))

		ctx := context.Background()
		var lastOutput *runner.ModelRunnerOutput
		for step := int64(0); step < maxHorizon && !workload.Done(); step++ {
			so := workload.Step(step, lastOutput)
			out, err := r.ExecuteModel(ctx, so)
			if err != nil {
				logrus.Fatalf("ExecuteModel failed at step %d: %v", step, err)
			}
			lastOutput = out
		}

		r.Metrics.Print()
		logrus.Info("Run complete.")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().IntVar(&numRequests, "requests", 64, "Number of synthetic requests to generate")
	runCmd.Flags().Float64Var(&rate, "rate", 0.3, "Poisson arrival rate (requests per step)")
	runCmd.Flags().IntVar(&promptMin, "prompt-min", 8, "Minimum synthetic prompt length")
	runCmd.Flags().IntVar(&promptMax, "prompt-max", 64, "Maximum synthetic prompt length")
	runCmd.Flags().IntVar(&maxOutput, "max-output", 32, "Maximum output tokens per request before forced completion")
	runCmd.Flags().Int64Var(&maxHorizon, "horizon", 10000, "Maximum number of steps to drive before stopping")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "Master RNG seed")
	runCmd.Flags().IntVar(&vocabSize, "vocab", 128, "Vocabulary size (ignored if --config is set)")
	runCmd.Flags().IntVar(&pageSize, "page-size", 16, "Tokens per KV cache page (ignored if --config is set)")
	runCmd.Flags().IntVar(&maxNumSeqs, "max-num-seqs", 16, "Maximum concurrent requests (ignored if --config is set)")
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a RunnerConfig YAML file, overriding the flags above")

	rootCmd.AddCommand(runCmd)
}
