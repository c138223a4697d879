// cmd/config.go
package cmd

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/batchrunner/runner"
)

// RunnerConfigFile is the on-disk YAML shape for a RunnerConfig. All
// fields must be listed to satisfy KnownFields(true) strict parsing — a
// typo'd key is a startup error, not a silently ignored default.
type RunnerConfigFile struct {
	MaxNumSeqs                    int   `yaml:"max_num_seqs"`
	MaxModelLen                   int   `yaml:"max_model_len"`
	VocabSize                     int   `yaml:"vocab_size"`
	PageSize                      int   `yaml:"page_size"`
	MaxNumPagesPerReq             int   `yaml:"max_num_pages_per_req"`
	NumCacheGroups                int   `yaml:"num_cache_groups"`
	TokenPaddingMinSize           int   `yaml:"token_padding_min_size"`
	TokenPaddingGap               int   `yaml:"token_padding_gap"`
	NumSlicesPerKVCacheUpdatePage int   `yaml:"num_slices_per_kv_cache_update_page"`
	MaxNumReqsPerForward          int   `yaml:"max_num_reqs_per_forward"`
	MasterSeed                    int64 `yaml:"master_seed"`
}

func (f RunnerConfigFile) toRunnerConfig() runner.RunnerConfig {
	return runner.RunnerConfig{
		MaxNumSeqs:                    f.MaxNumSeqs,
		MaxModelLen:                   f.MaxModelLen,
		VocabSize:                     f.VocabSize,
		PageSize:                      f.PageSize,
		MaxNumPagesPerReq:             f.MaxNumPagesPerReq,
		NumCacheGroups:                f.NumCacheGroups,
		TokenPaddingMinSize:           f.TokenPaddingMinSize,
		TokenPaddingGap:               f.TokenPaddingGap,
		NumSlicesPerKVCacheUpdatePage: f.NumSlicesPerKVCacheUpdatePage,
		MaxNumReqsPerForward:          f.MaxNumReqsPerForward,
		MasterSeed:                    f.MasterSeed,
	}
}

// loadRunnerConfig parses a RunnerConfig YAML file with strict field
// checking: unknown keys are a fatal startup error, matching the
// teacher's defaults.yaml loader.
func loadRunnerConfig(path string) runner.RunnerConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Fatalf("Failed to read runner config: %v", err)
	}

	var f RunnerConfigFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		logrus.Fatalf("Failed to parse runner config YAML: %v", err)
	}
	return f.toRunnerConfig()
}
