// Copyright 2024 The mcu-forest Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package mlconfig holds the hyperparameter and dataset-statistics record
shared by every training and inference component, plus its two on-disk
forms: `encoding/json` for the human-editable config file and a manual
`encoding/csv`-shaped writer for the data-parameter sidecar.
*/
package mlconfig

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/golang/glog"
	"github.com/viettran-edgeAI/mcu-forest/mlerror"
	"github.com/viettran-edgeAI/mcu-forest/objectstore"
)

// MetricBit is a bitmask flag over the metrics GridSearch/Scorer can combine.
type MetricBit uint8

const (
	MetricAccuracy MetricBit = 1 << iota
	MetricPrecision
	MetricRecall
	MetricF1
)

// TrainingScore selects which score GridSearch optimizes against.
type TrainingScore int

const (
	ScoreOOB TrainingScore = iota
	ScoreValid
	ScoreKFold
)

// MaxNumSamples mirrors dataset.MaxNumSamples; duplicated here rather than
// imported to keep mlconfig free of a dataset dependency (config is loaded
// before any dataset exists).
const MaxNumSamples = 65535

// Config is the hyperparameter + dataset-statistics record every training
// and inference operation reads from and writes back to.
type Config struct {
	NumTrees           int           `json:"num_trees"`
	MinSplit           int           `json:"min_split"`
	MaxDepth           int           `json:"max_depth"`
	UseBootstrap       bool          `json:"use_bootstrap"`
	BootstrapRatio     float64       `json:"bootstrap_ratio"`
	UseGini            bool          `json:"use_gini"`
	KFold              int           `json:"k_fold"`
	UnityThreshold     float64       `json:"unity_threshold"`
	ImpurityThreshold  float64       `json:"impurity_threshold"`
	TrainRatio         float64       `json:"train_ratio"`
	TestRatio          float64       `json:"test_ratio"`
	ValidRatio         float64       `json:"valid_ratio"`
	MetricScore        MetricBit     `json:"metric_score"`
	TrainingScore      TrainingScore `json:"training_score"`
	CombineRatio       float64       `json:"combine_ratio"`

	NumSamples      int   `json:"num_samples"`
	NumFeatures     int   `json:"num_features"`
	NumLabels       int   `json:"num_labels"`
	SamplesPerLabel []int `json:"samples_per_label"`

	ExtendBaseData   bool `json:"extend_base_data"`
	EnableRetrain    bool `json:"enable_retrain"`
	EnableAutoConfig bool `json:"enable_auto_config"`

	// Timestamp and Author are foreign fields: this module never writes
	// them, but a human- or tool-edited config file may carry them, and
	// they must survive an unrelated rewrite.
	Timestamp string `json:"timestamp,omitempty"`
	Author    string `json:"author,omitempty"`
}

// Default returns a Config with reasonable general-purpose defaults: 100
// trees, 66% bootstrap ratio, gini impurity, all four metrics enabled.
func Default() *Config {
	return &Config{
		NumTrees:          100,
		MinSplit:          2,
		MaxDepth:          10,
		UseBootstrap:      true,
		BootstrapRatio:    0.66,
		UseGini:           true,
		KFold:             0,
		UnityThreshold:    0.5,
		ImpurityThreshold: 0.01,
		TrainRatio:        0.7,
		TestRatio:         0.2,
		ValidRatio:        0.1,
		MetricScore:       MetricAccuracy | MetricPrecision | MetricRecall | MetricF1,
		TrainingScore:     ScoreOOB,
		CombineRatio:      0.3,
		ExtendBaseData:    true,
		EnableRetrain:     true,
		EnableAutoConfig:  true,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{trees=%d min_split=%d max_depth=%d bootstrap=%v(%.2f) gini=%v samples=%d features=%d labels=%d}",
		c.NumTrees, c.MinSplit, c.MaxDepth, c.UseBootstrap, c.BootstrapRatio, c.UseGini, c.NumSamples, c.NumFeatures, c.NumLabels)
}

// Normalize rescales Train/Test/ValidRatio so they sum to 1.0.
func (c *Config) Normalize() {
	sum := c.TrainRatio + c.TestRatio + c.ValidRatio
	if sum <= 0 {
		c.TrainRatio, c.TestRatio, c.ValidRatio = 0.7, 0.2, 0.1
		return
	}
	c.TrainRatio /= sum
	c.TestRatio /= sum
	c.ValidRatio /= sum
}

// HasMetric reports whether bit m is enabled in MetricScore.
func (c *Config) HasMetric(m MetricBit) bool { return c.MetricScore&m != 0 }

// AutoConfigure derives min_split_range and max_depth_range from the
// observed dataset shape (sample count, feature count) when the caller
// hasn't pinned fixed values, so grid search has a sensible span to
// sweep without the operator hand-tuning it per dataset.
func (c *Config) AutoConfigure() (minSplitRange, maxDepthRange []int) {
	if !c.EnableAutoConfig {
		return []int{c.MinSplit}, []int{c.MaxDepth}
	}

	n := c.NumSamples
	lowMS := 2
	highMS := n / 50
	if highMS < lowMS {
		highMS = lowMS
	}
	if highMS > 20 {
		highMS = 20
	}
	for ms := lowMS; ms <= highMS; ms += stepFor(highMS - lowMS) {
		minSplitRange = append(minSplitRange, ms)
	}
	if len(minSplitRange) == 0 {
		minSplitRange = []int{lowMS}
	}

	lowMD := 3
	highMD := c.NumFeatures
	if highMD < lowMD {
		highMD = lowMD
	}
	if highMD > 16 {
		highMD = 16
	}
	for md := lowMD; md <= highMD; md += stepFor(highMD - lowMD) {
		maxDepthRange = append(maxDepthRange, md)
	}
	if len(maxDepthRange) == 0 {
		maxDepthRange = []int{lowMD}
	}

	glog.V(1).Infof("mlconfig: auto-configured min_split_range=%v max_depth_range=%v", minSplitRange, maxDepthRange)
	return minSplitRange, maxDepthRange
}

// stepFor steps by a quarter of the span (at least 1), so a wide span is
// swept in five or six values rather than dozens of forest builds. A span
// under 8 is swept one value at a time, up to 8 values.
func stepFor(span int) int {
	step := span / 4
	if step < 1 {
		step = 1
	}
	return step
}

// Load reads a JSON config file.
func Load(store objectstore.Store, path string) (*Config, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "mlconfig: open", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "mlconfig: read", err)
	}

	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, mlerror.Wrap(mlerror.HeaderMismatch, "mlconfig: decode json", err)
	}
	return c, nil
}

// Save writes the config as indented JSON, atomically: a write failure
// removes the partial file before returning.
func Save(store objectstore.Store, path string, c *Config) (err error) {
	data, merr := json.MarshalIndent(c, "", "  ")
	if merr != nil {
		return mlerror.Wrap(mlerror.HeaderMismatch, "mlconfig: encode json", merr)
	}

	f, cerr := store.Create(path)
	if cerr != nil {
		return mlerror.Wrap(mlerror.IoError, "mlconfig: create", cerr)
	}
	defer func() {
		closeErr := f.Close()
		if err != nil {
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("mlconfig: cleanup remove %s: %v", path, rmErr)
			}
			return
		}
		if closeErr != nil {
			err = mlerror.Wrap(mlerror.IoError, "mlconfig: close", closeErr)
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("mlconfig: cleanup remove %s: %v", path, rmErr)
			}
		}
	}()

	if _, err = f.Write(data); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "mlconfig: write", err)
	}
	return
}

// DataParams is the quantization and dataset-shape sidecar persisted to
// the "*_dp.csv" artifact.
type DataParams struct {
	QuantizationCoefficient float64
	MaxFeatureValue         int
	FeaturesPerByte         int
	NumFeatures             int
	NumSamples              int
	NumLabels               int
	SamplesPerLabel         []int
}

// SaveDataParams writes the data-parameter CSV sidecar, one key,value row
// per scalar field and one samples_label_<i>,count row per label.
func SaveDataParams(store objectstore.Store, path string, dp *DataParams) (err error) {
	f, cerr := store.Create(path)
	if cerr != nil {
		return mlerror.Wrap(mlerror.IoError, "mlconfig: create dp", cerr)
	}
	defer func() {
		closeErr := f.Close()
		if err != nil {
			if rmErr := store.Remove(path); rmErr != nil {
				glog.Warningf("mlconfig: cleanup remove %s: %v", path, rmErr)
			}
			return
		}
		if closeErr != nil {
			err = mlerror.Wrap(mlerror.IoError, "mlconfig: close dp", closeErr)
		}
	}()

	w := csv.NewWriter(f)
	rows := [][]string{
		{"quantization_coefficient", strconv.FormatFloat(dp.QuantizationCoefficient, 'g', -1, 64)},
		{"max_feature_value", strconv.Itoa(dp.MaxFeatureValue)},
		{"features_per_byte", strconv.Itoa(dp.FeaturesPerByte)},
		{"num_features", strconv.Itoa(dp.NumFeatures)},
		{"num_samples", strconv.Itoa(dp.NumSamples)},
		{"num_labels", strconv.Itoa(dp.NumLabels)},
	}
	for i, count := range dp.SamplesPerLabel {
		rows = append(rows, []string{fmt.Sprintf("samples_label_%d", i), strconv.Itoa(count)})
	}
	if err = w.WriteAll(rows); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "mlconfig: write dp rows", err)
		return
	}
	w.Flush()
	if err = w.Error(); err != nil {
		err = mlerror.Wrap(mlerror.IoError, "mlconfig: flush dp", err)
	}
	return
}

// LoadDataParams reads the data-parameter CSV sidecar back.
func LoadDataParams(store objectstore.Store, path string) (*DataParams, error) {
	f, err := store.Open(path)
	if err != nil {
		return nil, mlerror.Wrap(mlerror.IoError, "mlconfig: open dp", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	rows, err := r.ReadAll()
	if err != nil {
		return nil, mlerror.Wrap(mlerror.MalformedTable, "mlconfig: parse dp", err)
	}

	dp := &DataParams{}
	var perLabel []int
	for _, row := range rows {
		key, val := row[0], row[1]
		switch key {
		case "quantization_coefficient":
			dp.QuantizationCoefficient, _ = strconv.ParseFloat(val, 64)
		case "max_feature_value":
			dp.MaxFeatureValue, _ = strconv.Atoi(val)
		case "features_per_byte":
			dp.FeaturesPerByte, _ = strconv.Atoi(val)
		case "num_features":
			dp.NumFeatures, _ = strconv.Atoi(val)
		case "num_samples":
			dp.NumSamples, _ = strconv.Atoi(val)
		case "num_labels":
			dp.NumLabels, _ = strconv.Atoi(val)
		default:
			var idx int
			if _, serr := fmt.Sscanf(key, "samples_label_%d", &idx); serr == nil {
				for len(perLabel) <= idx {
					perLabel = append(perLabel, 0)
				}
				count, _ := strconv.Atoi(val)
				perLabel[idx] = count
			}
		}
	}
	dp.SamplesPerLabel = perLabel
	return dp, nil
}
