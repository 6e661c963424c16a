package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/usnistgov/datasaver"
	"github.com/usnistgov/datasaver/arraystore"
	"gopkg.in/yaml.v3"
)

// datasetConfig is one entry of a run file's datasets list. Datasets are a
// list rather than a mapping because viper folds mapping keys to lower case.
type datasetConfig struct {
	Name   string   `mapstructure:"name"`
	Shape  []int    `mapstructure:"shape"`
	Chunks any      `mapstructure:"chunks"`
	DType  string   `mapstructure:"dtype"`
	Dims   []string `mapstructure:"dims"`
	Units  string   `mapstructure:"units"`
}

// inputConfig copies one npy file into a dataset. An empty index means the
// whole dataset.
type inputConfig struct {
	Dataset string   `mapstructure:"dataset"`
	File    string   `mapstructure:"file"`
	Index   []string `mapstructure:"index"`
}

// metadataConfig writes one YAML file as the attributes of a group.
type metadataConfig struct {
	Group string `mapstructure:"group"`
	File  string `mapstructure:"file"`
}

type runConfig struct {
	Path     string           `mapstructure:"path"`
	Datasets []datasetConfig  `mapstructure:"datasets"`
	Inputs   []inputConfig    `mapstructure:"inputs"`
	Metadata []metadataConfig `mapstructure:"metadata"`
	Verbose  bool             `mapstructure:"verbose"`
	// MaxAttributeSize overrides the store's attribute limit, in bytes.
	MaxAttributeSize int `mapstructure:"max_attribute_size"`

	dir string
}

// readRunFile loads a run file. Relative paths inside it are taken relative
// to the run file's directory.
func readRunFile(name string) (*runConfig, error) {
	v := viper.New()
	v.SetDefault("verbose", false)
	v.SetDefault("max_attribute_size", arraystore.DefaultMaxAttributeSize)
	v.SetConfigFile(name)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading run file: %w", err)
	}
	cfg := &runConfig{dir: filepath.Dir(name)}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding run file %s: %w", name, err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("run file %s gives no data file path", name)
	}
	cfg.Path = cfg.resolve(cfg.Path)
	return cfg, nil
}

func (cfg *runConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.dir, p)
}

func (cfg *runConfig) schema() (datasaver.Schema, error) {
	schema := make(datasaver.Schema, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		if _, dup := schema[d.Name]; dup {
			return nil, fmt.Errorf("dataset %q is declared twice", d.Name)
		}
		chunks, err := datasaver.ParseChunking(d.Chunks)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		schema[d.Name] = datasaver.DatasetSpec{
			Shape:  d.Shape,
			Chunks: chunks,
			DType:  d.DType,
			Dims:   d.Dims,
			Units:  d.Units,
		}
	}
	return schema, nil
}

func readNpyFile(name string) ([]float64, []int, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return arraystore.ReadNpy(f)
}

func readMetadataFile(name string) (map[string]any, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("metadata file %s: %w", name, err)
	}
	return tree, nil
}

// execute creates the data file and fills it in one session, recording
// metrics on reg.
func execute(cfg *runConfig, reg prometheus.Registerer) error {
	schema, err := cfg.schema()
	if err != nil {
		return err
	}
	sv, err := datasaver.New(cfg.Path, schema,
		datasaver.WithRegistry(reg),
		datasaver.WithStoreOptions(arraystore.WithMaxAttributeSize(cfg.MaxAttributeSize)))
	if err != nil {
		return err
	}
	return sv.Run(func(s *datasaver.Session) error {
		for _, in := range cfg.Inputs {
			ix := datasaver.Full
			if len(in.Index) > 0 {
				if ix, err = datasaver.ParseIndex(in.Index); err != nil {
					return fmt.Errorf("input %s: %w", in.File, err)
				}
			}
			data, shape, err := readNpyFile(cfg.resolve(in.File))
			if err != nil {
				return err
			}
			if err := s.Write(in.Dataset, data, ix); err != nil {
				return err
			}
			datasaver.UpdateLogger.Printf("Wrote %s (shape %v) into %q at %v.", in.File, shape, in.Dataset, ix)
		}
		for _, m := range cfg.Metadata {
			tree, err := readMetadataFile(cfg.resolve(m.File))
			if err != nil {
				return err
			}
			if err := s.WriteMetadata(m.Group, tree); err != nil {
				return err
			}
		}
		return nil
	})
}
