// Package config holds the run configuration of the dijet analysis.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/TFMV/dijet/cutflow"
	"github.com/TFMV/dijet/graph"
	"github.com/TFMV/dijet/hist"
	"github.com/TFMV/dijet/yield"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Range is an open interval (Lo, Hi).
type Range struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

// Selection holds the object and event thresholds of the preselection.
type Selection struct {
	Triggers      []string `yaml:"triggers"`
	RunVeto       [2]int64 `yaml:"run_veto"`
	PhotonEta     float64  `yaml:"photon_eta"`
	LoosePhotonPt float64  `yaml:"loose_photon_pt"`
	TightPhotonPt float64  `yaml:"tight_photon_pt"`
	ElectronPt    float64  `yaml:"electron_pt"`
	MuonPt        float64  `yaml:"muon_pt"`
	JetPt         float64  `yaml:"jet_pt"`
	JetEta        float64  `yaml:"jet_eta"`
	PhotonJetDR   float64  `yaml:"photon_jet_dr"`
}

// Corrections locates the jet energy correction payloads.
type Corrections struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Credentials string `yaml:"credentials"`
}

// Run is the complete configuration of one analysis run.
type Run struct {
	Year      int    `yaml:"year"`
	Era       string `yaml:"era"`
	IsData    bool   `yaml:"is_data"`
	MaxEvents int64  `yaml:"max_events"`
	Workers   int    `yaml:"workers"`

	Selection   Selection   `yaml:"selection"`
	Corrections Corrections `yaml:"corrections"`

	Mass       graph.Binning   `yaml:"mass"`
	MassRange  Range           `yaml:"mass_range"`
	Variables  []hist.Variable `yaml:"variables"`
	Cuts       []cutflow.Cut   `yaml:"cuts"`
	FinalCut   cutflow.Cut     `yaml:"final_cut"`
	Categories []int           `yaml:"categories"`
	Flavours   int             `yaml:"flavours"`
	Window     yield.Window    `yaml:"window"`
	Theory     []float64       `yaml:"theory"`
}

// Default returns the configuration of the 2023 photon + dijet analysis.
func Default() Run {
	return Run{
		Year: 2023,
		Era:  "C",
		Selection: Selection{
			Triggers:      []string{"HLT_Photon50EB_TightID_TightIso", "HLT_Photon45EB_TightID_TightIso"},
			RunVeto:       [2]int64{379344, 379411},
			PhotonEta:     1.4442,
			LoosePhotonPt: 20,
			TightPhotonPt: 100,
			ElectronPt:    15,
			MuonPt:        10,
			JetPt:         30,
			JetEta:        2.4,
			PhotonJetDR:   0.4,
		},
		Corrections: Corrections{Enabled: true, Dir: "."},
		Mass:        graph.Binning{Bins: 1000, Min: 0, Max: 1000},
		MassRange:   Range{Lo: 40, Hi: 200},
		Variables: []hist.Variable{
			{Name: "Jet_delta_eta", Binning: graph.Binning{Bins: 100, Min: 0, Max: 5}},
			{Name: "Jet_delta_phi", Binning: graph.Binning{Bins: 100, Min: 0, Max: 5}},
			{Name: "Jet_delta_pT", Binning: graph.Binning{Bins: 1000, Min: 0, Max: 1000}},
			{Name: "Jet_pT2pT1", Binning: graph.Binning{Bins: 100, Min: 0, Max: 1}},
			{Name: "Jet_delta_R", Binning: graph.Binning{Bins: 100, Min: 0, Max: 5}},
		},
		Cuts: []cutflow.Cut{
			{Label: "pt2pt1", Expr: "Jet_pT2pT1 > 0.02"},
			{Label: "Delta_R", Expr: "Jet_delta_R < 3.952"},
		},
		FinalCut:   cutflow.Cut{Label: "final", Expr: "Jet_btagPNetB_1 > 0.3 && Jet_btagPNetB_2 > 0.3"},
		Categories: []int{1, 2, 3, 4, 5},
		Flavours:   6,
		Window:     yield.Window{Lo: 60, Hi: 120},
		Theory:     []float64{0.156, 0.116, 0.156, 0.116, 0.156},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value; lists given in the file replace the default list.
func Load(path string) (Run, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Run{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}
	return cfg, nil
}

// Write stores cfg as YAML, creating parent directories.
func Write(path string, cfg Run) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks internal consistency.
func (r Run) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}
	if r.Workers < 0 {
		return invalid("workers %d", r.Workers)
	}
	if r.MaxEvents < 0 {
		return invalid("max_events %d", r.MaxEvents)
	}
	if err := r.Mass.Validate(); err != nil {
		return invalid("mass: %v", err)
	}
	if !(r.MassRange.Lo < r.MassRange.Hi) {
		return invalid("mass_range (%g, %g)", r.MassRange.Lo, r.MassRange.Hi)
	}
	seen := make(map[string]bool, len(r.Variables))
	for _, v := range r.Variables {
		if v.Name == "" || seen[v.Name] {
			return invalid("variable %q is empty or repeated", v.Name)
		}
		seen[v.Name] = true
		if err := v.Binning.Validate(); err != nil {
			return invalid("variable %q: %v", v.Name, err)
		}
	}
	if err := cutflow.Validate(r.Cuts); err != nil {
		return invalid("cuts: %v", err)
	}
	if r.FinalCut.Label == "" || r.FinalCut.Expr == "" {
		return invalid("final_cut needs a label and an expression")
	}
	if len(r.Selection.Triggers) == 0 {
		return invalid("no trigger paths")
	}
	if r.Flavours < 1 {
		return invalid("flavours %d", r.Flavours)
	}
	for _, k := range r.Categories {
		if k < 1 || k > r.Flavours {
			return invalid("category %d outside 1..%d", k, r.Flavours)
		}
	}
	if err := r.Window.Validate(); err != nil {
		return invalid("window: %v", err)
	}
	if len(r.Theory) != len(r.Categories) {
		return invalid("%d theory fractions for %d categories", len(r.Theory), len(r.Categories))
	}
	return nil
}
