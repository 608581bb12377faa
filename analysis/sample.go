package analysis

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/TFMV/dijet/event"
)

// SampleOptions controls the synthetic event generator.
type SampleOptions struct {
	Events    int
	BatchRows int
	IsData    bool
	Seed      uint64
	Triggers  []string
	// Run is the run number stamped on every event.
	Run int64
}

// zMass is the dijet mass the generated jet pairs are centred on.
const zMass = 91.1876

// Generate builds a NanoAOD-like photon + dijet sample. Most events carry one
// isolated photon and a jet pair from a Z-like decay, with a few percent of
// events failing each stage of the selection. Simulated samples also carry
// the generator weight and the parton flavour of every jet.
func Generate(opts SampleOptions) (*event.Source, error) {
	if opts.Events < 0 {
		return nil, errors.New("analysis: negative event count")
	}
	if opts.BatchRows <= 0 {
		opts.BatchRows = 10000
	}
	if opts.Run == 0 {
		opts.Run = 367770
	}
	if len(opts.Triggers) == 0 {
		opts.Triggers = []string{"HLT_Photon50EB_TightID_TightIso"}
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for lo := 0; lo < opts.Events || len(records) == 0; lo += opts.BatchRows {
		n := max(min(opts.BatchRows, opts.Events-lo), 0)
		rec, err := event.NewRecord(nil, generateBatch(rng, n, opts)...)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return event.NewSource(nil, records...)
}

type sampleBatch struct {
	flags    [][]bool
	triggers [][]bool
	run      []int64
	npvs     []int64
	rho      []float64
	weight   []float64

	phPt, phEta, phPhi            [][]float64
	phWP90, phWP80, phVeto, phPix [][]bool

	elPt  [][]float64
	elID  [][]bool
	muPt  [][]float64
	muIso [][]int64
	muID  [][]bool

	jetPt, jetEta, jetPhi, jetMass [][]float64
	jetArea, jetRaw, jetBtag       [][]float64
	jetMuEF, jetChEm, jetNeEm      [][]float64
	jetID, jetFlavour              [][]int64
}

func generateBatch(rng *rand.Rand, n int, opts SampleOptions) []event.Column {
	b := sampleBatch{
		flags:    make([][]bool, len(qualityFlags)),
		triggers: make([][]bool, len(opts.Triggers)),
	}
	for i := range b.flags {
		b.flags[i] = make([]bool, n)
	}
	for i := range b.triggers {
		b.triggers[i] = make([]bool, n)
	}
	fails := func(p float64) bool { return rng.Float64() < p }

	for e := 0; e < n; e++ {
		for i := range b.flags {
			b.flags[i][e] = !fails(0.005)
		}
		for i := range b.triggers {
			b.triggers[i][e] = !fails(0.05)
		}
		b.run = append(b.run, opts.Run)
		b.npvs = append(b.npvs, int64(10+rng.IntN(50)))
		b.rho = append(b.rho, 5+25*rng.Float64())
		b.weight = append(b.weight, 0.5+rng.Float64())

		// Dijet from a Z-like resonance, roughly back to back in phi.
		phi1 := (2*rng.Float64() - 1) * math.Pi
		phi2 := wrapPhi(phi1 + math.Pi + 0.5*rng.NormFloat64())
		eta1, eta2 := 0.8*rng.NormFloat64(), 0.8*rng.NormFloat64()
		pt1 := 35 + 120*rng.Float64()
		// Choose pt2 so the massless pair lands near the resonance:
		// m^2 = 2 pt1 pt2 (cosh deta - cos dphi).
		m := zMass + 8*rng.NormFloat64()
		pt2 := m * m / (2 * pt1 * (math.Cosh(eta1-eta2) - math.Cos(phi1-phi2)))
		jets := 2
		if fails(0.05) {
			jets = 3
		}
		pts := []float64{pt1, pt2, 40 + 20*rng.Float64()}[:jets]
		etas := []float64{eta1, eta2, 2 * rng.NormFloat64()}[:jets]
		phis := []float64{phi1, phi2, (2*rng.Float64() - 1) * math.Pi}[:jets]
		b.jetPt = append(b.jetPt, pts)
		b.jetEta = append(b.jetEta, etas)
		b.jetPhi = append(b.jetPhi, phis)
		b.jetMass = append(b.jetMass, fill(jets, func() float64 { return 5 + 10*rng.Float64() }))
		b.jetArea = append(b.jetArea, fill(jets, func() float64 { return 0.45 + 0.1*rng.Float64() }))
		b.jetRaw = append(b.jetRaw, fill(jets, func() float64 { return 0.05 * rng.Float64() }))
		b.jetBtag = append(b.jetBtag, fill(jets, rng.Float64))
		b.jetMuEF = append(b.jetMuEF, fill(jets, func() float64 { return 0.1 * rng.Float64() }))
		b.jetChEm = append(b.jetChEm, fill(jets, func() float64 { return 0.2 * rng.Float64() }))
		b.jetNeEm = append(b.jetNeEm, fill(jets, func() float64 { return 0.5 * rng.Float64() }))
		ids := make([]int64, jets)
		flavours := make([]int64, jets)
		for j := range ids {
			ids[j] = 6
			flavours[j] = int64(1 + rng.IntN(5))
			if rng.IntN(2) == 0 {
				flavours[j] = -flavours[j]
			}
		}
		b.jetID = append(b.jetID, ids)
		b.jetFlavour = append(b.jetFlavour, flavours)

		// One photon, well separated from both jets.
		phPt := 100 + 300*rng.Float64()
		if fails(0.05) {
			phPt = 30 + 60*rng.Float64()
		}
		b.phPt = append(b.phPt, []float64{phPt})
		b.phEta = append(b.phEta, []float64{(2*rng.Float64() - 1) * 1.4})
		b.phPhi = append(b.phPhi, []float64{wrapPhi(phi1 + math.Pi/2)})
		b.phWP90 = append(b.phWP90, []bool{true})
		b.phWP80 = append(b.phWP80, []bool{!fails(0.03)})
		b.phVeto = append(b.phVeto, []bool{true})
		b.phPix = append(b.phPix, []bool{false})

		var (
			elPt, muPt []float64
			elID, muID []bool
			muIso      []int64
		)
		if fails(0.02) {
			elPt, elID = []float64{20 + 30*rng.Float64()}, []bool{true}
		}
		if fails(0.02) {
			muPt, muID, muIso = []float64{15 + 30*rng.Float64()}, []bool{true}, []int64{4}
		}
		b.elPt = append(b.elPt, elPt)
		b.elID = append(b.elID, elID)
		b.muPt = append(b.muPt, muPt)
		b.muID = append(b.muID, muID)
		b.muIso = append(b.muIso, muIso)
	}

	cols := make([]event.Column, 0, 40)
	for i, name := range qualityFlags {
		cols = append(cols, event.Column{Name: name, Values: b.flags[i]})
	}
	for i, name := range opts.Triggers {
		cols = append(cols, event.Column{Name: name, Values: b.triggers[i]})
	}
	cols = append(cols,
		event.Column{Name: "run", Values: b.run},
		event.Column{Name: "PV_npvs", Values: b.npvs},
		event.Column{Name: rhoColumn, Values: b.rho},
		event.Column{Name: "Photon_pt", Values: b.phPt},
		event.Column{Name: "Photon_eta", Values: b.phEta},
		event.Column{Name: "Photon_phi", Values: b.phPhi},
		event.Column{Name: "Photon_mvaID_WP90", Values: b.phWP90},
		event.Column{Name: "Photon_mvaID_WP80", Values: b.phWP80},
		event.Column{Name: "Photon_electronVeto", Values: b.phVeto},
		event.Column{Name: "Photon_pixelSeed", Values: b.phPix},
		event.Column{Name: "Electron_pt", Values: b.elPt},
		event.Column{Name: "Electron_mvaIso_WPHZZ", Values: b.elID},
		event.Column{Name: "Muon_pt", Values: b.muPt},
		event.Column{Name: "Muon_pfIsoId", Values: b.muIso},
		event.Column{Name: "Muon_mediumPromptId", Values: b.muID},
		event.Column{Name: "Jet_pt", Values: b.jetPt},
		event.Column{Name: "Jet_eta", Values: b.jetEta},
		event.Column{Name: "Jet_phi", Values: b.jetPhi},
		event.Column{Name: "Jet_mass", Values: b.jetMass},
		event.Column{Name: "Jet_area", Values: b.jetArea},
		event.Column{Name: "Jet_rawFactor", Values: b.jetRaw},
		event.Column{Name: "Jet_btagPNetB", Values: b.jetBtag},
		event.Column{Name: "Jet_muEF", Values: b.jetMuEF},
		event.Column{Name: "Jet_chEmEF", Values: b.jetChEm},
		event.Column{Name: "Jet_neEmEF", Values: b.jetNeEm},
		event.Column{Name: "Jet_jetId", Values: b.jetID},
	)
	if !opts.IsData {
		cols = append(cols,
			event.Column{Name: weightColumn, Values: b.weight},
			event.Column{Name: "Jet_partonFlavour", Values: b.jetFlavour},
		)
	}
	return cols
}

func fill(n int, draw func() float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = draw()
	}
	return out
}

func wrapPhi(phi float64) float64 {
	return math.Remainder(phi, 2*math.Pi)
}
