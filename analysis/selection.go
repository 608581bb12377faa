package analysis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go-hep.org/x/hep/fmom"
	"go.uber.org/zap"

	"github.com/TFMV/dijet/graph"
	"github.com/TFMV/dijet/hist"
)

// Event quality filters required on every event.
var qualityFlags = []string{
	"Flag_HBHENoiseFilter",
	"Flag_HBHENoiseIsoFilter",
	"Flag_goodVertices",
	"Flag_EcalDeadCellTriggerPrimitiveFilter",
	"Flag_BadPFMuonFilter",
	"Flag_BadPFMuonDzFilter",
}

// Column names shared with the generator and the tests.
const (
	weightColumn  = "LHEWeight_originalXWGTUP"
	rhoColumn     = "Rho_fixedGridRhoFastjetAll"
	flavourPrefix = "Jet_TightID_Pt30_Central_PartonFlavour"
)

// triggerFallbacks maps a trigger path to the path standing in for it in
// samples recorded before it existed.
var triggerFallbacks = map[string]string{
	"HLT_Photon45EB_TightID_TightIso": "HLT_Photon30EB_TightID_TightIso",
}

func flavourFlag(k int) string { return flavourPrefix + strconv.Itoa(k) }

// selection holds the views and columns of the event selection.
type selection struct {
	g       *graph.Graph
	battery *hist.Battery

	root, trigger, photon, dijet, study *graph.View

	nvtx          graph.Handle[float64]
	loosePhotonPt graph.Handle[[]float64]
	jetPt, jetEta graph.Handle[[]float64]

	deltaEta, deltaPhi     graph.Handle[float64]
	btag1, btag2, btagMean graph.Handle[float64]
}

// fallbacks supplies columns that older samples lack.
func (a *Analysis) fallbacks(g *graph.Graph) error {
	b := &builder{g: g}
	alias := func(name, from string) {
		if g.Has(name) || !g.Has(from) {
			return
		}
		a.logger.Warn("column missing, using fallback", zap.String("column", name), zap.String("from", from))
		if src, err := graph.Column[[]bool](g, from); err == nil {
			define[[]bool](b, name, func(r *graph.Row) ([]bool, error) { return graph.Get(r, src), nil }, src)
			return
		}
		src := column[[]float64](b, from)
		define[[]float64](b, name, func(r *graph.Row) ([]float64, error) { return graph.Get(r, src), nil }, src)
	}
	alias("Jet_btagPNetB", "Jet_btagDeepFlavB")
	alias("Electron_mvaIso_WPHZZ", "Electron_mvaIso_WP90")
	for _, trig := range a.cfg.Selection.Triggers {
		if g.Has(trig) {
			continue
		}
		if from, ok := triggerFallbacks[trig]; ok && g.Has(from) {
			a.logger.Warn("trigger path missing, using fallback", zap.String("trigger", trig), zap.String("from", from))
			src := column[bool](b, from)
			define[bool](b, trig, func(r *graph.Row) (bool, error) { return graph.Get(r, src), nil }, src)
			continue
		}
		a.logger.Warn("trigger path missing, accepting every event", zap.String("trigger", trig))
		define[bool](b, trig, func(*graph.Row) (bool, error) { return true, nil })
	}
	unit := func(name string) {
		if !g.Has(name) {
			define[float64](b, name, func(*graph.Row) (float64, error) { return 1, nil })
		}
	}
	if a.cfg.IsData {
		unit("unit_weight")
	} else if !g.Has(weightColumn) {
		a.logger.Warn("generator weight missing, using unit weight", zap.String("column", weightColumn))
		unit(weightColumn)
	}
	return b.err
}

// selection declares the preselection chain and every derived column.
func (a *Analysis) selection(g *graph.Graph) (*selection, error) {
	cfg := a.cfg.Selection
	b := &builder{g: g}
	s := &selection{g: g, root: g.Root()}

	weightName := weightColumn
	if a.cfg.IsData {
		weightName = "unit_weight"
	}
	weight := column[float64](b, weightName)

	npvs := column[int64](b, "PV_npvs")
	s.nvtx = define[float64](b, "PV_npvs_float", func(r *graph.Row) (float64, error) {
		return float64(graph.Get(r, npvs)), nil
	}, npvs)

	// Event cleaning.
	flags := make([]graph.Handle[bool], len(qualityFlags))
	refs := make([]graph.Ref, len(qualityFlags))
	for i, name := range qualityFlags {
		flags[i] = column[bool](b, name)
		refs[i] = flags[i]
	}
	v := b.filter(s.root, "event quality flags", func(r *graph.Row) (bool, error) {
		for _, f := range flags {
			if !graph.Get(r, f) {
				return false, r.Err()
			}
		}
		return true, r.Err()
	}, refs...)
	run := column[int64](b, "run")
	lo, hi := cfg.RunVeto[0], cfg.RunVeto[1]
	v = b.filter(v, fmt.Sprintf("run<%d||run>%d", lo, hi), func(r *graph.Row) (bool, error) {
		n := graph.Get(r, run)
		return n < lo || n > hi, nil
	}, run)

	// Trigger.
	trigs := make([]graph.Handle[bool], len(cfg.Triggers))
	refs = make([]graph.Ref, len(cfg.Triggers))
	for i, name := range cfg.Triggers {
		trigs[i] = column[bool](b, name)
		refs[i] = trigs[i]
	}
	s.trigger = b.filter(v, strings.Join(cfg.Triggers, "||"), func(r *graph.Row) (bool, error) {
		for _, t := range trigs {
			if graph.Get(r, t) {
				return true, nil
			}
		}
		return false, r.Err()
	}, refs...)

	// Photons.
	phPt := column[[]float64](b, "Photon_pt")
	phEta := column[[]float64](b, "Photon_eta")
	phPhi := column[[]float64](b, "Photon_phi")
	wp90 := column[[]bool](b, "Photon_mvaID_WP90")
	wp80 := column[[]bool](b, "Photon_mvaID_WP80")
	eVeto := column[[]bool](b, "Photon_electronVeto")
	pixel := column[[]bool](b, "Photon_pixelSeed")
	loose := mask(b, "Photon_LooseID_Pt20", phPt, func(r *graph.Row, i int) bool {
		return graph.At(r, wp90, i) && math.Abs(graph.At(r, phEta, i)) < cfg.PhotonEta && graph.At(r, phPt, i) > cfg.LoosePhotonPt
	}, wp90, phEta)
	tight := mask(b, "Photon_TightID_Pt100", phPt, func(r *graph.Row, i int) bool {
		return graph.At(r, wp80, i) && math.Abs(graph.At(r, phEta, i)) < cfg.PhotonEta && graph.At(r, phPt, i) > cfg.TightPhotonPt &&
			graph.At(r, eVeto, i) && !graph.At(r, pixel, i)
	}, wp80, phEta, eVeto, pixel)
	s.loosePhotonPt = selected(b, "Photon_LooseID_Pt20_pt", phPt, loose)
	tightEta := selected(b, "Photon_TightID_Pt100_eta", phEta, tight)
	tightPhi := selected(b, "Photon_TightID_Pt100_phi", phPhi, tight)

	v = b.filter(s.trigger, fmt.Sprintf("=1 loose photon with p_{T}>%g GeV", cfg.LoosePhotonPt), func(r *graph.Row) (bool, error) {
		return count(graph.Get(r, loose)) == 1, nil
	}, loose)
	s.photon = b.filter(v, fmt.Sprintf("=1 tight photon with p_{T}>%g GeV", cfg.TightPhotonPt), func(r *graph.Row) (bool, error) {
		return count(graph.Get(r, tight)) == 1, nil
	}, tight)

	// Lepton vetoes.
	elPt := column[[]float64](b, "Electron_pt")
	elID := column[[]bool](b, "Electron_mvaIso_WPHZZ")
	electrons := mask(b, "Electron_LooseID_Pt15", elPt, func(r *graph.Row, i int) bool {
		return graph.At(r, elPt, i) > cfg.ElectronPt && graph.At(r, elID, i)
	}, elID)
	v = b.filter(s.photon, fmt.Sprintf("0 good electron with p_{T}>%g GeV", cfg.ElectronPt), func(r *graph.Row) (bool, error) {
		return count(graph.Get(r, electrons)) == 0, nil
	}, electrons)
	muPt := column[[]float64](b, "Muon_pt")
	muIso := column[[]int64](b, "Muon_pfIsoId")
	muID := column[[]bool](b, "Muon_mediumPromptId")
	muons := mask(b, "Muon_LooseID_Pt10", muPt, func(r *graph.Row, i int) bool {
		return graph.At(r, muIso, i) >= 2 && graph.At(r, muID, i) && graph.At(r, muPt, i) > cfg.MuonPt
	}, muIso, muID)
	v = b.filter(v, "Sum(Muon_LooseID_Pt10)==0", func(r *graph.Row) (bool, error) {
		return count(graph.Get(r, muons)) == 0, nil
	}, muons)

	// Jets, with the energy correction applied to every jet.
	jetPt := column[[]float64](b, "Jet_pt")
	jetEta := column[[]float64](b, "Jet_eta")
	jetPhi := column[[]float64](b, "Jet_phi")
	if a.corrector != nil {
		area := column[[]float64](b, "Jet_area")
		rawf := column[[]float64](b, "Jet_rawFactor")
		rho := column[float64](b, rhoColumn)
		uncorrected := jetPt
		jetPt = redefine[[]float64](b, "Jet_pt", func(r *graph.Row) ([]float64, error) {
			if err := r.Err(); err != nil {
				return nil, err
			}
			return a.corrector.Correct(graph.Get(r, area), graph.Get(r, jetEta), graph.Get(r, jetPhi),
				graph.Get(r, uncorrected), graph.Get(r, rawf), graph.Get(r, rho))
		}, area, jetEta, jetPhi, uncorrected, rawf, rho)
	}
	jetMass := column[[]float64](b, "Jet_mass")
	jetID := column[[]int64](b, "Jet_jetId")
	muEF := column[[]float64](b, "Jet_muEF")
	chEmEF := column[[]float64](b, "Jet_chEmEF")
	neEmEF := column[[]float64](b, "Jet_neEmEF")
	tightJet := func(r *graph.Row, i int) bool {
		return graph.At(r, jetID, i) >= 4 && graph.At(r, muEF, i) < 0.5 && graph.At(r, chEmEF, i) < 0.5 &&
			graph.At(r, neEmEF, i) < 0.9 && graph.At(r, jetPt, i) > cfg.JetPt
	}
	jetInputs := []graph.Ref{jetID, muEF, chEmEF, neEmEF, jetEta}
	tightJets := mask(b, "Jet_TightID_Pt30", jetPt, tightJet, jetInputs...)
	central := mask(b, "Jet_TightID_Pt30_Central", jetPt, func(r *graph.Row, i int) bool {
		return tightJet(r, i) && math.Abs(graph.At(r, jetEta, i)) < cfg.JetEta
	}, jetInputs...)
	s.jetPt = selected(b, "Jet_TightID_Pt30_Central_Pt", jetPt, central)
	s.jetEta = selected(b, "Jet_TightID_Pt30_Central_Eta", jetEta, central)
	selPhi := selected(b, "Jet_TightID_Pt30_Central_Phi", jetPhi, central)
	selMass := selected(b, "Jet_TightID_Pt30_Central_Mass", jetMass, central)
	selBtag := selected(b, "Jet_TightID_Pt30_Central_btagPNetB", column[[]float64](b, "Jet_btagPNetB"), central)

	if !a.cfg.IsData {
		flavour := selected(b, "Jet_TightID_Pt30_Central_partonFlavour", column[[]int64](b, "Jet_partonFlavour"), central)
		for k := 1; k <= a.cfg.Flavours; k++ {
			code := int64(k)
			define[[]bool](b, flavourFlag(k), func(r *graph.Row) ([]bool, error) {
				fs := graph.Get(r, flavour)
				out := make([]bool, len(fs))
				for i, f := range fs {
					out[i] = f == code || f == -code
				}
				return out, nil
			}, flavour)
		}
	}

	s.dijet = b.filter(v, fmt.Sprintf("=2 central jets with pt>%g GeV, no additional jet", cfg.JetPt), func(r *graph.Row) (bool, error) {
		return count(graph.Get(r, tightJets)) == 2 && count(graph.Get(r, central)) == 2, nil
	}, tightJets, central)

	// Dijet system.
	pt1 := element(b, "Jet_pt1", s.jetPt, 0)
	pt2 := element(b, "Jet_pt2", s.jetPt, 1)
	eta1 := element(b, "Jet_eta1", s.jetEta, 0)
	eta2 := element(b, "Jet_eta2", s.jetEta, 1)
	phi1 := element(b, "Jet_phi1", selPhi, 0)
	phi2 := element(b, "Jet_phi2", selPhi, 1)
	mjj := define[float64](b, "Mjj", func(r *graph.Row) (float64, error) {
		j1 := fmom.NewPtEtaPhiM(graph.Get(r, pt1), graph.Get(r, eta1), graph.Get(r, phi1), graph.At(r, selMass, 0))
		j2 := fmom.NewPtEtaPhiM(graph.Get(r, pt2), graph.Get(r, eta2), graph.Get(r, phi2), graph.At(r, selMass, 1))
		return fmom.Add(&j1, &j2).M(), nil
	}, pt1, eta1, phi1, pt2, eta2, phi2, selMass)
	massRange := func(r *graph.Row) (bool, error) {
		m := graph.Get(r, mjj)
		return m > a.cfg.MassRange.Lo && m < a.cfg.MassRange.Hi, nil
	}
	v = b.filter(s.dijet, "Invariant mass clearly outside the range of this study", massRange, mjj)

	s.deltaEta = define[float64](b, "Jet_delta_eta", func(r *graph.Row) (float64, error) {
		return math.Abs(graph.Get(r, eta1) - graph.Get(r, eta2)), nil
	}, eta1, eta2)
	s.deltaPhi = define[float64](b, "Jet_delta_phi", func(r *graph.Row) (float64, error) {
		return deltaPhi(graph.Get(r, phi1), graph.Get(r, phi2)), nil
	}, phi1, phi2)
	define[float64](b, "Jet_delta_pT", func(r *graph.Row) (float64, error) {
		return math.Abs(graph.Get(r, pt1) - graph.Get(r, pt2)), nil
	}, pt1, pt2)
	define[float64](b, "Jet_pT2pT1", func(r *graph.Row) (float64, error) {
		return ratio(graph.Get(r, pt1), graph.Get(r, pt2)), nil
	}, pt1, pt2)
	define[float64](b, "Jet_delta_R", func(r *graph.Row) (float64, error) {
		return deltaR(graph.Get(r, s.deltaEta), graph.Get(r, s.deltaPhi)), nil
	}, s.deltaEta, s.deltaPhi)

	// Photon-jet separation.
	photonJetDR := func(name string, eta, phi graph.Handle[float64]) graph.Handle[float64] {
		return define[float64](b, name, func(r *graph.Row) (float64, error) {
			deta := math.Abs(graph.At(r, tightEta, 0) - graph.Get(r, eta))
			return deltaR(deta, deltaPhi(graph.At(r, tightPhi, 0), graph.Get(r, phi))), nil
		}, tightEta, tightPhi, eta, phi)
	}
	lead := photonJetDR("PJet_Delta_R", eta1, phi1)
	sub := photonJetDR("PSubJet_Delta_R", eta2, phi2)
	v = b.filter(v, fmt.Sprintf("Angular distance between the photon and both jets is > %g", cfg.PhotonJetDR), func(r *graph.Row) (bool, error) {
		return graph.Get(r, lead) > cfg.PhotonJetDR && graph.Get(r, sub) > cfg.PhotonJetDR, nil
	}, lead, sub)
	s.study = b.filter(v, "mjj in range of study", massRange, mjj)

	// b tagging of the two selected jets.
	s.btag1 = element(b, "Jet_btagPNetB_1", selBtag, 0)
	s.btag2 = element(b, "Jet_btagPNetB_2", selBtag, 1)
	s.btagMean = define[float64](b, "Jet_btagPNetB_mean", func(r *graph.Row) (float64, error) {
		return (graph.Get(r, s.btag1) + graph.Get(r, s.btag2)) / 2, nil
	}, s.btag1, s.btag2)

	if b.err != nil {
		return nil, b.err
	}

	categories := a.cfg.Categories
	if a.cfg.IsData {
		categories = nil
	}
	bat, err := hist.NewBattery(g, hist.Config{
		MassColumn: "Mjj",
		Mass:       a.cfg.Mass,
		Variables:  a.cfg.Variables,
		Categories: categories,
		FlagPrefix: flavourPrefix,
	}, weight, hist.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	s.battery = bat
	return s, nil
}
