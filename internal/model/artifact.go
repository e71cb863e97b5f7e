package model

// SchemaPPOPro is the only artifact schema this service reads or writes.
const SchemaPPOPro = "ppo_pro_v1"

// MinArtifactVersion is the minimum acceptable artifact version at load
// time. Version 0 artifacts are rejected.
const MinArtifactVersion = 1

// Norm carries per-feature standardization parameters embedded in a
// trained policy. Values of Sd below 1e-12 are replaced by 1 on use.
type Norm struct {
	Mu []float64 `json:"mu"`
	Sd []float64 `json:"sd"`
}

// Policy is the affine-plus-tanh scoring function over a feature row.
type Policy struct {
	FeatDim int       `json:"feat_dim"`
	W       []float64 `json:"W"`
	B       []float64 `json:"b"`
	Norm    *Norm     `json:"norm,omitempty"`
}

// Valid reports whether the policy shape is internally consistent.
func (p *Policy) Valid() bool {
	if p == nil {
		return false
	}
	return p.FeatDim > 0 && len(p.W) == p.FeatDim && len(p.B) == 1
}

// NormValid reports whether the embedded norm block is usable.
func (p *Policy) NormValid() bool {
	if p == nil || p.Norm == nil {
		return false
	}
	return len(p.Norm.Mu) == p.FeatDim && len(p.Norm.Sd) == p.FeatDim
}

// OOSSummary is the out-of-sample metric block written by the trainer.
type OOSSummary struct {
	Trades      int     `json:"trades"`
	Accuracy    float64 `json:"accuracy"`
	Sharpe      float64 `json:"sharpe"`
	DrawdownMax float64 `json:"drawdown_max"`
	Equity      float64 `json:"equity"`
}

// Artifact is the persisted model record. It is written atomically by
// the trainer and replaced wholesale, never mutated in place.
type Artifact struct {
	OK            bool        `json:"ok"`
	Version       int         `json:"version"`
	Schema        string      `json:"schema"`
	Symbol        string      `json:"symbol"`
	Interval      string      `json:"interval"`
	Mode          string      `json:"mode"`
	BuildTS       int64       `json:"build_ts"`
	MaLen         int         `json:"ma_len"`
	BestThr       float64     `json:"best_thr"`
	TP            float64     `json:"tp"`
	SL            float64     `json:"sl"`
	Episodes      int         `json:"episodes,omitempty"`
	Policy        Policy      `json:"policy"`
	OOS           *OOSSummary `json:"oos_summary,omitempty"`
	TrainRowsUsed int         `json:"train_rows_used,omitempty"`
}

// Valid reports whether the artifact may be installed as current:
// ok flag set, accepted version, consistent policy shape and a decision
// threshold inside (0, 1).
func (a *Artifact) Valid() bool {
	if a == nil || !a.OK {
		return false
	}
	if a.Version < MinArtifactVersion {
		return false
	}
	if !a.Policy.Valid() {
		return false
	}
	return a.BestThr > 0 && a.BestThr < 1
}
