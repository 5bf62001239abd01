package dto

type GeminiAPIRequest struct {
	Contents []Content `json:"contents"`
}

type GeminiAPIResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is a candidate response from the Gemini API.
type Candidate struct {
	Content Content `json:"content"`
}

type Content struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

// ExplainContext is the numeric evidence handed to the model. The prompt
// instructs it to use only these values, so everything worth mentioning has
// to be here.
type ExplainContext struct {
	Winner        string             `json:"winner"`
	Params        map[string]float64 `json:"params"`
	AvgOOSCAGR    float64            `json:"avg_oos_cagr"`
	AvgOOSSharpe  float64            `json:"avg_oos_sharpe"`
	AvgOOSMaxDD   float64            `json:"avg_oos_maxdd"`
	StitchedMaxDD float64            `json:"stitched_maxdd"`
	DDCap         float64            `json:"dd_cap"`
	HoldoutCAGR   float64            `json:"holdout_cagr"`
	HoldoutMaxDD  float64            `json:"holdout_maxdd"`
	HoldoutSharpe float64            `json:"holdout_sharpe"`
	NumFolds      int                `json:"n_folds"`
}
