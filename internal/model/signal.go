package model

// Signal is the output of one rule evaluation. Never persisted.
type Signal struct {
	Direction Direction `json:"direction"`
	Rule      string    `json:"rule"`     // calibration key, e.g. "rsi_80"
	Name      string    `json:"name"`     // diagnostic label, e.g. "RSI=82>80+DIP_GOLD"
	WinRate   float64   `json:"win_rate"` // expected probability of winning
	RSI       float64   `json:"rsi"`
	Return15m float64   `json:"return_15m"`
}
