package models

import "time"

// TyreSpec describes one axle's tyre fitment.
type TyreSpec struct {
	Size        string `json:"size"`
	Runflat     bool   `json:"runflat"`
	PressurePSI int    `json:"pressure_psi"`
}

// TyreRecord pairs front and rear fitments for one option the manufacturer
// lists for the vehicle.
type TyreRecord struct {
	Front TyreSpec `json:"front"`
	Rear  TyreSpec `json:"rear"`
}

// Vehicle is a cached result of a VRM lookup. VRM is stored normalized
// (uppercase, no whitespace).
type Vehicle struct {
	VRM         string       `json:"vrm"`
	Make        string       `json:"make"`
	Model       string       `json:"model"`
	Year        int          `json:"year,omitempty"`
	TyreRecords []TyreRecord `json:"tyre_records,omitempty"`
	Torque      string       `json:"torque,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
