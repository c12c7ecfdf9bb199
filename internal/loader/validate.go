package loader

import (
	"fmt"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/argo"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/qc"
)

func validateFloat(f argo.Float) error {
	if f.ID == "" {
		return ErrEmptyKey
	}
	switch f.Status {
	case argo.StatusActive, argo.StatusInactive, argo.StatusLost, argo.StatusUnknown:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
}

func validateProfile(p argo.Profile) error {
	if p.ID == "" || p.FloatID == "" {
		return ErrEmptyKey
	}
	if p.Cycle < 0 {
		return ErrNegativeIndex
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	if p.Date.IsZero() {
		return argo.ErrMissingTimestamp
	}
	return nil
}

func validateMeasurement(m argo.Measurement) error {
	if m.ProfileID == "" {
		return ErrEmptyKey
	}
	if m.Level < 0 {
		return ErrNegativeIndex
	}
	if !m.HasValue() {
		return ErrNoValue
	}
	for name, flag := range map[string]qc.Result{
		"pressure_qc":    m.PressureQC,
		"temperature_qc": m.TemperatureQC,
		"salinity_qc":    m.SalinityQC,
	} {
		if flag.Status == qc.StatusUnrecognized {
			return fmt.Errorf("%w: %s=%q", argo.ErrUnrecognizedQC, name, flag.Raw)
		}
	}
	return nil
}
