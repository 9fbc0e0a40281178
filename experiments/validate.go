package experiments

import (
	"strings"

	"fermlog/models"
)

// Accepted ranges for fermentation setup values. Open lower bounds mean
// zero is rejected; a sample with no tea or water is not a sample.
const (
	maxTeaConcentration   = 100   // g/L
	maxWaterAmount        = 10000 // mL
	maxSugarConcentration = 500   // g/L
	maxInoculum           = 100   // %
	maxTemperature        = 60    // °C
	maxPH                 = 14
)

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &models.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(title) > 200 {
		return &models.ValidationError{Field: "title", Reason: "must be at most 200 characters"}
	}
	return nil
}

func validateSampleName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(name) > 100 {
		return &models.ValidationError{Field: "name", Reason: "must be at most 100 characters"}
	}
	return nil
}

// validateSetup checks the fermentation parameters of a sample. Nil
// fields are fine, they just have not been entered yet.
func validateSetup(s *models.Sample) error {
	if s.TeaType != nil && len(*s.TeaType) > 100 {
		return &models.ValidationError{Field: "tea_type", Reason: "must be at most 100 characters"}
	}
	if s.SugarType != nil && len(*s.SugarType) > 100 {
		return &models.ValidationError{Field: "sugar_type", Reason: "must be at most 100 characters"}
	}
	if s.TeaConcentration != nil && (*s.TeaConcentration <= 0 || *s.TeaConcentration > maxTeaConcentration) {
		return &models.ValidationError{Field: "tea_concentration", Reason: "must be between 0 and 100 g/L"}
	}
	if s.WaterAmount != nil && (*s.WaterAmount <= 0 || *s.WaterAmount > maxWaterAmount) {
		return &models.ValidationError{Field: "water_amount", Reason: "must be between 0 and 10000 mL"}
	}
	if s.SugarConcentration != nil && (*s.SugarConcentration <= 0 || *s.SugarConcentration > maxSugarConcentration) {
		return &models.ValidationError{Field: "sugar_concentration", Reason: "must be between 0 and 500 g/L"}
	}
	if s.InoculumConcentration != nil && (*s.InoculumConcentration < 0 || *s.InoculumConcentration > maxInoculum) {
		return &models.ValidationError{Field: "inoculum_concentration", Reason: "must be between 0 and 100 %"}
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > maxTemperature) {
		return &models.ValidationError{Field: "temperature", Reason: "must be between 0 and 60 °C"}
	}
	return nil
}

func validatePH(ph *float64) error {
	if ph != nil && (*ph < 0 || *ph > maxPH) {
		return &models.ValidationError{Field: "ph_value", Reason: "must be between 0 and 14"}
	}
	return nil
}

func validateWeight(field string, w *float64) error {
	if w != nil && (*w < 0 || *w > 100000) {
		return &models.ValidationError{Field: field, Reason: "must be a weight in grams"}
	}
	return nil
}
