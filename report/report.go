// Package report renders an experiment into the HTML document that is
// pushed to elabFTW. Rendering is deterministic: the same input always
// produces byte-identical output, so re-syncing an unchanged experiment
// writes an unchanged notebook entry.
package report

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strconv"
	"strings"
	"time"

	"fermlog/models"
)

//go:embed report.tmpl
var templateFS embed.FS

var reportTmpl = template.Must(template.ParseFS(templateFS, "report.tmpl"))

// Input bundles everything that goes into one report.
type Input struct {
	Experiment   *models.Experiment
	Samples      []models.Sample
	Timepoints   []models.Timepoint
	Measurements []models.Measurement
}

type view struct {
	Title       string
	Status      string
	Created     string
	SampleCount int
	Notes       string
	Samples     []sampleView
	Timepoints  []timepointView
	Timeline    []timelinePoint
	Matrix      []matrixRow
}

type sampleView struct {
	Name                  string
	Status                string
	TeaType               string
	TeaConcentration      string
	WaterAmount           string
	SugarType             string
	SugarConcentration    string
	InoculumConcentration string
	Temperature           string
	Steps                 []stepView
	PHValue               string
	ScobyWetWeight        string
	ScobyDryWeight        string
	MicroResults          string
	HPLCResults           string
	Notes                 string
}

type stepView struct {
	Label string
	Time  string
}

type timepointView struct {
	Name        string
	Hours       string
	Description string
}

type timelinePoint struct {
	Label string
	Mark  string
}

type matrixRow struct {
	Name  string
	Hours string
	Cells []cell
}

type cell struct {
	PH   string
	Note string
}

// Render produces the HTML body for the experiment.
func Render(in Input) (string, error) {
	v := buildView(in)

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildView(in Input) view {
	samples := append([]models.Sample(nil), in.Samples...)
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })

	timepoints := append([]models.Timepoint(nil), in.Timepoints...)
	sort.Slice(timepoints, func(i, j int) bool {
		if timepoints[i].SortOrder != timepoints[j].SortOrder {
			return timepoints[i].SortOrder < timepoints[j].SortOrder
		}
		return timepoints[i].ID < timepoints[j].ID
	})

	v := view{
		Title:       in.Experiment.Title,
		Status:      in.Experiment.Status,
		Created:     in.Experiment.CreatedAt.UTC().Format("2006-01-02"),
		SampleCount: len(samples),
		Notes:       in.Experiment.Notes,
	}

	for _, s := range samples {
		v.Samples = append(v.Samples, buildSampleView(s))
	}
	for _, tp := range timepoints {
		v.Timepoints = append(v.Timepoints, timepointView{
			Name:        tp.Name,
			Hours:       num(tp.Hours),
			Description: tp.Description,
		})
	}
	v.Timeline = buildTimeline(samples)
	v.Matrix = buildMatrix(samples, timepoints, in.Measurements)
	return v
}

var timelineLabels = [...]string{"Preparation", "Incubation Start", "Sampling", "Analysis", "Completion"}

// buildTimeline marks the workflow milestones: passed stages get a
// check, the stage the most advanced samples are at gets a dot.
func buildTimeline(samples []models.Sample) []timelinePoint {
	stage := timelineStage(samples)
	points := make([]timelinePoint, len(timelineLabels))
	for i, label := range timelineLabels {
		points[i] = timelinePoint{Label: label}
		switch {
		case i < stage:
			points[i].Mark = "✓"
		case i == stage:
			points[i].Mark = "●"
		}
	}
	return points
}

func timelineStage(samples []models.Sample) int {
	withResults := 0
	anyStatus := func(want ...string) bool {
		for _, s := range samples {
			for _, w := range want {
				if s.Status == w {
					return true
				}
			}
		}
		return false
	}
	for _, s := range samples {
		if s.PHValue != nil ||
			(s.MicroResults != nil && *s.MicroResults != "") ||
			(s.HPLCResults != nil && *s.HPLCResults != "") {
			withResults++
		}
	}

	switch {
	case anyStatus(models.SampleCompleted):
		return 4
	case withResults > 0:
		return 3
	case anyStatus(models.SampleSampling, models.SampleAnalysisPending):
		return 2
	case anyStatus(models.SampleIncubating):
		return 1
	default:
		return 0
	}
}

func buildSampleView(s models.Sample) sampleView {
	sv := sampleView{
		Name:                  s.Name,
		Status:                s.Status,
		TeaType:               strOrNA(s.TeaType),
		TeaConcentration:      unitOrNA(s.TeaConcentration, "g/L"),
		WaterAmount:           unitOrNA(s.WaterAmount, "mL"),
		SugarType:             strOrNA(s.SugarType),
		SugarConcentration:    unitOrNA(s.SugarConcentration, "g/L"),
		InoculumConcentration: unitOrNA(s.InoculumConcentration, "%"),
		Temperature:           unitOrNA(s.Temperature, "°C"),
		PHValue:               numOrNA(s.PHValue),
		ScobyWetWeight:        unitOrNA(s.ScobyWetWeight, "g"),
		ScobyDryWeight:        unitOrNA(s.ScobyDryWeight, "g"),
		MicroResults:          strOrNA(s.MicroResults),
		HPLCResults:           strOrNA(s.HPLCResults),
	}
	if s.Notes != nil {
		sv.Notes = *s.Notes
	}

	steps := []struct {
		label string
		at    *time.Time
	}{
		{"Prepared", s.PreparationTime},
		{"Incubation started", s.IncubationStartTime},
		{"Incubation ended", s.IncubationEndTime},
		{"Sample split", s.SampleSplitTime},
		{"Micro plated", s.MicroPlatingTime},
		{"HPLC prepped", s.HPLCPrepTime},
		{"pH measured", s.PHMeasurementTime},
		{"SCOBY weighed", s.ScobyWetWeightTime},
	}
	for _, step := range steps {
		if step.at != nil {
			sv.Steps = append(sv.Steps, stepView{
				Label: step.label,
				Time:  step.at.UTC().Format("2006-01-02 15:04"),
			})
		}
	}
	return sv
}

func buildMatrix(samples []models.Sample, timepoints []models.Timepoint, measurements []models.Measurement) []matrixRow {
	if len(timepoints) == 0 || len(measurements) == 0 {
		return nil
	}

	lookup := make(map[int64]map[int64]models.Measurement, len(timepoints))
	for _, m := range measurements {
		if lookup[m.TimepointID] == nil {
			lookup[m.TimepointID] = map[int64]models.Measurement{}
		}
		lookup[m.TimepointID][m.SampleID] = m
	}

	rows := make([]matrixRow, 0, len(timepoints))
	for _, tp := range timepoints {
		row := matrixRow{Name: tp.Name, Hours: num(tp.Hours)}
		for _, s := range samples {
			m, ok := lookup[tp.ID][s.ID]
			if !ok {
				row.Cells = append(row.Cells, cell{PH: "n/a"})
				continue
			}
			c := cell{PH: numOrNA(m.PHValue)}
			if m.Note != nil {
				c.Note = *m.Note
			}
			row.Cells = append(row.Cells, c)
		}
		rows = append(rows, row)
	}
	return rows
}

// num formats a float without trailing zeros, so 24.0 renders as "24".
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func numOrNA(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return num(*f)
}

// unitOrNA renders "5 g/L" style values. Degree units attach directly,
// as in "24°C".
func unitOrNA(f *float64, unit string) string {
	if f == nil {
		return "n/a"
	}
	if strings.HasPrefix(unit, "°") {
		return num(*f) + unit
	}
	return num(*f) + " " + unit
}

func strOrNA(s *string) string {
	if s == nil || *s == "" {
		return "n/a"
	}
	return *s
}
