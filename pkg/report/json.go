package report

import (
	"encoding/json/jsontext"
	"encoding/json/v2"
	"io"
	"math"
	"time"

	"github.com/justjake/querybench/pkg/timing"
)

// Record is the JSON form of one case result. Durations are nanoseconds.
type Record struct {
	Group       string        `json:"group"`
	Case        string        `json:"case"`
	Strategy    string        `json:"strategy"`
	Status      timing.Status `json:"status"`
	Error       string        `json:"error,omitempty"`
	MeanLatency time.Duration `json:"meanLatency,format:nano"`
	StdDev      time.Duration `json:"stddev,format:nano"`
	Min         time.Duration `json:"min,format:nano"`
	Max         time.Duration `json:"max,format:nano"`
	P50         time.Duration `json:"p50,format:nano"`
	P90         time.Duration `json:"p90,format:nano"`
	P99         time.Duration `json:"p99,format:nano"`
	// RME is omitted when fewer than two samples make it undefined.
	RME            *float64      `json:"rme,omitempty"`
	IterationCount int           `json:"iterationCount"`
	WarmupCount    int           `json:"warmupCount"`
	Rows           int           `json:"rows"`
	TimedOut       bool          `json:"timedOut,omitzero"`
	Elapsed        time.Duration `json:"elapsed,format:nano"`
}

// Document is the top level of results.json.
type Document struct {
	Meta    Meta     `json:"meta"`
	Results []Record `json:"results"`
}

// Records flattens results in definition order.
func Records(results *timing.Results) []Record {
	var out []Record
	for r := range results.All() {
		rec := Record{
			Group:          r.Group,
			Case:           r.Case,
			Strategy:       string(r.Strategy),
			Status:         r.Status,
			MeanLatency:    r.Stats.Mean,
			StdDev:         r.Stats.StdDev,
			Min:            r.Stats.Min,
			Max:            r.Stats.Max,
			P50:            r.Stats.P50,
			P90:            r.Stats.P90,
			P99:            r.Stats.P99,
			IterationCount: r.Stats.Iterations,
			WarmupCount:    r.Warmup,
			Rows:           r.Rows,
			TimedOut:       r.TimedOut,
			Elapsed:        r.Elapsed,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
		if rme := r.Stats.RME; r.OK() && !math.IsInf(rme, 0) && !math.IsNaN(rme) {
			rec.RME = &rme
		}
		out = append(out, rec)
	}
	return out
}

// WriteJSON writes meta and every record as indented JSON.
func WriteJSON(w io.Writer, meta Meta, results *timing.Results) error {
	enc := jsontext.NewEncoder(w, jsontext.WithIndent("  "))
	return json.MarshalEncode(enc, Document{Meta: meta, Results: Records(results)})
}
