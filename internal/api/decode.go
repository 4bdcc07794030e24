package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/verte-zerg/kickshield/internal/model"
)

const maxBodyBytes = 64 << 10

// ErrMalformedJSON marks a request body that claims to be JSON but is not.
var ErrMalformedJSON = errors.New("malformed json")

// Settings field names shared by query, form and JSON input.
const (
	fieldThreshold      = "threshold"
	fieldLockoutMs      = "lockout_ms"
	fieldSeriesGapMs    = "series_gap_ms"
	fieldSampleWindowMs = "sample_window_ms"
	fieldSimulate       = "simulate"
)

// DecodeSettingsUpdate collects a partial settings change from query
// parameters, a form body and a JSON body, in that order; later sources win.
// Non-numeric values are skipped. A malformed JSON body fails the whole
// request.
func DecodeSettingsUpdate(r *http.Request) (model.SettingsUpdate, error) {
	body, isJSON, err := readBody(r)
	if err != nil {
		return model.SettingsUpdate{}, err
	}

	update := settingsFromValues(r.URL.Query())
	if !isJSON && r.PostForm != nil {
		update.Merge(settingsFromValues(r.PostForm))
	}
	if isJSON {
		fromJSON, err := settingsFromJSON(body)
		if err != nil {
			return model.SettingsUpdate{}, err
		}
		update.Merge(fromJSON)
	}
	return update, nil
}

// decodeMode reads the session mode label from the query, form or JSON body.
func decodeMode(r *http.Request) (string, error) {
	body, isJSON, err := readBody(r)
	if err != nil {
		return "", err
	}
	if isJSON {
		var payload struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		if payload.Mode != "" {
			return payload.Mode, nil
		}
	}
	if mode := r.URL.Query().Get("mode"); mode != "" {
		return mode, nil
	}
	if r.PostForm != nil {
		return r.PostForm.Get("mode"), nil
	}
	return "", nil
}

// readBody returns the JSON body when there is one and parses form bodies
// into r.PostForm otherwise.
func readBody(r *http.Request) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, false, fmt.Errorf("failed to parse form: %w", err)
		}
		return nil, false, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read body: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, nil
	}
	if mediaType == "application/json" || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed, true, nil
	}
	return nil, false, nil
}

type valueGetter interface {
	Has(key string) bool
	Get(key string) string
}

func settingsFromValues(values valueGetter) model.SettingsUpdate {
	var u model.SettingsUpdate
	u.Threshold = intField(values, fieldThreshold)
	u.LockoutMs = intField(values, fieldLockoutMs)
	u.SeriesGapMs = intField(values, fieldSeriesGapMs)
	u.SampleWindowMs = intField(values, fieldSampleWindowMs)
	if values.Has(fieldSimulate) {
		v := strings.TrimSpace(values.Get(fieldSimulate))
		on := v == "1" || strings.EqualFold(v, "true")
		u.Simulate = &on
	}
	return u
}

func intField(values valueGetter, key string) *int {
	if !values.Has(key) {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(values.Get(key)))
	if err != nil {
		return nil
	}
	return &v
}

func settingsFromJSON(body []byte) (model.SettingsUpdate, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.SettingsUpdate{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	var u model.SettingsUpdate
	u.Threshold = jsonInt(raw[fieldThreshold])
	u.LockoutMs = jsonInt(raw[fieldLockoutMs])
	u.SeriesGapMs = jsonInt(raw[fieldSeriesGapMs])
	u.SampleWindowMs = jsonInt(raw[fieldSampleWindowMs])
	u.Simulate = jsonBool(raw[fieldSimulate])
	return u, nil
}

// jsonInt accepts numbers (fractions truncate) and strings holding integers.
func jsonInt(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	if v, err := n.Int64(); err == nil {
		out := clampToInt(v)
		return &out
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	out := clampToInt(int64(math.Max(math.Min(f, math.MaxInt32), math.MinInt32)))
	return &out
}

func clampToInt(v int64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}

// jsonBool accepts true/false and 0/1.
func jsonBool(raw json.RawMessage) *bool {
	if len(raw) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		on := n != 0
		return &on
	}
	return nil
}
