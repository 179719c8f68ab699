// Package interpret turns pricing-page text into validated pricing plans.
package interpret

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/raphaelgruber/pricewatch/internal/models"
)

// Structural failures. Field-level anomalies are normalized instead.
var (
	// ErrNoJSON indicates the model response contains no JSON object.
	ErrNoJSON = errors.New("model response contains no JSON object")

	// ErrUnparseable indicates the JSON region could not be decoded.
	ErrUnparseable = errors.New("model response is not valid JSON")

	// ErrPlansNotList indicates the decoded value has no plan list.
	ErrPlansNotList = errors.New("plans field is not a list")
)

// DefaultPlanName is used when the model leaves a plan unnamed.
const DefaultPlanName = "Standard Plan"

// ExtractJSON returns the JSON region embedded in a model response.
// The model may wrap its answer in commentary or code fences, so the first
// balanced object is preferred. A bare array wins only when it encloses that
// object, or when there is no valid object to take.
func ExtractJSON(raw string) (string, error) {
	var obj, arr string
	var objOK, arrOK bool
	objStart := strings.IndexByte(raw, '{')
	if objStart >= 0 {
		obj, objOK = balanced(raw, objStart)
	}
	if arrStart := strings.IndexByte(raw, '['); arrStart >= 0 {
		arr, arrOK = balanced(raw, arrStart)
		arrOK = arrOK && json.Valid([]byte(arr))
		if arrOK && objStart > arrStart && objStart < arrStart+len(arr) {
			return arr, nil
		}
	}

	switch {
	case objOK && json.Valid([]byte(obj)):
		return obj, nil
	case arrOK:
		return arr, nil
	case objOK:
		// Let the decoder report what is wrong with it.
		return obj, nil
	}
	return "", ErrNoJSON
}

// balanced scans from the bracket at start to its matching close,
// skipping brackets inside string literals.
func balanced(s string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
			if depth < 0 {
				return "", false
			}
		}
	}
	return "", false
}

// ParsePlans recovers normalized plans from a raw model response.
// An empty list is not an error here; callers decide what zero plans mean.
func ParsePlans(raw string) ([]models.PricingPlan, error) {
	region, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(region)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	var items []any
	switch v := doc.(type) {
	case map[string]any:
		list, ok := v["plans"].([]any)
		if !ok {
			return nil, ErrPlansNotList
		}
		items = list
	case []any:
		items = v
	default:
		return nil, ErrPlansNotList
	}

	plans := make([]models.PricingPlan, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		plans = append(plans, normalizeObject(obj))
	}
	return plans, nil
}

// normalizeObject applies the defaulting rules to one decoded plan.
func normalizeObject(obj map[string]any) models.PricingPlan {
	plan := models.PricingPlan{
		Name:         stringField(obj, "planName"),
		Currency:     stringField(obj, "currency"),
		BillingCycle: models.BillingCycle(stringField(obj, "billingCycle")),
		Description:  stringField(obj, "description"),
	}

	if v, ok := obj["price"]; ok && v != nil {
		p := coercePrice(v)
		plan.Price = &p
	}

	if list, ok := obj["features"].([]any); ok {
		for _, f := range list {
			if s, ok := f.(string); ok {
				plan.Features = append(plan.Features, s)
			}
		}
	}

	return NormalizePlan(plan)
}

// NormalizePlan applies defaults to a typed plan.
// It is idempotent: normalizing a normalized plan returns it unchanged.
func NormalizePlan(p models.PricingPlan) models.PricingPlan {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = DefaultPlanName
	}

	if p.Price != nil && *p.Price < 0 {
		zero := 0.0
		p.Price = &zero
	}

	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}

	p.BillingCycle = models.ParseBillingCycle(string(p.BillingCycle))
	p.Description = strings.TrimSpace(p.Description)

	features := make([]string, 0, len(p.Features))
	for _, f := range p.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	p.Features = features

	return p
}

// Normalize applies NormalizePlan to every plan.
func Normalize(plans []models.PricingPlan) []models.PricingPlan {
	out := make([]models.PricingPlan, len(plans))
	for i, p := range plans {
		out[i] = NormalizePlan(p)
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// coercePrice converts a decoded JSON value to a price.
// Anything that is not a number, or a string holding one, becomes 0.
func coercePrice(v any) float64 {
	switch p := v.(type) {
	case json.Number:
		f, err := p.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return p
	case string:
		s := strings.TrimSpace(p)
		s = strings.TrimLeft(s, "$€£¥ ")
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}
