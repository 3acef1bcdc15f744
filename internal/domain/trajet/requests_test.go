package trajet

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeCreateKeepsExtraAttributes(t *testing.T) {
	body := []byte(`{
		"pointRamasage": "Casablanca",
		"pointLivraison": "Rabat",
		"modetransport": "van",
		"dateTraject": "2026-03-10T08:00:00Z",
		"price": 120,
		"seats": {"total": 4}
	}`)

	req, err := DecodeCreate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.PointRamasage != "Casablanca" || req.ModeTransport != "van" {
		t.Fatalf("unexpected typed fields: %+v", req)
	}

	if _, ok := req.Attributes["price"]; !ok {
		t.Fatalf("expected price in attributes, got %v", req.Attributes)
	}
	if _, ok := req.Attributes["pointRamasage"]; ok {
		t.Fatalf("known field leaked into attributes")
	}
}

func TestDecodeCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing_pickup", body: `{"pointLivraison":"B","modetransport":"van","dateTraject":"2026-03-10T08:00:00Z"}`},
		{name: "missing_date", body: `{"pointRamasage":"A","pointLivraison":"B","modetransport":"van"}`},
		{name: "bad_json", body: `{"pointRamasage":`},
		{name: "bad_date", body: `{"pointRamasage":"A","pointLivraison":"B","modetransport":"van","dateTraject":"tomorrow"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCreate([]byte(tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestPatchApplyMergesAttributes(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	original := Trajet{
		ID:             "t1",
		PointRamasage:  "A",
		PointLivraison: "B",
		ModeTransport:  "van",
		DateTraject:    now,
		Attributes:     map[string]any{"price": float64(100), "note": "fragile"},
	}

	p, err := DecodePatch([]byte(`{"modetransport":"truck","price":150}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := p.Apply(original, now.Add(time.Hour))

	if updated.ModeTransport != "truck" {
		t.Fatalf("expected truck, got %s", updated.ModeTransport)
	}
	if updated.PointRamasage != "A" {
		t.Fatalf("untouched field changed: %s", updated.PointRamasage)
	}
	if updated.Attributes["price"] != float64(150) || updated.Attributes["note"] != "fragile" {
		t.Fatalf("unexpected attributes: %v", updated.Attributes)
	}
	if original.Attributes["price"] != float64(100) {
		t.Fatalf("apply mutated the original attributes")
	}
}

func TestPatchRejectsEmptyStrings(t *testing.T) {
	_, err := DecodePatch([]byte(`{"pointRamasage":""}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestTrajetJSONFlattensAttributes(t *testing.T) {
	driver := "d1"
	tr := Trajet{
		ID:             "t1",
		PointRamasage:  "A",
		PointLivraison: "B",
		ModeTransport:  "van",
		DateTraject:    time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		DriverID:       &driver,
		Attributes:     map[string]any{"price": 120, "id": "spoofed"},
	}

	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out["id"] != "t1" {
		t.Fatalf("attribute overrode id: %v", out["id"])
	}
	if out["price"] != float64(120) {
		t.Fatalf("expected flattened price, got %v", out["price"])
	}
	if out["driver"] != "d1" {
		t.Fatalf("expected driver d1, got %v", out["driver"])
	}

	var back Trajet
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal trajet: %v", err)
	}
	if back.Attributes["price"] != float64(120) || back.DriverID == nil || *back.DriverID != "d1" {
		t.Fatalf("unexpected round trip: %+v", back)
	}
}
