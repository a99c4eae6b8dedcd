package main

import "testing"

func TestSeedWards_Shape(t *testing.T) {
	wards := seedWards()
	if len(wards) == 0 {
		t.Fatal("expected seed wards")
	}

	codes := map[string]bool{}
	for _, w := range wards {
		if w.Code == "" || w.Name == "" || w.WardType == "" {
			t.Errorf("ward %+v missing required fields", w)
		}
		if codes[w.Code] {
			t.Errorf("duplicate ward code %s", w.Code)
		}
		codes[w.Code] = true

		if len(w.Rooms) == 0 {
			t.Errorf("ward %s has no rooms", w.Code)
		}
		numbers := map[string]bool{}
		for _, r := range w.Rooms {
			if r.Beds < 1 {
				t.Errorf("room %s in ward %s has %d beds", r.Number, w.Code, r.Beds)
			}
			if r.Rate <= 0 {
				t.Errorf("room %s in ward %s has rate %f", r.Number, w.Code, r.Rate)
			}
			if numbers[r.Number] {
				t.Errorf("duplicate room number %s in ward %s", r.Number, w.Code)
			}
			numbers[r.Number] = true
		}
	}
}

func TestSeedWards_ICUIsSingleBed(t *testing.T) {
	for _, w := range seedWards() {
		if w.WardType != "icu" {
			continue
		}
		for _, r := range w.Rooms {
			if r.Beds != 1 {
				t.Errorf("icu room %s has %d beds, want 1", r.Number, r.Beds)
			}
		}
	}
}
