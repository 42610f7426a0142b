// Package waste maps detector labels onto waste categories.
package waste

import (
	"fmt"
	"strings"

	"github.com/pilahsampah/pilah/internal/detector"
)

// Category is a waste sorting bucket.
type Category int

const (
	Unknown Category = iota
	Organik
	Anorganik
	B3
)

func (c Category) String() string {
	switch c {
	case Organik:
		return "organik"
	case Anorganik:
		return "anorganik"
	case B3:
		return "b3"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Title returns the display name.
func (c Category) Title() string {
	switch c {
	case Organik:
		return "Sampah Organik"
	case Anorganik:
		return "Sampah Anorganik"
	case B3:
		return "Sampah B3"
	default:
		return "Tidak dikenal"
	}
}

// Color returns the overlay color as 0xRRGGBB.
func (c Category) Color() uint32 {
	switch c {
	case Organik:
		return 0x64E100
	case Anorganik:
		return 0xE9E900
	case B3:
		return 0xFF1A00
	default:
		return 0xFFFFFF
	}
}

var organikLabels = []string{
	"cangkang_pala", "daun_kering", "daun_segar", "kantung_teh", "kayu",
	"kulit_alpukat", "kulit_bawang_putih", "kulit_buah_cokelat", "kulit_buah_naga",
	"kulit_kacang", "kulit_lemon", "kulit_nanas", "kulit_pisang", "kulit_salak",
	"kulit_semangka", "kulit_telur", "sabut_kelapa", "tempurung_kelapa",
	"tongkol_jagung", "tulang_ikan",
}

var anorganikLabels = []string{
	"botol", "bubblewrap", "busa", "gelas_plastik", "garpu", "kantung_plastik",
	"kaleng", "kardus", "kertas", "kemasan_plastik", "mika_plastik", "pipa",
	"pulpen", "sandal", "sepatu", "sendok", "sisir", "styrofoam", "thinwall", "seng",
}

var b3Labels = []string{
	"aerosol", "baterai", "botol_infus", "kemasan_salep", "lampu", "masker",
	"obat_obatan_strip", "ponsel", "suntik", "termometer",
}

var categories = func() map[string]Category {
	m := make(map[string]Category, len(organikLabels)+len(anorganikLabels)+len(b3Labels))
	for _, l := range organikLabels {
		m[l] = Organik
	}
	for _, l := range anorganikLabels {
		m[l] = Anorganik
	}
	for _, l := range b3Labels {
		m[l] = B3
	}
	return m
}()

// Classify returns the category for a detector label. Matching is
// case-insensitive.
func Classify(label string) Category {
	return categories[strings.ToLower(strings.TrimSpace(label))]
}

// Labels returns the labels belonging to c.
func Labels(c Category) []string {
	switch c {
	case Organik:
		return append([]string(nil), organikLabels...)
	case Anorganik:
		return append([]string(nil), anorganikLabels...)
	case B3:
		return append([]string(nil), b3Labels...)
	default:
		return nil
	}
}

// Counts is the number of detections per category in one result.
type Counts struct {
	Organik   int `json:"organik"`
	Anorganik int `json:"anorganik"`
	B3        int `json:"b3"`
	Unknown   int `json:"unknown"`
}

// Total returns the number of classified detections.
func (c Counts) Total() int {
	return c.Organik + c.Anorganik + c.B3
}

// Tally counts detections by category.
func Tally(dets []detector.Detection) Counts {
	var c Counts
	for _, d := range dets {
		switch Classify(d.Label) {
		case Organik:
			c.Organik++
		case Anorganik:
			c.Anorganik++
		case B3:
			c.B3++
		default:
			c.Unknown++
		}
	}
	return c
}
