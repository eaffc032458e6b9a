// Package sidecar persists the edit settings of an image in a small
// JSON file next to it, in a hidden directory.
package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/geometry"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

const (
	HiddenDir = ".rawroom"
	Version   = "1.0"
)

// Overridden by tests.
var now = time.Now

// Settings is the edit state of one image. Every field is optional: a
// nil field was not in the file, which is not the same as a zero. Only
// Rating is ever filled in with a default.
type Settings struct {
	Rating *int `json:"rating,omitempty"`

	Exposure   *float64 `json:"exposure,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	Blacks     *float64 `json:"blacks,omitempty"`
	Whites     *float64 `json:"whites,omitempty"`
	Shadows    *float64 `json:"shadows,omitempty"`
	Highlights *float64 `json:"highlights,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`

	SharpenValue   *float64 `json:"sharpen_value,omitempty"`
	SharpenRadius  *float64 `json:"sharpen_radius,omitempty"`
	SharpenPercent *float64 `json:"sharpen_percent,omitempty"`
	DeNoise        *float64 `json:"de_noise,omitempty"`
	DeHaze         *float64 `json:"de_haze,omitempty"`
	DenoiseMethod  *string  `json:"denoise_method,omitempty"`

	Rotation *float64       `json:"rotation,omitempty"`
	FlipH    *bool          `json:"flip_h,omitempty"`
	FlipV    *bool          `json:"flip_v,omitempty"`
	Crop     *geometry.Rect `json:"crop,omitempty"`
}

// Record is the envelope written to disk.
type Record struct {
	Version      string    `json:"version"`
	LastModified float64   `json:"last_modified"` // unix seconds
	RawPath      string    `json:"raw_path"`
	Settings     *Settings `json:"settings"`
}

// Path is where the sidecar for imagePath lives. No I/O.
func Path(imagePath string) string {
	return filepath.Join(filepath.Dir(imagePath), HiddenDir, filepath.Base(imagePath)+".json")
}

// Exists reports whether imagePath has a sidecar.
func Exists(imagePath string) bool {
	_, err := os.Stat(Path(imagePath))
	return err == nil
}

// Save writes s as the sidecar for imagePath, replacing any that was
// there. A missing rating is stored as 0. s is not modified.
func Save(imagePath string, s *Settings) error {
	if s == nil {
		s = &Settings{}
	}
	toSave := s.Clone()
	if toSave.Rating == nil {
		toSave.Rating = Int(0)
	}

	rec := Record{
		Version:      Version,
		LastModified: float64(now().UnixNano()) / 1e9,
		RawPath:      imagePath,
		Settings:     toSave,
	}

	b, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("sidecar marshal '%s': %w", imagePath, err)
	}

	p := Path(imagePath)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("sidecar dir '%s': %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, b, 0644); err != nil {
		return fmt.Errorf("sidecar write '%s': %w", p, err)
	}
	return nil
}

// Load reads the settings for imagePath. It returns nil if there is no
// sidecar, or if it can't be read or parsed; that is logged, but it is
// not an error to the caller, who should fall back to auto settings.
func Load(imagePath string) *Settings {
	rec, err := LoadRecord(imagePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("sidecar: ignoring %s\n", err)
		}
		return nil
	}

	s := rec.Settings
	if s.Rating == nil {
		s.Rating = Int(0)
	}
	return s
}

// LoadRecord reads the whole envelope. Unknown keys are ignored.
func LoadRecord(imagePath string) (*Record, error) {
	p := Path(imagePath)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("sidecar read '%s': %w", p, err)
	}

	rec := Record{}
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("sidecar parse '%s': %w", p, err)
	}
	if rec.Settings == nil {
		return nil, fmt.Errorf("sidecar '%s' has no settings", p)
	}
	return &rec, nil
}

// Rename moves the sidecar of oldPath to where newPath's should be. If
// oldPath has no sidecar, it does nothing.
func Rename(oldPath, newPath string) error {
	oldP, newP := Path(oldPath), Path(newPath)
	if _, err := os.Stat(oldP); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(newP), 0755); err != nil {
		return fmt.Errorf("sidecar dir '%s': %w", filepath.Dir(newP), err)
	}
	if err := os.Rename(oldP, newP); err != nil {
		return fmt.Errorf("sidecar rename '%s': %w", oldP, err)
	}
	return nil
}

// ApplyPreservingRating saves s as imagePath's settings, but keeps the
// rating imagePath already had (0 if none). This is "paste settings".
func ApplyPreservingRating(imagePath string, s *Settings) error {
	rating := 0
	if existing := Load(imagePath); existing != nil {
		rating = existing.RatingOr0()
	}
	toSave := s.Clone()
	toSave.Rating = Int(rating)
	return Save(imagePath, toSave)
}

// Helpers for filling in Settings.
func Int(i int) *int           { return &i }
func Float(f float64) *float64 { return &f }
func Bool(b bool) *bool        { return &b }
func String(s string) *string  { return &s }

func floatOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}

func (s *Settings) RatingOr0() int {
	if s == nil || s.Rating == nil {
		return 0
	}
	return *s.Rating
}

// Clone is a deep copy.
func (s *Settings) Clone() *Settings {
	out := &Settings{}
	b, _ := json.Marshal(s)
	json.Unmarshal(b, out)
	return out
}

// WithoutRating is a copy with the rating dropped; this is what "copy
// settings" puts on the clipboard, since ratings are per image.
func (s *Settings) WithoutRating() *Settings {
	out := s.Clone()
	out.Rating = nil
	return out
}

// ToneParams lays the settings that are present over the neutral
// parameters.
func (s *Settings) ToneParams() tonemap.Params {
	p := tonemap.Neutral()
	if s == nil {
		return p
	}

	p.Exposure = floatOr(s.Exposure, p.Exposure)
	p.Contrast = floatOr(s.Contrast, p.Contrast)
	p.Blacks = floatOr(s.Blacks, p.Blacks)
	p.Whites = floatOr(s.Whites, p.Whites)
	p.Shadows = floatOr(s.Shadows, p.Shadows)
	p.Highlights = floatOr(s.Highlights, p.Highlights)
	p.Saturation = floatOr(s.Saturation, p.Saturation)

	p.SharpenValue = floatOr(s.SharpenValue, p.SharpenValue)
	p.SharpenRadius = floatOr(s.SharpenRadius, p.SharpenRadius)
	p.SharpenPercent = floatOr(s.SharpenPercent, p.SharpenPercent)
	p.DeNoise = floatOr(s.DeNoise, p.DeNoise)
	p.DeHaze = floatOr(s.DeHaze, p.DeHaze)
	if s.DenoiseMethod != nil {
		p.DenoiseMethod = *s.DenoiseMethod
	}

	p.Geometry.Rotation = floatOr(s.Rotation, 0)
	if s.FlipH != nil {
		p.Geometry.FlipH = *s.FlipH
	}
	if s.FlipV != nil {
		p.Geometry.FlipV = *s.FlipV
	}
	if s.Crop != nil {
		c := *s.Crop
		p.Geometry.Crop = &c
	}
	return p
}

// FromParams is the full settings for p, every key present.
func FromParams(p tonemap.Params, rating int) *Settings {
	s := &Settings{
		Rating:         Int(rating),
		Exposure:       Float(p.Exposure),
		Contrast:       Float(p.Contrast),
		Blacks:         Float(p.Blacks),
		Whites:         Float(p.Whites),
		Shadows:        Float(p.Shadows),
		Highlights:     Float(p.Highlights),
		Saturation:     Float(p.Saturation),
		SharpenValue:   Float(p.SharpenValue),
		SharpenRadius:  Float(p.SharpenRadius),
		SharpenPercent: Float(p.SharpenPercent),
		DeNoise:        Float(p.DeNoise),
		DeHaze:         Float(p.DeHaze),
		DenoiseMethod:  String(p.DenoiseMethod),
		Rotation:       Float(p.Geometry.Rotation),
		FlipH:          Bool(p.Geometry.FlipH),
		FlipV:          Bool(p.Geometry.FlipV),
	}
	if p.Geometry.Crop != nil {
		c := *p.Geometry.Crop
		s.Crop = &c
	}
	return s
}

func (s *Settings) String() string {
	if s == nil {
		return "sidecar[none]"
	}
	return fmt.Sprintf("sidecar[rating %d, %s]", s.RatingOr0(), s.ToneParams())
}
