package sidecar

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucashutch/pyRawRoom-sub000/pkg/geometry"
	"github.com/lucashutch/pyRawRoom-sub000/pkg/tonemap"
)

func writeRaw(t *testing.T, imagePath, body string) {
	t.Helper()
	p := Path(imagePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/photos/2024", HiddenDir, "IMG_0001.CR3.json"), Path("/photos/2024/IMG_0001.CR3"))
	assert.Equal(t, filepath.Join(HiddenDir, "a.dng.json"), Path("a.dng"))
	assert.NotEqual(t, Path("/x/a.dng"), Path("/x/b.dng"))
	assert.NotEqual(t, Path("/x/a.dng"), Path("/y/a.dng"))
}

func TestRoundTrip(t *testing.T) {
	img := filepath.Join(t.TempDir(), "shot.dng")
	s := &Settings{
		Rating:        Int(4),
		Exposure:      Float(1.25),
		Contrast:      Float(1.1),
		Whites:        Float(0.92),
		Saturation:    Float(0),
		DenoiseMethod: String("High Quality"),
		FlipH:         Bool(true),
		Crop:          &geometry.Rect{0.1, 0.2, 0.9, 0.8},
	}

	require.NoError(t, Save(img, s))
	assert.True(t, Exists(img))

	got := Load(img)
	require.NotNil(t, got)
	assert.Equal(t, s, got)
}

func TestSaveDefaultsRating(t *testing.T) {
	img := filepath.Join(t.TempDir(), "shot.dng")
	s := &Settings{Exposure: Float(0.5)}

	require.NoError(t, Save(img, s))
	assert.Nil(t, s.Rating, "caller's settings untouched")

	got := Load(img)
	require.NotNil(t, got)
	assert.Equal(t, 0, *got.Rating)
	assert.Equal(t, 0.5, *got.Exposure)
}

func TestEnvelope(t *testing.T) {
	now = func() time.Time { return time.Unix(1700000000, 500000000) }
	defer func() { now = time.Now }()

	img := filepath.Join(t.TempDir(), "shot.dng")
	require.NoError(t, Save(img, &Settings{}))

	rec, err := LoadRecord(img)
	require.NoError(t, err)
	assert.Equal(t, "1.0", rec.Version)
	assert.Equal(t, img, rec.RawPath)
	assert.InDelta(t, 1700000000.5, rec.LastModified, 1e-6)

	raw, err := os.ReadFile(Path(img))
	require.NoError(t, err)
	m := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, map[string]interface{}{"rating": 0.0}, m["settings"])
}

func TestLoadOldSidecarWithoutRating(t *testing.T) {
	img := filepath.Join(t.TempDir(), "old.cr2")
	writeRaw(t, img, `{"version": "1.0", "last_modified": 1.0, "raw_path": "old.cr2",
		"settings": {"exposure": 0.7, "contrast": 1.0}}`)

	got := Load(img)
	require.NotNil(t, got)
	assert.Equal(t, 0, *got.Rating)
	assert.Equal(t, 0.7, *got.Exposure)
	assert.Equal(t, 1.0, *got.Contrast)

	// absent keys are not made up
	assert.Nil(t, got.Saturation)
	assert.Nil(t, got.DeNoise)
	assert.Nil(t, got.Crop)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	img := filepath.Join(t.TempDir(), "new.cr3")
	writeRaw(t, img, `{"version": "2.0", "future_field": [1,2,3], "raw_path": "new.cr3",
		"settings": {"rating": 3, "temperature": 5500, "tint": {"a": 1}, "exposure": -0.5, "crop": null}}`)

	got := Load(img)
	require.NotNil(t, got)
	assert.Equal(t, 3, *got.Rating)
	assert.Equal(t, -0.5, *got.Exposure)
	assert.Nil(t, got.Crop)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	dir := t.TempDir()
	assert.Nil(t, Load(filepath.Join(dir, "nothing.dng")))
	assert.Empty(t, buf.String(), "a missing sidecar is normal, not logged")

	bad := filepath.Join(dir, "bad.dng")
	writeRaw(t, bad, `{"version": "1.0", "settings": {`)
	assert.Nil(t, Load(bad))
	assert.Contains(t, buf.String(), "bad.dng.json")

	noSettings := filepath.Join(dir, "empty.dng")
	writeRaw(t, noSettings, `{"version": "1.0"}`)
	assert.Nil(t, Load(noSettings))

	wrongType := filepath.Join(dir, "wrong.dng")
	writeRaw(t, wrongType, `{"settings": {"exposure": "lots"}}`)
	assert.Nil(t, Load(wrongType))
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	oldImg := filepath.Join(dir, "a.dng")
	newImg := filepath.Join(dir, "sub", "dir", "b.dng")

	s := &Settings{Rating: Int(5), Exposure: Float(0.3)}
	require.NoError(t, Save(oldImg, s))
	require.NoError(t, Rename(oldImg, newImg))

	_, err := os.Stat(Path(oldImg))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, s, Load(newImg))

	// no sidecar: no-op
	require.NoError(t, Rename(filepath.Join(dir, "none.dng"), filepath.Join(dir, "other.dng")))
	assert.False(t, Exists(filepath.Join(dir, "other.dng")))
}

func TestApplyPreservingRating(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.dng")
	dst := filepath.Join(dir, "dst.dng")

	require.NoError(t, Save(src, &Settings{Rating: Int(1), Exposure: Float(2.0)}))
	require.NoError(t, Save(dst, &Settings{Rating: Int(5), Exposure: Float(-1.0)}))

	clip := Load(src).WithoutRating()
	assert.Nil(t, clip.Rating)

	require.NoError(t, ApplyPreservingRating(dst, clip))
	got := Load(dst)
	assert.Equal(t, 5, *got.Rating)
	assert.Equal(t, 2.0, *got.Exposure)

	fresh := filepath.Join(dir, "fresh.dng")
	require.NoError(t, ApplyPreservingRating(fresh, clip))
	assert.Equal(t, 0, *Load(fresh).Rating)
}

func TestToneParamsMerge(t *testing.T) {
	var none *Settings
	assert.Equal(t, tonemap.Neutral(), none.ToneParams())

	s := &Settings{Exposure: Float(1.0), Saturation: Float(0), Rotation: Float(3), FlipV: Bool(true)}
	p := s.ToneParams()
	assert.Equal(t, 1.0, p.Exposure)
	assert.Equal(t, 0.0, p.Saturation)
	assert.Equal(t, 1.0, p.Contrast)
	assert.Equal(t, 1.0, p.Whites)
	assert.Equal(t, 0.5, p.SharpenRadius)
	assert.Equal(t, 3.0, p.Geometry.Rotation)
	assert.True(t, p.Geometry.FlipV)
}

func TestFromParamsRoundTrip(t *testing.T) {
	p := tonemap.Neutral()
	p.Exposure = 0.75
	p.DeNoise = 5
	p.DenoiseMethod = "bilateral"
	p.Geometry.Crop = &geometry.Rect{0, 0, 0.5, 0.5}

	s := FromParams(p, 2)
	assert.Equal(t, 2, *s.Rating)
	assert.Equal(t, p, s.ToneParams())
}

type recordingSaver struct {
	mu    sync.Mutex
	saves map[string][]*Settings
}

func (r *recordingSaver) save(path string, s *Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves[path] = append(r.saves[path], s)
	return nil
}

func (r *recordingSaver) get(path string) []*Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Settings{}, r.saves[path]...)
}

func TestAutoSaverDebounces(t *testing.T) {
	rec := &recordingSaver{saves: map[string][]*Settings{}}
	a := NewAutoSaver(50 * time.Millisecond)
	a.save = rec.save

	s := &Settings{}
	for i := 0; i < 10; i++ {
		s.Exposure = Float(float64(i))
		a.Schedule("a.dng", s)
	}
	assert.True(t, a.Pending("a.dng"))
	assert.Empty(t, rec.get("a.dng"), "nothing written before the delay")

	require.Eventually(t, func() bool { return len(rec.get("a.dng")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 9.0, *rec.get("a.dng")[0].Exposure)
	assert.False(t, a.Pending("a.dng"))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.get("a.dng"), 1)
}

func TestAutoSaverFlushAndClose(t *testing.T) {
	rec := &recordingSaver{saves: map[string][]*Settings{}}
	a := NewAutoSaver(time.Hour)
	a.save = rec.save

	a.Schedule("a.dng", &Settings{Rating: Int(1)})
	a.Schedule("b.dng", &Settings{Rating: Int(2)})
	require.NoError(t, a.Flush())
	assert.Len(t, rec.get("a.dng"), 1)
	assert.Len(t, rec.get("b.dng"), 1)

	require.NoError(t, a.Close())
	a.Schedule("c.dng", &Settings{})
	assert.False(t, a.Pending("c.dng"))
}

func TestAutoSaverWritesSidecar(t *testing.T) {
	img := filepath.Join(t.TempDir(), "x.dng")
	a := NewAutoSaver(time.Hour)
	a.Schedule(img, &Settings{Exposure: Float(0.25)})
	require.NoError(t, a.Close())

	got := Load(img)
	require.NotNil(t, got)
	assert.Equal(t, 0.25, *got.Exposure)
}
