package robot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrationEntry_Clamp(t *testing.T) {
	e := CalibrationEntry{Min: 1074, Max: 3022}

	tests := []struct {
		pos      int
		expected int
	}{
		{99999, 3022}, // far above -> max
		{-5, 1074},    // below -> min
		{1074, 1074},  // min is inclusive
		{3022, 3022},  // max is inclusive
		{2000, 2000},  // inside untouched
	}

	for _, tt := range tests {
		if got := e.Clamp(tt.pos); got != tt.expected {
			t.Errorf("Clamp(%d) = %d, want %d", tt.pos, got, tt.expected)
		}
	}
}

func TestCalibrationEntry_Validate(t *testing.T) {
	tests := []struct {
		entry CalibrationEntry
		ok    bool
	}{
		{CalibrationEntry{Min: 1100, Max: 3000}, true},
		{CalibrationEntry{Min: 0, Max: 4095}, true},
		{CalibrationEntry{Min: 2000, Max: 2000}, false},
		{CalibrationEntry{Min: 3000, Max: 1100}, false},
		{CalibrationEntry{Min: -1, Max: 100}, false},
		{CalibrationEntry{Min: 100, Max: 4096}, false},
	}

	for _, tt := range tests {
		err := tt.entry.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.entry, err, tt.ok)
		}
	}
}

func TestCalibrationEntry_Midpoint(t *testing.T) {
	assert.Equal(t, 2050, CalibrationEntry{Min: 1100, Max: 3000}.Midpoint())
	assert.Equal(t, 2047, CalibrationEntry{Min: 0, Max: 4095}.Midpoint())
}

func TestCalibration_IDs(t *testing.T) {
	cal := Calibration{
		Thumb:    {Min: 1, Max: 2},
		Base:     {Min: 1, Max: 2},
		Wrist:    {Min: 1, Max: 2},
		Shoulder: {Min: 1, Max: 2},
	}

	assert.Equal(t, []JointID{Base, Shoulder, Wrist, Thumb}, cal.IDs())
}

func TestCalibration_Range(t *testing.T) {
	cal := Calibration{Wrist: {Min: 1100, Max: 3000, Name: "wrist"}}

	e, ok := cal.Range(MustJoint(Wrist))
	assert.True(t, ok)
	assert.Equal(t, 1100, e.Min)

	e, ok = cal.Range(MustJoint(Thumb))
	assert.False(t, ok)
	assert.Equal(t, CalibrationEntry{Min: ThumbInitialMin, Max: ThumbInitialMax, Name: "thumb"}, e)
}

func TestCalibration_JSONUsesStringKeys(t *testing.T) {
	cal := Calibration{Base: {Min: 1074, Max: 3022, Name: "base"}}

	data, err := json.Marshal(cal)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1": {"min": 1074, "max": 3022, "name": "base"}}`, string(data))
}

func TestCalibration_UnmarshalRejectsBadKeys(t *testing.T) {
	var cal Calibration
	assert.Error(t, json.Unmarshal([]byte(`{"base": {"min": 1, "max": 2}}`), &cal))
	assert.Error(t, json.Unmarshal([]byte(`{"9": {"min": 1, "max": 2}}`), &cal))
}

func fullCalibration() Calibration {
	return Calibration{
		Base:     {Min: 1074, Max: 3022, Name: "base"},
		Shoulder: {Min: 900, Max: 3100, Name: "shoulder"},
		Elbow:    {Min: 812, Max: 3301, Name: "elbow"},
		Wrist:    {Min: 1100, Max: 3000, Name: "wrist"},
		Hand:     {Min: 50, Max: 4045, Name: "hand"},
		Thumb:    {Min: 2048, Max: 2500, Name: "thumb"},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "calibration.json"))
	cal := fullCalibration()

	require.NoError(t, store.Save(cal))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cal, loaded)
}

func TestStore_SaveIsPrettyPrinted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	store := NewStore(path)
	require.NoError(t, store.Save(Calibration{Base: {Min: 1074, Max: 3022, Name: "base"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"1\": {\n        \"min\": 1074,")
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "calibration.json"))
	require.NoError(t, store.Save(fullCalibration()))
	require.NoError(t, store.Save(fullCalibration()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"))

	_, err := store.Load()
	assert.True(t, errors.Is(err, ErrCalibrationNotFound), "got %v", err)
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := map[string]string{
		"truncated":   `{"1": {"min": 10`,
		"empty":       `{}`,
		"bad key":     `{"base": {"min": 1074, "max": 3022}}`,
		"inverted":    `{"1": {"min": 3022, "max": 1074, "name": "base"}}`,
		"not an obj":  `[1, 2, 3]`,
		"out of span": `{"1": {"min": 0, "max": 5000, "name": "base"}}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "calibration.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			_, err := NewStore(path).Load()
			assert.True(t, errors.Is(err, ErrCalibrationCorrupt), "got %v", err)
		})
	}
}

func TestStore_Update(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "calibration.json"))

	err := store.Update(func(cur Calibration) (Calibration, error) {
		assert.Nil(t, cur)
		return Calibration{Base: {Min: 1000, Max: 3000, Name: "base"}}, nil
	})
	require.NoError(t, err)

	err = store.Update(func(cur Calibration) (Calibration, error) {
		require.Len(t, cur, 1)
		cur[Wrist] = CalibrationEntry{Min: 1100, Max: 3000, Name: "wrist"}
		return cur, nil
	})
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []JointID{Base, Wrist}, loaded.IDs())
}

func TestStore_ConcurrentUpdatesKeepEveryWrite(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "calibration.json"))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, j := range AllJoints() {
		wg.Add(1)
		go func(j Joint) {
			defer wg.Done()
			<-start
			err := store.Update(func(cur Calibration) (Calibration, error) {
				next := cur.Clone()
				// Widen the window between load and save.
				time.Sleep(5 * time.Millisecond)
				next[j.ID] = CalibrationEntry{Min: 1000, Max: 3000, Name: j.Name}
				return next, nil
			})
			assert.NoError(t, err)
		}(j)
	}
	close(start)
	wg.Wait()

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []JointID{Base, Shoulder, Elbow, Wrist, Hand, Thumb}, loaded.IDs())
}

func TestStore_UpdateErrorKeepsFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "calibration.json"))
	require.NoError(t, store.Save(fullCalibration()))

	err := store.Update(func(Calibration) (Calibration, error) {
		return nil, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, fullCalibration(), loaded)
}
