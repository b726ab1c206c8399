package robot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "robot",
})

var (
	// ErrCalibrationNotFound means no calibration file exists yet.
	ErrCalibrationNotFound = errors.New("calibration not found")
	// ErrCalibrationCorrupt means the calibration file exists but is unusable.
	ErrCalibrationCorrupt = errors.New("calibration corrupt")
)

// CalibrationEntry holds the calibrated range of a single joint.
type CalibrationEntry struct {
	Min  int    `json:"min"`
	Max  int    `json:"max"`
	Name string `json:"name"`
}

// Validate checks that the range is ordered and inside the encoder domain.
func (e CalibrationEntry) Validate() error {
	if e.Min < EncoderMin || e.Max > EncoderMax {
		return errors.Errorf("range [%d,%d] outside encoder domain [%d,%d]", e.Min, e.Max, EncoderMin, EncoderMax)
	}
	if e.Min >= e.Max {
		return errors.Errorf("degenerate range: min %d >= max %d", e.Min, e.Max)
	}
	return nil
}

// Midpoint returns the centre of the calibrated range.
func (e CalibrationEntry) Midpoint() int {
	return (e.Min + e.Max) / 2
}

// Clamp bounds pos to [Min, Max].
func (e CalibrationEntry) Clamp(pos int) int {
	if pos < e.Min {
		return e.Min
	}
	if pos > e.Max {
		return e.Max
	}
	return pos
}

// Calibration holds calibration data for all joints, keyed by joint ID.
type Calibration map[JointID]CalibrationEntry

// IDs returns the calibrated joint IDs in ascending order.
func (c Calibration) IDs() []JointID {
	ids := make([]JointID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Range returns the calibrated range of a joint, or its nominal range if the
// joint has not been calibrated. The second result reports whether the range
// came from calibration.
func (c Calibration) Range(j Joint) (CalibrationEntry, bool) {
	if e, ok := c[j.ID]; ok {
		return e, true
	}
	return j.DefaultEntry(), false
}

// Clone returns a copy that can be mutated independently.
func (c Calibration) Clone() Calibration {
	out := make(Calibration, len(c))
	for id, e := range c {
		out[id] = e
	}
	return out
}

// MarshalJSON writes string keys in ID order.
func (c Calibration) MarshalJSON() ([]byte, error) {
	raw := make(map[string]CalibrationEntry, len(c))
	for id, e := range c {
		raw[strconv.Itoa(int(id))] = e
	}
	return json.Marshal(raw)
}

// UnmarshalJSON coerces string keys into joint IDs.
func (c *Calibration) UnmarshalJSON(data []byte) error {
	var raw map[string]CalibrationEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cal := make(Calibration, len(raw))
	for key, e := range raw {
		n, err := strconv.Atoi(key)
		if err != nil {
			return errors.Errorf("invalid joint id %q", key)
		}
		if _, ok := JointByID(JointID(n)); !ok {
			return errors.Errorf("unknown joint id %d", n)
		}
		cal[JointID(n)] = e
	}
	*c = cal
	return nil
}

// Store persists calibration data as a single JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the calibration file. A missing file yields ErrCalibrationNotFound;
// anything that does not parse into a non-empty, valid mapping yields
// ErrCalibrationCorrupt.
func (s *Store) Load() (Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Calibration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrCalibrationNotFound, s.path)
		}
		return nil, errors.Wrap(err, "read calibration file")
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, errors.Wrapf(ErrCalibrationCorrupt, "parse %s: %v", s.path, err)
	}
	if len(cal) == 0 {
		return nil, errors.Wrapf(ErrCalibrationCorrupt, "%s is empty", s.path)
	}
	for id, e := range cal {
		if err := e.Validate(); err != nil {
			return nil, errors.Wrapf(ErrCalibrationCorrupt, "joint %d: %v", id, err)
		}
	}

	return cal, nil
}

// Save overwrites the calibration file with cal.
func (s *Store) Save(cal Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(cal)
}

func (s *Store) save(cal Calibration) error {
	data, err := json.MarshalIndent(cal, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode calibration")
	}

	// Write next to the target and rename so a crash never leaves a torn file.
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp calibration file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write calibration file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync calibration file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close calibration file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "replace calibration file")
	}

	logger.WithField("path", s.path).Info("calibration saved")
	return nil
}

// Update runs a load-modify-save cycle while holding the store lock. fn
// receives nil when there is no usable calibration on disk.
func (s *Store) Update(fn func(Calibration) (Calibration, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load()
	if err != nil {
		if !errors.Is(err, ErrCalibrationNotFound) && !errors.Is(err, ErrCalibrationCorrupt) {
			return err
		}
		cur = nil
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	return s.save(next)
}
