package ml

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	ClassifierFile = "classifier.json"
	RegressorFile  = "regressor.json"
	ScalerFile     = "scaler.json"
	EncodersFile   = "encoders.json"
	ManifestFile   = "manifest.json"
)

// keepVersions is how many published directories survive a Save. The
// previous one stays so a Load that resolved it just before the swap can
// finish reading.
const keepVersions = 2

const publishAttempts = 5

func artifactFiles() []string {
	return []string{ClassifierFile, RegressorFile, ScalerFile, EncodersFile}
}

// ArtifactSet is everything one training run produces. It is never modified
// after construction; retraining builds a new set.
type ArtifactSet struct {
	Preprocessor *DataPreprocessor
	Classifier   *RandomForestClassifier
	Regressor    *RandomForestRegressor
	TrainedAt    time.Time
}

type artifactManifest struct {
	TrainedAt       time.Time `json:"trained_at"`
	ClassifierTrees int       `json:"classifier_trees"`
	RegressorTrees  int       `json:"regressor_trees"`
}

// ArtifactStore persists artifact sets. The configured path is a symlink to
// the current version directory (<dir>.v<unixnano>); Save writes a new
// version and swaps the link with a single rename.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: filepath.Clean(dir)}
}

func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Exists reports whether all four artifact files are present.
func (s *ArtifactStore) Exists() bool {
	dir, err := s.resolve()
	if err != nil {
		return false
	}
	return complete(dir)
}

func complete(dir string) bool {
	for _, name := range artifactFiles() {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// resolve pins the directory a reader will use for every file of one set.
func (s *ArtifactStore) resolve() (string, error) {
	dir, err := filepath.EvalSymlinks(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrArtifactsMissing
	}
	return dir, err
}

// Save writes the set into a new version directory and points the artifact
// path at it. Concurrent Saves each publish their own version; the last
// link swap wins.
func (s *ArtifactStore) Save(set *ArtifactSet) error {
	if set == nil || set.Preprocessor == nil || set.Classifier == nil || set.Regressor == nil {
		return errors.New("artifact set is incomplete")
	}
	parent := filepath.Dir(s.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create artifact parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(s.dir)+"-staging-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	blobs := map[string]any{
		ClassifierFile: set.Classifier,
		RegressorFile:  set.Regressor,
		ScalerFile:     set.Preprocessor.Scaler(),
		EncodersFile:   set.Preprocessor.Encoders(),
		ManifestFile: artifactManifest{
			TrainedAt:       set.TrainedAt,
			ClassifierTrees: len(set.Classifier.Trees),
			RegressorTrees:  len(set.Regressor.Trees),
		},
	}
	for _, name := range append(artifactFiles(), ManifestFile) {
		if err := writeJSONFile(filepath.Join(staging, name), blobs[name]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return err
	}

	version, err := s.claimVersion(staging)
	if err != nil {
		return fmt.Errorf("publish artifacts: %w", err)
	}
	if err := s.link(version); err != nil {
		_ = os.RemoveAll(version)
		return fmt.Errorf("publish artifacts: %w", err)
	}
	s.prune()
	return nil
}

func (s *ArtifactStore) versionPath(stamp int64) string {
	return fmt.Sprintf("%s.v%019d", s.dir, stamp)
}

// claimVersion renames the finished staging directory to a fresh version
// name. Renaming onto an existing non-empty directory fails, so a clash
// with a concurrent Save just retries with a later stamp.
func (s *ArtifactStore) claimVersion(staging string) (string, error) {
	var err error
	for i := 0; i < publishAttempts; i++ {
		version := s.versionPath(time.Now().UnixNano())
		if err = os.Rename(staging, version); err == nil {
			return version, nil
		}
	}
	return "", err
}

func (s *ArtifactStore) link(version string) error {
	tmp := version + ".link"
	if err := os.Symlink(filepath.Base(version), tmp); err != nil {
		return err
	}
	if err := s.retirePlainDir(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.dir); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// retirePlainDir moves a real directory at the artifact path (written by an
// older release, or by hand) out of the way as the oldest version.
func (s *ArtifactStore) retirePlainDir() error {
	info, err := os.Lstat(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 || !info.IsDir() {
		return nil
	}
	err = os.Rename(s.dir, s.versionPath(0))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// prune removes versions older than the linked one, keeping the newest
// keepVersions regardless.
func (s *ArtifactStore) prune() {
	target, err := os.Readlink(s.dir)
	if err != nil {
		return
	}
	versions, err := s.versions()
	if err != nil {
		return
	}
	parent := filepath.Dir(s.dir)
	for i, name := range versions {
		if i >= len(versions)-keepVersions || name >= target {
			break
		}
		_ = os.RemoveAll(filepath.Join(parent, name))
	}
}

// versions lists published version directory names, oldest first.
func (s *ArtifactStore) versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(s.dir))
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(s.dir) + ".v"
	var names []string
	for _, entry := range entries {
		stamp, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok || len(stamp) != 19 || !entry.IsDir() {
			continue
		}
		if _, err := strconv.ParseUint(stamp, 10, 64); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load reads a complete set from the version the artifact path points at.
// A missing path or any missing file yields ErrArtifactsMissing.
func (s *ArtifactStore) Load() (*ArtifactSet, error) {
	dir, err := s.resolve()
	if err != nil {
		return nil, err
	}
	if !complete(dir) {
		return nil, ErrArtifactsMissing
	}

	clf, err := LoadModel(ModelTypeRandomForestClassifier, filepath.Join(dir, ClassifierFile))
	if err != nil {
		return nil, s.loadErr(err)
	}
	reg, err := LoadModel(ModelTypeRandomForestRegressor, filepath.Join(dir, RegressorFile))
	if err != nil {
		return nil, s.loadErr(err)
	}
	scaler := &StandardScaler{}
	if err := readJSONFile(filepath.Join(dir, ScalerFile), scaler); err != nil {
		return nil, s.loadErr(err)
	}
	encoders := make(map[string]*LabelEncoder)
	if err := readJSONFile(filepath.Join(dir, EncodersFile), &encoders); err != nil {
		return nil, s.loadErr(err)
	}
	preprocessor, err := NewDataPreprocessor(encoders, scaler)
	if err != nil {
		return nil, fmt.Errorf("artifacts in %s: %w", dir, err)
	}

	set := &ArtifactSet{
		Preprocessor: preprocessor,
		Classifier:   clf.(*RandomForestClassifier),
		Regressor:    reg.(*RandomForestRegressor),
	}
	var manifest artifactManifest
	err = readJSONFile(filepath.Join(dir, ManifestFile), &manifest)
	switch {
	case err == nil:
		if manifest.ClassifierTrees != len(set.Classifier.Trees) || manifest.RegressorTrees != len(set.Regressor.Trees) {
			return nil, fmt.Errorf("artifacts in %s do not match their manifest", dir)
		}
		set.TrainedAt = manifest.TrainedAt
	case errors.Is(err, fs.ErrNotExist):
		// Sets saved before manifests existed.
		if info, statErr := os.Stat(filepath.Join(dir, ClassifierFile)); statErr == nil {
			set.TrainedAt = info.ModTime().UTC()
		}
	default:
		return nil, err
	}
	return set, nil
}

// loadErr maps a version directory pruned mid-read to ErrArtifactsMissing.
func (s *ArtifactStore) loadErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrArtifactsMissing
	}
	return err
}
