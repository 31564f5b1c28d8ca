package ml

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// Handle is a loaded model plus what is known about it. A Handle is never
// mutated after Load returns; uploading a new model produces a new Handle.
type Handle struct {
	Model       Model
	Kind        string
	Codec       string
	NFeaturesIn int
	Checksum    string
	LoadedAt    time.Time
}

func (h *Handle) SupportsProbability() bool {
	_, ok := h.Model.(Probabilistic)
	return ok
}

// Importance returns per-feature weights when the model exposes them.
func (h *Handle) Importance() ([]float64, bool) {
	imp, ok := h.Model.(Importancer)
	if !ok {
		return nil, false
	}
	return imp.FeatureImportance(), true
}

func Load(data []byte) (*Handle, error) {
	return LoadFrom(bytes.NewReader(data))
}

// LoadFrom decodes with the primary codec and, only if that fails, rewinds
// and retries with the secondary codec.
func LoadFrom(r io.ReadSeeker) (*Handle, error) {
	primary, secondary := loadOrder[0], loadOrder[1]

	handle, primaryErr := decodeHandle(r, primary)
	if primaryErr == nil {
		return withChecksum(r, handle)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, &LoadError{Primary: primaryErr, Secondary: fmt.Errorf("rewind: %w", err)}
	}
	handle, secondaryErr := decodeHandle(r, secondary)
	if secondaryErr != nil {
		return nil, &LoadError{Primary: primaryErr, Secondary: secondaryErr}
	}
	return withChecksum(r, handle)
}

func LoadFile(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFrom(f)
}

func decodeHandle(r io.Reader, codec Codec) (*Handle, error) {
	artifact, err := codec.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", codec.Name(), err)
	}
	model, err := artifact.Model()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", codec.Name(), err)
	}
	handle := &Handle{
		Model:       model,
		Kind:        artifact.Kind,
		Codec:       codec.Name(),
		NFeaturesIn: artifact.NFeaturesIn,
		LoadedAt:    time.Now().UTC(),
	}
	if fc, ok := model.(FeatureCounter); ok && fc.FeatureCount() > 0 {
		handle.NFeaturesIn = fc.FeatureCount()
	}
	return handle, nil
}

func withChecksum(r io.ReadSeeker, h *Handle) (*Handle, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, err
	}
	h.Checksum = hex.EncodeToString(hasher.Sum(nil))
	return h, nil
}
