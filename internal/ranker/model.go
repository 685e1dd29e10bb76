package ranker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// FormatVersion is the envelope version this package reads and writes.
// Payloads with a different version are rejected rather than best-effort
// interpreted.
const FormatVersion = 1

var (
	// ErrMalformed indicates the payload could not be decoded at all.
	ErrMalformed = errors.New("malformed_model")

	// ErrVersionMismatch indicates an incompatible envelope format version.
	ErrVersionMismatch = errors.New("model_version_mismatch")

	// ErrChecksum indicates the embedded payload checksum did not verify.
	ErrChecksum = errors.New("model_checksum_mismatch")

	// ErrExpired indicates the model carries an expiry marker in the past
	// or exceeds the caller's maximum age.
	ErrExpired = errors.New("model_expired")

	// ErrEmpty indicates a decoded model with no usable weights.
	ErrEmpty = errors.New("model_empty")
)

// Model is a validated ranker artifact: a linear scorer over named
// features plus the freshness metadata used to decide whether a cached
// copy is still serviceable.
type Model struct {
	Name      string             `json:"name,omitempty"`
	TrainedAt time.Time          `json:"trained_at"`
	ExpiresAt time.Time          `json:"expires_at,omitempty"` // zero means no expiry marker
	Bias      float64            `json:"bias"`
	Weights   map[string]float64 `json:"weights"`
}

// envelope wraps the serialized model with a format version and a
// checksum over the raw model bytes.
type envelope struct {
	FormatVersion int             `json:"format_version"`
	Checksum      string          `json:"checksum"`
	Model         json.RawMessage `json:"model"`
}

// Encode serializes the model into the versioned, checksummed envelope.
func (m *Model) Encode() ([]byte, error) {
	if len(m.Weights) == 0 {
		return nil, ErrEmpty
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	sum := sha256.Sum256(raw)
	env := envelope{
		FormatVersion: FormatVersion,
		Checksum:      hex.EncodeToString(sum[:]),
		Model:         raw,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses an envelope produced by Encode. It rejects unknown
// format versions and payloads whose checksum does not verify, but does
// not apply any freshness policy; see Validator for that.
func Decode(data []byte) (*Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, env.FormatVersion, FormatVersion)
	}
	sum := sha256.Sum256(env.Model)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, ErrChecksum
	}
	var m Model
	if err := json.Unmarshal(env.Model, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(m.Weights) == 0 {
		return nil, ErrEmpty
	}
	return &m, nil
}

// Validator returns a validation hook that decodes raw bytes and applies
// a freshness policy: a model past its own expiry marker, or trained
// longer ago than maxAge (when maxAge > 0), is rejected with ErrExpired.
// The returned function is safe to call from any goroutine; now may be
// nil, in which case time.Now is used.
func Validator(maxAge time.Duration, now func() time.Time) func([]byte) (*Model, error) {
	if now == nil {
		now = time.Now
	}
	return func(data []byte) (*Model, error) {
		m, err := Decode(data)
		if err != nil {
			return nil, err
		}
		t := now()
		if !m.ExpiresAt.IsZero() && t.After(m.ExpiresAt) {
			return nil, fmt.Errorf("%w: expired at %s", ErrExpired, m.ExpiresAt.Format(time.RFC3339))
		}
		if maxAge > 0 && !m.TrainedAt.IsZero() && t.Sub(m.TrainedAt) > maxAge {
			return nil, fmt.Errorf("%w: trained at %s", ErrExpired, m.TrainedAt.Format(time.RFC3339))
		}
		return m, nil
	}
}

// Score computes the logistic score for the given feature vector.
// Features missing from the model contribute nothing; model weights with
// no matching feature are skipped.
func (m *Model) Score(features map[string]float64) float64 {
	z := m.Bias
	for name, w := range m.Weights {
		if v, ok := features[name]; ok {
			z += w * v
		}
	}
	return 1.0 / (1.0 + math.Exp(-z))
}
