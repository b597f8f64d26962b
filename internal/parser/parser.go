package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/mentaton/internal/domain"
)

// ErrMalformed is returned when a document cannot be decoded at all.
var ErrMalformed = errors.New("malformed document")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rejected describes a dataset entry that was dropped while parsing.
type Rejected struct {
	Index  int
	Reason string
}

func (r Rejected) Error() string {
	return fmt.Sprintf("record %d: %s", r.Index, r.Reason)
}

// Dataset is the result of parsing a remote question dataset.
type Dataset struct {
	Questions []domain.Question
	Rejected  []Rejected
}

// ParseDataset reads a JSON array of question objects. Individual entries
// that cannot be used are reported in Rejected; only a document that is not
// an array fails as a whole.
func ParseDataset(r io.Reader) (*Dataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var items []json.RawMessage
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: dataset: %v", ErrMalformed, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: dataset: not an array", ErrMalformed)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: dataset: unexpected data after array", ErrMalformed)
	}

	ds := &Dataset{Questions: make([]domain.Question, 0, len(items))}
	for i, raw := range items {
		q, err := parseQuestion(raw)
		if err != nil {
			ds.Rejected = append(ds.Rejected, Rejected{Index: i, Reason: err.Error()})
			continue
		}
		ds.Questions = append(ds.Questions, q)
	}
	return ds, nil
}

// ParseDatasetBytes is ParseDataset over an in-memory document.
func ParseDatasetBytes(b []byte) (*Dataset, error) {
	return ParseDataset(bytes.NewReader(b))
}

func parseQuestion(raw json.RawMessage) (domain.Question, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return domain.Question{}, fmt.Errorf("not an object: %v", err)
	}
	if fields == nil {
		return domain.Question{}, errors.New("not an object")
	}

	id, err := parseID(fields["id"])
	if err != nil {
		return domain.Question{}, err
	}

	q := domain.Question{
		ID:         id,
		Question:   stringField(fields["question"], ""),
		Answer:     stringField(fields["answer"], ""),
		Category:   stringField(fields["category"], ""),
		Difficulty: stringField(fields["difficulty"], ""),
		Language:   stringField(fields["language"], domain.DefaultLanguage),
	}
	return q.Normalized(), nil
}

func parseID(v any) (int64, error) {
	id, err := parseRawID(v)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid id %d", id)
	}
	return id, nil
}

func parseRawID(v any) (int64, error) {
	switch id := v.(type) {
	case nil:
		return 0, errors.New("missing id")
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n, nil
		}
		f, err := id.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("invalid id %q", id.String())
		}
		return int64(f), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id %q", id)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid id of type %T", v)
	}
}

// stringField stringifies scalar JSON values. Missing, null and empty values
// take the default.
func stringField(v any, def string) string {
	var s string
	switch val := v.(type) {
	case nil:
		return def
	case string:
		s = val
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	default:
		return def
	}
	if s == "" {
		return def
	}
	return s
}

type rawManifest struct {
	Version      json.RawMessage `json:"version"`
	QuestionsURL string          `json:"questions_url"`
}

// ParseManifest decodes a version manifest. The version may be a JSON number
// or a decimal string such as "0.2".
func ParseManifest(r io.Reader) (domain.Manifest, error) {
	var raw rawManifest
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}

	version, err := parseVersion(raw.Version)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}

	m := domain.Manifest{
		Version:      version,
		QuestionsURL: strings.TrimSpace(raw.QuestionsURL),
	}
	if err := validate.Struct(m); err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}
	return m, nil
}

func parseVersion(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("invalid version %q", s)
		}
		return v, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("invalid version %s", raw)
	}
	return v, nil
}
