package ml

import (
	"errors"
	"fmt"
	"time"
)

const (
	KindLogisticRegression = "logistic_regression"
	KindDecisionTree       = "decision_tree"

	// ArtifactVersion is the newest envelope version this build understands.
	ArtifactVersion = 1
)

// Artifact is the versioned envelope both codecs carry. Exactly one model
// payload matching Kind must be present.
type Artifact struct {
	Version            int                 `json:"version" msgpack:"version"`
	Kind               string              `json:"kind" msgpack:"kind"`
	FeatureNames       []string            `json:"feature_names,omitempty" msgpack:"feature_names,omitempty"`
	NFeaturesIn        int                 `json:"n_features_in,omitempty" msgpack:"n_features_in,omitempty"`
	CreatedAt          time.Time           `json:"created_at" msgpack:"created_at"`
	LogisticRegression *LogisticRegression `json:"logistic_regression,omitempty" msgpack:"logistic_regression,omitempty"`
	DecisionTree       *DecisionTree       `json:"decision_tree,omitempty" msgpack:"decision_tree,omitempty"`
}

type artifactDecoder func(a *Artifact) (Model, error)

var artifactDecoders = map[string]artifactDecoder{
	KindLogisticRegression: func(a *Artifact) (Model, error) {
		if a.LogisticRegression == nil {
			return nil, errors.New("missing logistic_regression payload")
		}
		if err := a.LogisticRegression.validate(); err != nil {
			return nil, err
		}
		return a.LogisticRegression, nil
	},
	KindDecisionTree: func(a *Artifact) (Model, error) {
		if a.DecisionTree == nil {
			return nil, errors.New("missing decision_tree payload")
		}
		if err := a.DecisionTree.validate(); err != nil {
			return nil, err
		}
		return a.DecisionTree, nil
	},
}

// NewArtifact wraps a trained model in a current-version envelope.
func NewArtifact(m Model) (*Artifact, error) {
	a := &Artifact{
		Version:      ArtifactVersion,
		FeatureNames: FeatureNames(),
		CreatedAt:    time.Now().UTC(),
	}
	switch model := m.(type) {
	case *LogisticRegression:
		a.Kind = KindLogisticRegression
		a.LogisticRegression = model
	case *DecisionTree:
		a.Kind = KindDecisionTree
		a.DecisionTree = model
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	if fc, ok := m.(FeatureCounter); ok {
		a.NFeaturesIn = fc.FeatureCount()
	}
	if a.NFeaturesIn != NumFeatures {
		a.FeatureNames = nil
	}
	return a, nil
}

// Model validates the envelope and returns the decoded model.
func (a *Artifact) Model() (Model, error) {
	if a.Version < 1 || a.Version > ArtifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	decode, ok := artifactDecoders[a.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind)
	}
	m, err := decode(a)
	if err != nil {
		return nil, fmt.Errorf("%s artifact: %w", a.Kind, err)
	}
	return m, nil
}
