package model

import "errors"

// Core error kinds. Components return these (usually wrapped with
// context via fmt.Errorf("...: %w", err)); the HTTP layer maps each
// kind to a status code and a stable error string.
var (
	ErrNotEnoughData     = errors.New("not_enough_data")
	ErrTooFewRows        = errors.New("too_few_rows")
	ErrBadShape          = errors.New("bad_shape")
	ErrFeaturesEmpty     = errors.New("features_empty")
	ErrDimensionMismatch = errors.New("feature_dim_mismatch")
	ErrScoringFailed     = errors.New("policy_scoring_failed")
	ErrNoPolicy          = errors.New("no_policy_in_model")
	ErrModelInvalid      = errors.New("model_invalid")
	ErrModelNotFound     = errors.New("model_not_found")
	ErrInvalidInterval   = errors.New("invalid_interval")
	ErrGapsRemain        = errors.New("gaps_remain")
)
