// Package imputation implements conditional distribution imputation for
// cross-survey variable transfer.
//
// A Model is trained on a source survey where both predictors and outputs
// are observed, and applied to a target survey where only the predictors
// exist. Training builds a quantile random forest: an ensemble of
// multi-output regression trees whose leaves keep their training rows, so
// a predictor vector maps to a full empirical conditional distribution
// rather than a point estimate. Applying the model draws one sample per
// record from that distribution.
//
// A mean regression would collapse all similar records to identical
// imputed values and destroy the dispersion that downstream weight
// calibration depends on; sampling from estimated quantiles preserves
// heterogeneity and tail behaviour.
//
// Quantile draws follow Beta(a, 1) with a = q/(1-q) where q is the
// configured mean quantile, so the same model can be biased toward upper
// quantiles when an aggregate is known to be under-captured. Draws are
// reproducible when the forest seed is non-zero.
package imputation
