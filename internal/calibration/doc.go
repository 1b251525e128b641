// Package calibration fits record weights so that weighted aggregates of
// the enhanced dataset reproduce externally published statistics.
//
// Weights are optimized in log space with Adam, which keeps them strictly
// positive without constraint handling. Each geography level is an
// independent problem over the same records; CalibrateAll runs the levels
// in parallel. A run always terminates after its epoch budget and reports
// residual fit quality through per-target diagnostics rather than
// failing, because the target system is over-determined and a perfect fit
// does not exist.
package calibration
