// Package targets turns external published statistics into the
// contribution matrix the weight calibrator optimizes against.
//
// A Target row names a metric, an area and a published value; the metric
// registry maps the metric id to its aggregation formula over entity
// variables. BuildMatrix evaluates each record's contribution to each
// target at unit weight, restricted to the target's area, so calibration
// reduces to fitting matrix-weighted column sums to target values.
package targets
