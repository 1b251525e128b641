// Package blend adds synthetic capital gains records to a survey that
// under-samples them.
//
// The input person table is duplicated in full, exactly one adult per
// household in the clone is marked as having gains, and a single scalar
// blend weight splits each original household's weight between its
// no-gains copy and its gains clone. The weight is the one free parameter
// of a least-squares fit: predicted incidence of gains by total-income
// band against externally published per-band shares. This is a
// specialization of calibration to one dimension, solved by gradient
// descent through a sigmoid so the weight stays in (0, 1) and the
// effective population size is preserved by construction.
//
// Gains amounts for the marked records are drawn from each band's
// percentile curve with seeded uniform quantiles.
package blend
