// Package dataset provides the column-oriented numeric tables that every
// enhancement component operates on.
//
// A Table holds one entity level of a survey (persons, benefit units or
// households) keyed by a stable record id. Cells are float64 with NaN as
// the distinguished missing marker; nothing in this package ever coerces
// a missing value to zero. Tables mutate only by whole-column append or
// overwrite, or by full-table duplication via Stack, which matches the
// lifecycle the imputation pipeline and the synthetic-record blender need.
package dataset
