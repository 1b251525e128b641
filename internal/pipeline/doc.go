// Package pipeline sequences cross-survey imputation groups.
//
// A run takes a caller-supplied ordered list of variable groups and, for
// each, trains a conditional model on the group's source survey and
// samples its outputs onto every target survey. The declared order must
// be a valid topological sort of the predictor dependency graph between
// groups; ValidateOrder checks this up front so an ordering mistake fails
// before any model is trained.
//
// Groups with disjoint outputs whose inputs are already settled may train
// in any relative order, which is the only ordering freedom the design
// permits. With Concurrent enabled such groups train in parallel;
// applying sampled columns always happens sequentially so table mutation
// stays single-writer.
package pipeline
