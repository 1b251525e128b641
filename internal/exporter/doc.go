// Package exporter writes the run's output artifacts: enhanced survey
// tables and calibrated weights as CSV, the per-target calibration log
// as both CSV and an Excel workbook, and a checksum manifest binding the
// artifacts to the run that produced them.
package exporter
