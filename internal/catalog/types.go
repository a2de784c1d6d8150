// Package catalog loads satellite element sets from 3LE text or OMM JSON,
// over HTTP or from a compressed on-disk cache, and publishes the current
// dataset through an atomic Store.
package catalog

import "time"

// Satellite is one catalog record. Read-only once loaded.
type Satellite struct {
	Name    string
	NoradID string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// EpochRange is the span of element set epochs in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete catalog snapshot.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []Satellite
}

// NewDataset builds a Dataset, computing its epoch range.
func NewDataset(source string, fetchedAt time.Time, sats []Satellite) *Dataset {
	ds := &Dataset{Source: source, FetchedAt: fetchedAt, Satellites: sats}
	for i, s := range sats {
		if i == 0 || s.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = s.Epoch
		}
		if i == 0 || s.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = s.Epoch
		}
	}
	return ds
}
