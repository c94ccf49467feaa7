package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"photowatch/pkg/photowatch"
)

// observationDoc is the on-disk shape of an observation. Location fields are
// flattened and omitted when unknown.
type observationDoc struct {
	CheckedAt time.Time `json:"checked_at"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	Acc       *float64  `json:"acc,omitempty"`
	PhotoURL  string    `json:"photo_url"`
	Hash      string    `json:"hash"`
	Source    string    `json:"loc_source,omitempty"`
	Seq       int64     `json:"seq"`
}

func encodeObservation(o *photowatch.Observation) ([]byte, error) {
	doc := observationDoc{
		Seq:       o.Seq,
		PhotoURL:  o.SourceURL,
		Hash:      o.Fingerprint,
		CheckedAt: o.ObservedAt.UTC(),
	}
	if o.Location != nil {
		lat, lon := o.Location.Latitude, o.Location.Longitude
		doc.Lat = &lat
		doc.Lon = &lon
		doc.Acc = o.Location.AccuracyMeters
		doc.Source = o.Location.Source
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal observation: %w", err)
	}
	return data, nil
}

func decodeObservation(data []byte) (*photowatch.Observation, error) {
	var doc observationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal observation: %w", err)
	}
	o := &photowatch.Observation{
		Seq:         doc.Seq,
		SourceURL:   doc.PhotoURL,
		Fingerprint: doc.Hash,
		ObservedAt:  doc.CheckedAt.UTC(),
	}
	if doc.Lat != nil && doc.Lon != nil {
		o.Location = &photowatch.GeoReading{
			Latitude:       *doc.Lat,
			Longitude:      *doc.Lon,
			AccuracyMeters: doc.Acc,
			Source:         doc.Source,
		}
	}
	return o, nil
}

// Access events and attempts are stored in their JSON form directly. Access
// events keep explicit nulls for absent coordinates.

func encodeAccessEvent(ev *photowatch.AccessEvent) ([]byte, error) {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal access event: %w", err)
	}
	return data, nil
}

func decodeAccessEvent(data []byte) (*photowatch.AccessEvent, error) {
	var ev photowatch.AccessEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal access event: %w", err)
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	return &ev, nil
}

func encodeAttempt(a *photowatch.CheckAttempt) ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal check attempt: %w", err)
	}
	return data, nil
}

func decodeAttempt(data []byte) (*photowatch.CheckAttempt, error) {
	var a photowatch.CheckAttempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal check attempt: %w", err)
	}
	a.CheckedAt = a.CheckedAt.UTC()
	return &a, nil
}
