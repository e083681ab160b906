// Package domain models datasets: a controlled header referencing an
// ontology term, plus the ordered records observed against units.
package domain

import (
	"fmt"
	"time"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/serrors"
	"github.com/cultivarhq/cultivar/pkg/tracking"
)

// Record is one observation: a value recorded against a unit over a
// time span. Records are not individually controlled; access follows the
// dataset header.
type Record struct {
	ID     int64
	UnitID int64
	Value  string
	Start  time.Time
	End    *time.Time
}

func (r Record) clone() Record {
	cp := r
	if r.End != nil {
		end := *r.End
		cp.End = &end
	}
	return cp
}

// header is the controlled model behind a dataset.
type header struct {
	id       int64
	termID   int64
	name     string
	redacted bool
}

func (h *header) ID() int64           { return h.id }
func (h *header) Label() access.Label { return access.LabelDataset }

// Dataset couples the controlled header with its records. Records keep
// insertion order; a dataset with records is protected from removal.
type Dataset struct {
	head    *header
	records []Record
	log     *tracking.Changelog
}

type Option func(*Dataset)

func WithID(id int64) Option {
	return func(d *Dataset) { d.head.id = id }
}

func New(name string, termID int64, opts ...Option) (*Dataset, error) {
	if termID == 0 {
		return nil, serrors.IllegalOperation("dataset %q requires an ontology term", name)
	}
	d := &Dataset{
		head: &header{name: name, termID: termID},
		log:  tracking.NewChangelog(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.head.id == 0 {
		d.head.id = -1
	}
	d.log.MarkAdded(d.head.id)
	return d, nil
}

// Hydrate rebuilds a dataset from stored rows, records in stored order.
func Hydrate(id, termID int64, name string, records []Record) *Dataset {
	d := &Dataset{
		head:    &header{id: id, termID: termID, name: name},
		records: make([]Record, 0, len(records)),
		log:     tracking.NewChangelog(),
	}
	for _, r := range records {
		d.records = append(d.records, r.clone())
	}
	d.log.MarkPersisted(id)
	for _, r := range d.records {
		d.log.MarkPersisted(r.ID)
	}
	return d
}

func (d *Dataset) ID() int64        { return d.head.id }
func (d *Dataset) TermID() int64    { return d.head.termID }
func (d *Dataset) Name() string     { return d.head.name }
func (d *Dataset) IsRedacted() bool { return d.head.redacted }

func (d *Dataset) Records() []Record {
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r.clone())
	}
	return out
}

// RecordsForUnit returns the records against one unit, in dataset order.
func (d *Dataset) RecordsForUnit(unitID int64) []Record {
	var out []Record
	for _, r := range d.records {
		if r.UnitID == unitID {
			out = append(out, r.clone())
		}
	}
	return out
}

func (d *Dataset) Changelog() *tracking.Changelog { return d.log }

func (d *Dataset) Rename(name string) {
	d.head.name = name
	d.log.MarkChanged(d.head.id, "name")
}

// AddRecord appends an observation. Record ids are temporary until the
// repository assigns stored ones.
func (d *Dataset) AddRecord(unitID int64, value string, start time.Time, end *time.Time) (int64, error) {
	if unitID == 0 {
		return 0, serrors.IllegalOperation("record requires a unit")
	}
	if end != nil && end.Before(start) {
		return 0, serrors.IllegalOperation("record ends before it starts")
	}
	id := d.nextTempRecordID()
	d.records = append(d.records, Record{ID: id, UnitID: unitID, Value: value, Start: start, End: end}.clone())
	d.log.MarkAdded(id)
	// Record mutations gate and stamp on the header.
	d.log.MarkChanged(d.head.id, "records")
	return id, nil
}

// UpdateRecord replaces the value and span of a stored record.
func (d *Dataset) UpdateRecord(id int64, value string, start time.Time, end *time.Time) error {
	if end != nil && end.Before(start) {
		return serrors.IllegalOperation("record ends before it starts")
	}
	for i := range d.records {
		if d.records[i].ID != id {
			continue
		}
		d.records[i].Value = value
		d.records[i].Start = start
		d.records[i].End = end
		d.log.MarkChanged(id, "value", "start", "end")
		d.log.MarkChanged(d.head.id, "records")
		return nil
	}
	return serrors.NoResultFound("record %d not in dataset", id)
}

// RemoveRecord drops an observation.
func (d *Dataset) RemoveRecord(id int64) error {
	for i := range d.records {
		if d.records[i].ID != id {
			continue
		}
		d.records = append(d.records[:i], d.records[i+1:]...)
		d.log.MarkRemoved(id)
		d.log.MarkChanged(d.head.id, "records")
		return nil
	}
	return serrors.NoResultFound("record %d not in dataset", id)
}

func (d *Dataset) Rekey(oldID, newID int64) error {
	if d.head.id == oldID {
		d.head.id = newID
		d.log.Rekey(oldID, newID)
		return nil
	}
	for i := range d.records {
		if d.records[i].ID == oldID {
			d.records[i].ID = newID
			d.log.Rekey(oldID, newID)
			return nil
		}
	}
	return serrors.NoResultFound("id %d not in dataset", oldID)
}

func (d *Dataset) nextTempRecordID() int64 {
	next := int64(-1)
	if d.head.id <= next {
		next = d.head.id - 1
	}
	for _, r := range d.records {
		if r.ID <= next {
			next = r.ID - 1
		}
	}
	return next
}

// ControlledModels lists only the header; records follow its controller.
func (d *Dataset) ControlledModels() []access.ControlledModel {
	return []access.ControlledModel{d.head}
}

// ModelKey maps the header id to its key. Record ids are not controlled
// models, so mutations to records gate on the header alone.
func (d *Dataset) ModelKey(id int64) (access.Key, bool) {
	if id != d.head.id {
		return access.Key{}, false
	}
	return access.Key{Label: access.LabelDataset, ID: id}, true
}

// Redacted returns the whole dataset when the header is readable and
// nothing at all when it is not; records have no visibility of their own.
func (d *Dataset) Redacted(controllers access.ControllerMap, userID int64, readTeams []int64) (access.ControlledAggregate, bool) {
	key := access.Key{Label: access.LabelDataset, ID: d.head.id}
	controller, ok := controllers.Get(key)
	if !ok || !controller.HasAccess(access.Read, userID, readTeams) {
		return nil, false
	}
	cp := &Dataset{
		head:    &header{id: d.head.id, termID: d.head.termID, name: d.head.name},
		records: d.Records(),
		log:     tracking.NewChangelog(),
	}
	return cp, true
}

func (d *Dataset) Protected() string {
	if len(d.records) > 0 {
		return fmt.Sprintf("dataset holds %d records", len(d.records))
	}
	return ""
}
