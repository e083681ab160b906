// Package layout holds the Layout entity: a named scheme of axes that
// positions units within a location.
package layout

import (
	"strconv"

	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

// AxisType classifies one axis of a layout. Numeric axes require
// coordinates that parse as numbers.
type AxisType string

const (
	Cartesian AxisType = "CARTESIAN"
	Ordinal   AxisType = "ORDINAL"
	Nominal   AxisType = "NOMINAL"
)

func (a AxisType) Numeric() bool {
	return a == Cartesian || a == Ordinal
}

func ParseAxisType(s string) (AxisType, error) {
	switch AxisType(s) {
	case Cartesian, Ordinal, Nominal:
		return AxisType(s), nil
	}
	return "", serrors.IllegalOperation("unknown axis type %q", s)
}

type Layout struct {
	id         int64
	name       string
	kind       string
	locationID int64
	axes       []AxisType
	redacted   bool
}

type Option func(*Layout)

func WithID(id int64) Option {
	return func(l *Layout) { l.id = id }
}

func WithKind(kind string) Option {
	return func(l *Layout) { l.kind = kind }
}

func New(name string, locationID int64, axes []AxisType, opts ...Option) (*Layout, error) {
	if len(axes) == 0 {
		return nil, serrors.IllegalOperation("layout %q declares no axes", name)
	}
	l := &Layout{name: name, locationID: locationID, axes: append([]AxisType(nil), axes...)}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Layout) ID() int64           { return l.id }
func (l *Layout) Label() access.Label { return access.LabelLayout }
func (l *Layout) Name() string        { return l.name }
func (l *Layout) Kind() string        { return l.kind }
func (l *Layout) LocationID() int64   { return l.locationID }
func (l *Layout) IsRedacted() bool    { return l.redacted }

func (l *Layout) Axes() []AxisType {
	return append([]AxisType(nil), l.axes...)
}

func (l *Layout) SetID(id int64) { l.id = id }

func (l *Layout) Rename(name string) { l.name = name }

// ValidatePosition checks a coordinate tuple against the declared axes:
// the arity must match and numeric axes must carry parseable numbers.
func (l *Layout) ValidatePosition(coordinates []string) error {
	if len(coordinates) != len(l.axes) {
		return serrors.IllegalOperation(
			"layout %q has %d axes, position has %d coordinates", l.name, len(l.axes), len(coordinates),
		)
	}
	for i, axis := range l.axes {
		if !axis.Numeric() {
			continue
		}
		if _, err := strconv.ParseFloat(coordinates[i], 64); err != nil {
			return serrors.IllegalOperation(
				"axis %d of layout %q is %s but coordinate %q is not numeric", i, l.name, axis, coordinates[i],
			)
		}
	}
	return nil
}

func (l *Layout) Clone() *Layout {
	cp := *l
	cp.axes = append([]AxisType(nil), l.axes...)
	return &cp
}

func (l *Layout) Redact() *Layout {
	return &Layout{id: l.id, locationID: l.locationID, axes: append([]AxisType(nil), l.axes...), redacted: true}
}
