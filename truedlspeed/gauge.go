package truedlspeed

import (
	"bytes"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v3"
)

type Breakpoint struct {
	Value float64 `yaml:"value"`
	Angle float64 `yaml:"angle"`
}

// GaugeScale maps speeds onto a needle angle along a piecewise-linear
// curve. It is immutable once built. Build one with NewGaugeScale,
// DefaultGaugeScale or LoadGaugeScale; the zero value maps everything to 0.
type GaugeScale struct {
	points []Breakpoint
}

type gaugeScaleFile struct {
	Breakpoints []Breakpoint `yaml:"breakpoints"`
}

// DefaultGaugeScale spreads 0-500 Mbps over a half circle, with finer
// resolution at the low end.
func DefaultGaugeScale() *GaugeScale {
	return &GaugeScale{points: []Breakpoint{
		{Value: 0, Angle: 0},
		{Value: 5, Angle: 20},
		{Value: 10, Angle: 40},
		{Value: 25, Angle: 65},
		{Value: 50, Angle: 90},
		{Value: 100, Angle: 120},
		{Value: 200, Angle: 145},
		{Value: 300, Angle: 162},
		{Value: 500, Angle: 180},
	}}
}

func NewGaugeScale(points []Breakpoint) (*GaugeScale, error) {
	if len(points) < 2 {
		return nil, errors.Errorf("gauge scale needs at least 2 breakpoints, got %d", len(points))
	}
	for i, point := range points {
		if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) || math.IsNaN(point.Angle) || math.IsInf(point.Angle, 0) {
			return nil, errors.Errorf("breakpoint %d is not finite", i)
		}
		if i == 0 {
			continue
		}
		if point.Value <= points[i-1].Value || point.Angle <= points[i-1].Angle {
			return nil, errors.Errorf("breakpoint %d (%v, %v) does not increase on (%v, %v)",
				i, point.Value, point.Angle, points[i-1].Value, points[i-1].Angle)
		}
	}
	return &GaugeScale{points: append([]Breakpoint(nil), points...)}, nil
}

// ParseGaugeScale reads a YAML document of the form
//
//	breakpoints:
//	  - {value: 0, angle: 0}
//	  - {value: 500, angle: 180}
func ParseGaugeScale(data []byte) (*GaugeScale, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file gaugeScaleFile
	if err := decoder.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "could not decode gauge scale")
	}
	return NewGaugeScale(file.Breakpoints)
}

func LoadGaugeScale(path string) (*GaugeScale, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read gauge scale")
	}
	scale, err := ParseGaugeScale(data)
	if err != nil {
		return nil, errors.Wrapf(err, "gauge scale %s", path)
	}
	return scale, nil
}

// ValueToAngle interpolates value on the scale, saturating at both ends.
func (g *GaugeScale) ValueToAngle(value float64) float64 {
	if len(g.points) == 0 {
		return 0
	}
	first, last := g.points[0], g.points[len(g.points)-1]
	if math.IsNaN(value) || value <= first.Value {
		return first.Angle
	}
	if value >= last.Value {
		return last.Angle
	}

	for i := 0; i < len(g.points)-1; i++ {
		lo, hi := g.points[i], g.points[i+1]
		if value <= hi.Value {
			progress := (value - lo.Value) / (hi.Value - lo.Value)
			return lo.Angle + progress*(hi.Angle-lo.Angle)
		}
	}
	return last.Angle
}

func (g *GaugeScale) Breakpoints() []Breakpoint {
	return append([]Breakpoint(nil), g.points...)
}

func (g *GaugeScale) MaxValue() float64 { return g.last().Value }

func (g *GaugeScale) MaxAngle() float64 { return g.last().Angle }

func (g *GaugeScale) MinAngle() float64 {
	if len(g.points) == 0 {
		return 0
	}
	return g.points[0].Angle
}

func (g *GaugeScale) last() Breakpoint {
	if len(g.points) == 0 {
		return Breakpoint{}
	}
	return g.points[len(g.points)-1]
}
