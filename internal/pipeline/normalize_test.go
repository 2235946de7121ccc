package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"car":           ClassCar,
		"Automobile":    ClassCar,
		"AUTO":          ClassCar,
		"TrafficLight":  ClassTrafficLight,
		"tl":            ClassTrafficLight,
		" signal ":      ClassTrafficLight,
		"traffic light": ClassTrafficLight,
		"scooter":       ClassMotorcycle,
		"bike":          ClassMotorcycle,
		"Motorbike":     ClassMotorcycle,
		"pedestrian":    ClassPerson,
		"stop sign":     "stop sign",
		"Giraffe":       "Giraffe",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLabel(in), in)
	}
}

func TestNormalizeLabelIdempotent(t *testing.T) {
	labels := []string{"", " ", "car", "CAR", "Auto", "trafficlight", "TL", "bus", "coach", "lorry",
		"Pedestrian", "unknown thing", "Traffic Light", "motorbike", "van", "MiniVan", "bicycle"}
	for k := range labelAliases {
		labels = append(labels, k)
	}
	for _, l := range labels {
		once := NormalizeLabel(l)
		require.Equal(t, once, NormalizeLabel(once), "label %q", l)
	}
}

func TestNormalizeDetections(t *testing.T) {
	in := []Detection{
		{Class: "Automobile", Confidence: 1.4, BBox: BBox{0, 0, 10, 10}},
		{Class: "car", Confidence: 0.9, BBox: BBox{10, 10, 5, 20}}, // x1 > x2
		{Class: "", ClassID: 9, Confidence: 0.7, BBox: BBox{0, 0, 4, 8}},
		{Class: "", ClassID: 42, Confidence: 0.7, BBox: BBox{0, 0, 4, 8}},
		{Class: "tl", Confidence: -0.2, BBox: BBox{0, 0, 4, 8}, Light: &LightReading{}},
	}
	out, dropped := NormalizeDetections(in)
	require.Equal(t, 2, dropped)
	require.Len(t, out, 3)

	assert.Equal(t, ClassCar, out[0].Class)
	assert.Equal(t, float32(1), out[0].Confidence)
	assert.Equal(t, ClassTrafficLight, out[1].Class)
	assert.Equal(t, ClassTrafficLight, out[2].Class)
	assert.Equal(t, float32(0), out[2].Confidence)
	assert.Equal(t, LightUnknown, out[2].Light.Color)
}

func TestClassPredicates(t *testing.T) {
	for _, c := range []string{ClassCar, ClassTruck, ClassBus, ClassMotorcycle, ClassVan, ClassBicycle} {
		assert.True(t, IsVehicle(c), c)
	}
	assert.False(t, IsVehicle(ClassPerson))
	assert.False(t, IsVehicle(ClassTrafficLight))
	assert.True(t, IsTrafficLight(NormalizeLabel("traffic_light")))
	assert.True(t, IsPerson(NormalizeLabel("people")))
}

func TestParseLightColor(t *testing.T) {
	cases := map[string]LightColor{
		"red":     LightRed,
		"RED":     LightRed,
		"rEd":     LightRed,
		" Red ":   LightRed,
		"Amber":   LightYellow,
		"yellow":  LightYellow,
		"GREEN":   LightGreen,
		"":        LightUnknown,
		"blue":    LightUnknown,
		"unknown": LightUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLightColor(in), in)
	}
}
