package pipeline

import (
	"strings"

	"github.com/chewxy/math32"
)

// Canonical class labels
const (
	ClassCar          = "car"
	ClassTruck        = "truck"
	ClassBus          = "bus"
	ClassMotorcycle   = "motorcycle"
	ClassBicycle      = "bicycle"
	ClassVan          = "van"
	ClassPerson       = "person"
	ClassTrafficLight = "traffic light"
)

// labelAliases maps lowercase synonyms to canonical labels.
// Every canonical label maps to itself.
var labelAliases = map[string]string{
	"car":        ClassCar,
	"auto":       ClassCar,
	"automobile": ClassCar,
	"sedan":      ClassCar,
	"vehicle":    ClassCar,

	"truck":  ClassTruck,
	"lorry":  ClassTruck,
	"pickup": ClassTruck,

	"bus":   ClassBus,
	"coach": ClassBus,

	"motorcycle": ClassMotorcycle,
	"motorbike":  ClassMotorcycle,
	"scooter":    ClassMotorcycle,
	"bike":       ClassMotorcycle,

	"bicycle": ClassBicycle,
	"cycle":   ClassBicycle,

	"van":     ClassVan,
	"minivan": ClassVan,

	"person":     ClassPerson,
	"pedestrian": ClassPerson,
	"people":     ClassPerson,
	"ped":        ClassPerson,

	"traffic light":  ClassTrafficLight,
	"traffic_light":  ClassTrafficLight,
	"traffic-light":  ClassTrafficLight,
	"trafficlight":   ClassTrafficLight,
	"traffic signal": ClassTrafficLight,
	"tl":             ClassTrafficLight,
	"signal":         ClassTrafficLight,
}

// cocoClasses covers the COCO ids a traffic scene cares about
var cocoClasses = map[int]string{
	0: ClassPerson,
	1: ClassBicycle,
	2: ClassCar,
	3: ClassMotorcycle,
	5: ClassBus,
	7: ClassTruck,
	9: ClassTrafficLight,
}

var vehicleClasses = map[string]bool{
	ClassCar:        true,
	ClassTruck:      true,
	ClassBus:        true,
	ClassMotorcycle: true,
	ClassVan:        true,
	ClassBicycle:    true,
}

// NormalizeLabel maps a detector label onto the canonical taxonomy.
// Lookup is case-insensitive; unmapped labels pass through unchanged.
func NormalizeLabel(label string) string {
	if canonical, ok := labelAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return canonical
	}
	return label
}

// NormalizeClassID maps a COCO class id to a canonical label
func NormalizeClassID(id int) (string, bool) {
	label, ok := cocoClasses[id]
	return label, ok
}

func IsVehicle(class string) bool      { return vehicleClasses[class] }
func IsTrafficLight(class string) bool { return class == ClassTrafficLight }
func IsPerson(class string) bool       { return class == ClassPerson }

// NormalizeDetections validates detections at the pipeline boundary.
// Labels are canonicalized (falling back to the class id when the label is
// empty), confidence is clamped to [0,1] and boxes without positive extent
// are dropped. Returns the kept detections and the number dropped.
func NormalizeDetections(in []Detection) ([]Detection, int) {
	out := make([]Detection, 0, len(in))
	dropped := 0
	for _, d := range in {
		if !d.BBox.Valid() {
			dropped++
			continue
		}
		label := NormalizeLabel(d.Class)
		if strings.TrimSpace(label) == "" {
			if byID, ok := NormalizeClassID(d.ClassID); ok {
				label = byID
			} else {
				dropped++
				continue
			}
		}
		d.Class = label
		if math32.IsNaN(d.Confidence) {
			d.Confidence = 0
		}
		d.Confidence = math32.Max(0, math32.Min(1, d.Confidence))
		if d.Light != nil && d.Light.Color == "" {
			d.Light = &LightReading{Color: LightUnknown}
		}
		out = append(out, d)
	}
	return out, dropped
}
