package labels

import "fmt"

// ObjectClass is the annotated object category.
type ObjectClass string

const (
	ClassCar          ObjectClass = "Car"
	ClassTruck        ObjectClass = "Truck"
	ClassVan          ObjectClass = "Van"
	ClassBus          ObjectClass = "Bus"
	ClassPedestrian   ObjectClass = "Pedestrian"
	ClassCyclist      ObjectClass = "Cyclist"
	ClassTricyclist   ObjectClass = "Tricyclist"
	ClassMotorcyclist ObjectClass = "Motorcyclist"
	ClassBarrowlist   ObjectClass = "Barrowlist"
	ClassTrafficCone  ObjectClass = "TrafficCone"
)

// AllClasses lists the taxonomy in its canonical order.
var AllClasses = []ObjectClass{
	ClassCar, ClassTruck, ClassVan, ClassBus, ClassPedestrian,
	ClassCyclist, ClassTricyclist, ClassMotorcyclist, ClassBarrowlist, ClassTrafficCone,
}

var classIndex = func() map[ObjectClass]int {
	m := make(map[ObjectClass]int, len(AllClasses))
	for i, c := range AllClasses {
		m[c] = i
	}
	return m
}()

// Valid reports whether c is one of the ten known classes.
func (c ObjectClass) Valid() bool {
	_, ok := classIndex[c]
	return ok
}

// Index returns the position of c in AllClasses, or -1.
func (c ObjectClass) Index() int {
	if i, ok := classIndex[c]; ok {
		return i
	}
	return -1
}

// ParseObjectClass validates a raw "type" string. Matching is exact: the
// dataset writes class names in this casing.
func ParseObjectClass(s string) (ObjectClass, error) {
	c := ObjectClass(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrMalformedRecord, s)
	}
	return c, nil
}

// View names the sensor modality a label file was annotated against.
type View string

const (
	ViewCamera View = "camera"
	ViewLidar  View = "lidar"
)

// Views lists the modalities in the order they are visited.
var Views = []View{ViewCamera, ViewLidar}
