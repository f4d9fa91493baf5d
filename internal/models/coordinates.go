package models

// Coordinates represents a geographical point defined by its latitude and longitude.
// A customer either has both values or none, so the pair is always passed around as
// a single optional *Coordinates.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`  // Latitude of the geographical point.
	Longitude float64 `json:"longitude"` // Longitude of the geographical point.
}

// Equal reports whether two optional coordinate pairs hold the same value.
func (c *Coordinates) Equal(other *Coordinates) bool {
	if c == nil || other == nil {
		return c == nil && other == nil
	}

	return *c == *other
}
