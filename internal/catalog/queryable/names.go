package queryable

// Reserved document field names.
const (
	FieldID      = "id"
	FieldAnyText = "AnyText"
	FieldMinX    = "minx"
	FieldMaxX    = "maxx"
	FieldMinY    = "miny"
	FieldMaxY    = "maxy"
	FieldCRS     = "crs"

	// SortSuffix marks the untokenized copy of a field used for sorting.
	SortSuffix = "_sort"
)

// Names of the queryables that carry a geographic bounding box.
const (
	WestBoundLongitude = "WestBoundLongitude"
	EastBoundLongitude = "EastBoundLongitude"
	SouthBoundLatitude = "SouthBoundLatitude"
	NorthBoundLatitude = "NorthBoundLatitude"
	CRS                = "CRS"
)

var reserved = map[string]bool{
	FieldID:      true,
	FieldAnyText: true,
	FieldMinX:    true,
	FieldMaxX:    true,
	FieldMinY:    true,
	FieldMaxY:    true,
	FieldCRS:     true,
}

// IsReserved reports whether name is produced by the document builder itself.
func IsReserved(name string) bool { return reserved[name] }

// SortField returns the sort companion of a field.
func SortField(name string) string { return name + SortSuffix }
