package geotable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// DefaultCRS is the reference system GeoJSON documents use when they carry
// no crs member.
const DefaultCRS = "EPSG:4326"

// featureCollectionDoc is the raw document shape. Geometries and properties
// are decoded per feature so that null geometries and property typing stay
// under our control. The crs member is legacy GeoJSON but BCGW and
// snapshot documents carry it.
type featureCollectionDoc struct {
	Type     string            `json:"type"`
	Name     string            `json:"name,omitempty"`
	CRS      *crsDoc           `json:"crs,omitempty"`
	Features []json.RawMessage `json:"features"`
}

type crsDoc struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureDoc struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

var jsonNull = json.RawMessage("null")

// ReadGeoJSON decodes a GeoJSON FeatureCollection into a Table named name.
// Column names are the lowercased union of property names across all
// features, ordered lexicographically; column types are inferred from the
// observed values.
func ReadGeoJSON(r io.Reader, name string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading geojson document")
	}
	return ParseGeoJSON(data, name)
}

// ParseGeoJSON is ReadGeoJSON over a byte slice.
func ParseGeoJSON(data []byte, name string) (*Table, error) {
	var doc featureCollectionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "error decoding geojson document")
	}
	if doc.Type != "FeatureCollection" {
		return nil, errors.Newf("expected FeatureCollection, got %q", doc.Type)
	}

	crs := DefaultCRS
	if doc.CRS != nil {
		crs = normalizeCRSName(doc.CRS.Properties.Name)
	}

	features := make([]featureDoc, len(doc.Features))
	geometries := make([]geom.T, len(doc.Features))
	for i, raw := range doc.Features {
		if err := json.Unmarshal(raw, &features[i]); err != nil {
			return nil, errors.Wrapf(err, "error decoding feature %d", i)
		}
		if features[i].Type != "Feature" {
			return nil, errors.Newf("feature %d: expected Feature, got %q", i, features[i].Type)
		}
		if g := features[i].Geometry; len(g) > 0 && !bytes.Equal(g, jsonNull) {
			var gg geom.T
			if err := geojson.Unmarshal(g, &gg); err != nil {
				return nil, errors.Wrapf(err, "error decoding geometry of feature %d", i)
			}
			geometries[i] = gg
		}
	}

	cols, err := collectColumns(features)
	if err != nil {
		return nil, err
	}

	tbl := &Table{
		Name:    name,
		CRS:     crs,
		Columns: make([]Column, len(cols)),
		Rows:    make([]Row, len(features)),
	}
	byCol := make([][]interface{}, len(cols))
	for ci, colName := range cols {
		vals := make([]interface{}, len(features))
		for fi, f := range features {
			vals[fi] = propertyValue(f.Properties, colName)
		}
		byCol[ci] = vals
		tbl.Columns[ci] = Column{Name: colName, Type: inferType(vals)}
	}
	for fi := range features {
		vals := make([]interface{}, len(cols))
		for ci := range cols {
			vals[ci] = convertValue(byCol[ci][fi], tbl.Columns[ci].Type)
		}
		tbl.Rows[fi] = Row{Values: vals, Geometry: geometries[fi]}
	}
	return tbl, nil
}

// collectColumns returns the sorted, lowercased union of property names.
// Two properties differing only by case collide under the lowercase policy
// and are rejected rather than silently merged.
func collectColumns(features []featureDoc) ([]string, error) {
	seen := map[string]string{}
	for _, f := range features {
		for k := range f.Properties {
			lower := strings.ToLower(k)
			if prev, ok := seen[lower]; ok && prev != k {
				return nil, errors.Newf(
					"properties %q and %q collide after lowercasing", prev, k,
				)
			}
			seen[lower] = k
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

func propertyValue(props map[string]interface{}, lowerName string) interface{} {
	for k, v := range props {
		if strings.ToLower(k) == lowerName {
			return v
		}
	}
	return nil
}

// WriteGeoJSON encodes the table as a GeoJSON FeatureCollection. Output is
// deterministic for a given table: features in row order, property keys
// sorted by the JSON encoder.
func WriteGeoJSON(w io.Writer, t *Table) error {
	doc := struct {
		Type     string            `json:"type"`
		Name     string            `json:"name,omitempty"`
		CRS      *crsDoc           `json:"crs,omitempty"`
		Features []json.RawMessage `json:"features"`
	}{
		Type:     "FeatureCollection",
		Name:     t.Name,
		Features: make([]json.RawMessage, len(t.Rows)),
	}
	if t.CRS != "" && t.CRS != DefaultCRS {
		crs := &crsDoc{Type: "name"}
		crs.Properties.Name = crsURN(t.CRS)
		doc.CRS = crs
	}
	for ri, row := range t.Rows {
		rawGeom := jsonNull
		if row.Geometry != nil {
			var err error
			rawGeom, err = geojson.Marshal(row.Geometry)
			if err != nil {
				return errors.Wrapf(err, "error encoding geometry of row %d", ri)
			}
		}
		props := make(map[string]interface{}, len(t.Columns))
		for ci, col := range t.Columns {
			props[col.Name] = row.Values[ci]
		}
		raw, err := json.Marshal(featureDoc{
			Type:       "Feature",
			Geometry:   rawGeom,
			Properties: props,
		})
		if err != nil {
			return errors.Wrapf(err, "error encoding row %d", ri)
		}
		doc.Features[ri] = raw
	}
	enc := json.NewEncoder(w)
	return enc.Encode(doc)
}

// normalizeCRSName folds the crs name spellings seen in the wild into
// "EPSG:<code>" where possible.
func normalizeCRSName(name string) string {
	switch {
	case name == "":
		return DefaultCRS
	case name == "urn:ogc:def:crs:OGC:1.3:CRS84" || name == "CRS84":
		return DefaultCRS
	case strings.HasPrefix(name, "urn:ogc:def:crs:EPSG::"):
		return "EPSG:" + strings.TrimPrefix(name, "urn:ogc:def:crs:EPSG::")
	}
	return name
}

func crsURN(crs string) string {
	if strings.HasPrefix(crs, "EPSG:") {
		return fmt.Sprintf("urn:ogc:def:crs:EPSG::%s", strings.TrimPrefix(crs, "EPSG:"))
	}
	return crs
}
