// Package sourcecfg parses and validates the layer source catalog: the JSON
// document listing every upstream dataset, how to fetch it, and how its rows
// are identified.
package sourcecfg

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Protocol selects the fetch strategy for a source.
type Protocol string

const (
	// ProtocolHTTP fetches one GeoJSON document from a plain URL.
	ProtocolHTTP Protocol = "http"
	// ProtocolESRI pages features out of an ArcGIS REST feature service.
	ProtocolESRI Protocol = "esri"
	// ProtocolBCGW pages features out of a BC Geographic Warehouse WFS.
	ProtocolBCGW Protocol = "bcgw"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolESRI, ProtocolBCGW:
		return true
	}
	return false
}

// Schedule is the cadence tag carried by each layer. Layers are filtered by
// schedule at run time; the tag itself never triggers anything.
type Schedule string

const (
	ScheduleDaily     Schedule = "D"
	ScheduleWeekly    Schedule = "W"
	ScheduleMonthly   Schedule = "M"
	ScheduleQuarterly Schedule = "Q"
	ScheduleAnnual    Schedule = "A"
)

func (s Schedule) Valid() bool {
	switch s {
	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleQuarterly, ScheduleAnnual:
		return true
	}
	return false
}

// Layer is one entry of the source catalog.
type Layer struct {
	// OutLayer names the layer in snapshots, reports and logs. Unique
	// within a catalog.
	OutLayer string `json:"out_layer"`
	// Source is the upstream URL.
	Source string `json:"source"`
	// Protocol selects the fetch strategy.
	Protocol Protocol `json:"protocol"`
	// Fields are the attribute columns kept for comparison.
	Fields []string `json:"fields"`
	// Schedule is the cadence tag.
	Schedule Schedule `json:"schedule"`
	// SourceLayer is the upstream layer name for protocols that serve
	// more than one layer per endpoint.
	SourceLayer string `json:"source_layer,omitempty"`
	// Query is an upstream filter expression passed through verbatim.
	Query string `json:"query,omitempty"`
	// PrimaryKey lists the columns identifying a row. Empty means hash
	// identity.
	PrimaryKey []string `json:"primary_key,omitempty"`
	// HashFields restricts hash identity to the listed columns. Empty
	// means all fields participate.
	HashFields []string `json:"hash_fields,omitempty"`
	// MetadataURL is a human-facing documentation link carried into
	// reports.
	MetadataURL string `json:"metadata_url,omitempty"`
}

// ConfigurationError is a catalog entry that cannot be used as written.
type ConfigurationError struct {
	OutLayer string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.OutLayer == "" {
		return fmt.Sprintf("invalid source catalog: %s", e.Err)
	}
	return fmt.Sprintf("invalid source %q: %s", e.OutLayer, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrf(outLayer string, format string, args ...interface{}) error {
	return &ConfigurationError{OutLayer: outLayer, Err: errors.Newf(format, args...)}
}

// Validate checks one layer entry in isolation.
func (l *Layer) Validate() error {
	if l.OutLayer == "" {
		return configErrf("", "out_layer must be set")
	}
	if strings.ContainsAny(l.OutLayer, "/\\") {
		return configErrf(l.OutLayer, "out_layer must not contain path separators")
	}
	if l.Source == "" {
		return configErrf(l.OutLayer, "source must be set")
	}
	if !l.Protocol.Valid() {
		return configErrf(l.OutLayer, "unknown protocol %q", l.Protocol)
	}
	if !l.Schedule.Valid() {
		return configErrf(l.OutLayer, "unknown schedule %q", l.Schedule)
	}
	if len(l.Fields) == 0 {
		return configErrf(l.OutLayer, "fields must list at least one column")
	}
	if l.Protocol == ProtocolHTTP {
		if l.Query != "" {
			return configErrf(l.OutLayer, "query is not supported for http sources")
		}
		if l.SourceLayer != "" {
			return configErrf(l.OutLayer, "source_layer is not supported for http sources")
		}
	}
	if l.Protocol == ProtocolBCGW && l.SourceLayer == "" {
		return configErrf(l.OutLayer, "bcgw sources must set source_layer to the WFS type name")
	}
	fieldSet := make(map[string]struct{}, len(l.Fields))
	for _, f := range l.Fields {
		fieldSet[strings.ToLower(f)] = struct{}{}
	}
	for _, pk := range l.PrimaryKey {
		if _, ok := fieldSet[strings.ToLower(pk)]; !ok {
			return configErrf(l.OutLayer, "primary_key column %q is not in fields", pk)
		}
	}
	for _, hf := range l.HashFields {
		if _, ok := fieldSet[strings.ToLower(hf)]; !ok {
			return configErrf(l.OutLayer, "hash_fields column %q is not in fields", hf)
		}
	}
	return nil
}

// ParseLayers decodes and validates a source catalog document: a JSON array
// of layer entries with unique out_layer names.
func ParseLayers(data []byte) ([]Layer, error) {
	var layers []Layer
	if err := json.Unmarshal(data, &layers); err != nil {
		return nil, &ConfigurationError{
			Err: errors.Wrap(err, "error decoding source catalog"),
		}
	}
	if len(layers) == 0 {
		return nil, &ConfigurationError{Err: errors.New("source catalog is empty")}
	}
	seen := make(map[string]struct{}, len(layers))
	for i := range layers {
		l := &layers[i]
		if err := l.Validate(); err != nil {
			return nil, err
		}
		lower := strings.ToLower(l.OutLayer)
		if _, ok := seen[lower]; ok {
			return nil, configErrf(l.OutLayer, "duplicate out_layer")
		}
		seen[lower] = struct{}{}
	}
	return layers, nil
}

// ReadLayers is ParseLayers over a reader.
func ReadLayers(r io.Reader) ([]Layer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading source catalog")
	}
	return ParseLayers(data)
}
