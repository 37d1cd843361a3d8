package api

import (
	"strings"
	"time"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// BoundingBox is an axis-aligned lat/lon rectangle.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether c lies inside the box, edges included.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat &&
		c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// CoTMessage is a Cursor-on-Target event.
type CoTMessage struct {
	UID   string     `json:"uid"`
	Type  string     `json:"type"` // e.g. "a-f-G-U-C"
	How   string     `json:"how,omitempty"`
	Time  time.Time  `json:"time"`
	Start time.Time  `json:"start"`
	Stale time.Time  `json:"stale"`
	Point Coordinate `json:"point"`
	HAE   float64    `json:"hae,omitempty"` // height above ellipsoid, meters

	// Detail is the free-form detail block.
	Detail map[string]string `json:"detail,omitempty"`
}

// CoTFilter selects messages from recent history. Zero fields match all.
type CoTFilter struct {
	// Type matches by prefix, so "a-f" selects every friendly atom.
	Type string
	UID  string

	// Since and Until bound Time, inclusive.
	Since time.Time
	Until time.Time

	BBox *BoundingBox

	// Limit caps the result count, keeping the most recent. Zero is no cap.
	Limit int
}

// Matches reports whether msg passes the filter. Limit is not applied.
func (f CoTFilter) Matches(msg CoTMessage) bool {
	if f.Type != "" && !strings.HasPrefix(msg.Type, f.Type) {
		return false
	}
	if f.UID != "" && msg.UID != f.UID {
		return false
	}
	if !f.Since.IsZero() && msg.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && msg.Time.After(f.Until) {
		return false
	}
	if f.BBox != nil && !f.BBox.Contains(msg.Point) {
		return false
	}
	return true
}

// Layer is a plugin-contributed map overlay.
type Layer struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Kind    string            `json:"kind,omitempty"` // tiles, vector, heatmap...
	Source  string            `json:"source,omitempty"`
	Visible bool              `json:"visible"`
	Opacity float64           `json:"opacity"`
	Props   map[string]string `json:"props,omitempty"`
}

// Marker is a plugin-contributed map point.
type Marker struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Icon     string            `json:"icon,omitempty"`
	Position Coordinate        `json:"position"`
	Props    map[string]string `json:"props,omitempty"`
}

// Location is a device position fix.
type Location struct {
	Coordinate
	Altitude float64   `json:"altitude"`
	Accuracy float64   `json:"accuracy"` // meters, CEP
	Heading  float64   `json:"heading"`  // degrees true
	Speed    float64   `json:"speed"`    // m/s
	Time     time.Time `json:"time"`
}

// ToolbarItem is a button a plugin adds to the host toolbar.
type ToolbarItem struct {
	ID    string
	Title string
	Icon  string

	// Action runs when the item is tapped. It may be nil.
	Action func()
}

// Panel is a plugin-provided content pane.
type Panel struct {
	ID      string
	Title   string
	Content string
}

// AlertStyle is the presentation of an alert action.
type AlertStyle string

// Alert action styles.
const (
	AlertDefault     AlertStyle = "default"
	AlertCancel      AlertStyle = "cancel"
	AlertDestructive AlertStyle = "destructive"
)

// AlertAction is a button on an alert.
type AlertAction struct {
	Title string
	Style AlertStyle
}

// Alert is a simple modal message.
type Alert struct {
	ID       string
	PluginID string
	Title    string
	Message  string
	Actions  []AlertAction
}
