// Package config implements loading of the client and show configuration
// documents: JSON with pointer/omitempty fields and a size-capped loader,
// following the teacher's internal/config.TuningConfig conventions.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// maxConfigFileBytes caps how large a configuration file we will read,
// guarding against a misconfigured path pointing at something enormous.
const maxConfigFileBytes = 1 << 20 // 1MB

// Transformation names an optional display transform applied by the
// client before drawing.
type Transformation string

const (
	TransformationNone           Transformation = ""
	TransformationFlipHorizontal Transformation = "FlipHorizontal"
	TransformationFlipVertical   Transformation = "FlipVertical"
)

// ClientConfig is the client's configuration document.
type ClientConfig struct {
	ServerHostname     *string         `json:"server_hostname,omitempty"`
	Channel            *int            `json:"channel,omitempty"`
	TimesyncIntervalMs *int64          `json:"timesync_interval,omitempty"`
	RenderDelayMs      *float64        `json:"render_delay,omitempty"`
	XResolution        *int            `json:"x_resolution,omitempty"`
	YResolution        *int            `json:"y_resolution,omitempty"`
	AntiAlias          *bool           `json:"anti_alias,omitempty"`
	AlphaBlend         *bool           `json:"alpha_blend,omitempty"`
	Fullscreen         *bool           `json:"fullscreen,omitempty"`
	CaptureMouse       *bool           `json:"capture_mouse,omitempty"`
	LogLevelDebug      *bool           `json:"log_level_debug,omitempty"`
	Transformation     *Transformation `json:"transformation,omitempty"`
}

func ptrString(v string) *string                         { return &v }
func ptrInt(v int) *int                                   { return &v }
func ptrInt64(v int64) *int64                             { return &v }
func ptrFloat64(v float64) *float64                       { return &v }
func ptrBool(v bool) *bool                                { return &v }
func ptrTransformation(v Transformation) *Transformation { return &v }

// DefaultClientConfig returns the client's default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerHostname:     ptrString("localhost"),
		Channel:            ptrInt(0),
		TimesyncIntervalMs: ptrInt64(5000),
		RenderDelayMs:      ptrFloat64(50),
		XResolution:        ptrInt(1280),
		YResolution:        ptrInt(720),
		AntiAlias:          ptrBool(true),
		AlphaBlend:         ptrBool(true),
		Fullscreen:         ptrBool(false),
		CaptureMouse:       ptrBool(false),
		LogLevelDebug:      ptrBool(false),
		Transformation:     ptrTransformation(TransformationNone),
	}
}

// LoadClientConfig loads a client configuration from a JSON file at path.
// Unset fields fall back to DefaultClientConfig's values; unknown fields
// are rejected so clients safely reject a server-pushed config with a
// field they don't understand.
func LoadClientConfig(path string) (ClientConfig, error) {
	raw, err := readConfigFile(path)
	if err != nil {
		return ClientConfig{}, err
	}
	return ParseClientConfig(raw)
}

// ParseClientConfig decodes a client configuration document from raw
// bytes, used both by LoadClientConfig and by the remote-admin endpoint
// that accepts a pushed config over the wire instead of a file.
func ParseClientConfig(raw []byte) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config: parsing client config: %w", err)
	}
	return cfg, nil
}

// Derived geometry fields, computed from resolution rather than required
// in the file (see SPEC_FULL.md supplement 4 / DESIGN.md).

// CriticalSize is the reference size used to scale beam geometry,
// derived from the smaller of the two window dimensions.
func (c ClientConfig) CriticalSize() float64 {
	x, y := c.xres(), c.yres()
	if x < y {
		return float64(x)
	}
	return float64(y)
}

// ThicknessScale derives a stroke-thickness multiplier from CriticalSize.
func (c ClientConfig) ThicknessScale() float64 {
	return c.CriticalSize() / 100.0
}

// XCenter and YCenter are the window's center in pixel coordinates.
func (c ClientConfig) XCenter() float64 { return float64(c.xres()) / 2.0 }
func (c ClientConfig) YCenter() float64 { return float64(c.yres()) / 2.0 }

func (c ClientConfig) xres() int {
	if c.XResolution != nil {
		return *c.XResolution
	}
	return 1280
}

func (c ClientConfig) yres() int {
	if c.YResolution != nil {
		return *c.YResolution
	}
	return 720
}

// ShowConfig is the server-side show/mixer/port configuration document.
type ShowConfig struct {
	NumLayers    *int     `json:"num_layers,omitempty"`
	RenderPort   *int     `json:"render_port,omitempty"`
	TimesyncPort *int     `json:"timesync_port,omitempty"`
	AdminPort    *int     `json:"admin_port,omitempty"`
	TickHz       *float64 `json:"tick_hz,omitempty"`
}

// DefaultShowConfig returns the server's default configuration, using the
// idiomatic default ports named in the external interfaces (render 6000,
// timesync 8989, admin 15000).
func DefaultShowConfig() ShowConfig {
	return ShowConfig{
		NumLayers:    ptrInt(8),
		RenderPort:   ptrInt(6000),
		TimesyncPort: ptrInt(8989),
		AdminPort:    ptrInt(15000),
		TickHz:       ptrFloat64(60),
	}
}

// LoadShowConfig loads a show configuration from a JSON file at path.
func LoadShowConfig(path string) (ShowConfig, error) {
	raw, err := readConfigFile(path)
	if err != nil {
		return ShowConfig{}, err
	}

	cfg := DefaultShowConfig()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return ShowConfig{}, fmt.Errorf("config: parsing show config %s: %w", path, err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if filepath.Ext(path) != ".json" {
		return nil, fmt.Errorf("config: %s: expected a .json file", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Size() > maxConfigFileBytes {
		return nil, fmt.Errorf("config: %s is %d bytes, exceeds the %d byte cap", path, info.Size(), maxConfigFileBytes)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return raw, nil
}
