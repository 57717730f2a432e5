package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. The first group of
// fields can be applied without a restart; RestartRequired lists the other
// sections that differ so the caller can say so.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DriftToleranceChanged bool
	NewDriftTolerance     time.Duration

	// RestartRequired names changed sections that only take effect after a
	// restart (e.g. "server.listen_addr", "providers").
	RestartRequired []string
}

// Changed reports whether d contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DriftToleranceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed. Defaults are
// applied to both sides first, so an omitted value and its explicit default
// compare equal.
func Diff(old, new *Config) ConfigDiff {
	o, n := old.WithDefaults(), new.WithDefaults()
	d := ConfigDiff{}

	if o.Server.LogLevel != n.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = n.Server.LogLevel
	}
	if o.Preview.DriftTolerance != n.Preview.DriftTolerance {
		d.DriftToleranceChanged = true
		d.NewDriftTolerance = n.Preview.DriftTolerance
	}

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", o.Server.ListenAddr != n.Server.ListenAddr},
		{"server.asset_base", o.Server.AssetBase != n.Server.AssetBase},
		{"providers", !reflect.DeepEqual(o.Providers, n.Providers)},
		{"generation", o.Generation != n.Generation},
		{"preview.time_update_interval", o.Preview.TimeUpdateInterval != n.Preview.TimeUpdateInterval},
		{"capture", o.Capture != n.Capture},
		{"library", o.Library != n.Library},
		{"history", o.History != n.History},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}
	return d
}
