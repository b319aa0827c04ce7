package service

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"opensmartcity-bridge/internal/modules/weather/types"
)

// DefaultTargets are used when no targets file is configured.
func DefaultTargets() []types.Target {
	return []types.Target{
		{Channel: types.ChannelTemperature, Datastream: "lufttemperatur", Kind: types.KindQuantity, Unit: types.UnitCelsius},
		{Channel: types.ChannelHumidity, Datastream: "luftfeuchte", Kind: types.KindDecimal},
	}
}

type targetsFile struct {
	Targets []types.Target `yaml:"targets"`
}

// LoadTargets reads a YAML targets file. An empty path yields DefaultTargets.
//
//	targets:
//	  - channel: temperature
//	    datastream: lufttemperatur
//	    kind: quantity
//	    unit: "°C"
func LoadTargets(path string) ([]types.Target, error) {
	if path == "" {
		return DefaultTargets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return ParseTargets(data)
}

func ParseTargets(data []byte) ([]types.Target, error) {
	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, errors.New("targets: at least one target is required")
	}

	seen := make(map[types.ChannelID]bool, len(f.Targets))
	for i := range f.Targets {
		t := &f.Targets[i]
		t.Channel = types.ChannelID(strings.TrimSpace(string(t.Channel)))
		t.Datastream = strings.TrimSpace(t.Datastream)

		if t.Channel == "" {
			return nil, fmt.Errorf("targets[%d]: channel is required", i)
		}
		if strings.ContainsAny(string(t.Channel), "/#+ ") {
			return nil, fmt.Errorf("targets[%d]: invalid channel %q", i, t.Channel)
		}
		if seen[t.Channel] {
			return nil, fmt.Errorf("targets[%d]: duplicate channel %q", i, t.Channel)
		}
		seen[t.Channel] = true

		if t.Datastream == "" {
			return nil, fmt.Errorf("targets[%d]: datastream is required", i)
		}

		switch t.Kind {
		case "":
			if t.Unit != "" {
				t.Kind = types.KindQuantity
			} else {
				t.Kind = types.KindDecimal
			}
		case types.KindQuantity:
			if t.Unit == "" {
				return nil, fmt.Errorf("targets[%d]: quantity %q needs a unit", i, t.Channel)
			}
		case types.KindDecimal:
		default:
			return nil, fmt.Errorf("targets[%d]: invalid kind %q (allowed: quantity, decimal)", i, t.Kind)
		}
	}
	return f.Targets, nil
}
