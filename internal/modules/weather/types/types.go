package types

import (
	"context"
	"strconv"
	"time"
)

// ChannelID names an output channel, e.g. "temperature".
type ChannelID string

const (
	ChannelTemperature ChannelID = "temperature"
	ChannelHumidity    ChannelID = "humidity"
)

// Unit is the symbol of a quantity's unit.
type Unit string

const UnitCelsius Unit = "°C"

// State is the typed value published on a channel.
type State interface {
	Float() float64
	String() string
}

// Quantity is a value with a unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

func (q Quantity) Float() float64 { return q.Value }

func (q Quantity) String() string {
	return formatFloat(q.Value) + " " + string(q.Unit)
}

// Decimal is a plain number.
type Decimal float64

func (d Decimal) Float() float64 { return float64(d) }

func (d Decimal) String() string { return formatFloat(float64(d)) }

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// UnitOf returns the unit of s, or "" for unitless states.
func UnitOf(s State) Unit {
	if q, ok := s.(Quantity); ok {
		return q.Unit
	}
	return ""
}

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

type StatusDetail string

const (
	DetailNone               StatusDetail = "NONE"
	DetailCommunicationError StatusDetail = "COMMUNICATION_ERROR"
	DetailConfigurationError StatusDetail = "CONFIGURATION_ERROR"
)

// Kind selects how a raw observation is converted to a State.
type Kind string

const (
	KindQuantity Kind = "quantity"
	KindDecimal  Kind = "decimal"
)

// Target is one measurement to poll: the datastream name substring to match
// and the channel its value is published on.
type Target struct {
	Channel    ChannelID `yaml:"channel" json:"channel"`
	Datastream string    `yaml:"datastream" json:"datastream"`
	Kind       Kind      `yaml:"kind" json:"kind"`
	Unit       Unit      `yaml:"unit" json:"unit,omitempty"`
}

// StateOf converts a raw observation result according to t.Kind.
func (t Target) StateOf(v float64) State {
	if t.Kind == KindQuantity {
		return Quantity{Value: v, Unit: t.Unit}
	}
	return Decimal(v)
}

// StateSink receives channel values and thing status.
type StateSink interface {
	Publish(ctx context.Context, channel ChannelID, state State) error
	PublishStatus(ctx context.Context, status Status, detail StatusDetail) error
}

// ChannelState is the last value stored for a channel.
type ChannelState struct {
	Channel   ChannelID `json:"channel"`
	Value     float64   `json:"value"`
	Unit      Unit      `json:"unit,omitempty"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ThingStatus is the last status stored for the thing.
type ThingStatus struct {
	Status    Status       `json:"status"`
	Detail    StatusDetail `json:"detail"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
