package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloudpico-publisher/internal/config"
	"cloudpico-publisher/internal/types"
)

func TestTelemetry_FieldPlacement(t *testing.T) {
	ts := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	p := types.Publish{Sequence: 4, Timestamp: ts, Value: 23}

	tests := []struct {
		field string
		check func(types.Telemetry) *float64
	}{
		{field: config.FieldTemperature, check: func(t types.Telemetry) *float64 { return t.Temperature }},
		{field: config.FieldHumidity, check: func(t types.Telemetry) *float64 { return t.Humidity }},
		{field: config.FieldPressure, check: func(t types.Telemetry) *float64 { return t.Pressure }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got := Telemetry("home", tt.field, p)
			v := tt.check(got)
			if v == nil || *v != 23 {
				t.Fatalf("%s value = %v, want 23", tt.field, v)
			}
			if got.StationID != "home" || !got.Timestamp.Equal(ts) {
				t.Errorf("telemetry = %+v", got)
			}
			if got.Sequence == nil || *got.Sequence != 4 {
				t.Errorf("sequence = %v, want 4", got.Sequence)
			}

			b, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			// station_id, timestamp, sequence and exactly one measurement
			if len(m) != 4 {
				t.Errorf("json keys = %v, want 4", m)
			}
		})
	}
}

func TestTelemetry_DefaultsTimestamp(t *testing.T) {
	got := Telemetry("home", config.FieldTemperature, types.Publish{Value: 1})
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not defaulted")
	}
}

func TestTelemetryTopic(t *testing.T) {
	if got := TelemetryTopic("outdoor"); got != "stations/outdoor/telemetry" {
		t.Fatalf("TelemetryTopic = %q", got)
	}
}

func TestRecord_NotConnected(t *testing.T) {
	c := NewClient(config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "test", DeviceStationID: "home"}, nil)
	err := c.Record(context.Background(), types.Publish{Value: 23})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Record = %v, want ErrNotConnected", err)
	}
}

func TestConnect_AfterDisconnect(t *testing.T) {
	c := NewClient(config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "test"}, nil)
	c.Disconnect()
	c.Disconnect()

	if err := c.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Connect after Disconnect = %v, want ErrStopped", err)
	}
}

func TestConnect_RespectsContext(t *testing.T) {
	c := NewClient(config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "test"}, nil)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect = %v, want deadline exceeded", err)
	}
}
