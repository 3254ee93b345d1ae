package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"cloudpico-publisher/internal/config"
)

// Sampler produces the value published as field1.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
	Close() error
}

// Constant returns the same value every time; it stands in for a real sensor.
type Constant float64

func (c Constant) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return float64(c), nil
}

func (Constant) Close() error { return nil }

// senser is the part of *bmxx80.Dev the sampler reads through.
type senser interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BME280 reads one quantity from a Bosch BME280 on an I2C bus.
type BME280 struct {
	dev   senser
	bus   i2c.BusCloser
	field string
}

func OpenBME280(busName string, addr uint16, field string) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at %#x: %w", addr, err)
	}

	return &BME280{dev: dev, bus: bus, field: field}, nil
}

func (b *BME280) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return 0, fmt.Errorf("bme280 sense: %w", err)
	}
	return FieldValue(env, b.field)
}

func (b *BME280) Close() error {
	err := b.dev.Halt()
	if b.bus != nil {
		if cerr := b.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// FieldValue converts a periph environment reading to the configured unit:
// degrees Celsius, percent relative humidity or hectopascal.
func FieldValue(env physic.Env, field string) (float64, error) {
	switch field {
	case config.FieldTemperature:
		return env.Temperature.Celsius(), nil
	case config.FieldHumidity:
		// physic.RelativeHumidity is fixed point at 1e-5 %rH.
		return float64(env.Humidity) / float64(physic.PercentRH), nil
	case config.FieldPressure:
		// physic.Pressure is in nano pascal; 1 hPa = 100 Pa.
		return float64(env.Pressure) / float64(100*physic.Pascal), nil
	default:
		return 0, fmt.Errorf("unknown sensor field %q", field)
	}
}

// New builds the sampler selected by cfg.SensorKind.
func New(cfg config.Config) (Sampler, error) {
	switch cfg.SensorKind {
	case config.SensorConstant:
		return Constant(cfg.SensorValue), nil
	case config.SensorBME280:
		return OpenBME280(cfg.I2CBus, cfg.BME280Address, cfg.SensorField)
	default:
		return nil, fmt.Errorf("unknown sensor kind %q", cfg.SensorKind)
	}
}
