package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	// LogFile, when set, receives a rotated copy of every log line.
	LogFile string

	WiFiBackend        string
	WiFiInterface      string
	WiFiSSID           string
	WiFiPassphrase     string
	WiFiConnectTimeout time.Duration

	CloudURL        string
	CloudKey        string
	PublishInterval time.Duration
	HTTPTimeout     time.Duration

	SensorKind    string
	SensorValue   float64
	SensorField   string
	I2CBus        string
	BME280Address uint16

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	DeviceStationID string

	JournalPath string
	HTTPAddr    string

	GPIOPin            string
	BlinkPeriod        time.Duration
	ButtonPollInterval time.Duration
	ButtonPull         string
}

const (
	BackendNetworkManager = "networkmanager"
	BackendInterface      = "interface"

	SensorConstant = "constant"
	SensorBME280   = "bme280"

	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldPressure    = "pressure"
)

var (
	ErrMissingCloudKey = errors.New("CLOUD_KEY is required")
	ErrInvalidCloudURL = errors.New("CLOUD_URL must be an absolute http(s) URL")
)

func LoadFromEnv() (Config, error) {
	appEnv := getenv("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	backend := strings.ToLower(getenv("WIFI_BACKEND", BackendNetworkManager))
	switch backend {
	case BackendNetworkManager, BackendInterface:
	default:
		return Config{}, fmt.Errorf("invalid WIFI_BACKEND %q (allowed: networkmanager, interface)", backend)
	}

	connectTimeout, err := positiveDuration("WIFI_CONNECT_TIMEOUT", "30s")
	if err != nil {
		return Config{}, err
	}
	publishInterval, err := positiveDuration("PUBLISH_INTERVAL", "30s")
	if err != nil {
		return Config{}, err
	}
	httpTimeout, err := positiveDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}

	sensorKind := strings.ToLower(getenv("SENSOR_KIND", SensorConstant))
	switch sensorKind {
	case SensorConstant, SensorBME280:
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_KIND %q (allowed: constant, bme280)", sensorKind)
	}

	sensorValueStr := getenv("SENSOR_VALUE", "23.0")
	sensorValue, err := strconv.ParseFloat(sensorValueStr, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_VALUE %q: %w", sensorValueStr, err)
	}
	if math.IsNaN(sensorValue) || math.IsInf(sensorValue, 0) {
		return Config{}, fmt.Errorf("invalid SENSOR_VALUE %q: must be a finite number", sensorValueStr)
	}

	sensorField := strings.ToLower(getenv("SENSOR_FIELD", FieldTemperature))
	switch sensorField {
	case FieldTemperature, FieldHumidity, FieldPressure:
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_FIELD %q (allowed: temperature, humidity, pressure)", sensorField)
	}

	bme280AddressStr := getenv("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	mqttPortStr := getenv("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range: %d", mqttPort)
	}

	blinkPeriod, err := positiveDuration("BLINK_PERIOD", "1s")
	if err != nil {
		return Config{}, err
	}
	buttonPoll, err := positiveDuration("BUTTON_POLL_INTERVAL", "100ms")
	if err != nil {
		return Config{}, err
	}

	buttonPull := strings.ToLower(getenv("BUTTON_PULL", "up"))
	switch buttonPull {
	case "up", "down", "float":
	default:
		return Config{}, fmt.Errorf("invalid BUTTON_PULL %q (allowed: up, down, float)", buttonPull)
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		LogFile:            getenv("LOG_FILE", ""),
		WiFiBackend:        backend,
		WiFiInterface:      getenv("WIFI_INTERFACE", "wlan0"),
		WiFiSSID:           getenv("WIFI_SSID", ""),
		WiFiPassphrase:     os.Getenv("WIFI_PASS"),
		WiFiConnectTimeout: connectTimeout,
		CloudURL:           getenv("CLOUD_URL", "https://api.thingspeak.com/update.json"),
		CloudKey:           getenv("CLOUD_KEY", ""),
		PublishInterval:    publishInterval,
		HTTPTimeout:        httpTimeout,
		SensorKind:         sensorKind,
		SensorValue:        sensorValue,
		SensorField:        sensorField,
		I2CBus:             getenv("I2C_BUS", ""),
		BME280Address:      uint16(bme280Address),
		MQTTBroker:         getenv("MQTT_BROKER", ""),
		MQTTPort:           mqttPort,
		MQTTClientID:       getenv("MQTT_CLIENT_ID", "cloudpico-publisher"),
		DeviceStationID:    getenv("DEVICE_STATION_ID", "home"),
		JournalPath:        getenv("JOURNAL_PATH", ""),
		HTTPAddr:           getenv("HTTP_ADDR", ""),
		GPIOPin:            getenv("GPIO_PIN", "GPIO18"),
		BlinkPeriod:        blinkPeriod,
		ButtonPollInterval: buttonPoll,
		ButtonPull:         buttonPull,
	}, nil
}

// RequireCloud checks the settings only the publisher needs.
func (c Config) RequireCloud() error {
	if c.CloudKey == "" {
		return ErrMissingCloudKey
	}
	u, err := url.Parse(c.CloudURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: %q", ErrInvalidCloudURL, c.CloudURL)
	}
	return nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func positiveDuration(key, def string) (time.Duration, error) {
	s := getenv(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
