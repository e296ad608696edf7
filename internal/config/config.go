// Package config loads the server's static YAML configuration: gas
// pressure interpolation tables, ADC channel bindings and scale factors,
// the serial scanlist, and file/device paths.
//
// Grounded on original_source/get_data.c's gas_tbl and
// convert_adc_voltage/convert_adc_current, expressed as data instead of
// compiled-in constants, per SPEC_FULL.md §3.1.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sthaid/proj-fusor-sub000/internal/sentinel"
)

// Config is the server's full static configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogFile    string `yaml:"log_file"`

	USBVendorID  uint16 `yaml:"usb_vendor_id"`
	USBProductID uint16 `yaml:"usb_product_id"`
	ScanHz       int    `yaml:"scan_hz"`

	SerialDeviceGlob string `yaml:"serial_device_glob"`
	SerialScanlist   []int  `yaml:"serial_scanlist"`
	AveragingDurSec  int    `yaml:"averaging_duration_sec"`

	VoltageChannel int `yaml:"voltage_channel"`
	CurrentChannel int `yaml:"current_channel"`
	PressureD2Chan int `yaml:"pressure_d2_channel"`
	PressureN2Chan int `yaml:"pressure_n2_channel"`

	Gas GasTables `yaml:"gas_tables"`
}

// GasTables holds the D2 and N2 interpolation tables.
type GasTables struct {
	D2 PressureTable `yaml:"d2"`
	N2 PressureTable `yaml:"n2"`
}

// Default returns the configuration matching original_source's
// compiled-in constants, used when no YAML file is supplied.
func Default() Config {
	return Config{
		ListenAddr:       ":9001",
		LogFile:          "",
		USBVendorID:      0x09db,
		USBProductID:     0x0076,
		ScanHz:           750,
		SerialDeviceGlob: "/dev/serial/by-id/usb-0683_1490-if00",
		SerialScanlist:   []int{0, 1, 2, 3},
		AveragingDurSec:  1,
		VoltageChannel:   0,
		CurrentChannel:   1,
		PressureD2Chan:   2,
		PressureN2Chan:   3,
		Gas: GasTables{
			D2: defaultD2Table(),
			N2: defaultN2Table(),
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default():
// fields the file does not mention keep their Default() values, and fields
// it sets (even to a zero value) override them.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ConvertVoltageKV converts an ADC input in volts to the fusor's high
// voltage in kV, per original_source's voltage-divider scale
// (1 GOhm / 94.34 kOhm divider ratio).
func ConvertVoltageKV(adcVolts float64) float64 {
	return adcVolts * (1e9 / 94.34e3 / 1000.0)
}

// ConvertCurrentMA converts an ADC input in volts to milliamps, per
// original_source's 100 Ohm current-sense resistor.
func ConvertCurrentMA(adcVolts float64) float64 {
	return adcVolts * 10.0
}

// PressurePoint is one control point of a gas pressure interpolation
// table: a measured gauge voltage and the corresponding pressure in Torr.
type PressurePoint struct {
	VoltsV       float64 `yaml:"volts"`
	PressureTorr float64 `yaml:"pressure_torr"`
}

// PressureTable is an ascending-voltage piecewise-linear interpolation
// table for one gas species, per original_source's gas_tbl / the
// Lesker 275i gauge manual it was generated from.
type PressureTable struct {
	Name   string          `yaml:"name"`
	Points []PressurePoint `yaml:"points"`
}

// faultyBelowVolts is the voltage below which the gauge is considered
// off/faulty rather than genuinely reading near-zero pressure.
const faultyBelowVolts = 0.01

// Interpolate converts a measured gauge voltage to a pressure reading in
// milli-Torr, returning the Faulty sentinel below faultyBelowVolts and
// the OverPressure sentinel above the table's highest voltage point.
func (t PressureTable) Interpolate(voltsMeasured float64) sentinel.Value {
	if voltsMeasured < faultyBelowVolts {
		return sentinel.Of(sentinel.Faulty)
	}
	if len(t.Points) < 2 {
		return sentinel.Of(sentinel.NoValue)
	}
	for i := 0; i < len(t.Points)-1; i++ {
		p0, p1 := t.Points[i], t.Points[i+1]
		if voltsMeasured >= p0.VoltsV && voltsMeasured <= p1.VoltsV {
			frac := (voltsMeasured - p0.VoltsV) / (p1.VoltsV - p0.VoltsV)
			torr := p0.PressureTorr + (p1.PressureTorr-p0.PressureTorr)*frac
			return sentinel.Real(float32(torr * 1000.0))
		}
	}
	return sentinel.Of(sentinel.OverPressure)
}

func defaultD2Table() PressureTable {
	return PressureTable{Name: "D2", Points: []PressurePoint{
		{0.000, 0.00001}, {0.301, 0.00002}, {0.699, 0.00005}, {1.000, 0.0001},
		{1.301, 0.0002}, {1.699, 0.0005}, {2.114, 0.0010}, {2.380, 0.0020},
		{2.778, 0.0050}, {3.083, 0.0100}, {3.386, 0.0200}, {3.778, 0.0500},
		{4.083, 0.1000}, {4.398, 0.2000}, {4.837, 0.5000}, {5.190, 1.0000},
		{5.616, 2.0000}, {7.391, 5.0000},
	}}
}

func defaultN2Table() PressureTable {
	return PressureTable{Name: "N2", Points: []PressurePoint{
		{0.000, 0.00001}, {0.301, 0.00002}, {0.699, 0.00005}, {1.000, 0.0001},
		{1.301, 0.0002}, {1.699, 0.0005}, {2.000, 0.0010}, {2.301, 0.0020},
		{2.699, 0.0050}, {3.000, 0.0100}, {3.301, 0.0200}, {3.699, 0.0500},
		{4.000, 0.1000}, {4.301, 0.2000}, {4.699, 0.5000}, {5.000, 1.0000},
		{5.301, 2.0000}, {5.699, 5.0000}, {6.000, 10.0000}, {6.301, 20.0000},
		{6.699, 50.0000}, {7.000, 100.0000}, {7.301, 200.0000}, {7.477, 300.0000},
		{7.602, 400.0000}, {7.699, 500.0000}, {7.778, 600.0000}, {7.845, 700.0000},
		{7.881, 760.0000}, {7.903, 800.0000}, {7.954, 900.0000}, {8.000, 1000.0000},
	}}
}
