package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration of the tool.
//
//	host: 192.168.1.20
//	port: 8899
//	machine_id: 1
//	log:
//	  level: debug
//	metrics:
//	  listen: ":9485"
//
// A serial block replaces host and port with a local port.
type fileConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	MachineID *int          `yaml:"machine_id"`
	Serial    *serialConfig `yaml:"serial"`
	Log       struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

type serialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`
	RS485    bool   `yaml:"rs485"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if fc.Serial != nil && fc.Serial.Device == "" {
		return nil, fmt.Errorf("invalid config %s: serial.device is required", path)
	}
	if fc.Serial == nil && fc.Host != "" && fc.Port == 0 {
		return nil, fmt.Errorf("invalid config %s: port is required with host", path)
	}
	return &fc, nil
}

// apply copies the file settings into opt, skipping flags set explicitly.
func (fc *fileConfig) apply(opt *option, explicit map[string]bool) {
	setString := func(name string, dst *string, v string) {
		if v != "" && !explicit[name] {
			*dst = v
		}
	}
	setInt := func(name string, dst *int, v int) {
		if v != 0 && !explicit[name] {
			*dst = v
		}
	}

	switch {
	case fc.Serial != nil:
		setString("address", &opt.address, "rtu://"+fc.Serial.Device)
		setInt("rtu-baudrate", &opt.rtu.baudrate, fc.Serial.BaudRate)
		setInt("rtu-databits", &opt.rtu.dataBits, fc.Serial.DataBits)
		setString("rtu-parity", &opt.rtu.parity, fc.Serial.Parity)
		setInt("rtu-stopbits", &opt.rtu.stopBits, fc.Serial.StopBits)
		if fc.Serial.RS485 && !explicit["rs485-enable"] {
			opt.rtu.rs485 = true
		}
	case fc.Host != "":
		setString("address", &opt.address, "tcp://"+net.JoinHostPort(fc.Host, strconv.Itoa(fc.Port)))
	}

	if fc.MachineID != nil && !explicit["machine"] {
		opt.machineID = *fc.MachineID
	}
	setString("log-level", &opt.logLevel, fc.Log.Level)
	setString("metrics", &opt.metricsListen, fc.Metrics.Listen)
}
