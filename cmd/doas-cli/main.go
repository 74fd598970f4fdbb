package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/grid-x/serial"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fanbridge/rs485"
	"github.com/fanbridge/rs485/fan"
	"github.com/fanbridge/rs485/logger"
)

func main() {
	var opt option
	// general
	flag.StringVar(&opt.configFile, "config", "", "YAML config file, flags given on the command line take precedence")
	flag.StringVar(&opt.address, "address", "tcp://127.0.0.1:8899", "Example: tcp://192.168.1.20:8899, rtu:///dev/ttyUSB0")
	flag.IntVar(&opt.machineID, "machine", 1, "Device address on the RS485 bus")
	flag.DurationVar(&opt.timeout, "timeout", 5*time.Second, "Bound for connecting and for each register request")
	flag.StringVar(&opt.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.StringVar(&opt.metricsListen, "metrics", "", "Serve prometheus metrics on this address, e.g. :9485")
	// rtu
	flag.IntVar(&opt.rtu.baudrate, "rtu-baudrate", 9600, "Symbol rate, e.g.: 2400, 4800, 9600, 19200")
	flag.IntVar(&opt.rtu.dataBits, "rtu-databits", 8, "5, 6, 7 or 8")
	flag.StringVar(&opt.rtu.parity, "rtu-parity", "N", "Parity: N - None, E - Even, O - Odd")
	flag.IntVar(&opt.rtu.stopBits, "rtu-stopbits", 1, "1 or 2")
	flag.BoolVar(&opt.rtu.rs485, "rs485-enable", false, "enables rs485 cfg")
	// fan
	flag.StringVar(&opt.get, "get", "", "Characteristic to read: on, direction or speed")
	flag.StringVar(&opt.set, "set", "", "Characteristic to write: on, direction or speed")
	flag.StringVar(&opt.value, "value", "", "Value for -set: true/false, cw/ccw or a speed percentage")
	flag.BoolVar(&opt.watch, "watch", false, "keep running and print every change of the fan state")
	flag.DurationVar(&opt.watchInterval, "watch-interval", 10*time.Second, "Poll interval of -watch")

	flag.Parse()

	if len(os.Args) == 1 {
		flag.PrintDefaults()
		return
	}

	if opt.configFile != "" {
		fc, err := loadConfig(opt.configFile)
		if err != nil {
			logger.Fatal("failed to load config", "file", opt.configFile, "error", err)
		}
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		fc.apply(&opt, explicit)
	}

	log, err := newLogger(opt.logLevel)
	if err != nil {
		logger.Fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opt, log); err != nil {
		log.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

type option struct {
	configFile    string
	address       string
	machineID     int
	timeout       time.Duration
	logLevel      string
	metricsListen string

	rtu struct {
		baudrate int
		dataBits int
		parity   string
		stopBits int
		rs485    bool
	}

	get           string
	set           string
	value         string
	watch         bool
	watchInterval time.Duration
}

func run(ctx context.Context, opt option, log logger.Logger) error {
	if opt.machineID < 0 || opt.machineID > 0xFF {
		return fmt.Errorf("invalid machine id: %d", opt.machineID)
	}
	if opt.get == "" && opt.set == "" && !opt.watch {
		return errors.New("nothing to do: use -get, -set or -watch")
	}

	connOpts, err := newConnOptions(opt, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if opt.metricsListen != "" {
		connOpts = append(connOpts, rs485.WithMetrics(reg))
		srv := serveMetrics(opt.metricsListen, reg, log)
		defer srv.Close()
	}

	host, port := "localhost", 0
	if u, _ := url.Parse(opt.address); u != nil && u.Scheme == "tcp" {
		if host, port, err = splitHostPort(u.Host); err != nil {
			return err
		}
	}

	conn, err := rs485.NewConnector(host, port, byte(opt.machineID), connOpts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := waitConnected(ctx, conn, opt.timeout); err != nil {
		return err
	}

	f := fan.New(fmt.Sprintf("fan-%d", opt.machineID), conn, log)

	if opt.set != "" {
		reqCtx, cancel := context.WithTimeout(ctx, opt.timeout)
		err := set(reqCtx, f, opt.set, opt.value)
		cancel()
		if err != nil {
			return err
		}
	}
	if opt.get != "" {
		reqCtx, cancel := context.WithTimeout(ctx, opt.timeout)
		res, err := get(reqCtx, f, opt.get)
		cancel()
		if err != nil {
			return err
		}
		fmt.Println(res)
	}
	if opt.watch {
		return watch(ctx, f, opt.watchInterval, opt.timeout, log)
	}
	return nil
}

// newConnOptions picks the link from the address scheme.
func newConnOptions(opt option, log logger.Logger) ([]rs485.ConnOption, error) {
	u, err := url.Parse(opt.address)
	if err != nil {
		return nil, err
	}

	opts := []rs485.ConnOption{
		rs485.WithLogger(log),
		rs485.WithDialTimeout(opt.timeout),
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("missing host in address %q", opt.address)
		}
		return opts, nil
	case "rtu":
		if u.Path == "" {
			return nil, fmt.Errorf("missing device in address %q", opt.address)
		}
		dial := rs485.SerialDialer(serial.Config{
			Address:  u.Path,
			BaudRate: opt.rtu.baudrate,
			DataBits: opt.rtu.dataBits,
			Parity:   opt.rtu.parity,
			StopBits: opt.rtu.stopBits,
			Timeout:  opt.timeout,
			RS485:    serial.RS485Config{Enabled: opt.rtu.rs485},
		})
		return append(opts, rs485.WithDialer(dial)), nil
	}

	return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
}

func splitHostPort(hostport string) (string, int, error) {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", p, err)
	}
	return host, port, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", "listen", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func waitConnected(ctx context.Context, conn *rs485.Connector, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !conn.State().IsConnected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("device not connected after %v: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func get(ctx context.Context, f *fan.Fan, characteristic string) (string, error) {
	switch strings.ToLower(characteristic) {
	case "on":
		on, err := f.On(ctx)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(on), nil
	case "direction":
		d, err := f.Direction(ctx)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	case "speed":
		speed, err := f.Speed(ctx)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(speed), nil
	}
	return "", fmt.Errorf("unknown characteristic: %s", characteristic)
}

func set(ctx context.Context, f *fan.Fan, characteristic, value string) error {
	switch strings.ToLower(characteristic) {
	case "on":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid power value %q: %w", value, err)
		}
		return f.SetOn(ctx, on)
	case "direction":
		d, err := parseDirection(value)
		if err != nil {
			return err
		}
		return f.SetDirection(ctx, d)
	case "speed":
		speed, err := strconv.Atoi(value)
		if err != nil || speed < 0 || speed > 100 {
			return fmt.Errorf("invalid speed %q: want 0-100", value)
		}
		return f.SetSpeed(ctx, speed)
	}
	return fmt.Errorf("unknown characteristic: %s", characteristic)
}

func parseDirection(value string) (fan.Direction, error) {
	switch strings.ToLower(value) {
	case "cw", "clockwise", "0":
		return fan.Clockwise, nil
	case "ccw", "counterclockwise", "counter-clockwise", "1":
		return fan.CounterClockwise, nil
	}
	return fan.Clockwise, fmt.Errorf("invalid direction %q: want cw or ccw", value)
}

type fanState struct {
	on        bool
	direction fan.Direction
	speed     int
}

func (s fanState) String() string {
	return fmt.Sprintf("on=%t direction=%s speed=%d", s.on, s.direction, s.speed)
}

func readState(ctx context.Context, f *fan.Fan) (fanState, error) {
	var (
		s   fanState
		err error
	)
	if s.on, err = f.On(ctx); err != nil {
		return s, err
	}
	if s.direction, err = f.Direction(ctx); err != nil {
		return s, err
	}
	if s.speed, err = f.Speed(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// watch polls the fan until ctx is done and prints the state on every change.
func watch(ctx context.Context, f *fan.Fan, interval, timeout time.Duration, log logger.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last  fanState
		known bool
	)
	for {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		s, err := readState(reqCtx, f)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("failed to read fan state", "error", err)
		case err == nil && (!known || s != last):
			fmt.Println(s)
			last, known = s, true
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
