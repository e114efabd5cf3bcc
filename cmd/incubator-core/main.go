// Command incubator-core boots the control core standalone: it
// constructs one explicit set of HAL devices, the state store and
// historian, and the supervisor, then blocks until SIGINT/SIGTERM and
// shuts down cleanly. Nothing here relies on process-wide import side
// effects.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"incubator-core/bus"
	"incubator-core/config"
	"incubator-core/hal/devices/co2probe"
	"incubator-core/hal/devices/humidity"
	"incubator-core/hal/devices/oxygen"
	"incubator-core/hal/devices/relay"
	"incubator-core/hal/devices/rtdhub"
	"incubator-core/historian"
	"incubator-core/statestore"
	"incubator-core/supervisor"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := config.Default()

	if _, err := host.Init(); err != nil {
		log.Fatal().Err(err).Msg("periph host init failed")
	}

	dev, err := buildDevices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("hal bring-up failed")
	}

	store := statestore.New(cfg.StateFilePath)

	hist, err := historian.Open(cfg.Historian)
	if err != nil {
		log.Fatal().Err(err).Msg("historian open failed")
	}

	b := bus.NewBus(8)

	sup := supervisor.New(cfg, dev, store, hist, b)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("supervisor start failed")
	}
	log.Info().Msg("incubator-core: control loops running")

	<-ctx.Done()
	log.Info().Msg("incubator-core: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("incubator-core: shutdown completed with errors")
		os.Exit(1)
	}
}

// buildDevices constructs every HAL handle the supervisor needs and
// transfers ownership of each relay to exactly one control loop. Sensors
// that are shared by hardware (the humidity combo probe sharing an I2C
// bus with the O2 probe) are opened once and handed to both consumers
// read-only.
func buildDevices(cfg config.Config) (supervisor.Devices, error) {
	i2cBus, err := i2creg.Open(cfg.HAL.I2CBus)
	if err != nil {
		return supervisor.Devices{}, err
	}

	ch1, err := rtdhub.OpenChannel(cfg.HAL.TemperatureSPIBus)
	if err != nil {
		log.Warn().Err(err).Msg("rtd channel 1 unavailable, temperature loop will run single-probe or not-connected")
	}

	var ch2 *rtdhub.Channel
	if cfg.HAL.TemperatureCh2SPIBus != "" {
		ch2, err = rtdhub.OpenChannel(cfg.HAL.TemperatureCh2SPIBus)
		if err != nil {
			log.Warn().Err(err).Msg("rtd channel 2 unavailable, temperature loop will run single-probe or not-connected")
		}
	}

	heater, err := relay.New(relay.Params{PinName: cfg.HAL.HeaterRelayPin, Name: "heater"})
	if err != nil {
		return supervisor.Devices{}, err
	}
	humidifier, err := relay.New(relay.Params{PinName: cfg.HAL.HumidifierRelayPin, Name: "humidifier"})
	if err != nil {
		return supervisor.Devices{}, err
	}
	argon, err := relay.New(relay.Params{PinName: cfg.HAL.ArgonValveRelayPin, Name: "argon_valve"})
	if err != nil {
		return supervisor.Devices{}, err
	}
	co2Primary, err := relay.New(relay.Params{PinName: cfg.HAL.CO2PrimaryRelayPin, Name: "co2_primary"})
	if err != nil {
		return supervisor.Devices{}, err
	}
	co2Secondary, err := relay.New(relay.Params{PinName: cfg.HAL.CO2SecondaryRelayPin, Name: "co2_secondary"})
	if err != nil {
		return supervisor.Devices{}, err
	}
	airPump, err := relay.New(relay.Params{PinName: cfg.HAL.AirPumpRelayPin, Name: "air_pump"})
	if err != nil {
		return supervisor.Devices{}, err
	}

	serialPort := co2probe.Params{
		Port:        cfg.CO2.SerialPort,
		BaudRate:    cfg.CO2.BaudRate,
		ReadRetries: cfg.CO2.ReadRetries,
		ReadTimeout: cfg.CO2.ReadTimeout,
	}

	return supervisor.Devices{
		TemperatureProbe: rtdhub.New(ch1, ch2),
		HumidityProbe:    humidity.New(i2cBus, cfg.HAL.HumidityAddr),
		OxygenProbe:      oxygen.New(i2cBus, cfg.HAL.O2Addr, 8),
		CO2Probe:         co2probe.New(serialPort),

		HeaterRelay:       heater,
		HumidifierRelay:   humidifier,
		ArgonValveRelay:   argon,
		CO2PrimaryRelay:   co2Primary,
		CO2SecondaryRelay: co2Secondary,
		AirPumpRelay:      airPump,
	}, nil
}
