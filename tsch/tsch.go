// Package tsch is the public entry point: it wires every internal/*
// collaborator into a runnable slotop.Engine, the way the teacher's
// cmd/direwolf/main.go wires xmit_init/tq_init/ptt_init together, and
// loads the engine's Config from YAML the way config.go loads Dire
// Wolf's own configuration.
package tsch

import (
	"fmt"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/doismellburning/samoyed/internal/hopping"
	"github.com/doismellburning/samoyed/internal/lock"
	"github.com/doismellburning/samoyed/internal/neighbor"
	"github.com/doismellburning/samoyed/internal/radio"
	"github.com/doismellburning/samoyed/internal/radio/radiogpio"
	"github.com/doismellburning/samoyed/internal/rtimer"
	"github.com/doismellburning/samoyed/internal/schedule"
	"github.com/doismellburning/samoyed/internal/security"
	"github.com/doismellburning/samoyed/internal/slotop"
	"github.com/doismellburning/samoyed/internal/timesync"
)

// FileConfig is the YAML-serializable form of slotop.Config: human units
// (milliseconds/microseconds) rather than raw ticks, converted at load
// time via rtimer.WallClock once the target clock's resolution is known.
// Field names and defaults mirror spec.md section 6's configuration
// knobs, the way config.go's audio_s/misc_config_s structs mirror
// direwolf.conf's keys.
type FileConfig struct {
	TimeslotLengthUS int `yaml:"timeslot_length_us"`

	TsTxOffsetUS    int `yaml:"ts_tx_offset_us"`
	TsRxOffsetUS    int `yaml:"ts_rx_offset_us"`
	TsRxWaitUS      int `yaml:"ts_rx_wait_us"`
	TsTxAckDelayUS  int `yaml:"ts_tx_ack_delay_us"`
	TsRxAckDelayUS  int `yaml:"ts_rx_ack_delay_us"`
	TsAckWaitUS     int `yaml:"ts_ack_wait_us"`
	TsMaxAckUS      int `yaml:"ts_max_ack_us"`
	TsMaxTxUS       int `yaml:"ts_max_tx_us"`
	CCAOffsetUS     int `yaml:"cca_offset_us"`
	CCADurationUS   int `yaml:"cca_duration_us"`
	BitDurationUS   int `yaml:"bit_duration_us"`

	RadioDelayBeforeTXUS     int `yaml:"radio_delay_before_tx_us"`
	RadioDelayBeforeRXUS     int `yaml:"radio_delay_before_rx_us"`
	RadioDelayBeforeDetectUS int `yaml:"radio_delay_before_detect_us"`

	MaxFrameRetries  int   `yaml:"max_frame_retries"`
	DesyncThreshold  uint64 `yaml:"desync_threshold_slots"`
	MeasurementErrorUS int `yaml:"measurement_error_us"`

	RadioOnDuringTimeslot bool `yaml:"radio_on_during_timeslot"`
	CCAEnabled            bool `yaml:"cca_enabled"`
	LLSECEnabled          bool `yaml:"llsec_enabled"`
	TimesyncRemoveJitter  bool `yaml:"timesync_remove_jitter"`
	DriftFromACKEnabled   bool `yaml:"drift_from_ack_enabled"`
	GuardBeacon           bool `yaml:"guard_beacon"`
	GuardBeaconTimeUS     int  `yaml:"guard_beacon_time_us"`
	IsCoordinator         bool `yaml:"is_coordinator"`

	PollIntervalUS    int `yaml:"poll_interval_us"`
	KeepaliveFraction int `yaml:"keepalive_fraction"`

	HoppingSequence []int `yaml:"hopping_sequence"`
}

// DefaultFileConfig returns the standard IEEE 802.15.4-2015 TSCH timing
// values (macTsTxOffset etc.) spec.md section 6 enumerates, the way
// config.go's set_defaults initializes audio_config_p before a config
// file is read.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		TimeslotLengthUS: 10000,

		TsTxOffsetUS:   2120,
		TsRxOffsetUS:   1020,
		TsRxWaitUS:     2200,
		TsTxAckDelayUS: 1000,
		TsRxAckDelayUS: 800,
		TsAckWaitUS:    400,
		TsMaxAckUS:     2400,
		TsMaxTxUS:      4256,
		CCAOffsetUS:    1800,
		CCADurationUS:  128,
		BitDurationUS:  31, // ~32.5kbps O-QPSK

		RadioDelayBeforeTXUS:     50,
		RadioDelayBeforeRXUS:     50,
		RadioDelayBeforeDetectUS: 50,

		MaxFrameRetries:    7,
		DesyncThreshold:    100,
		MeasurementErrorUS: 100,

		CCAEnabled:           true,
		TimesyncRemoveJitter: true,
		DriftFromACKEnabled:  true,
		GuardBeacon:          false,
		GuardBeaconTimeUS:    500,

		PollIntervalUS:    100,
		KeepaliveFraction: 4,

		HoppingSequence: []int{11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26},
	}
}

// LoadFileConfig reads and parses a YAML config file into a zero
// FileConfig. Keys the file omits keep their zero values;
// DefaultFileConfig's values are not applied to them.
func LoadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("tsch: read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("tsch: parse config %s: %w", path, err)
	}
	return fc, nil
}

// Save writes fc back out as YAML, e.g. so a simulation run can snapshot
// the exact configuration it used alongside its log.
func (fc FileConfig) Save(path string) error {
	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("tsch: marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ToSlotopConfig converts the human-unit FileConfig into slotop.Config's
// tick-based fields at the resolution of ticksPerSecond, via
// rtimer.WallClock.
func (fc FileConfig) ToSlotopConfig(ticksPerSecond int64) slotop.Config {
	us := func(v int) rtimer.Duration {
		return rtimer.WallClock(time.Duration(v)*time.Microsecond, ticksPerSecond)
	}
	return slotop.Config{
		TimeslotLength: us(fc.TimeslotLengthUS),

		TsTxOffset:   us(fc.TsTxOffsetUS),
		TsRxOffset:   us(fc.TsRxOffsetUS),
		TsRxWait:     us(fc.TsRxWaitUS),
		TsTxAckDelay: us(fc.TsTxAckDelayUS),
		TsRxAckDelay: us(fc.TsRxAckDelayUS),
		TsAckWait:    us(fc.TsAckWaitUS),
		TsMaxAck:     us(fc.TsMaxAckUS),
		TsMaxTx:      us(fc.TsMaxTxUS),
		CCAOffset:    us(fc.CCAOffsetUS),
		CCADuration:  us(fc.CCADurationUS),
		BitDuration:  us(fc.BitDurationUS),

		RadioDelayBeforeTX:     us(fc.RadioDelayBeforeTXUS),
		RadioDelayBeforeRX:     us(fc.RadioDelayBeforeRXUS),
		RadioDelayBeforeDetect: us(fc.RadioDelayBeforeDetectUS),

		MaxFrameRetries:    fc.MaxFrameRetries,
		DesyncThreshold:    fc.DesyncThreshold,
		MeasurementError:   us(fc.MeasurementErrorUS),

		RadioOnDuringTimeslot: fc.RadioOnDuringTimeslot,
		CCAEnabled:            fc.CCAEnabled,
		LLSECEnabled:          fc.LLSECEnabled,
		TimesyncRemoveJitter:  fc.TimesyncRemoveJitter,
		DriftFromACKEnabled:   fc.DriftFromACKEnabled,
		GuardBeacon:           fc.GuardBeacon,
		GuardBeaconTime:       us(fc.GuardBeaconTimeUS),
		IsCoordinator:         fc.IsCoordinator,

		PollInterval:      us(fc.PollIntervalUS),
		KeepaliveFraction: fc.KeepaliveFraction,
	}
}

// Options assembles the non-YAML collaborators New needs: the clock, the
// radio driver, persistent schedule/neighbor state, and an optional GPIO
// power line for deployments where radio power is gated externally
// (internal/radio/radiogpio), mirroring the teacher's ptt_init wiring a
// PowerLine alongside the audio/modem stack.
type Options struct {
	Clock     rtimer.Clock
	Radio     radio.Driver
	Store     schedule.Store
	Neighbors *neighbor.Table
	Security  security.Codec // nil disables LLSEC regardless of Config.LLSECEnabled
	Timesync  timesync.Filter

	LocalAddress uint32
	PowerLine    *radiogpio.PowerLine // optional; wrapped into the gate below
}

// New builds a ready-to-run slotop.Engine from a FileConfig and Options,
// the way cmd/direwolf/main.go's main() sequences config_init, audio
// device open, and xmit_init/tq_init into one running system.
func New(fc FileConfig, opts Options) *slotop.Engine {
	cfg := fc.ToSlotopConfig(opts.Clock.TicksPerSecond())

	drv := opts.Radio
	if opts.PowerLine != nil {
		drv = gatedDriver{Driver: opts.Radio, power: opts.PowerLine}
	}

	e := slotop.NewEngine(cfg, opts.Clock, lock.New(), opts.Store, opts.Neighbors, drv, hopping.Sequence(fc.HoppingSequence))
	e.LocalAddress = opts.LocalAddress
	e.Security = opts.Security
	e.Timesync = opts.Timesync
	e.Log = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "tsch",
	})
	return e
}

// gatedDriver wraps a radio.Driver so On/Off also drive an external GPIO
// power line, e.g. a PA enable pin that isn't part of the transceiver
// chip itself.
type gatedDriver struct {
	radio.Driver
	power *radiogpio.PowerLine
}

func (g gatedDriver) On() {
	g.Driver.On()
	_ = g.power.On()
}

func (g gatedDriver) Off() {
	g.Driver.Off()
	_ = g.power.Off()
}
