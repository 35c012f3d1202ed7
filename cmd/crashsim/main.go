// cmd/crashsim/main.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// crashsim runs the training-simulator core headless: it flies one
// aircraft with an optional scripted failure, prints simulation events to
// stdout, and can record a flight-data trace for later analysis.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/avtrain/crashsim/log"
	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/sim"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

var (
	airframeName = flag.String("airframe", "B738", "airframe model to fly")
	difficulty   = flag.String("difficulty", "normal", "difficulty tier: easy, normal, hard, extreme")
	failureName  = flag.String("failure", "none", "forced failure type (e.g. engine_fire, control_jam)")
	randomEng    = flag.Bool("randomengines", false, "enable the random engine-failure scheduler")
	seed         = flag.Int64("seed", 0, "random seed; 0 seeds from the clock")
	duration     = flag.Duration("duration", 5*time.Minute, "how long to run the simulation")
	rate         = flag.Float64("rate", 1, "simulation rate multiplier")
	altitude     = flag.Float64("altitude", 10000, "initial altitude, feet MSL")
	airspeed     = flag.Float64("airspeed", 280, "initial true airspeed, knots")
	heading      = flag.Float64("heading", 0, "initial heading, degrees")
	scenarioFile = flag.String("scenario", "", "YAML scenario file; overrides the individual flags")
	recordFile   = flag.String("record", "", "write a msgpack flight-data trace to this file")
	logLevel     = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir       = flag.String("logdir", "", "log file directory")
)

// Scenario is the YAML session description: the same knobs as the
// command line, in a file that can be checked in next to a lesson plan.
type Scenario struct {
	Airframe    string        `yaml:"airframe"`
	Difficulty  string        `yaml:"difficulty"`
	Failure     string        `yaml:"failure"`
	Altitude    float32       `yaml:"altitude"`
	Airspeed    float32       `yaml:"airspeed"`
	Heading     float32       `yaml:"heading"`
	Duration    time.Duration `yaml:"duration"`
	Throttle    float32       `yaml:"throttle"`
	Origin      []float32     `yaml:"origin"`      // [latitude, longitude]
	Destination []float32     `yaml:"destination"` // [latitude, longitude]
}

func parsePoint(ll []float32) (math.Point2LL, bool) {
	if len(ll) != 2 {
		return math.Point2LL{}, false
	}
	return math.Point2LL{ll[1], ll[0]}, true
}

func loadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc := &Scenario{Throttle: 0.6}
	if err := yaml.Unmarshal(b, sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func main() {
	flag.Parse()

	lg := log.New(*logLevel, *logDir)
	defer lg.CatchAndReportCrash()

	config := sim.Config{
		AirframeName:         *airframeName,
		RandomEngineFailures: *randomEng,
		Seed:                 *seed,
		InitialAltitudeFeet:  float32(*altitude),
		InitialTASKnots:      float32(*airspeed),
		InitialHeadingDeg:    float32(*heading),
	}
	runFor := *duration
	throttle := float32(0.6)
	var destination math.Point2LL
	haveDestination := false

	if *scenarioFile != "" {
		sc, err := loadScenario(*scenarioFile)
		if err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}
		config.AirframeName = sc.Airframe
		*difficulty = sc.Difficulty
		*failureName = sc.Failure
		config.InitialAltitudeFeet = sc.Altitude
		config.InitialTASKnots = sc.Airspeed
		config.InitialHeadingDeg = sc.Heading
		if sc.Duration > 0 {
			runFor = sc.Duration
		}
		throttle = sc.Throttle
		if p, ok := parsePoint(sc.Origin); ok {
			config.Origin = p
		}
		destination, haveDestination = parsePoint(sc.Destination)
	}

	var err error
	if config.Difficulty, err = sim.ParseDifficulty(*difficulty); err != nil {
		lg.Errorf("%v", err)
		os.Exit(1)
	}
	if config.ForcedFailure, err = sim.ParseFailureType(*failureName); err != nil {
		lg.Errorf("%v", err)
		os.Exit(1)
	}

	es := sim.NewEventStream(lg)
	defer es.Destroy()
	sub := es.Subscribe()

	s, err := sim.New(config, es, lg)
	if err != nil {
		lg.Errorf("%v", err)
		os.Exit(1)
	}
	s.SetMasterThrottle(throttle)
	s.SetSimRate(float32(*rate))
	if haveDestination {
		// Fly the initial great-circle course toward the destination.
		s.EngageAutopilot(math.Bearing2LL(config.Origin, destination))
	} else {
		s.EngageAutopilot(config.InitialHeadingDeg)
	}

	var recorder *msgpack.Encoder
	if *recordFile != "" {
		f, err := os.Create(*recordFile)
		if err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}
		defer f.Close()
		recorder = msgpack.NewEncoder(f)
	}

	fmt.Printf("flying %s at %s difficulty", config.AirframeName, config.Difficulty)
	if config.ForcedFailure != sim.FailureNone {
		fmt.Printf(", forced failure %s", config.ForcedFailure)
	}
	fmt.Println()
	if haveDestination {
		fmt.Printf("route %s -> %s: %.0f nm, initial course %03.0f\n",
			config.Origin.DDString(), destination.DDString(),
			math.NMDistance2LL(config.Origin, destination),
			math.Bearing2LL(config.Origin, destination))
	}

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	statusEvery := time.NewTicker(5 * time.Second)
	defer statusEvery.Stop()

	start := time.Now()
	for time.Since(start) < runFor {
		select {
		case <-tick.C:
			s.Update()
			snap := s.Snapshot()

			for _, ev := range sub.Get() {
				fmt.Printf("[%8s] %s\n", snap.SimTime.Truncate(time.Second), ev.String())
			}

			if recorder != nil {
				if err := recorder.Encode(snap); err != nil {
					lg.Errorf("trace: %v", err)
					recorder = nil
				}
			}
			if snap.Crashed {
				fmt.Printf("*** CRASH: %s\n", snap.CrashReason)
				printSummary(snap)
				return
			}

		case <-statusEvery.C:
			printStatus(s.Snapshot())
		}
	}

	printSummary(s.Snapshot())
}

func printStatus(snap sim.Snapshot) {
	fmt.Printf("[%8s] alt %6.0f ft  ias %5.1f kt  vs %+6.0f fpm  hdg %3.0f  n1", snap.SimTime.Truncate(time.Second),
		snap.AltitudeMSLFeet, snap.IASKnots, snap.VerticalSpeed, snap.HeadingDeg)
	for _, e := range snap.Engines {
		fmt.Printf(" %5.1f", e.N1)
	}
	for _, w := range snap.Warnings {
		fmt.Printf("  [%s %s]", w.Level, w.Message)
	}
	fmt.Println()
}

func printSummary(snap sim.Snapshot) {
	fmt.Printf("simulated %s: %.0f nm flown, %d/%d engines running, %.0f kg fuel remaining, %d active failures\n",
		snap.SimTime.Truncate(time.Second), snap.DistanceFlownNM, snap.Metrics.EnginesRunning,
		len(snap.Engines), snap.Systems.FuelKG, len(snap.ActiveFailures))
	for _, f := range snap.ActiveFailures {
		fmt.Printf("  failure: %s (%s)\n", f.Type, f.Severity)
	}
	for _, w := range snap.Warnings {
		fmt.Printf("  warning: %s %s\n", w.Level, w.Message)
	}
}
