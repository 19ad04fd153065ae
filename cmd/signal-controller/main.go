// Command signal-controller runs a single-intersection traffic signal: it picks
// the next lane to serve, drives its GREEN/YELLOW/RED phases and publishes
// every phase change to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/config"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/feed"
	"github.com/sweeney/signal-controller/internal/gpio"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/mqtt"
	"github.com/sweeney/signal-controller/internal/signal"
	"github.com/sweeney/signal-controller/internal/status"
	"github.com/sweeney/signal-controller/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, printConfig, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if printConfig {
		data, err := config.Marshal(cfg)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		os.Stdout.Write(data)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parseFlags builds the effective configuration: defaults, then the
// --config file, then any flag given on the command line.
func parseFlags(args []string) (config.Config, bool, error) {
	def := config.Default()

	fs := pflag.NewFlagSet("signal-controller", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "YAML configuration file")
	lanes := fs.StringSlice("lanes", def.Lanes, "Lane ids in tie-break order")
	minGreen := fs.Int("min-green", def.Timing.MinGreen, "Minimum green time (time-units)")
	maxGreen := fs.Int("max-green", def.Timing.MaxGreen, "Maximum green time (time-units)")
	yellow := fs.Int("yellow", def.Timing.Yellow, "Yellow time (time-units)")
	starveAfter := fs.Int("starvation-threshold", def.Timing.StarvationThreshold, "Cycles a lane may wait before it is served regardless of queue")
	starveBonus := fs.Int("starvation-bonus", def.Timing.StarvationBonus, "Extra green for a starved lane (time-units)")
	unit := fs.Duration("unit", def.Unit, "Wall time of one time-unit")
	feedMode := fs.String("feed", def.Feed, "Vehicle feed: sim, gpio, mqtt or none")
	seed := fs.Int64("seed", def.Sim.Seed, "Simulator random seed (0 = time based)")
	broker := fs.String("broker", def.MQTT.Broker, `MQTT broker address ("" disables MQTT)`)
	clientID := fs.String("client-id", def.MQTT.ClientID, "MQTT client id (default signal-controller-<random>)")
	httpAddr := fs.String("http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	heartbeat := fs.Duration("heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	printConfig := fs.Bool("print-config", false, "Print the effective configuration as YAML and exit")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}

	cfg := def
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return config.Config{}, false, err
		}
		cfg = loaded
	}

	if fs.Changed("lanes") {
		cfg.Lanes = *lanes
	}
	if fs.Changed("min-green") {
		cfg.Timing.MinGreen = *minGreen
	}
	if fs.Changed("max-green") {
		cfg.Timing.MaxGreen = *maxGreen
	}
	if fs.Changed("yellow") {
		cfg.Timing.Yellow = *yellow
	}
	if fs.Changed("starvation-threshold") {
		cfg.Timing.StarvationThreshold = *starveAfter
	}
	if fs.Changed("starvation-bonus") {
		cfg.Timing.StarvationBonus = *starveBonus
	}
	if fs.Changed("unit") {
		cfg.Unit = *unit
	}
	if fs.Changed("feed") {
		cfg.Feed = *feedMode
	}
	if fs.Changed("seed") {
		cfg.Sim.Seed = *seed
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker = *broker
	}
	if fs.Changed("client-id") {
		cfg.MQTT.ClientID = *clientID
	}
	if fs.Changed("http") {
		cfg.HTTP.Addr = *httpAddr
	}
	if fs.Changed("heartbeat") {
		cfg.Heartbeat = *heartbeat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}
	return cfg, *printConfig, nil
}

func run(cfg config.Config) error {
	var b broker
	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "signal-controller-" + uuid.NewString()[:8]
		}
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, clientID, cfg.MQTT.BufferSize)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()
		b = pub
	}

	var reader gpio.Reader
	if cfg.Feed == config.FeedGPIO {
		r, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.Pins)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer r.Close()
		reader = r
	}

	a, err := newApp(cfg, clock.Real{}, b, reader)
	if err != nil {
		return err
	}

	if cfg.HTTP.Addr != "" {
		a.web = web.New(cfg.HTTP.Addr, a.tracker, a.clock, cfg.HTTP.LiveInterval)
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: lanes=%v feed=%s unit=%v broker=%s heartbeat=%v",
		cfg.Lanes, cfg.Feed, cfg.Unit, cfg.MQTT.Broker, cfg.Heartbeat)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)

	return a.runLoop(context.Background(), sigCh)
}

// broker is the MQTT side of the controller. *mqtt.RealPublisher and
// *mqtt.FakePublisher implement it.
type broker interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
	mqtt.VehicleSubscriber
}

// app wires the controller to its collaborators. broker, reader, sim and web
// are nil when not configured.
type app struct {
	cfg     config.Config
	clock   clock.Clock
	lanes   *logic.Lanes
	sched   *logic.Scheduler
	tracker *status.Tracker
	broker  broker
	reader  gpio.Reader
	sim     *feed.Simulator
	web     *web.Server

	// monitorEvery is how often MQTT connectivity is refreshed and the
	// heartbeat interval checked.
	monitorEvery time.Duration
}

func newApp(cfg config.Config, clk clock.Clock, b broker, reader gpio.Reader) (*app, error) {
	lanes, err := logic.NewLanes(cfg.Lanes)
	if err != nil {
		return nil, fmt.Errorf("lanes: %w", err)
	}
	sched, err := logic.NewScheduler(lanes, cfg.Timing)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	tracker := status.NewTracker(clk.Now(), status.Config{
		Timing:      cfg.Timing,
		UnitMs:      cfg.Unit.Milliseconds(),
		Feed:        cfg.Feed,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
	}, lanes)

	a := &app{
		cfg:          cfg,
		clock:        clk,
		lanes:        lanes,
		sched:        sched,
		tracker:      tracker,
		broker:       b,
		reader:       reader,
		monitorEvery: time.Second,
	}
	if cfg.Feed == config.FeedSim {
		a.sim = feed.NewSimulator(lanes, tracker, cfg.Sim)
	}
	return a, nil
}

// sinks returns the downstream consumers of phase events.
func (a *app) sinks() []signal.Sink {
	sinks := []signal.Sink{signal.SinkFunc(logPhase), a.tracker}
	if a.sim != nil {
		sinks = append(sinks, a.sim)
	}
	if a.broker != nil {
		sinks = append(sinks, signal.SinkFunc(a.broker.Publish))
	}
	return sinks
}

func logPhase(event logic.PhaseEvent) error {
	log.Printf("signal: %s %s for %d (queued=%d waiting=%d starved=%v)",
		event.Lane, event.Phase, event.Duration, event.Queued, event.Waiting, event.Starved)
	return nil
}

// runLoop runs the controller and its collaborators until a signal arrives,
// ctx is cancelled or a component fails. STARTUP is published first and
// SHUTDOWN last, after every queued phase event has been delivered.
func (a *app) runLoop(ctx context.Context, sig <-chan os.Signal) error {
	a.publishSystem("STARTUP", "", true)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The dispatcher outlives the other goroutines so the final RED is delivered.
	dispatcher := signal.NewDispatcher(a.cfg.DispatchQueue, a.sinks()...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(dispatchCtx) }()

	g, gctx := errgroup.WithContext(ctx)

	ctrl := controller.New(a.sched, dispatcher, a.clock, a.cfg.Unit)
	g.Go(func() error { return ctrl.Run(gctx) })

	a.startFeed(gctx, g)

	g.Go(func() error { return a.monitor(gctx) })

	if a.web != nil {
		g.Go(func() error {
			if err := a.web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return a.web.Shutdown(sctx)
		})
	}

	reason := ""
	g.Go(func() error {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason = signalName(s)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()

	stopDispatch()
	<-dispatchDone
	if n := dispatcher.Dropped(); n > 0 {
		log.Printf("signal: %d phase events dropped (queue full)", n)
	}

	if reason == "" {
		reason = "CANCELLED"
		if err != nil {
			reason = "ERROR"
		}
	}
	a.publishSystem("SHUTDOWN", reason, true)
	return err
}

// startFeed starts the configured vehicle feed.
func (a *app) startFeed(ctx context.Context, g *errgroup.Group) {
	switch a.cfg.Feed {
	case config.FeedSim:
		g.Go(func() error { return a.sim.Run(ctx, a.clock) })
	case config.FeedGPIO:
		if a.reader == nil {
			log.Printf("feed: gpio feed configured without a reader, queues will not change")
			return
		}
		det := feed.NewLoopDetector(a.lanes.IDs(), a.lanes, a.tracker, a.cfg.GPIO.Debounce)
		g.Go(func() error { return det.Run(ctx, a.reader, a.clock, a.cfg.GPIO.Poll) })
	case config.FeedMQTT:
		if a.broker == nil {
			log.Printf("feed: mqtt feed configured without a broker, queues will not change")
			return
		}
		if err := a.broker.SubscribeVehicles(feed.MQTTHandler(a.lanes, a.tracker)); err != nil {
			log.Printf("feed: subscribe %s: %v", mqtt.TopicVehicles, err)
		}
	}
}

// monitor keeps the tracker's MQTT state current and publishes heartbeats.
func (a *app) monitor(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.monitorEvery)
	defer ticker.Stop()

	lastHeartbeat := a.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			a.refreshMQTT()
			if a.cfg.Heartbeat <= 0 {
				continue
			}
			now := a.clock.Now()
			if now.Sub(lastHeartbeat) < a.cfg.Heartbeat {
				continue
			}
			lastHeartbeat = now

			snap := a.tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v cycles=%d queued=%d passed=%d",
				snap.Uptime().Truncate(time.Second), snap.Cycles, snap.TotalQueued(), snap.TotalPassed())
			a.publishSystem("HEARTBEAT", "", false)
		}
	}
}

func (a *app) refreshMQTT() {
	if a.broker != nil {
		a.tracker.SetMQTTConnected(a.broker.IsConnected())
	}
}

// publishSystem publishes a lifecycle event carrying a full status snapshot.
func (a *app) publishSystem(event, reason string, retained bool) {
	if a.broker == nil {
		return
	}
	a.refreshMQTT()
	snap := a.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	name := strings.ToLower(event)
	if err := a.broker.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
		return
	}
	log.Printf("published %s event", name)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
