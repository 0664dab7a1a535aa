// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/ekf-ingest/internal/config"
	"github.com/relabs-tech/ekf-ingest/internal/ekf"
	"github.com/relabs-tech/ekf-ingest/internal/env"
	"github.com/relabs-tech/ekf-ingest/internal/gps"
	imu_raw "github.com/relabs-tech/ekf-ingest/internal/imu"
	"github.com/relabs-tech/ekf-ingest/internal/sensors"
)

func ekfParamsFromConfig(cfg *config.Config) ekf.Params {
	return ekf.Params{
		MagDelayMS:           cfg.EKFMagDelayMS,
		GPSDelayMS:           cfg.EKFGPSDelayMS,
		BaroDelayMS:          cfg.EKFBaroDelayMS,
		RangeDelayMS:         cfg.EKFRangeDelayMS,
		FlowDelayMS:          cfg.EKFFlowDelayMS,
		EvDelayMS:            cfg.EKFEvDelayMS,
		AuxVelDelayMS:        cfg.EKFAuxVelDelayMS,
		AirspeedDelayMS:      cfg.EKFAirspeedDelayMS,
		MinDelayMS:           cfg.EKFMinDelayMS,
		SensorIntervalMinMS:  cfg.EKFSensorIntervalMinMS,
		FusionMode:           cfg.EKFFusionMode,
		VDistSensorType:      cfg.EKFVDistSensorType,
		FlowQualMin:          cfg.EKFFlowQualMin,
		FlowRateMax:          cfg.EKFFlowRateMax,
		FilterUpdatePeriodMS: cfg.EKFFilterUpdatePeriodMS,
	}
}

// rawIMUTracker converts successive raw accel/gyro ticks into the
// delta-angle/delta-velocity increments setIMUData expects, by
// integrating over the wall-clock gap between ticks rather than a
// sensor-reported sample period, since the MQTT transport carries none.
type rawIMUTracker struct {
	have   bool
	lastAt time.Time
}

func (t *rawIMUTracker) convert(cfg *config.Config, raw imu_raw.IMURaw, at time.Time) (dtUs int64, deltaAng, deltaVel ekf.Vec3, ok bool) {
	if !t.have {
		t.have = true
		t.lastAt = at
		return 0, ekf.Vec3{}, ekf.Vec3{}, false
	}
	dt := at.Sub(t.lastAt).Seconds()
	t.lastAt = at
	if dt <= 0 {
		return 0, ekf.Vec3{}, ekf.Vec3{}, false
	}

	accel, gyro := sensors.ConvertToPhysical(cfg, raw)

	return int64(dt * 1e6),
		ekf.Vec3{gyro[0] * dt, gyro[1] * dt, gyro[2] * dt},
		ekf.Vec3{accel[0] * dt, accel[1] * dt, accel[2] * dt},
		true
}

// gpsAssembler merges the last RMC fix and the last GGA fix quality into
// one ekf.GPSMessage, since the two NMEA sentences arrive on separate
// MQTT topics (see gps_producer.go) but the ingest API wants one record.
type gpsAssembler struct {
	mu      sync.Mutex
	fix     gps.Fix
	quality gps.FixQuality
	haveFix bool
}

func (g *gpsAssembler) setFix(f gps.Fix) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fix = f
	g.haveFix = true
}

func (g *gpsAssembler) setQuality(q gps.FixQuality) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quality = q
}

func (g *gpsAssembler) message(timeUsec int64) (ekf.GPSMessage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.haveFix {
		return ekf.GPSMessage{}, false
	}
	speedMS := g.fix.SpeedKnots * 0.514444
	courseRad := g.fix.CourseDeg * math.Pi / 180.0
	return ekf.GPSMessage{
		TimeUsec:    timeUsec,
		LatE7:       int32(g.fix.Latitude * 1e7),
		LonE7:       int32(g.fix.Longitude * 1e7),
		AltMM:       int32(g.quality.AltitudeM * 1000),
		VelNED:      ekf.Vec3{speedMS * math.Cos(courseRad), speedMS * math.Sin(courseRad), 0},
		VelNEDValid: g.fix.Validity == "A",
		FixType:     g.quality.FixType,
		EPH:         g.quality.HDOP * 5.0, // rough HDOP-to-meters scaling; no UERE estimate available from NMEA alone
		EPV:         g.quality.HDOP * 8.0,
		SAcc:        1.0,
	}, true
}

// ingestJob is one unit of serialized work against the shared Frontend,
// matching the core's single-logical-worker concurrency model (§5):
// every MQTT callback builds a job and hands it to the one goroutine
// that owns the Frontend, instead of calling into it directly from
// however many subscriber goroutines paho.mqtt.golang runs concurrently.
type ingestJob func(*ekf.Frontend)

// runEKFFrontend wires the sensor-ingest front-end to the teacher's MQTT
// transport: it subscribes to the existing IMU/env/GPS topics, feeds
// every decoded record into one serialized ingest worker, and publishes
// front-end status on a timer. It runs until ctx is cancelled or a fatal
// subscription/connect error occurs.
func runEKFFrontend(ctx context.Context) error {
	cfg := config.Get()

	params := ekfParamsFromConfig(cfg)
	projection := &ekf.EquirectangularProjection{}
	frontend := ekf.NewFrontend(params, projection)

	if !frontend.InitialiseInterface(nowUs()) {
		return fmt.Errorf("ekf: frontend initialisation failed")
	}

	clientID := cfg.MQTTClientIDFrontend
	if clientID == "" {
		clientID = "inertial-ekf-frontend"
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker).SetClientID(clientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ekf: mqtt connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("ekf: frontend connected to MQTT broker at %s", cfg.MQTTBroker)

	jobs := make(chan ingestJob, 256)
	var imuTracker rawIMUTracker
	var gpsState gpsAssembler

	subscribe := func(topic string, handler func(msg mqtt.Message)) error {
		if topic == "" {
			return nil
		}
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg)
		})
		token.Wait()
		return token.Error()
	}

	submit := func(job ingestJob) {
		select {
		case jobs <- job:
		default:
			log.Printf("ekf: ingest queue full, dropping sample")
		}
	}

	if err := subscribe(cfg.TopicIMULeft, func(msg mqtt.Message) {
		var raw imu_raw.IMURaw
		if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
			log.Printf("ekf: imu unmarshal error: %v", err)
			return
		}
		at := time.Now()
		dtUs, deltaAng, deltaVel, ok := imuTracker.convert(cfg, raw, at)
		if !ok {
			return
		}
		submit(func(f *ekf.Frontend) {
			f.SetIMUData(at.UnixMicro(), dtUs, dtUs, deltaAng, deltaVel)
		})
		mx, my, mz := float64(raw.Mx), float64(raw.My), float64(raw.Mz)
		submit(func(f *ekf.Frontend) {
			f.SetMagData(at.UnixMicro(), ekf.Vec3{mx, my, mz})
		})
	}); err != nil {
		return fmt.Errorf("ekf: subscribe imu: %w", err)
	}

	if err := subscribe(cfg.TopicBMPLeft, func(msg mqtt.Message) {
		var s env.Sample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("ekf: env unmarshal error: %v", err)
			return
		}
		hgt := pressureToAltitudeM(s.Pressure)
		at := time.Now().UnixMicro()
		submit(func(f *ekf.Frontend) { f.SetBaroData(at, hgt) })
	}); err != nil {
		return fmt.Errorf("ekf: subscribe baro: %w", err)
	}

	if err := subscribe(cfg.TopicGPS, func(msg mqtt.Message) {
		var fix gps.Fix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			log.Printf("ekf: gps fix unmarshal error: %v", err)
			return
		}
		gpsState.setFix(fix)
		at := time.Now().UnixMicro()
		if m, ok := gpsState.message(at); ok {
			submit(func(f *ekf.Frontend) { f.SetGPSData(at, m) })
		}
	}); err != nil {
		return fmt.Errorf("ekf: subscribe gps: %w", err)
	}

	if err := subscribe(cfg.TopicGPSQuality, func(msg mqtt.Message) {
		var q gps.FixQuality
		if err := json.Unmarshal(msg.Payload(), &q); err != nil {
			log.Printf("ekf: gps quality unmarshal error: %v", err)
			return
		}
		gpsState.setQuality(q)
	}); err != nil {
		return fmt.Errorf("ekf: subscribe gps quality: %w", err)
	}

	statusInterval := time.Duration(cfg.EKFStatusIntervalMS) * time.Millisecond
	if statusInterval <= 0 {
		statusInterval = 5 * time.Second
	}
	statusTopic := cfg.TopicEKFStatus
	if statusTopic == "" {
		statusTopic = "inertial/ekf/status"
	}

	hub := newStatusHub()

	group, gctx := errgroup.WithContext(ctx)

	if cfg.EKFStatusWSAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws/ekf/status", hub.HandleEKFStatusWS)
		server := &http.Server{Addr: cfg.EKFStatusWSAddr, Handler: mux}

		group.Go(func() error {
			log.Printf("ekf: status websocket listening on %s/ws/ekf/status", cfg.EKFStatusWSAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
	}

	group.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case job := <-jobs:
				job(frontend)
			}
		}
	})

	group.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				done := make(chan []string, 1)
				submit(func(f *ekf.Frontend) { done <- f.StatusLines() })
				select {
				case lines := <-done:
					payload, err := json.Marshal(lines)
					if err != nil {
						log.Printf("ekf: status marshal error: %v", err)
						continue
					}
					client.Publish(statusTopic, 0, false, payload)
					hub.broadcast(payload)
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	return group.Wait()
}

// pressureToAltitudeM applies the standard barometric formula (ISA,
// sea-level reference) to convert a station pressure reading to height.
func pressureToAltitudeM(pressurePa float64) float64 {
	const seaLevelPa = 101325.0
	if pressurePa <= 0 {
		return 0
	}
	return 44330.0 * (1.0 - math.Pow(pressurePa/seaLevelPa, 1.0/5.255))
}

func nowUs() int64 {
	return time.Now().UnixMicro()
}

// RunEKFFrontend is the cmd/frontend entry point: config must already be
// loaded via config.InitGlobal, matching every other internal/app Run*
// function's convention. It runs until SIGINT/SIGTERM and returns nil on
// a clean shutdown.
func RunEKFFrontend() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("ekf: shutting down")
		cancel()
	}()

	err := runEKFFrontend(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
