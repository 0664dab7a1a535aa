// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/ekf-ingest/internal/config"
	"github.com/relabs-tech/ekf-ingest/internal/gps"
	"github.com/relabs-tech/ekf-ingest/internal/imu"
)

// DisplayData holds the latest data for display. Orientation panels were
// dropped when the pose-fusion feature was removed; ekfStatus now takes
// their place as the second OLED's primary content.
type DisplayData struct {
	mu sync.RWMutex

	// IMU raw data
	imuRawLeft      imu.IMURaw
	haveIMURawLeft  bool
	imuRawRight     imu.IMURaw
	haveIMURawRight bool

	// EKF front-end status (StatusLines() JSON, see internal/ekf)
	ekfStatus     []string
	haveEKFStatus bool

	// GPS data
	gpsPos  gps.Position
	haveGPS bool
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	// Initialize left display
	leftDisplay, err := ssd1306.NewI2C(bus, cfg.DisplayLeftI2CAddr, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize left display: %w", err)
	}
	log.Printf("display: left display initialized at 0x%02X", cfg.DisplayLeftI2CAddr)

	// Initialize right display
	rightDisplay, err := ssd1306.NewI2C(bus, cfg.DisplayRightI2CAddr, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize right display: %w", err)
	}
	log.Printf("display: right display initialized at 0x%02X", cfg.DisplayRightI2CAddr)

	// Show splash screens
	if err := showLeftSplash(leftDisplay); err != nil {
		log.Printf("display: error showing left splash: %v", err)
	}
	if err := showRightSplash(rightDisplay); err != nil {
		log.Printf("display: error showing right splash: %v", err)
	}

	// Data storage
	data := &DisplayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to topics based on display content configuration
	if err := subscribeForContent(client, cfg.DisplayLeftContent, data, cfg); err != nil {
		return fmt.Errorf("failed to subscribe for left display: %w", err)
	}
	if err := subscribeForContent(client, cfg.DisplayRightContent, data, cfg); err != nil {
		return fmt.Errorf("failed to subscribe for right display: %w", err)
	}

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		// Read data without copying the mutex
		data.mu.RLock()
		snapshot := DisplayData{
			imuRawLeft:      data.imuRawLeft,
			haveIMURawLeft:  data.haveIMURawLeft,
			imuRawRight:     data.imuRawRight,
			haveIMURawRight: data.haveIMURawRight,
			ekfStatus:       data.ekfStatus,
			haveEKFStatus:   data.haveEKFStatus,
			gpsPos:          data.gpsPos,
			haveGPS:         data.haveGPS,
		}
		data.mu.RUnlock()

		// Update left display
		if err := updateDisplay(leftDisplay, cfg.DisplayLeftContent, &snapshot); err != nil {
			log.Printf("display: error updating left display: %v", err)
		}

		// Update right display
		if err := updateDisplay(rightDisplay, cfg.DisplayRightContent, &snapshot); err != nil {
			log.Printf("display: error updating right display: %v", err)
		}
	}

	return nil
}

func subscribeForContent(client mqtt.Client, content string, data *DisplayData, cfg *config.Config) error {
	switch content {
	case "imu_raw_left":
		token := client.Subscribe(cfg.TopicIMULeft, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var raw imu.IMURaw
			if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
				log.Printf("display: imu_raw_left unmarshal error: %v", err)
				return
			}
			data.mu.Lock()
			data.imuRawLeft = raw
			data.haveIMURawLeft = true
			data.mu.Unlock()
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("display: subscribed to %s", cfg.TopicIMULeft)

	case "imu_raw_right":
		token := client.Subscribe(cfg.TopicIMURight, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var raw imu.IMURaw
			if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
				log.Printf("display: imu_raw_right unmarshal error: %v", err)
				return
			}
			data.mu.Lock()
			data.imuRawRight = raw
			data.haveIMURawRight = true
			data.mu.Unlock()
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("display: subscribed to %s", cfg.TopicIMURight)

	case "ekf_status":
		topic := cfg.TopicEKFStatus
		if topic == "" {
			topic = "inertial/ekf/status"
		}
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var lines []string
			if err := json.Unmarshal(msg.Payload(), &lines); err != nil {
				log.Printf("display: ekf_status unmarshal error: %v", err)
				return
			}
			data.mu.Lock()
			data.ekfStatus = lines
			data.haveEKFStatus = true
			data.mu.Unlock()
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("display: subscribed to %s", topic)

	case "gps":
		token := client.Subscribe(cfg.TopicGPSPosition, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var pos gps.Position
			if err := json.Unmarshal(msg.Payload(), &pos); err != nil {
				log.Printf("display: gps unmarshal error: %v", err)
				return
			}
			data.mu.Lock()
			data.gpsPos = pos
			data.haveGPS = true
			data.mu.Unlock()
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("display: subscribed to %s", cfg.TopicGPSPosition)

	default:
		return fmt.Errorf("unknown display content type: %s", content)
	}

	return nil
}

func updateDisplay(dev *ssd1306.Dev, content string, data *DisplayData) error {
	switch content {
	case "imu_raw_left":
		return updateIMURawDisplay(dev, data.imuRawLeft, data.haveIMURawLeft, "Left")
	case "imu_raw_right":
		return updateIMURawDisplay(dev, data.imuRawRight, data.haveIMURawRight, "Right")
	case "ekf_status":
		return updateEKFStatusDisplay(dev, data.ekfStatus, data.haveEKFStatus)
	case "gps":
		return updateGPSDisplay(dev, data.gpsPos, data.haveGPS)
	default:
		return fmt.Errorf("unknown display content type: %s", content)
	}
}

func updateIMURawDisplay(dev *ssd1306.Dev, raw imu.IMURaw, haveData bool, label string) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !haveData {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("IMU " + label))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		// Accel
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("A:%5d %5d", raw.Ax, raw.Ay)))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("  %5d", raw.Az)))

		// Gyro
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("G:%5d %5d", raw.Gx, raw.Gy)))

		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(fmt.Sprintf("  %5d", raw.Gz)))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

// updateEKFStatusDisplay renders up to the first four lines of the
// front-end's StatusLines() output (buffer lengths, allocation state,
// validity flags), one per row, the same way updateOrientationDisplay
// used to render roll/pitch/yaw before the pose feature was dropped.
func updateEKFStatusDisplay(dev *ssd1306.Dev, lines []string, haveData bool) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !haveData || len(lines) == 0 {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("EKF Status"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}

	rows := []int{13, 26, 39, 52}
	for i, y := range rows {
		if i >= len(lines) {
			break
		}
		line := lines[i]
		if len(line) > 21 {
			line = line[:21]
		}
		drawer.Dot = fixed.P(0, y)
		drawer.DrawBytes([]byte(line))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func updateGPSDisplay(dev *ssd1306.Dev, pos gps.Position, haveData bool) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !haveData {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("GPS Position"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		// Latitude
		drawer.Dot = fixed.P(0, 13)
		latDir := "N"
		lat := pos.Latitude
		if lat < 0 {
			latDir = "S"
			lat = -lat
		}
		drawer.DrawBytes([]byte(fmt.Sprintf("%.4f%s", lat, latDir)))

		// Longitude
		drawer.Dot = fixed.P(0, 26)
		lonDir := "E"
		lon := pos.Longitude
		if lon < 0 {
			lonDir = "W"
			lon = -lon
		}
		drawer.DrawBytes([]byte(fmt.Sprintf("%.4f%s", lon, lonDir)))

		// Altitude
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("Alt: %.0fm", pos.Altitude)))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showLeftSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Inertial Pi"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Looking for"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("sats"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showRightSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(5, 26)
	drawer.DrawBytes([]byte("Daniel Alarcon"))

	drawer.Dot = fixed.P(10, 43)
	drawer.DrawBytes([]byte("Strapdown"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("Tests"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
