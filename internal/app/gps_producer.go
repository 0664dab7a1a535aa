package app

import (
	"bufio"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/ekf-ingest/internal/config"
	"github.com/relabs-tech/ekf-ingest/internal/gps"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// publishes combined GPS fixes (RMC) and fix quality (GGA) as JSON over
// MQTT. GGA carries fix type, satellite count and altitude — fields RMC
// doesn't have, and which the EKF ingest host needs to gate and
// height-correct GPS aiding.
func RunGPSProducer() error {
	cfg := config.Get()

	clientID := cfg.MQTTClientIDGPS
	if clientID == "" {
		clientID = "inertial-gps-producer"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("GPS producer connected to MQTT broker at %s", cfg.MQTTBroker)

	fixTopic := cfg.TopicGPS
	if fixTopic == "" {
		fixTopic = "inertial/gps"
	}
	qualityTopic := cfg.TopicGPSQuality
	if qualityTopic == "" {
		qualityTopic = "inertial/gps/quality"
	}

	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPSSerialPort,
		BaudRate:              uint(cfg.GPSBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Printf("GPS serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	reader := bufio.NewReader(port)

	var current gps.Fix

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Printf("GPS read error: %v", err)
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch sentence.DataType() {
		case nmea.TypeRMC:
			m := sentence.(nmea.RMC)

			current.Time = m.Time.String()
			current.Date = m.Date.String()
			current.Latitude = m.Latitude
			current.Longitude = m.Longitude
			current.SpeedKnots = m.Speed
			current.CourseDeg = m.Course
			current.Validity = string(m.Validity)

			payload, err := json.Marshal(current)
			if err != nil {
				log.Printf("GPS JSON marshal error: %v", err)
				continue
			}
			if token := client.Publish(fixTopic, 0, true, payload); token.Wait() && token.Error() != nil {
				log.Printf("GPS publish error: %v", token.Error())
				continue
			}
			log.Printf("published GPS fix: %+v", current)

		case nmea.TypeGGA:
			g := sentence.(nmea.GGA)

			fixType, _ := strconv.Atoi(string(g.FixQuality))
			quality := gps.FixQuality{
				FixType:        fixType,
				SatellitesUsed: int(g.NumSatellites),
				HDOP:           g.HDOP,
				AltitudeM:      g.Altitude,
				GeoidSepM:      g.Separation,
			}

			payload, err := json.Marshal(quality)
			if err != nil {
				log.Printf("GPS quality JSON marshal error: %v", err)
				continue
			}
			if token := client.Publish(qualityTopic, 0, true, payload); token.Wait() && token.Error() != nil {
				log.Printf("GPS quality publish error: %v", token.Error())
				continue
			}

		default:
			// GSA/GSV and any other sentence types are not consumed.
		}
	}
}
