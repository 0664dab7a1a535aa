package app

import (
	"encoding/json"
	"log"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/ekf-ingest/internal/config"
	imu_raw "github.com/relabs-tech/ekf-ingest/internal/imu"
	"github.com/relabs-tech/ekf-ingest/internal/sensors"
)

// magNorm computes the magnitude of the magnetic field vector.
// This is TEST/DEBUG code to validate magnetometer behavior end-to-end.
func magNorm(mx, my, mz int16) float64 {
	x := float64(mx)
	y := float64(my)
	z := float64(mz)
	return math.Sqrt(x*x + y*y + z*z)
}

// RunInertialProducer polls the left/right MPU9250 and BMP sensors and
// republishes them over MQTT on the raw topics RunEKFFrontend subscribes
// to (setIMUData/setMagData/setBaroData), the way gps_producer.go and
// hmc5983_producer.go feed their own topics.
func RunInertialProducer() error {
	log.Println("starting IMU/env producer")

	cfg := config.Get()

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("MQTT connect error: %v", token.Error())
		return token.Error()
	}
	defer client.Disconnect(250)

	log.Println("connected to MQTT, starting publish loop")

	ticker := time.NewTicker(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	for t := range ticker.C {
		// 1) Left IMU raw (accel/gyro/mag)
		imuL, err := sensors.ReadLeftIMURaw()
		if err != nil {
			log.Printf("left IMU read error: %v", err)
			continue
		}

		if payload, err := json.Marshal(imuL); err != nil {
			log.Printf("left IMU marshal error: %v", err)
			continue
		} else if token := client.Publish(cfg.TopicIMULeft, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (imu/left): %v", token.Error())
			continue
		}

		// --- MAG TEST/DEBUG: publish mag-only topic for left IMU ---
		{
			mn := magNorm(imuL.Mx, imuL.My, imuL.Mz)
			magTest := struct {
				Mx   int16   `json:"mx"`
				My   int16   `json:"my"`
				Mz   int16   `json:"mz"`
				Norm float64 `json:"norm"`
				Time string  `json:"time"`
			}{
				Mx:   imuL.Mx,
				My:   imuL.My,
				Mz:   imuL.Mz,
				Norm: mn,
				Time: t.Format(time.RFC3339),
			}

			if payload, err := json.Marshal(magTest); err != nil {
				log.Printf("mag marshal error: %v", err)
			} else {
				client.Publish(cfg.TopicMagLeft, 0, true, payload)
			}
		}

		// 2) Right IMU raw, best-effort (not every rig has a second sensor wired up)
		var imuR imu_raw.IMURaw
		haveRight := false
		if r, err := sensors.ReadRightIMURaw(); err != nil {
			log.Printf("right IMU read error: %v", err)
		} else {
			imuR = r
			haveRight = true
			if payload, err := json.Marshal(imuR); err != nil {
				log.Printf("right IMU marshal error: %v", err)
			} else if token := client.Publish(cfg.TopicIMURight, 0, true, payload); token.Wait() && token.Error() != nil {
				log.Printf("MQTT publish error (imu/right): %v", token.Error())
			}
		}

		// 3) Left/right env (BMP)
		if envL, err := sensors.ReadLeftEnv(); err != nil {
			log.Printf("left env read error: %v", err)
			continue
		} else if payload, err := json.Marshal(envL); err != nil {
			log.Printf("left env marshal error: %v", err)
			continue
		} else if token := client.Publish(cfg.TopicBMPLeft, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (bmp/left): %v", token.Error())
			continue
		}

		if envR, err := sensors.ReadRightEnv(); err != nil {
			log.Printf("right env read error: %v", err)
			continue
		} else if payload, err := json.Marshal(envR); err != nil {
			log.Printf("right env marshal error: %v", err)
			continue
		} else if token := client.Publish(cfg.TopicBMPRight, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (bmp/right): %v", token.Error())
			continue
		}

		mn := magNorm(imuL.Mx, imuL.My, imuL.Mz)
		if haveRight {
			log.Printf("%s tick: left accel ax=%d ay=%d az=%d | left gyro gx=%d gy=%d gz=%d | |B|=%.1f | right accel ax=%d ay=%d az=%d",
				t.Format(time.RFC3339),
				imuL.Ax, imuL.Ay, imuL.Az,
				imuL.Gx, imuL.Gy, imuL.Gz,
				mn,
				imuR.Ax, imuR.Ay, imuR.Az,
			)
		} else {
			log.Printf("%s tick: left accel ax=%d ay=%d az=%d | left gyro gx=%d gy=%d gz=%d | |B|=%.1f",
				t.Format(time.RFC3339),
				imuL.Ax, imuL.Ay, imuL.Az,
				imuL.Gx, imuL.Gy, imuL.Gz,
				mn,
			)
		}
	}
	return nil
}
