// Package capture reads microphone and system (loopback) audio through
// miniaudio and hands 16 kHz mono PCM to the session layer.
package capture

import (
	"fmt"
	"log"
	"os"

	"github.com/gen2brain/malgo"

	"github.com/echonote-ai/echonote/pkg/audio"
)

const (
	deviceChannels = 1
	// 20ms device periods keep feed latency low without hammering the
	// callback.
	devicePeriodMs = 20
)

// Config wires device callbacks to the consumer.
type Config struct {
	// OnMic receives microphone PCM. Nil disables the mic device.
	OnMic func(pcm []byte)
	// OnSystem receives system-output PCM via loopback capture. Nil
	// disables the loopback device.
	OnSystem func(pcm []byte)
}

// Recorder owns the miniaudio context and devices for one session.
type Recorder struct {
	audioContext *malgo.AllocatedContext
	micDevice    *malgo.Device
	systemDevice *malgo.Device

	micDumper    *audio.Dumper
	systemDumper *audio.Dumper
}

// NewRecorder initializes the audio backend. Devices start on Start.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.OnMic == nil && cfg.OnSystem == nil {
		return nil, fmt.Errorf("at least one capture callback is required")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %v", err)
	}

	r := &Recorder{audioContext: ctx}

	if os.Getenv("DUMP_CAPTURE") == "true" {
		if cfg.OnMic != nil {
			if r.micDumper, err = audio.NewDumper("mic", audio.SampleRate, deviceChannels); err != nil {
				log.Printf("[Capture] create mic dumper error: %v", err)
			}
		}
		if cfg.OnSystem != nil {
			if r.systemDumper, err = audio.NewDumper("system", audio.SampleRate, deviceChannels); err != nil {
				log.Printf("[Capture] create system dumper error: %v", err)
			}
		}
	}

	if cfg.OnMic != nil {
		r.micDevice, err = r.initDevice(malgo.Capture, cfg.OnMic, r.micDumper)
		if err != nil {
			r.teardown()
			return nil, fmt.Errorf("failed to initialize mic device: %v", err)
		}
	}
	if cfg.OnSystem != nil {
		r.systemDevice, err = r.initDevice(malgo.Loopback, cfg.OnSystem, r.systemDumper)
		if err != nil {
			// Loopback capture is not available on every backend.
			log.Printf("[Capture] Loopback device unavailable: %v", err)
		}
	}

	return r, nil
}

func (r *Recorder) initDevice(deviceType malgo.DeviceType, sink func([]byte), dumper *audio.Dumper) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.PeriodSizeInMilliseconds = devicePeriodMs
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = deviceChannels
	deviceConfig.SampleRate = audio.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	return malgo.InitDevice(r.audioContext.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, framecount uint32) {
			// The callback buffer is reused by miniaudio.
			pcm := make([]byte, len(inputSamples))
			copy(pcm, inputSamples)

			if dumper != nil {
				dumper.Write(pcm)
			}
			sink(pcm)
		},
	})
}

// Start begins device capture.
func (r *Recorder) Start() error {
	if r.micDevice != nil {
		if err := r.micDevice.Start(); err != nil {
			return fmt.Errorf("failed to start mic device: %v", err)
		}
		log.Printf("[Capture] Microphone started")
	}
	if r.systemDevice != nil {
		if err := r.systemDevice.Start(); err != nil {
			return fmt.Errorf("failed to start loopback device: %v", err)
		}
		log.Printf("[Capture] System loopback started")
	}
	return nil
}

// Close stops the devices and releases the audio context.
func (r *Recorder) Close() error {
	r.teardown()
	return nil
}

func (r *Recorder) teardown() {
	if r.micDevice != nil {
		r.micDevice.Uninit()
		r.micDevice = nil
	}
	if r.systemDevice != nil {
		r.systemDevice.Uninit()
		r.systemDevice = nil
	}
	if r.micDumper != nil {
		r.micDumper.Close()
		r.micDumper = nil
	}
	if r.systemDumper != nil {
		r.systemDumper.Close()
		r.systemDumper = nil
	}
	if r.audioContext != nil {
		r.audioContext.Uninit()
		r.audioContext.Free()
		r.audioContext = nil
	}
}
