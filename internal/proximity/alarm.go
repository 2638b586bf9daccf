package proximity

import (
	"log/slog"
	"sync"
	"time"
)

// SoundPlayer and Vibrator are the playback primitives supplied by the
// device layer.
type SoundPlayer interface {
	PlayLoop()
	StopLoop()
}

type Vibrator interface {
	Vibrate()
}

// PulseAlarm loops the alert sound and pulses the vibrator on a fixed
// period until stopped. Start is idempotent while ringing; Stop always
// cancels both effects.
type PulseAlarm struct {
	sound SoundPlayer
	vib   Vibrator
	pulse time.Duration

	mu   sync.Mutex
	done chan struct{}
}

func NewPulseAlarm(sound SoundPlayer, vib Vibrator) *PulseAlarm {
	return &PulseAlarm{sound: sound, vib: vib, pulse: 2 * time.Second}
}

func (p *PulseAlarm) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	done := make(chan struct{})
	p.done = done
	p.sound.PlayLoop()
	go func() {
		ticker := time.NewTicker(p.pulse)
		defer ticker.Stop()
		p.vib.Vibrate()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.vib.Vibrate()
			}
		}
	}()
}

func (p *PulseAlarm) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return
	}
	close(p.done)
	p.done = nil
	p.sound.StopLoop()
}

// LogEffects satisfies both playback interfaces by logging; the agent
// binary runs headless, so the real effects live in the device layer.
type LogEffects struct {
	Log *slog.Logger
}

func (l LogEffects) PlayLoop() { l.Log.Warn("alarm sound started") }
func (l LogEffects) StopLoop() { l.Log.Info("alarm sound stopped") }
func (l LogEffects) Vibrate()  { l.Log.Debug("vibration pulse") }
