package commands

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dyluth/olfacto/internal/audio"
	"github.com/dyluth/olfacto/internal/audio/otoout"
	"github.com/dyluth/olfacto/internal/clock"
	"github.com/dyluth/olfacto/internal/config"
	"github.com/dyluth/olfacto/internal/hardware"
	"github.com/dyluth/olfacto/internal/printer"
	"github.com/dyluth/olfacto/internal/upload"
)

func loadConfig(path string) (*config.RigConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check %s against the documented rig.yml layout", path)},
		)
	}
	return cfg, nil
}

func lineMap(h config.HardwareConfig) hardware.LineMap {
	return hardware.LineMap{
		RewardValve:    *h.Lines.RewardValve,
		PresenceSensor: *h.Lines.PresenceSensor,
		LickSensor:     *h.Lines.LickSensor,
		DeliveryValve:  *h.Lines.DeliveryValve,
		Odors:          h.Odors,
	}
}

func hardwareConfig(h config.HardwareConfig) hardware.Config {
	return hardware.Config{
		Chip:       h.Chip,
		SerialPort: h.SerialPort,
		Baud:       h.Baud,
		Lines:      lineMap(h),
	}
}

// openHardware returns the rig hardware, or a simulator when simulate is set.
func openHardware(h config.HardwareConfig, simulate, withTags bool) (*hardware.Controller, *hardware.Sim, error) {
	if simulate {
		sim := hardware.NewSim(clock.Real{})
		return hardware.OpenSim(sim, lineMap(h)), sim, nil
	}

	var (
		hw  *hardware.Controller
		err error
	)
	if withTags {
		hw, err = hardware.Open(hardwareConfig(h))
	} else {
		hw, err = hardware.OpenLines(hardwareConfig(h))
	}
	if err != nil {
		if errors.Is(err, hardware.ErrNoSerialPort) {
			return nil, nil, printer.Error(
				"no tag reader found",
				err.Error(),
				[]string{
					"Plug in the USB tag reader",
					"Set hardware.serial_port (or OLFACTO_SERIAL_PORT)",
					"Run without hardware:\n     olfacto run --simulate",
				},
			)
		}
		return nil, nil, printer.ErrorWithContext(
			"hardware unavailable",
			err.Error(),
			map[string]string{"chip": h.Chip, "serial_port": h.SerialPort},
			[]string{"Check that no other process holds the GPIO lines"},
		)
	}
	return hw, nil, nil
}

// openPunisher loads the noise resource and an audio device. Any failure
// leaves punishment disabled.
func openPunisher(path string) *audio.Punisher {
	disabled := func() *audio.Punisher { return audio.NewPunisher(nil, nil, clock.Real{}) }

	noise, err := audio.LoadNoiseOptional(path)
	if err != nil {
		log.Printf("[WARN] Failed to load noise %s: %v", path, err)
		return disabled()
	}
	if noise == nil {
		return disabled()
	}
	out, err := otoout.New(noise.Rate)
	if err != nil {
		log.Printf("[WARN] Audio output unavailable: %v", err)
		return disabled()
	}
	log.Printf("[INFO] Punishment noise loaded: %s (%s at %d Hz)", path, noise.Duration(), noise.Rate)
	return audio.NewPunisher(noise, out, clock.Real{})
}

// openUploader returns nil when uploads are not configured.
func openUploader(ctx context.Context, c config.UploadConfig) (upload.Uploader, error) {
	switch c.Driver {
	case "":
		return nil, nil
	case "dir":
		d, err := upload.NewDir(c.Dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "s3":
		u, err := upload.NewS3(ctx, upload.S3Config{
			Bucket:    c.Bucket,
			Prefix:    c.Prefix,
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			PathStyle: c.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, fmt.Errorf("unknown upload driver %q", c.Driver)
}

// dataFiles lists the local files copied by the maintenance upload.
func dataFiles(cfg *config.RigConfig) []string {
	var files []string
	switch cfg.TrialLog.Driver {
	case "csv", "sqlite":
		files = append(files, cfg.TrialLog.Path)
	}
	if cfg.Files.DiagnosticsLog != "" {
		files = append(files, cfg.Files.DiagnosticsLog)
	}
	return files
}
