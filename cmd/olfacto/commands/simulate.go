package commands

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"

	"github.com/dyluth/olfacto/internal/hardware"
)

// feedSimulator turns stdin lines into simulated rig events until r is
// exhausted or ctx is done. Licks are only accepted while inTrial reports
// true, so a stray !lick never carries over into the next trial.
func feedSimulator(ctx context.Context, r io.Reader, sim *hardware.Sim, lines hardware.LineMap, inTrial func() bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "":
		case "!in":
			sim.SetInput(lines.PresenceSensor, hardware.High)
		case "!out":
			sim.SetInput(lines.PresenceSensor, hardware.Low)
		case "!lick":
			if !inTrial() {
				log.Printf("[WARN] Ignoring !lick outside a trial")
				continue
			}
			sim.QueueInputs(lines.LickSensor, hardware.High, hardware.Low)
		default:
			if strings.HasPrefix(cmd, "!") {
				log.Printf("[WARN] Unknown simulator command %q", cmd)
				continue
			}
			sim.SendTag(cmd)
		}
	}
	return scanner.Err()
}
