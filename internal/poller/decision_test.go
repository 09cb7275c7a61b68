package poller_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/poller"
)

var _ = Describe("Decide", func() {
	inputs := func() poller.Inputs {
		return poller.Inputs{
			PresenceCheckEvery: 15,
			WakePolicy:         models.WakePolicyNever,
			Cooldown:           time.Minute,
		}
	}

	It("should probe an unknown device", func() {
		d := poller.Decide(models.StateUnknown, inputs())
		Expect(d.Action).To(Equal(poller.ActionProbe))
	})

	It("should probe online and waking devices every cycle", func() {
		Expect(poller.Decide(models.StateOnline, inputs()).Action).To(Equal(poller.ActionProbe))
		Expect(poller.Decide(models.StateWaking, inputs()).Action).To(Equal(poller.ActionProbe))
	})

	Describe("asleep devices", func() {
		It("should skip every cycle within the presence-check interval", func() {
			for cycles := 0; cycles < 14; cycles++ {
				in := inputs()
				in.AsleepCycles = cycles
				Expect(poller.Decide(models.StateAsleep, in).Action).To(Equal(poller.ActionSkip),
					"cycle %d should be skipped", cycles)
			}
		})

		It("should presence-check once per interval under the never-wake policy", func() {
			in := inputs()
			in.AsleepCycles = 14
			Expect(poller.Decide(models.StateAsleep, in).Action).To(Equal(poller.ActionProbe))
		})

		It("should wake at the interval under the scheduled policy", func() {
			in := inputs()
			in.AsleepCycles = 14
			in.WakePolicy = models.WakePolicyScheduled
			Expect(poller.Decide(models.StateAsleep, in).Action).To(Equal(poller.ActionWake))
		})
	})

	Describe("unreachable devices", func() {
		It("should skip until the cooldown elapses", func() {
			in := inputs()
			in.SinceUnreachable = 30 * time.Second
			Expect(poller.Decide(models.StateUnreachable, in).Action).To(Equal(poller.ActionSkip))
		})

		It("should reset to unknown and re-probe after the cooldown", func() {
			in := inputs()
			in.SinceUnreachable = time.Minute
			d := poller.Decide(models.StateUnreachable, in)
			Expect(d.Action).To(Equal(poller.ActionProbe))
			Expect(d.Reset).To(BeTrue())
		})
	})
})
