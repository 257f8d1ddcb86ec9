package subscriber

import (
	"flag"
	"time"

	"github.com/pkg/errors"
)

// Config is the user-facing configuration of a Subscriber: the
// subscription identity, the ack deadline padding, and the bounds handed
// to the default flow controller. It follows the shape of
// pkg/dataobj/consumer.Config in the teacher: yaml tags plus a
// RegisterFlagsWithPrefix/RegisterFlags/Validate trio.
type Config struct {
	// Subscription is the fully-qualified subscription name,
	// "projects/{project}/subscriptions/{subscription}".
	Subscription string `yaml:"subscription"`

	// AckDeadlinePadding is the margin by which the lease extender fires
	// ahead of a lease's expiration. It is also a floor for the stream's
	// ack deadline: the deadline controller pushes the larger of the
	// observed 99.9th-percentile receive-to-ack latency and this padding,
	// clamped into [minAckDeadlineSeconds, maxAckDeadlineSeconds].
	AckDeadlinePadding time.Duration `yaml:"ack_deadline_padding"`

	// MaxOutstandingMessages bounds the number of leased-but-undecided
	// messages the flow controller admits at once. Zero disables the
	// message-count bound.
	MaxOutstandingMessages int `yaml:"max_outstanding_messages"`

	// MaxOutstandingBytes bounds the cumulative size of leased-but-undecided
	// messages. Zero disables the byte-size bound.
	MaxOutstandingBytes int `yaml:"max_outstanding_bytes"`
}

// RegisterFlags registers Config's flags under the default
// "pubsub-subscriber." prefix.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("pubsub-subscriber.", f)
}

// RegisterFlagsWithPrefix registers Config's flags under prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Subscription, prefix+"subscription", "", "The fully-qualified subscription name, projects/{project}/subscriptions/{subscription}.")
	f.DurationVar(&cfg.AckDeadlinePadding, prefix+"ack-deadline-padding", 0, "Margin by which lease extensions are sent ahead of expiration; also the lower bound for the stream ack deadline before it is clamped into the allowed deadline range.")
	f.IntVar(&cfg.MaxOutstandingMessages, prefix+"max-outstanding-messages", 1000, "Maximum number of leased, undecided messages admitted at once. 0 disables this bound.")
	f.IntVar(&cfg.MaxOutstandingBytes, prefix+"max-outstanding-bytes", 1000<<20, "Maximum cumulative size in bytes of leased, undecided messages. 0 disables this bound.")
}

// Validate checks Config for obviously invalid values.
func (cfg *Config) Validate() error {
	if cfg.Subscription == "" {
		return errors.New("subscription name is required")
	}
	if cfg.AckDeadlinePadding < 0 {
		return errors.New("ack_deadline_padding must not be negative")
	}
	if cfg.MaxOutstandingMessages < 0 {
		return errors.New("max_outstanding_messages must not be negative")
	}
	if cfg.MaxOutstandingBytes < 0 {
		return errors.New("max_outstanding_bytes must not be negative")
	}
	return nil
}
