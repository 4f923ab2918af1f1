// Package workflow sequences the interaction with the classifieds site:
// authenticate, send a message on a listing, locate the conversation it
// created, and submit an offer in it.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/haggle-cli/internal/diagnostics"
)

// Step names. They double as screenshot file prefixes.
const (
	StepBrowserSetup       = "browser_setup"
	StepAuthenticate       = "authenticate"
	StepSendMessage        = "send_message"
	StepLocateConversation = "locate_conversation"
	StepMakeOffer          = "make_offer"
	StepSuccess            = "success"
)

// Kind is the typed result of a run.
type Kind int

const (
	Success Kind = iota
	LoginFailed
	MessageFailed
	ConversationNotFound
	OfferFailed
	BrowserSetupFailed
	CaptchaDetected
	InvalidInput
)

var kindNames = map[Kind]string{
	Success:              "Success",
	LoginFailed:          "LoginFailed",
	MessageFailed:        "MessageFailed",
	ConversationNotFound: "ConversationNotFound",
	OfferFailed:          "OfferFailed",
	BrowserSetupFailed:   "BrowserSetupFailed",
	CaptchaDetected:      "CaptchaDetected",
	InvalidInput:         "InvalidInput",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ExitCode is the process exit status for k.
func (k Kind) ExitCode() int {
	switch k {
	case Success:
		return 0
	case LoginFailed:
		return 1
	case MessageFailed:
		return 2
	case ConversationNotFound:
		return 3
	case OfferFailed:
		return 4
	case BrowserSetupFailed:
		return 5
	case CaptchaDetected:
		return 10
	case InvalidInput:
		return 64
	default:
		return 1
	}
}

// kindForStep is the failure kind of each step, captcha aside.
var kindForStep = map[string]Kind{
	StepBrowserSetup:       BrowserSetupFailed,
	StepAuthenticate:       LoginFailed,
	StepSendMessage:        MessageFailed,
	StepLocateConversation: ConversationNotFound,
	StepMakeOffer:          OfferFailed,
}

// Outcome is the result of one run. Artifact, LastSelector and
// SelectorsTried are set only for failures (and Artifact on success when
// screenshots on success are enabled). SelectorsTried is the chain of the
// last resolution before the failure, in try order.
type Outcome struct {
	Kind           Kind
	Step           string
	Artifact       *diagnostics.Artifact
	LastSelector   string
	SelectorsTried []string
	Err            error
	RunID          string
	Duration       time.Duration
}

// ExitCode is shorthand for o.Kind.ExitCode().
func (o Outcome) ExitCode() int {
	return o.Kind.ExitCode()
}

// Summary renders the one human readable line printed at the end of a run.
func (o Outcome) Summary() string {
	var b strings.Builder
	if o.Kind == Success {
		b.WriteString("Success: message sent and offer submitted")
	} else {
		fmt.Fprintf(&b, "%s", o.Kind)
		if o.Step != "" {
			fmt.Fprintf(&b, " during %s", o.Step)
		}
		if o.Err != nil {
			fmt.Fprintf(&b, ": %v", o.Err)
		}
		if o.LastSelector != "" {
			fmt.Fprintf(&b, " (last selector: %s)", o.LastSelector)
		}
	}
	if o.Artifact != nil {
		fmt.Fprintf(&b, " [screenshot: %s]", o.Artifact.ScreenshotPath)
	}
	fmt.Fprintf(&b, " (exit %d", o.ExitCode())
	if o.RunID != "" {
		fmt.Fprintf(&b, ", run %s", o.RunID)
	}
	if o.Duration > 0 {
		fmt.Fprintf(&b, ", %s", o.Duration.Round(100*time.Millisecond))
	}
	b.WriteString(")")
	return b.String()
}
