package transport

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fandirect/macbridge/internal/logging"
)

// ScriptRunner executes one AppleScript program. Production uses osascript;
// tests inject a fake to simulate latency and failure without Messages.app.
type ScriptRunner interface {
	Run(ctx context.Context, script string) error
}

// OsascriptRunner shells out to the system osascript binary.
type OsascriptRunner struct {
	Timeout time.Duration
}

func (r OsascriptRunner) Run(ctx context.Context, script string) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("osascript timed out after %s", timeout)
		}
		return fmt.Errorf("osascript: %s", classifyScriptError(string(out), err))
	}
	return nil
}

// classifyScriptError maps the opaque osascript output onto the handful of
// failure modes operators actually hit.
func classifyScriptError(output string, err error) string {
	msg := strings.TrimSpace(output)
	if msg == "" {
		msg = err.Error()
	}
	switch {
	case strings.Contains(msg, "Application isn't running"):
		return "Messages application is not running"
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "not authorized"):
		return "permission denied; check Automation settings for Messages"
	case strings.Contains(msg, "Invalid receiver") || strings.Contains(msg, "buddy id"):
		return "invalid recipient; ensure the contact exists and the number is correct"
	default:
		return msg
	}
}

// AppleScriptSender delivers messages by scripting the macOS Messages
// application. An attachment is sent first, then the text after a short
// delay; sending both in one command is unreliable.
type AppleScriptSender struct {
	runner    ScriptRunner
	textDelay time.Duration
	log       *logging.Logger
}

func NewAppleScriptSender(runner ScriptRunner) *AppleScriptSender {
	if runner == nil {
		runner = OsascriptRunner{}
	}
	return &AppleScriptSender{
		runner:    runner,
		textDelay: 1500 * time.Millisecond,
		log:       logging.New("transport"),
	}
}

// Send delivers one message to recipient. mediaPath, when non-empty, is a
// local file already downloaded by the caller.
func (s *AppleScriptSender) Send(ctx context.Context, recipient, text, mediaPath string) error {
	if text == "" && mediaPath == "" {
		return errors.New("transport: nothing to send")
	}

	if mediaPath != "" {
		if err := s.runner.Run(ctx, attachmentScript(recipient, mediaPath)); err != nil {
			return err
		}
		s.log.WithContext(ctx).WithRecipient(recipient).Info("attachment sent")

		if text != "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.textDelay):
			}
		}
	}

	if text != "" {
		if err := s.runner.Run(ctx, textScript(recipient, text)); err != nil {
			return err
		}
		s.log.WithContext(ctx).WithRecipient(recipient).Info("text sent")
	}
	return nil
}

// escapeScriptString escapes backslashes and double quotes for embedding in
// an AppleScript string literal.
func escapeScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// resolveBuddy resolves the recipient against the iMessage service, falling
// back from buddy to participant for recipients not yet in contacts.
func resolveBuddy(recipient string) string {
	return fmt.Sprintf(`set targetBuddy to "%s"
	set targetService to id of 1st service whose service type = iMessage
	try
		set theBuddy to buddy targetBuddy of service id targetService
	on error
		try
			set theBuddy to participant targetBuddy of service id targetService
		on error errMsg number errNum
			error "cannot find recipient '" & targetBuddy & "': " & errMsg
		end try
	end try`, escapeScriptString(recipient))
}

func textScript(recipient, text string) string {
	return fmt.Sprintf(`tell application "Messages"
	%s
	send "%s" to theBuddy
end tell`, resolveBuddy(recipient), escapeScriptString(text))
}

func attachmentScript(recipient, mediaPath string) string {
	return fmt.Sprintf(`tell application "Messages"
	%s
	set theAttachment to POSIX file "%s"
	send theAttachment to theBuddy
end tell`, resolveBuddy(recipient), escapeScriptString(mediaPath))
}
