package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notifyDest = "org.freedesktop.Notifications"
	notifyPath = "/org/freedesktop/Notifications"
)

// urgency is the freedesktop "urgency" hint byte.
type urgency byte

const (
	urgencyLow urgency = iota
	urgencyNormal
	urgencyCritical
)

// desktopNotify shows n, replacing replaceID when non-zero, and returns the
// ID the notification server assigned.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, n notification) (uint32, error) {
	reply, err := busctl(ctx, "Notify", "susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		"",
		n.Summary,
		n.Body,
		"0",
		"1", "urgency", "y", strconv.Itoa(int(n.Urgency)),
		strconv.Itoa(n.TimeoutMS),
	)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: %w", err)
	}

	var signature string
	var id uint32
	if _, err := fmt.Sscanf(reply, "%s %d", &signature, &id); err != nil || signature != "u" {
		return 0, fmt.Errorf("desktop notify: unexpected reply %q", reply)
	}
	return id, nil
}

func desktopDismiss(ctx context.Context, id uint32) error {
	if _, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss: %w", err)
	}
	return nil
}

// busctl calls method on the user-bus notification service and returns the trimmed reply.
func busctl(ctx context.Context, method string, args ...string) (string, error) {
	argv := append([]string{"--user", "call", notifyDest, notifyPath, notifyDest, method}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	reply := strings.TrimSpace(string(out))
	if err != nil {
		if reply == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, reply)
	}
	return reply, nil
}
