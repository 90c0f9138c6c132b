package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rbright/parley/internal/events"
)

// minter produces one fresh realtime credential for the given context.
type minter func(ctx context.Context, req credentialRequest) (string, error)

// credentialRequest is written as JSON to the credential command's stdin.
type credentialRequest struct {
	Stage     int    `json:"stage"`
	SessionID string `json:"sessionId"`
	events.TokenRequest
}

// commandMinter runs argv once per credential and reads the credential from stdout.
func commandMinter(argv []string) minter {
	return func(ctx context.Context, req credentialRequest) (string, error) {
		input, err := json.Marshal(req)
		if err != nil {
			return "", fmt.Errorf("encode credential context: %w", err)
		}
		out, err := runCommandWithInput(ctx, argv, input)
		if err != nil {
			return "", err
		}
		credential := strings.TrimSpace(string(out))
		if credential == "" {
			return "", errors.New("credential command printed nothing")
		}
		return credential, nil
	}
}

func runCommandWithInput(ctx context.Context, argv []string, input []byte) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command argv cannot be empty")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if len(input) > 0 {
		if _, err := stdin.Write(input); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return nil, fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("wait for %s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return stdout.Bytes(), nil
}
