package utils

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/playwright-community/playwright-go"
)

// HealthCheckConfig holds configuration for startup health checks
type HealthCheckConfig struct {
	CheckSingleFile bool
	SingleFilePath  string
	CheckPlaywright bool
	Timeout         time.Duration
}

// DefaultHealthCheckConfig returns a sensible default health check configuration
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		CheckSingleFile: true,
		SingleFilePath:  "single-file",
		CheckPlaywright: true,
		Timeout:         10 * time.Second,
	}
}

// RunHealthChecks verifies the capture tools are installed before workers start.
func RunHealthChecks(config HealthCheckConfig) error {
	if config.CheckSingleFile {
		if err := CheckBinaryAvailability(config.SingleFilePath, config.Timeout); err != nil {
			return fmt.Errorf("single-file health check failed: %w", err)
		}
	}

	if config.CheckPlaywright {
		if err := CheckPlaywrightAvailability(config.Timeout); err != nil {
			return fmt.Errorf("playwright health check failed: %w", err)
		}
	}

	return nil
}

// CheckBinaryAvailability runs "<path> --version" and fails if it does not exit cleanly in time.
func CheckBinaryAvailability(path string, timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		cmd := exec.Command(path, "--version")
		done <- cmd.Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s not available or not working: %w", path, err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s health check timed out after %v", path, timeout)
	}
}

// CheckPlaywrightAvailability checks if Playwright can create a browser instance
func CheckPlaywrightAvailability(timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		pw, err := playwright.Run()
		if err != nil {
			done <- fmt.Errorf("failed to start Playwright: %w", err)
			return
		}
		defer pw.Stop()

		browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
		})
		if err != nil {
			done <- fmt.Errorf("failed to launch Chromium: %w", err)
			return
		}
		defer browser.Close()

		page, err := browser.NewPage()
		if err != nil {
			done <- fmt.Errorf("failed to create browser page: %w", err)
			return
		}
		defer page.Close()

		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("playwright health check timed out after %v", timeout)
	}
}
