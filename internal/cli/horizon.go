package cli

import (
	"fmt"
	"time"
)

func parseHorizon(flag, value string) (time.Duration, error) {
	horizon, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	if horizon <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", flag)
	}
	return horizon, nil
}
