// ABOUTME: Centralized configuration defaults for sharelist
// ABOUTME: Contains magic numbers and hardcoded values for display and networking

package config

import "time"

// HTTP settings
const (
	DefaultHTTPTimeout = 30 * time.Second
)

// Display settings
const (
	DisplayIDLength = 8
	DateFormatShort = "02 Jan 06 15:04"
	DateFormatDue   = "Mon, 02 Jan 2006"
)

// Storage settings
const (
	DefaultDirPerms  = 0700
	DefaultFilePerms = 0600
)
