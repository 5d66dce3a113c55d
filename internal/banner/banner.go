// Package banner prints the startup banner for the feature server.
package banner

import (
	"fmt"
	"strings"
)

const logo = `
======================================================================
 _____         _                  ____
|  ___|__  __ _| |_ _   _ _ __ ___/ ___|  ___ _ ____   _____ _ __
| |_ / _ \/ _` + "`" + ` | __| | | | '__/ _ \___ \ / _ \ '__\ \ / / _ \ '__|
|  _|  __/ (_| | |_| |_| | | |  __/___) |  __/ |   \ V /  __/ |
|_|  \___|\__,_|\__|\__,_|_|  \___|____/ \___|_|    \_/ \___|_|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine is a single configuration value to display.
type ConfigLine struct {
	Label string
	Value string
}

// Print displays the startup banner with the service name and configuration.
func Print(serviceName string, config []ConfigLine) {
	fmt.Println(logo)
	fmt.Printf("%s\n", serviceName)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}

	for _, c := range config {
		padding := strings.Repeat(" ", maxLen-len(c.Label))
		fmt.Printf("  %s%s : %s\n", c.Label, padding, c.Value)
	}

	fmt.Println()
	fmt.Println("Ready.")
	fmt.Println(footer)
	fmt.Println()
}
