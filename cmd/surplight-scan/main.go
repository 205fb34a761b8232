// Command surplight-scan discovers nearby Surplife lights and prints
// their addresses for use in the daemon config.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/kmoran/surplight/internal/ble"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "how long to scan")
	flag.Parse()

	log.Printf("Scanning for Surplife lights (%s)...", *timeout)

	adapter := ble.NewBluezAdapter()
	devices, err := ble.ScanForDevices(adapter, *timeout)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}

	if len(devices) == 0 {
		log.Println("No devices found. Make sure the light is powered and in range.")
		return
	}

	fmt.Printf("%-20s %-18s %s\n", "NAME", "ADDRESS", "RSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-20s %-18s %d\n", name, d.Address, d.RSSI)
	}
}
