// Package ble maintains the GATT link to a Surplife RGB light: device
// discovery, connection supervision with automatic reconnect, and the
// write/notify characteristic plumbing.
package ble

import "context"

// Surplife GATT UUIDs. The service UUID identifies compatible devices
// during discovery; commands go to the write characteristic and status
// frames arrive on the notify characteristic.
const (
	ServiceUUID = "0000c04c-0000-1000-8000-00805f9b34fb"
	WriteUUID   = "0000a04c-0000-1000-8000-00805f9b34fb"
	NotifyUUID  = "0000f04c-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data in confirmed (write-with-response) mode, blocking
	// until the peripheral acknowledges.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notifications.
	Unsubscribe() error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect resolves the address to a live device handle and connects.
	// Handles rotate over time; callers must not cache them across attempts.
	Connect(ctx context.Context, address string) (Connection, error)
}
